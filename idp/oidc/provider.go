package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"k8s.io/utils/clock"

	"github.com/MrEthical07/sessionkit"
)

// ErrUnsupported is returned for operations an OIDC issuer does not offer. It
// wraps sessionkit.ErrProviderUnavailable.
var ErrUnsupported = fmt.Errorf("%w: operation not supported by oidc issuer", sessionkit.ErrProviderUnavailable)

// Config identifies the issuer and the client.
type Config struct {
	Issuer       string   `yaml:"issuer" mapstructure:"issuer"`
	ClientID     string   `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string   `yaml:"client_secret" mapstructure:"client_secret"`
	Scopes       []string `yaml:"scopes" mapstructure:"scopes"`
	// RevocationURL is the RFC 7009 endpoint. Empty disables remote revocation.
	RevocationURL string `yaml:"revocation_url" mapstructure:"revocation_url"`
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return errors.New("oidc: issuer is required")
	}
	if strings.TrimSpace(c.ClientID) == "" {
		return errors.New("oidc: client_id is required")
	}
	return nil
}

func (c Config) scopes() []string {
	if len(c.Scopes) > 0 {
		return c.Scopes
	}
	return []string{oidc.ScopeOpenID, "profile", "email", oidc.ScopeOfflineAccess}
}

// claims are the ID token and UserInfo claims mapped onto a Profile.
type claims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	Plan    string `json:"plan"`
}

func (c claims) profile(subjectID string) sessionkit.Profile {
	role := sessionkit.Role(strings.ToLower(c.Role))
	if !role.Valid() {
		role = sessionkit.RoleUser
	}
	name := c.Name
	if name == "" {
		name, _, _ = strings.Cut(c.Email, "@")
	}
	return sessionkit.Profile{
		SubjectID:   subjectID,
		DisplayName: name,
		Email:       c.Email,
		Role:        role,
		PlanTier:    c.Plan,
	}
}

// Provider implements sessionkit.IdentityProvider and sessionkit.ProfileProvider.
type Provider struct {
	cfg        Config
	provider   *oidc.Provider
	oauth      *oauth2.Config
	verifier   *oidc.IDTokenVerifier
	httpClient *http.Client
	clock      clock.PassiveClock
	logger     zerolog.Logger

	mu        sync.Mutex
	current   *sessionkit.RemoteSession
	tokens    map[string]*oauth2.Token
	profiles  map[string]sessionkit.Profile
	listeners map[uint64]func(sessionkit.AuthEvent)
	nextID    uint64
}

// Option configures a Provider.
type Option func(*Provider)

// WithHTTPClient sets the client used for every issuer request.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithClock sets the clock used for token expiry and ID token validation.
func WithClock(clk clock.PassiveClock) Option {
	return func(p *Provider) { p.clock = clk }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

func newProvider(cfg Config, opts []Option) *Provider {
	p := &Provider{
		cfg:        cfg,
		httpClient: http.DefaultClient,
		clock:      clock.RealClock{},
		logger:     zerolog.Nop(),
		tokens:     make(map[string]*oauth2.Token),
		profiles:   make(map[string]sessionkit.Profile),
		listeners:  make(map[uint64]func(sessionkit.AuthEvent)),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With().Str("component", "oidc").Logger()
	return p
}

// New discovers the issuer's endpoints and keys.
func New(ctx context.Context, cfg Config, opts ...Option) (*Provider, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	p := newProvider(cfg, opts)

	provider, err := oidc.NewProvider(p.clientContext(ctx), cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	p.init(provider, provider.Verifier(&oidc.Config{ClientID: cfg.ClientID, Now: p.clock.Now}))
	return p, nil
}

// NewFromParts builds a Provider without discovery. keys verifies ID tokens.
func NewFromParts(cfg Config, endpoints oidc.ProviderConfig, keys oidc.KeySet, opts ...Option) (*Provider, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if endpoints.TokenURL == "" {
		return nil, errors.New("oidc: token URL is required")
	}
	p := newProvider(cfg, opts)
	endpoints.IssuerURL = cfg.Issuer

	provider := endpoints.NewProvider(context.Background())
	verifier := oidc.NewVerifier(cfg.Issuer, keys, &oidc.Config{ClientID: cfg.ClientID, Now: p.clock.Now})
	p.init(provider, verifier)
	return p, nil
}

func (p *Provider) init(provider *oidc.Provider, verifier *oidc.IDTokenVerifier) {
	p.provider = provider
	p.verifier = verifier
	p.oauth = &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		Endpoint:     provider.Endpoint(),
		Scopes:       p.cfg.scopes(),
	}
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, p.httpClient)
}

/*
====================================
IDENTITY PROVIDER
====================================
*/

func (p *Provider) SignIn(ctx context.Context, identifier, secret string) (sessionkit.RemoteSession, error) {
	ctx = p.clientContext(ctx)
	tok, err := p.oauth.PasswordCredentialsToken(ctx, identifier, secret)
	if err != nil {
		if isInvalidGrant(err) {
			return sessionkit.RemoteSession{}, fmt.Errorf("%w: issuer rejected the password grant", sessionkit.ErrInvalidCredentials)
		}
		return sessionkit.RemoteSession{}, fmt.Errorf("token request failed: %w", err)
	}

	c, err := p.verifyIDToken(ctx, tok)
	if err != nil {
		return sessionkit.RemoteSession{}, err
	}

	remote := sessionkit.RemoteSession{SubjectID: c.Subject, AccessToken: tok.AccessToken}
	p.mu.Lock()
	p.tokens[tok.AccessToken] = tok
	p.profiles[c.Subject] = c.profile(c.Subject)
	p.current = &remote
	p.mu.Unlock()
	return remote, nil
}

func (p *Provider) verifyIDToken(ctx context.Context, tok *oauth2.Token) (claims, error) {
	raw, ok := tok.Extra("id_token").(string)
	if !ok || raw == "" {
		return claims{}, errors.New("no ID token in token response")
	}
	idToken, err := p.verifier.Verify(ctx, raw)
	if err != nil {
		return claims{}, fmt.Errorf("ID token verification failed: %w", err)
	}
	var c claims
	if err := idToken.Claims(&c); err != nil {
		return claims{}, fmt.Errorf("failed to extract claims: %w", err)
	}
	c.Subject = idToken.Subject
	return c, nil
}

// SignUp is not offered by OIDC issuers.
func (p *Provider) SignUp(context.Context, string, string, sessionkit.Profile) (sessionkit.SignUpResult, error) {
	return sessionkit.SignUpResult{}, ErrUnsupported
}

// ResendConfirmation is not offered by OIDC issuers.
func (p *Provider) ResendConfirmation(context.Context, string) error {
	return ErrUnsupported
}

// SignOut forgets accessToken and, when a revocation endpoint is configured,
// revokes its refresh token (or the access token when there is none).
func (p *Provider) SignOut(ctx context.Context, accessToken string) error {
	p.mu.Lock()
	tok := p.tokens[accessToken]
	delete(p.tokens, accessToken)
	if p.current != nil && p.current.AccessToken == accessToken {
		p.current = nil
	}
	p.mu.Unlock()

	if p.cfg.RevocationURL == "" {
		return nil
	}
	form := url.Values{"token": {accessToken}, "token_type_hint": {"access_token"}}
	if tok != nil && tok.RefreshToken != "" {
		form = url.Values{"token": {tok.RefreshToken}, "token_type_hint": {"refresh_token"}}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.RevocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(p.cfg.ClientID), url.QueryEscape(p.cfg.ClientSecret))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revocation request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revocation endpoint returned %s", resp.Status)
	}
	return nil
}

// CurrentSession reports the session established by the last SignIn. An
// expired access token is refreshed first; a refresh the issuer rejects ends
// the session and emits EventSignedOut.
func (p *Provider) CurrentSession(ctx context.Context) (sessionkit.RemoteSession, bool, error) {
	p.mu.Lock()
	if p.current == nil {
		p.mu.Unlock()
		return sessionkit.RemoteSession{}, false, nil
	}
	remote := *p.current
	tok := p.tokens[remote.AccessToken]
	p.mu.Unlock()

	if tok == nil || tok.Expiry.IsZero() || p.clock.Now().Before(tok.Expiry) {
		return remote, true, nil
	}
	if tok.RefreshToken == "" {
		p.drop(remote.AccessToken)
		return sessionkit.RemoteSession{}, false, nil
	}

	// A token without an access token always refreshes.
	fresh, err := p.oauth.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: tok.RefreshToken}).Token()
	if err != nil {
		if isInvalidGrant(err) {
			p.logger.Debug().Str("subject_id", remote.SubjectID).Msg("refresh rejected, remote session ended")
			p.drop(remote.AccessToken)
			p.emit(sessionkit.AuthEvent{Type: sessionkit.EventSignedOut})
			return sessionkit.RemoteSession{}, false, nil
		}
		return sessionkit.RemoteSession{}, false, fmt.Errorf("token refresh failed: %w", err)
	}

	refreshed := sessionkit.RemoteSession{SubjectID: remote.SubjectID, AccessToken: fresh.AccessToken}
	p.mu.Lock()
	delete(p.tokens, remote.AccessToken)
	p.tokens[fresh.AccessToken] = fresh
	if p.current != nil && p.current.AccessToken == remote.AccessToken {
		p.current = &refreshed
	}
	p.mu.Unlock()
	return refreshed, true, nil
}

func (p *Provider) drop(accessToken string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tokens, accessToken)
	if p.current != nil && p.current.AccessToken == accessToken {
		p.current = nil
	}
}

// OnAuthEvent registers handler. Handlers run on the goroutine that observed
// the change.
func (p *Provider) OnAuthEvent(handler func(sessionkit.AuthEvent)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = handler
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

func (p *Provider) emit(ev sessionkit.AuthEvent) {
	p.mu.Lock()
	handlers := make([]func(sessionkit.AuthEvent), 0, len(p.listeners))
	for _, h := range p.listeners {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

/*
====================================
PROFILE PROVIDER
====================================
*/

// GetProfile queries UserInfo with a token held for subjectID. Without a
// UserInfo endpoint or a token, the claims of the last verified ID token are
// used. Subjects this Provider never saw yield ErrProfileNotFound.
func (p *Provider) GetProfile(ctx context.Context, subjectID string) (sessionkit.Profile, error) {
	p.mu.Lock()
	cached, known := p.profiles[subjectID]
	var tok *oauth2.Token
	if p.current != nil && p.current.SubjectID == subjectID {
		tok = p.tokens[p.current.AccessToken]
	}
	p.mu.Unlock()

	if tok == nil || p.provider.UserInfoEndpoint() == "" {
		if !known {
			return sessionkit.Profile{}, sessionkit.ErrProfileNotFound
		}
		return cached, nil
	}

	info, err := p.provider.UserInfo(p.clientContext(ctx), oauth2.StaticTokenSource(tok))
	if err != nil {
		return sessionkit.Profile{}, fmt.Errorf("userinfo request failed: %w", err)
	}
	if info.Subject != subjectID {
		return sessionkit.Profile{}, sessionkit.ErrProfileNotFound
	}
	var c claims
	if err := info.Claims(&c); err != nil {
		return sessionkit.Profile{}, fmt.Errorf("failed to extract userinfo claims: %w", err)
	}
	if c.Email == "" && c.Name == "" {
		return sessionkit.Profile{}, sessionkit.ErrProfileNotFound
	}

	profile := c.profile(subjectID)
	p.mu.Lock()
	p.profiles[subjectID] = profile
	p.mu.Unlock()
	return profile, nil
}

func isInvalidGrant(err error) bool {
	var re *oauth2.RetrieveError
	return errors.As(err, &re) && re.ErrorCode == "invalid_grant"
}
