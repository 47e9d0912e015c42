package memidp

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"k8s.io/utils/clock"

	"github.com/MrEthical07/sessionkit"
)

// Op names a provider operation for fault injection and holds.
type Op string

const (
	OpSignIn         Op = "sign_in"
	OpSignUp         Op = "sign_up"
	OpSignOut        Op = "sign_out"
	OpCurrentSession Op = "current_session"
	OpResend         Op = "resend_confirmation"
	OpGetProfile     Op = "get_profile"
	OpIssueCode      Op = "issue_code"
	OpVerifyCode     Op = "verify_code"
	OpCommitSecret   Op = "commit_secret"
)

const codeDigits = 6

type account struct {
	subjectID string
	email     string
	hash      []byte
	confirmed bool
}

type issuedCode struct {
	code     string
	issuedAt time.Time
	verified bool
}

// Provider is safe for concurrent use.
type Provider struct {
	clock               clock.PassiveClock
	codeTTL             time.Duration
	requireConfirmation bool
	bcryptCost          int

	mu        sync.Mutex
	accounts  map[string]*account
	profiles  map[string]sessionkit.Profile
	sessions  map[string]string
	current   *sessionkit.RemoteSession
	codes     map[string]*issuedCode
	faults    map[Op]error
	holds     map[Op]chan struct{}
	waiting   map[Op]int
	revoked   []string
	resends   map[string]int
	listeners map[uint64]func(sessionkit.AuthEvent)
	nextID    uint64

	deliver func(email, code string)
}

// Option configures a Provider.
type Option func(*Provider)

// WithClock sets the clock used for code expiry.
func WithClock(clk clock.PassiveClock) Option {
	return func(p *Provider) { p.clock = clk }
}

// WithCodeTTL sets how long an issued code stays valid. Default 10 minutes.
func WithCodeTTL(ttl time.Duration) Option {
	return func(p *Provider) { p.codeTTL = ttl }
}

// WithConfirmationRequired makes SignUp report NeedsConfirmation and SignIn
// reject unconfirmed accounts.
func WithConfirmationRequired(required bool) Option {
	return func(p *Provider) { p.requireConfirmation = required }
}

// WithCodeDelivery registers fn to receive every issued code, standing in for
// the email a real issuer would send. fn runs synchronously without locks held.
func WithCodeDelivery(fn func(email, code string)) Option {
	return func(p *Provider) { p.deliver = fn }
}

// WithBcryptCost overrides bcrypt.DefaultCost.
func WithBcryptCost(cost int) Option {
	return func(p *Provider) { p.bcryptCost = cost }
}

func New(opts ...Option) *Provider {
	p := &Provider{
		clock:      clock.RealClock{},
		codeTTL:    10 * time.Minute,
		bcryptCost: bcrypt.DefaultCost,
		accounts:   make(map[string]*account),
		profiles:   make(map[string]sessionkit.Profile),
		sessions:   make(map[string]string),
		codes:      make(map[string]*issuedCode),
		faults:     make(map[Op]error),
		holds:      make(map[Op]chan struct{}),
		waiting:    make(map[Op]int),
		resends:    make(map[string]int),
		listeners:  make(map[uint64]func(sessionkit.AuthEvent)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// enter applies a hold and an injected fault for op.
func (p *Provider) enter(ctx context.Context, op Op) error {
	p.mu.Lock()
	hold := p.holds[op]
	if hold != nil {
		p.waiting[op]++
	}
	p.mu.Unlock()

	if hold != nil {
		var err error
		select {
		case <-hold:
		case <-ctx.Done():
			err = ctx.Err()
		}
		p.mu.Lock()
		p.waiting[op]--
		p.mu.Unlock()
		if err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.faults[op]
}

/*
====================================
IDENTITY PROVIDER
====================================
*/

func (p *Provider) SignIn(ctx context.Context, identifier, secret string) (sessionkit.RemoteSession, error) {
	if err := p.enter(ctx, OpSignIn); err != nil {
		return sessionkit.RemoteSession{}, err
	}

	p.mu.Lock()
	acc := p.accounts[normalize(identifier)]
	p.mu.Unlock()

	if acc == nil || bcrypt.CompareHashAndPassword(acc.hash, []byte(secret)) != nil {
		return sessionkit.RemoteSession{}, fmt.Errorf("%w: unknown identifier or wrong secret", sessionkit.ErrInvalidCredentials)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.requireConfirmation && !acc.confirmed {
		return sessionkit.RemoteSession{}, fmt.Errorf("%w: email not confirmed", sessionkit.ErrInvalidCredentials)
	}
	remote := sessionkit.RemoteSession{SubjectID: acc.subjectID, AccessToken: uuid.NewString()}
	p.sessions[remote.AccessToken] = acc.subjectID
	p.current = &remote
	return remote, nil
}

func (p *Provider) SignUp(ctx context.Context, identifier, secret string, profile sessionkit.Profile) (sessionkit.SignUpResult, error) {
	if err := p.enter(ctx, OpSignUp); err != nil {
		return sessionkit.SignUpResult{}, err
	}
	email := normalize(identifier)

	p.mu.Lock()
	if acc, exists := p.accounts[email]; exists {
		defer p.mu.Unlock()
		// An unconfirmed duplicate gets a fresh confirmation message instead of
		// an error, so sign-up does not reveal which addresses are pending.
		if !acc.confirmed {
			p.resends[email]++
			return sessionkit.SignUpResult{SubjectID: acc.subjectID, NeedsConfirmation: true}, nil
		}
		return sessionkit.SignUpResult{}, sessionkit.ErrIdentityExists
	}
	p.mu.Unlock()

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), p.bcryptCost)
	if err != nil {
		return sessionkit.SignUpResult{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.accounts[email]; exists {
		return sessionkit.SignUpResult{}, sessionkit.ErrIdentityExists
	}
	acc := &account{
		subjectID: uuid.NewString(),
		email:     email,
		hash:      hash,
		confirmed: !p.requireConfirmation,
	}
	p.accounts[email] = acc

	profile.SubjectID = acc.subjectID
	profile.Email = email
	if profile.Role == "" {
		profile.Role = sessionkit.RoleUser
	}
	p.profiles[acc.subjectID] = profile

	return sessionkit.SignUpResult{SubjectID: acc.subjectID, NeedsConfirmation: p.requireConfirmation}, nil
}

func (p *Provider) SignOut(ctx context.Context, accessToken string) error {
	if err := p.enter(ctx, OpSignOut); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, accessToken)
	p.revoked = append(p.revoked, accessToken)
	if p.current != nil && p.current.AccessToken == accessToken {
		p.current = nil
	}
	return nil
}

func (p *Provider) CurrentSession(ctx context.Context) (sessionkit.RemoteSession, bool, error) {
	if err := p.enter(ctx, OpCurrentSession); err != nil {
		return sessionkit.RemoteSession{}, false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return sessionkit.RemoteSession{}, false, nil
	}
	return *p.current, true, nil
}

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

// ResendConfirmation succeeds for unknown emails too, so callers cannot discover
// which addresses are registered.
func (p *Provider) ResendConfirmation(ctx context.Context, email string) error {
	if err := p.enter(ctx, OpResend); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.resends[normalize(email)]++
	return nil
}

/*
====================================
PROFILE PROVIDER
====================================
*/

func (p *Provider) GetProfile(ctx context.Context, subjectID string) (sessionkit.Profile, error) {
	if err := p.enter(ctx, OpGetProfile); err != nil {
		return sessionkit.Profile{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	profile, ok := p.profiles[subjectID]
	if !ok {
		return sessionkit.Profile{}, sessionkit.ErrProfileNotFound
	}
	return profile, nil
}

/*
====================================
CODE ISSUER
====================================
*/

// IssueCode replaces any earlier code for email.
func (p *Provider) IssueCode(ctx context.Context, email string) error {
	if err := p.enter(ctx, OpIssueCode); err != nil {
		return err
	}
	code, err := randomDigits(codeDigits)
	if err != nil {
		return err
	}

	email = normalize(email)
	p.mu.Lock()
	p.codes[email] = &issuedCode{code: code, issuedAt: p.clock.Now()}
	p.mu.Unlock()

	if p.deliver != nil {
		p.deliver(email, code)
	}
	return nil
}

func (p *Provider) VerifyCode(ctx context.Context, email, code string) (sessionkit.CodeStatus, error) {
	if err := p.enter(ctx, OpVerifyCode); err != nil {
		return sessionkit.CodeInvalid, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	entry := p.codes[normalize(email)]
	if entry == nil || entry.verified || entry.code != code {
		return sessionkit.CodeInvalid, nil
	}
	if p.clock.Since(entry.issuedAt) >= p.codeTTL {
		return sessionkit.CodeExpired, nil
	}
	entry.verified = true
	return sessionkit.CodeValid, nil
}

// CommitNewSecret consumes the verified code, replaces the secret and revokes
// every remote session of the account.
func (p *Provider) CommitNewSecret(ctx context.Context, email, code, secret string) error {
	if err := p.enter(ctx, OpCommitSecret); err != nil {
		return err
	}
	email = normalize(email)

	p.mu.Lock()
	entry := p.codes[email]
	acc := p.accounts[email]
	valid := entry != nil && entry.verified && entry.code == code
	p.mu.Unlock()
	if !valid {
		return sessionkit.ErrCodeInvalid
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), p.bcryptCost)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.codes[email] != entry {
		return sessionkit.ErrCodeInvalid
	}
	delete(p.codes, email)
	if acc == nil {
		// Codes are issued for unknown emails too; there is nothing to update.
		return nil
	}
	acc.hash = hash
	for token, subject := range p.sessions {
		if subject == acc.subjectID {
			delete(p.sessions, token)
			p.revoked = append(p.revoked, token)
		}
	}
	if p.current != nil && p.current.SubjectID == acc.subjectID {
		p.current = nil
	}
	return nil
}

func randomDigits(n int) (string, error) {
	var b strings.Builder
	ten := big.NewInt(10)
	for i := 0; i < n; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}
