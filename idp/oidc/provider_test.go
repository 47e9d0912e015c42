package oidc

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/MrEthical07/sessionkit"
)

const testClientID = "sessionkit-test"

type fakeUser struct {
	password string
	subject  string
	email    string
	name     string
	role     string
}

type fakeIssuer struct {
	srv *httptest.Server
	key *rsa.PrivateKey

	mu         sync.Mutex
	users      map[string]fakeUser
	access     map[string]string
	refresh    map[string]string
	noProfile  map[string]bool
	revoked    []string
	failTokens bool
	signingKey *rsa.PrivateKey
}

func newFakeIssuer(t *testing.T) *fakeIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &fakeIssuer{
		key:       key,
		users:     map[string]fakeUser{},
		access:    map[string]string{},
		refresh:   map[string]string{},
		noProfile: map[string]bool{},
	}
	f.signingKey = key

	mux := http.NewServeMux()
	mux.HandleFunc("/token", f.token)
	mux.HandleFunc("/userinfo", f.userinfo)
	mux.HandleFunc("/revoke", f.revoke)
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	f.users["ada@example.com"] = fakeUser{password: "correct-pass1", subject: "sub-ada", email: "ada@example.com", name: "Ada", role: "admin"}
	return f
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeIssuer) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failTokens {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily_unavailable"})
		return
	}

	var user fakeUser
	switch r.PostForm.Get("grant_type") {
	case "password":
		u, ok := f.users[r.PostForm.Get("username")]
		if !ok || u.password != r.PostForm.Get("password") {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		user = u
	case "refresh_token":
		sub, ok := f.refresh[r.PostForm.Get("refresh_token")]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		delete(f.refresh, r.PostForm.Get("refresh_token"))
		for _, u := range f.users {
			if u.subject == sub {
				user = u
			}
		}
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	now := time.Now()
	idToken, err := gojwt.NewWithClaims(gojwt.SigningMethodRS256, gojwt.MapClaims{
		"iss":   f.srv.URL,
		"aud":   testClientID,
		"sub":   user.subject,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
		"email": user.email,
		"name":  user.name,
		"role":  user.role,
	}).SignedString(f.signingKey)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return
	}

	access, refresh := uuid.NewString(), uuid.NewString()
	f.access[access] = user.subject
	f.refresh[refresh] = user.subject
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"token_type":    "Bearer",
		"refresh_token": refresh,
		"expires_in":    3600,
		"id_token":      idToken,
	})
}

func (f *fakeIssuer) userinfo(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	sub, ok := f.access[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if f.noProfile[sub] {
		writeJSON(w, http.StatusOK, map[string]string{"sub": sub})
		return
	}
	for _, u := range f.users {
		if u.subject == sub {
			writeJSON(w, http.StatusOK, map[string]string{"sub": sub, "email": u.email, "name": u.name + " (userinfo)", "role": u.role})
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (f *fakeIssuer) revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	token := r.PostForm.Get("token")
	f.revoked = append(f.revoked, token)
	delete(f.refresh, token)
	w.WriteHeader(http.StatusOK)
}

func (f *fakeIssuer) endpoints(userinfo bool) oidc.ProviderConfig {
	pc := oidc.ProviderConfig{TokenURL: f.srv.URL + "/token"}
	if userinfo {
		pc.UserInfoURL = f.srv.URL + "/userinfo"
	}
	return pc
}

func (f *fakeIssuer) newProvider(t *testing.T, userinfo bool, opts ...Option) *Provider {
	t.Helper()
	cfg := Config{
		Issuer:        f.srv.URL,
		ClientID:      testClientID,
		ClientSecret:  "secret",
		RevocationURL: f.srv.URL + "/revoke",
	}
	keys := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&f.key.PublicKey}}
	p, err := NewFromParts(cfg, f.endpoints(userinfo), keys, append([]Option{WithHTTPClient(f.srv.Client())}, opts...)...)
	require.NoError(t, err)
	return p
}

func TestSignInVerifiesIDToken(t *testing.T) {
	f := newFakeIssuer(t)
	p := f.newProvider(t, false)
	ctx := context.Background()

	remote, err := p.SignIn(ctx, "ada@example.com", "correct-pass1")
	require.NoError(t, err)
	assert.Equal(t, "sub-ada", remote.SubjectID)
	assert.NotEmpty(t, remote.AccessToken)

	cur, ok, err := p.CurrentSession(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, remote, cur)

	profile, err := p.GetProfile(ctx, "sub-ada")
	require.NoError(t, err)
	assert.Equal(t, "Ada", profile.DisplayName)
	assert.Equal(t, "ada@example.com", profile.Email)
	assert.Equal(t, sessionkit.RoleAdmin, profile.Role)
}

func TestSignInRejected(t *testing.T) {
	f := newFakeIssuer(t)
	p := f.newProvider(t, false)

	_, err := p.SignIn(context.Background(), "ada@example.com", "wrong-pass1")
	require.ErrorIs(t, err, sessionkit.ErrInvalidCredentials)

	f.mu.Lock()
	f.failTokens = true
	f.mu.Unlock()
	_, err = p.SignIn(context.Background(), "ada@example.com", "correct-pass1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, sessionkit.ErrInvalidCredentials)
}

func TestSignInRejectsForeignSignature(t *testing.T) {
	f := newFakeIssuer(t)
	p := f.newProvider(t, false)

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	f.mu.Lock()
	f.signingKey = other
	f.mu.Unlock()

	_, err = p.SignIn(context.Background(), "ada@example.com", "correct-pass1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ID token verification failed")
	_, ok, _ := p.CurrentSession(context.Background())
	assert.False(t, ok)
}

func TestGetProfileFromUserInfo(t *testing.T) {
	f := newFakeIssuer(t)
	p := f.newProvider(t, true)
	ctx := context.Background()

	_, err := p.GetProfile(ctx, "sub-ada")
	require.ErrorIs(t, err, sessionkit.ErrProfileNotFound)

	_, err = p.SignIn(ctx, "ada@example.com", "correct-pass1")
	require.NoError(t, err)
	profile, err := p.GetProfile(ctx, "sub-ada")
	require.NoError(t, err)
	assert.Equal(t, "Ada (userinfo)", profile.DisplayName)

	f.mu.Lock()
	f.noProfile["sub-ada"] = true
	f.mu.Unlock()
	_, err = p.GetProfile(ctx, "sub-ada")
	require.ErrorIs(t, err, sessionkit.ErrProfileNotFound)
}

func TestSignOutRevokesRefreshToken(t *testing.T) {
	f := newFakeIssuer(t)
	p := f.newProvider(t, false)
	ctx := context.Background()

	remote, err := p.SignIn(ctx, "ada@example.com", "correct-pass1")
	require.NoError(t, err)
	require.NoError(t, p.SignOut(ctx, remote.AccessToken))

	f.mu.Lock()
	revoked := append([]string(nil), f.revoked...)
	f.mu.Unlock()
	require.Len(t, revoked, 1)
	assert.NotEqual(t, remote.AccessToken, revoked[0], "the refresh token is revoked")

	_, ok, err := p.CurrentSession(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCurrentSessionRefreshes(t *testing.T) {
	f := newFakeIssuer(t)
	clk := clocktesting.NewFakeClock(time.Now())
	p := f.newProvider(t, false, WithClock(clk))
	ctx := context.Background()

	remote, err := p.SignIn(ctx, "ada@example.com", "correct-pass1")
	require.NoError(t, err)

	clk.Step(2 * time.Hour)
	refreshed, ok, err := p.CurrentSession(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, remote.SubjectID, refreshed.SubjectID)
	assert.NotEqual(t, remote.AccessToken, refreshed.AccessToken)
}

func TestCurrentSessionEndsWhenRefreshRejected(t *testing.T) {
	f := newFakeIssuer(t)
	clk := clocktesting.NewFakeClock(time.Now())
	p := f.newProvider(t, false, WithClock(clk))
	ctx := context.Background()

	var events []sessionkit.AuthEvent
	stop := p.OnAuthEvent(func(ev sessionkit.AuthEvent) { events = append(events, ev) })
	defer stop()

	_, err := p.SignIn(ctx, "ada@example.com", "correct-pass1")
	require.NoError(t, err)
	f.mu.Lock()
	f.refresh = map[string]string{}
	f.mu.Unlock()

	clk.Step(2 * time.Hour)
	_, ok, err := p.CurrentSession(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	require.Len(t, events, 1)
	assert.Equal(t, sessionkit.EventSignedOut, events[0].Type)
}

func TestUnsupportedOperations(t *testing.T) {
	f := newFakeIssuer(t)
	p := f.newProvider(t, false)

	_, err := p.SignUp(context.Background(), "new@example.com", "secret123", sessionkit.Profile{})
	require.ErrorIs(t, err, ErrUnsupported)
	assert.ErrorIs(t, err, sessionkit.ErrProviderUnavailable)
	assert.ErrorIs(t, p.ResendConfirmation(context.Background(), "new@example.com"), sessionkit.ErrProviderUnavailable)
}

func TestConfigValidation(t *testing.T) {
	_, err := NewFromParts(Config{ClientID: "x"}, oidc.ProviderConfig{TokenURL: "http://x"}, &oidc.StaticKeySet{})
	assert.Error(t, err)
	_, err = NewFromParts(Config{Issuer: "http://x"}, oidc.ProviderConfig{TokenURL: "http://x"}, &oidc.StaticKeySet{})
	assert.Error(t, err)
	_, err = NewFromParts(Config{Issuer: "http://x", ClientID: "x"}, oidc.ProviderConfig{}, &oidc.StaticKeySet{})
	assert.Error(t, err)
}

func TestManagerWithOIDCProvider(t *testing.T) {
	f := newFakeIssuer(t)
	p := f.newProvider(t, true)

	cfg := sessionkit.DefaultConfig()
	m, err := sessionkit.New().WithConfig(cfg).WithIdentityProvider(p).Build()
	require.NoError(t, err)
	defer m.Close()

	ctx := context.Background()
	s, err := m.SignIn(ctx, "ada@example.com", "correct-pass1")
	require.NoError(t, err)
	assert.Equal(t, sessionkit.ModeDelegated, s.Mode)
	assert.Equal(t, "sub-ada", s.SubjectID)
	assert.Equal(t, sessionkit.RoleAdmin, s.Role)

	_, err = m.Register(ctx, "new@example.com", "secret123", "Newton")
	require.ErrorIs(t, err, sessionkit.ErrProviderUnavailable)
	_, err = m.BeginRecovery()
	require.ErrorIs(t, err, sessionkit.ErrDelegatedModeDisabled)

	require.NoError(t, m.SignOut(ctx))
	require.NoError(t, m.Close())
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Len(t, f.revoked, 1)
}
