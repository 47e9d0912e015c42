package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/spf13/cobra"

	"github.com/MrEthical07/sessionkit"
	"github.com/MrEthical07/sessionkit/idp/oidc"
	"github.com/MrEthical07/sessionkit/memidp"
	"github.com/MrEthical07/sessionkit/metrics/export/prometheus"
	"github.com/MrEthical07/sessionkit/middleware"
	"github.com/MrEthical07/sessionkit/transport/httpapi"
)

// Provider kinds accepted by --provider.
const (
	providerNone   = "none"
	providerMemory = "memory"
	providerOIDC   = "oidc"
)

const (
	demoAdminEmail  = "admin@admin.com"
	demoAdminSecret = "admin123"
	demoUserEmail   = "demo@sessionkit.dev"
	demoUserSecret  = "demo-pass1"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session API over HTTP",
		Long: `Serve builds a Manager from --config and the flags below, restores any
cached session and exposes the HTTP API until interrupted.

Secrets are read from the environment only:
  SESSIONKIT_SIGNING_KEY        session cache signing key (text or base64:...)
  SESSIONKIT_COOKIE_SECRET      recovery cookie key, at least 32 bytes
  SESSIONKIT_OIDC_CLIENT_SECRET OpenID Connect client secret`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd)
		},
	}

	f := cmd.Flags()
	f.String("addr", ":8080", "listen address")
	f.String("store", storeMemory, "session store: memory, miniredis, redis or leveldb")
	f.String("redis-addr", "", "Redis address for --store=redis")
	f.String("leveldb-path", "sessionkit.db", "database directory for --store=leveldb")
	f.String("provider", providerMemory, "identity provider: none, memory or oidc")
	f.String("oidc-issuer", "", "OpenID Connect issuer URL")
	f.String("oidc-client-id", "", "OpenID Connect client ID")
	f.String("oidc-revocation-url", "", "RFC 7009 token revocation endpoint")
	f.StringSlice("allowed-origins", nil, "origins allowed to call the API with credentials")
	f.Bool("secure-cookie", false, "mark the recovery cookie Secure")
	f.Bool("metrics", true, "serve Prometheus metrics at /metrics")
	f.Bool("metrics-admin-only", false, "serve /metrics only while an admin session is current")
	f.Bool("demo", false, "seed demo identities and log recovery codes")
	f.Bool("banner", true, "print the startup banner")
	return cmd
}

func (a *app) serve(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if a.v.GetBool("banner") {
		fmt.Fprintln(cmd.OutOrStdout(), figure.NewFigure("sessionkit", "cybermedium", true).String())
	}

	svc, err := a.newService(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("shutdown cleanup failed")
		}
	}()

	srv := &http.Server{
		Addr:              a.v.GetString("addr"),
		Handler:           svc.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	a.logger.Info().Str("addr", srv.Addr).Msg("listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	a.logger.Info().Msg("stopped")
	return nil
}

// service is everything serve wires together, without the listener.
type service struct {
	manager  *sessionkit.Manager
	handler  http.Handler
	backends *backends
	cleanup  []func()
}

func (s *service) Close() error {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
	err := s.manager.Close()
	return errors.Join(err, s.backends.Close())
}

func (a *app) newService(ctx context.Context) (*service, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	demo := a.v.GetBool("demo")
	if demo && len(cfg.Embedded.Identities) == 0 {
		cfg.Embedded.Identities = []sessionkit.EmbeddedIdentity{{
			Identifier: demoAdminEmail,
			Secret:     demoAdminSecret,
			Profile: sessionkit.Profile{
				SubjectID:   "embedded-admin",
				DisplayName: "Administrator",
				Role:        sessionkit.RoleAdmin,
			},
		}}
		a.logger.Warn().Str("identifier", demoAdminEmail).Msg("demo embedded identity enabled")
	}

	idp, err := a.identityProvider(ctx, demo)
	if err != nil {
		return nil, err
	}

	be, err := openBackends(ctx, backendOptions{
		kind:        a.v.GetString("store"),
		redisAddr:   a.v.GetString("redis-addr"),
		levelDBPath: a.v.GetString("leveldb-path"),
	}, a.logger)
	if err != nil {
		return nil, err
	}

	b := sessionkit.New().
		WithConfig(cfg).
		WithStore(be.store).
		WithLogger(a.logger).
		WithAuditSink(sessionkit.NewLoggerSink(a.logger))
	if be.limiter != nil {
		b = b.WithRateLimiter(be.limiter)
	}
	if idp != nil {
		b = b.WithIdentityProvider(idp)
	}
	m, err := b.Build()
	if err != nil {
		_ = be.Close()
		return nil, err
	}
	svc := &service{manager: m, backends: be}

	svc.cleanup = append(svc.cleanup,
		m.Subscribe(func(s sessionkit.Snapshot) {
			a.logger.Info().Str("state", s.State.String()).Msg("session state changed")
		}),
		m.SubscribeToExternalChanges(func(c sessionkit.ExternalChange) {
			a.logger.Info().Str("event", c.Event.String()).Str("state", c.State.String()).Err(c.Err).Msg("provider event")
		}),
	)

	res := m.Initialize(ctx)
	a.logger.Info().Str("state", res.State.String()).AnErr("reason", res.Reason).Msg("initialized")

	cookieSecret, err := a.cookieSecret()
	if err != nil {
		_ = svc.Close()
		return nil, err
	}
	opts := []httpapi.Option{httpapi.WithLogger(a.logger)}
	if a.v.GetBool("metrics") {
		var h http.Handler = prometheus.New(m).Handler()
		if a.v.GetBool("metrics-admin-only") {
			h = middleware.RequireRole(m, sessionkit.RoleAdmin)(h)
		}
		opts = append(opts, httpapi.WithExtraRoute(http.MethodGet, "/metrics", h))
	}
	api, err := httpapi.New(m, httpapi.Config{
		CookieSecret:   cookieSecret,
		SecureCookie:   a.v.GetBool("secure-cookie"),
		AllowedOrigins: a.v.GetStringSlice("allowed-origins"),
	}, opts...)
	if err != nil {
		_ = svc.Close()
		return nil, err
	}
	svc.handler = api.Handler()
	return svc, nil
}

func (a *app) identityProvider(ctx context.Context, demo bool) (sessionkit.IdentityProvider, error) {
	switch kind := a.v.GetString("provider"); kind {
	case providerNone:
		return nil, nil

	case providerMemory:
		var opts []memidp.Option
		if demo {
			opts = append(opts, memidp.WithCodeDelivery(func(email, code string) {
				a.logger.Warn().Str("email", email).Str("code", code).Msg("demo recovery code")
			}))
		}
		p := memidp.New(opts...)
		if demo {
			if _, err := p.AddAccount(demoUserEmail, demoUserSecret, sessionkit.Profile{DisplayName: "Demo User"}); err != nil {
				return nil, err
			}
			a.logger.Warn().Str("identifier", demoUserEmail).Msg("demo delegated account seeded")
		}
		return p, nil

	case providerOIDC:
		p, err := oidc.New(ctx, oidc.Config{
			Issuer:        a.v.GetString("oidc-issuer"),
			ClientID:      a.v.GetString("oidc-client-id"),
			ClientSecret:  a.v.GetString("oidc-client-secret"),
			RevocationURL: a.v.GetString("oidc-revocation-url"),
		}, oidc.WithLogger(a.logger))
		if err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, fmt.Errorf("unknown provider %q (want none, memory or oidc)", kind)
	}
}

// cookieSecret reads SESSIONKIT_COOKIE_SECRET or generates a per-process key.
func (a *app) cookieSecret() ([]byte, error) {
	if raw := a.v.GetString("cookie-secret"); raw != "" {
		return decodeSecret(raw)
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	a.logger.Warn().Msg("no cookie secret configured, using an ephemeral key")
	return key, nil
}
