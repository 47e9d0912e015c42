package sessionkit

import (
	"crypto/rand"
	"errors"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/MrEthical07/sessionkit/internal/flows"
	"github.com/MrEthical07/sessionkit/internal/stores"
	"github.com/MrEthical07/sessionkit/jwt"
	"github.com/MrEthical07/sessionkit/kvstore"
	"github.com/MrEthical07/sessionkit/password"
	"github.com/MrEthical07/sessionkit/ratelimit"
)

// Builder assembles a Manager. A Builder can be used once.
type Builder struct {
	config Config

	store    kvstore.Store
	limiter  ratelimit.Limiter
	idp      IdentityProvider
	profiles ProfileProvider
	codes    CodeIssuer

	clock     clock.WithDelayedExecution
	logger    zerolog.Logger
	auditSink AuditSink

	built bool
}

// New returns a Builder holding DefaultConfig, an in-memory store, an
// in-memory limiter, the real clock and a no-op logger.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
		logger: zerolog.Nop(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the key-value backend for the cached session and pending confirmations.
func (b *Builder) WithStore(store kvstore.Store) *Builder {
	b.store = store
	return b
}

func (b *Builder) WithRateLimiter(limiter ratelimit.Limiter) *Builder {
	b.limiter = limiter
	return b
}

// WithIdentityProvider enables delegated mode. When idp also implements
// ProfileProvider or CodeIssuer it is used for those roles unless they are set
// explicitly.
func (b *Builder) WithIdentityProvider(idp IdentityProvider) *Builder {
	b.idp = idp
	return b
}

func (b *Builder) WithProfileProvider(p ProfileProvider) *Builder {
	b.profiles = p
	return b
}

func (b *Builder) WithCodeIssuer(c CodeIssuer) *Builder {
	b.codes = c
	return b
}

// WithClock replaces the real clock. Tests pass a k8s.io/utils/clock/testing FakeClock.
func (b *Builder) WithClock(clk clock.WithDelayedExecution) *Builder {
	b.clock = clk
	return b
}

func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and returns a ready Manager. The Manager
// does not touch the store or the provider until Initialize.
func (b *Builder) Build() (*Manager, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	cfg.Session.SigningMethod = strings.ToLower(strings.TrimSpace(cfg.Session.SigningMethod))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger.With().Str("component", "sessionkit").Logger()

	clk := b.clock
	if clk == nil {
		clk = clock.RealClock{}
	}

	store := b.store
	if store == nil {
		store = kvstore.NewMemory()
	}

	limiter := b.limiter
	if limiter == nil {
		limiter = ratelimit.NewMemory(clk, cfg.RateLimits.longestWindow())
	}

	profiles, codes := b.profiles, b.codes
	if b.idp != nil {
		if p, ok := b.idp.(ProfileProvider); ok && profiles == nil {
			profiles = p
		}
		if c, ok := b.idp.(CodeIssuer); ok && codes == nil {
			codes = c
		}
	}

	// -------- SIGNING KEY --------
	if len(cfg.Session.SigningKey) == 0 {
		key := make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, err
		}
		cfg.Session.SigningKey = key
		logger.Warn().Msg("no session signing key configured, using an ephemeral key; cached sessions will not survive a restart")
	}
	signer, err := jwt.NewSigner(jwt.Config{
		SigningMethod: jwt.SigningMethod(cfg.Session.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Session.SigningKey),
		PublicKey:     cloneBytes(cfg.Session.PublicKey),
		Issuer:        cfg.Session.Issuer,
		Now:           clk.Now,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		return nil, err
	}

	// -------- EMBEDDED IDENTITIES --------
	embedded := make(map[string]EmbeddedIdentity, len(cfg.Embedded.Identities))
	embeddedSubjects := make(map[string]Profile, len(cfg.Embedded.Identities))
	for _, id := range cfg.Embedded.Identities {
		if id.Profile.Role == "" {
			id.Profile.Role = RoleUser
		}
		if id.Profile.Email == "" {
			id.Profile.Email = flows.NormalizeIdentifier(id.Identifier)
		}
		embedded[flows.NormalizeIdentifier(id.Identifier)] = id
		embeddedSubjects[id.Profile.SubjectID] = id.Profile
	}

	m := &Manager{
		config:           cfg,
		clock:            clk,
		logger:           logger,
		store:            store,
		limiter:          limiter,
		idp:              b.idp,
		profiles:         profiles,
		codes:            codes,
		hasher:           hasher,
		embedded:         embedded,
		embeddedSubjects: embeddedSubjects,
		cache:            stores.NewSessionCache(store, signer, cfg.Session.KeyPrefix),
		pending:          stores.NewPendingStore(store, cfg.Session.KeyPrefix, cfg.Pending.Retention, clk.Now),
		audit:            newAuditQueue(cfg.Audit, b.auditSink),
		metrics:          NewMetrics(cfg.Metrics),
		notifier:         newNotifier(),
		external:         make(map[uint64]func(ExternalChange)),
		state:            StateUninitialized,
	}

	b.built = true

	return m, nil
}
