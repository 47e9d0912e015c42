package httpapi

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"k8s.io/utils/clock"

	"github.com/MrEthical07/sessionkit"
)

const (
	defaultCookieName  = "sessionkit"
	requestIDHeader    = "X-Request-ID"
	defaultRecoveryTTL = 30 * time.Minute
)

// ErrCookieSecret is returned by New when the cookie secret is too short.
var ErrCookieSecret = errors.New("httpapi: cookie secret must be at least 32 bytes")

// Config configures the adapter.
type Config struct {
	// CookieSecret signs the cookie that binds a caller to its recovery flow.
	CookieSecret []byte
	CookieName   string
	// SecureCookie sets the Secure attribute. Enable it behind TLS.
	SecureCookie bool
	// AllowedOrigins enables CORS with credentials for the listed origins.
	// Empty disables CORS.
	AllowedOrigins []string
	// RecoveryTTL bounds how long an idle recovery flow is kept.
	RecoveryTTL time.Duration
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the access and error logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithClock replaces the clock used to expire recovery flows.
func WithClock(clk clock.PassiveClock) Option {
	return func(s *Server) { s.clock = clk }
}

// WithExtraRoute mounts an additional plain handler, such as a metrics
// endpoint, on the same engine.
func WithExtraRoute(method, path string, h http.Handler) Option {
	return func(s *Server) {
		s.extra = append(s.extra, extraRoute{method: method, path: path, handler: h})
	}
}

type extraRoute struct {
	method  string
	path    string
	handler http.Handler
}

// Server serves one Manager.
type Server struct {
	manager *sessionkit.Manager
	cfg     Config
	logger  zerolog.Logger
	clock   clock.PassiveClock
	extra   []extraRoute

	recoveries *recoveryRegistry
	engine     *gin.Engine
	once       sync.Once
}

// New validates cfg and returns a Server for m.
func New(m *sessionkit.Manager, cfg Config, opts ...Option) (*Server, error) {
	if m == nil {
		return nil, errors.New("httpapi: nil manager")
	}
	if len(cfg.CookieSecret) < 32 {
		return nil, ErrCookieSecret
	}
	if cfg.CookieName == "" {
		cfg.CookieName = defaultCookieName
	}
	if cfg.RecoveryTTL <= 0 {
		cfg.RecoveryTTL = defaultRecoveryTTL
	}

	s := &Server{
		manager: m,
		cfg:     cfg,
		logger:  zerolog.Nop(),
		clock:   clock.RealClock{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.recoveries = newRecoveryRegistry(s.clock, cfg.RecoveryTTL)
	return s, nil
}

// Handler returns the gin engine. Routes are built on first use.
func (s *Server) Handler() http.Handler {
	s.once.Do(func() { s.engine = s.routes() })
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestContext(), s.accessLog())

	if len(s.cfg.AllowedOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = s.cfg.AllowedOrigins
		corsConfig.AllowCredentials = true
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", requestIDHeader}
		corsConfig.ExposeHeaders = []string{requestIDHeader, "Retry-After"}
		r.Use(cors.New(corsConfig))
	}

	store := cookie.NewStore(s.cfg.CookieSecret)
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(s.cfg.RecoveryTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.SecureCookie,
		SameSite: http.SameSiteStrictMode,
	})
	r.Use(sessions.Sessions(s.cfg.CookieName, store))

	r.GET("/health", s.health)

	v1 := r.Group("/v1")
	{
		v1.GET("/session", s.getSession)
		v1.POST("/session", s.signIn)
		v1.DELETE("/session", s.signOut)
		v1.POST("/session/refresh", s.refreshProfile)

		v1.POST("/registrations", s.register)
		v1.POST("/registrations/resend", s.resendConfirmation)
		v1.GET("/pending", s.listPending)
		v1.DELETE("/pending/:email", s.dismissPending)

		v1.POST("/validate", s.validateField)

		rec := v1.Group("/recovery")
		rec.POST("", s.beginRecovery)
		rec.GET("", s.recoveryStatus)
		rec.POST("/verify", s.verifyRecovery)
		rec.POST("/resend", s.resendRecovery)
		rec.POST("/reset", s.resetRecovery)
		rec.DELETE("", s.cancelRecovery)
	}

	for _, e := range s.extra {
		r.Handle(e.method, e.path, gin.WrapH(e.handler))
	}
	return r
}

// requestContext attaches the client IP and a request ID to the request
// context so Manager audit events carry them.
func (s *Server) requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)

		ctx := sessionkit.WithClientIP(c.Request.Context(), c.ClientIP())
		ctx = sessionkit.WithRequestID(ctx, id)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ev := s.logger.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = s.logger.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("request_id", c.Writer.Header().Get(requestIDHeader)).
			Msg("http request")
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"state":     s.manager.State().String(),
		"delegated": s.manager.DelegatedEnabled(),
	})
}
