package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"k8s.io/utils/clock"

	"github.com/MrEthical07/sessionkit"
)

const recoveryCookieKey = "recovery_id"

type recoveryEntry struct {
	ctrl    *sessionkit.RecoveryController
	touched time.Time
}

// recoveryRegistry holds live controllers by ID. Idle or closed ones are
// dropped lazily.
type recoveryRegistry struct {
	clock clock.PassiveClock
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]*recoveryEntry
}

func newRecoveryRegistry(clk clock.PassiveClock, ttl time.Duration) *recoveryRegistry {
	return &recoveryRegistry{
		clock:   clk,
		ttl:     ttl,
		entries: make(map[string]*recoveryEntry),
	}
}

func (r *recoveryRegistry) put(ctrl *sessionkit.RecoveryController) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	for id, e := range r.entries {
		if e.ctrl.Snapshot().Closed || now.Sub(e.touched) >= r.ttl {
			e.ctrl.Cancel()
			delete(r.entries, id)
		}
	}
	id := ctrl.Snapshot().ID
	r.entries[id] = &recoveryEntry{ctrl: ctrl, touched: now}
	return id
}

func (r *recoveryRegistry) get(id string) (*sessionkit.RecoveryController, bool) {
	if id == "" {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	now := r.clock.Now()
	if now.Sub(e.touched) >= r.ttl {
		e.ctrl.Cancel()
		delete(r.entries, id)
		return nil, false
	}
	e.touched = now
	return e.ctrl, true
}

func (r *recoveryRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.ctrl.Cancel()
		delete(r.entries, id)
	}
}

func (r *recoveryRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

type recoveryView struct {
	Step              string     `json:"step"`
	Email             string     `json:"email,omitempty"`
	CodeExpiresAt     *time.Time `json:"code_expires_at,omitempty"`
	ResendAvailableAt *time.Time `json:"resend_available_at,omitempty"`
}

func recoveryViewOf(snap sessionkit.RecoverySnapshot) recoveryView {
	v := recoveryView{Step: snap.Step.String(), Email: snap.Email}
	if !snap.CodeExpiresAt.IsZero() {
		t := snap.CodeExpiresAt
		v.CodeExpiresAt = &t
	}
	if !snap.ResendAvailableAt.IsZero() {
		t := snap.ResendAvailableAt
		v.ResendAvailableAt = &t
	}
	return v
}

func (s *Server) beginRecovery(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c)
		return
	}

	session := sessions.Default(c)
	if prev, ok := session.Get(recoveryCookieKey).(string); ok {
		s.recoveries.remove(prev)
	}

	ctrl, err := s.manager.BeginRecovery()
	if err != nil {
		s.writeError(c, err)
		return
	}
	if err := ctrl.Request(c.Request.Context(), req.Email); err != nil {
		ctrl.Cancel()
		s.writeError(c, err)
		return
	}

	session.Set(recoveryCookieKey, s.recoveries.put(ctrl))
	if err := session.Save(); err != nil {
		s.logger.Error().Err(err).Msg("recovery cookie save failed")
		s.recoveries.remove(ctrl.Snapshot().ID)
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{
			Code:     "internal",
			Category: sessionkit.CategoryTryLater.String(),
			Message:  "Something went wrong. Try again later.",
		})
		return
	}
	c.JSON(http.StatusAccepted, recoveryViewOf(ctrl.Snapshot()))
}

// recovery resolves the caller's controller from the cookie, or writes
// ErrRecoveryClosed.
func (s *Server) recovery(c *gin.Context) (*sessionkit.RecoveryController, bool) {
	id, _ := sessions.Default(c).Get(recoveryCookieKey).(string)
	ctrl, ok := s.recoveries.get(id)
	if !ok {
		s.writeError(c, sessionkit.ErrRecoveryClosed)
		return nil, false
	}
	return ctrl, true
}

// finish forgets a controller that can no longer make progress.
func (s *Server) finish(c *gin.Context, ctrl *sessionkit.RecoveryController) {
	if !ctrl.Snapshot().Closed {
		return
	}
	s.recoveries.remove(ctrl.Snapshot().ID)
	session := sessions.Default(c)
	session.Delete(recoveryCookieKey)
	if err := session.Save(); err != nil {
		s.logger.Warn().Err(err).Msg("recovery cookie clear failed")
	}
}

func (s *Server) recoveryStatus(c *gin.Context) {
	ctrl, ok := s.recovery(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, recoveryViewOf(ctrl.Snapshot()))
}

type codeRequest struct {
	Code string `json:"code"`
}

func (s *Server) verifyRecovery(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c)
		return
	}
	ctrl, ok := s.recovery(c)
	if !ok {
		return
	}
	if err := ctrl.Verify(c.Request.Context(), req.Code); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, recoveryViewOf(ctrl.Snapshot()))
}

func (s *Server) resendRecovery(c *gin.Context) {
	ctrl, ok := s.recovery(c)
	if !ok {
		return
	}
	if err := ctrl.Resend(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, recoveryViewOf(ctrl.Snapshot()))
}

type resetRequest struct {
	Secret       string `json:"secret"`
	Confirmation string `json:"confirmation"`
}

func (s *Server) resetRecovery(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c)
		return
	}
	ctrl, ok := s.recovery(c)
	if !ok {
		return
	}
	err := ctrl.Reset(c.Request.Context(), req.Secret, req.Confirmation)
	s.finish(c, ctrl)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) cancelRecovery(c *gin.Context) {
	session := sessions.Default(c)
	if id, ok := session.Get(recoveryCookieKey).(string); ok {
		s.recoveries.remove(id)
		session.Delete(recoveryCookieKey)
		if err := session.Save(); err != nil {
			s.logger.Warn().Err(err).Msg("recovery cookie clear failed")
		}
	}
	c.Status(http.StatusNoContent)
}
