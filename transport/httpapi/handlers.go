package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MrEthical07/sessionkit"
	"github.com/MrEthical07/sessionkit/validate"
)

type sessionView struct {
	ID           string    `json:"id"`
	SubjectID    string    `json:"subject_id"`
	DisplayName  string    `json:"display_name"`
	ContactEmail string    `json:"contact_email"`
	Role         string    `json:"role"`
	PlanTier     string    `json:"plan_tier,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
	Mode         string    `json:"mode"`
}

func viewOf(s sessionkit.Session) *sessionView {
	return &sessionView{
		ID:           s.ID,
		SubjectID:    s.SubjectID,
		DisplayName:  s.DisplayName,
		ContactEmail: s.ContactEmail,
		Role:         string(s.Role),
		PlanTier:     s.PlanTier,
		IssuedAt:     s.IssuedAt,
		Mode:         s.Mode.String(),
	}
}

type snapshotView struct {
	State   string       `json:"state"`
	Session *sessionView `json:"session,omitempty"`
}

func (s *Server) getSession(c *gin.Context) {
	snap := s.manager.Snapshot()
	out := snapshotView{State: snap.State.String()}
	if snap.Session != nil {
		out.Session = viewOf(*snap.Session)
	}
	c.JSON(http.StatusOK, out)
}

type signInRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

func (s *Server) signIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c)
		return
	}
	sess, err := s.manager.SignIn(c.Request.Context(), req.Identifier, req.Secret)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(sess))
}

func (s *Server) signOut(c *gin.Context) {
	if err := s.manager.SignOut(c.Request.Context()); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) refreshProfile(c *gin.Context) {
	sess, err := s.manager.RefreshProfile(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(sess))
}

type registerRequest struct {
	Email       string `json:"email"`
	Secret      string `json:"secret"`
	DisplayName string `json:"display_name"`
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c)
		return
	}
	res, err := s.manager.Register(c.Request.Context(), req.Email, req.Secret, req.DisplayName)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"subject_id":         res.SubjectID,
		"needs_confirmation": res.NeedsConfirmation,
	})
}

type emailRequest struct {
	Email string `json:"email"`
}

func (s *Server) resendConfirmation(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c)
		return
	}
	if err := s.manager.ResendConfirmation(c.Request.Context(), req.Email); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) listPending(c *gin.Context) {
	records, err := s.manager.PendingConfirmations(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": records})
}

func (s *Server) dismissPending(c *gin.Context) {
	ok, err := s.manager.DismissPendingConfirmation(c.Request.Context(), c.Param("email"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	c.Status(http.StatusNoContent)
}

type validateRequest struct {
	Field   string `json:"field"`
	Value   string `json:"value"`
	Context string `json:"context"`
}

// validateField runs one field rule synchronously. Debouncing keystrokes is
// the caller's job; see Manager.NewDebouncer.
func (s *Server) validateField(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badBody(c)
		return
	}

	var res validate.Result
	switch req.Field {
	case "email":
		res = validate.Email(req.Value)
	case "password":
		ctx := validate.ContextLogin
		if req.Context == "registration" {
			ctx = validate.ContextRegistration
		}
		res = validate.Password(req.Value, ctx)
	case "name":
		res = validate.Name(req.Value)
	case "phone":
		res = s.manager.PhoneRule()(req.Value)
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{
			Code:     "invalid_input",
			Category: sessionkit.CategoryFixInput.String(),
			Message:  "Unknown field.",
			Field:    "field",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": res.Valid, "message": res.Message})
}
