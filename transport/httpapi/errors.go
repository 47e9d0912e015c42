package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/MrEthical07/sessionkit"
)

type errorBody struct {
	Code       string `json:"code"`
	Category   string `json:"category"`
	Message    string `json:"message"`
	Field      string `json:"field,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

type errorMapping struct {
	status int
	code   string
}

var errorTable = map[error]errorMapping{
	sessionkit.ErrInvalidInput:          {http.StatusBadRequest, "invalid_input"},
	sessionkit.ErrCodeExpired:           {http.StatusBadRequest, "code_expired"},
	sessionkit.ErrDelegatedModeDisabled: {http.StatusBadRequest, "delegated_mode_disabled"},
	sessionkit.ErrIdentityExists:        {http.StatusConflict, "identity_exists"},
	sessionkit.ErrRecoveryStep:          {http.StatusConflict, "recovery_step"},
	sessionkit.ErrSuperseded:            {http.StatusConflict, "superseded"},
	sessionkit.ErrRecoveryClosed:        {http.StatusGone, "recovery_closed"},
	sessionkit.ErrRateLimited:           {http.StatusTooManyRequests, "rate_limited"},
	sessionkit.ErrTooSoon:               {http.StatusTooManyRequests, "too_soon"},
	sessionkit.ErrInvalidCredentials:    {http.StatusUnauthorized, "invalid_credentials"},
	sessionkit.ErrCodeInvalid:           {http.StatusUnauthorized, "code_invalid"},
	sessionkit.ErrProfileMissing:        {http.StatusUnauthorized, "profile_missing"},
	sessionkit.ErrNoSession:             {http.StatusUnauthorized, "no_session"},
	sessionkit.ErrProviderUnavailable:   {http.StatusServiceUnavailable, "provider_unavailable"},
	sessionkit.ErrTimeout:               {http.StatusServiceUnavailable, "timeout"},
	sessionkit.ErrManagerClosed:         {http.StatusServiceUnavailable, "manager_closed"},
}

// Messages shown when the error carries none of its own. Provider error text
// is never echoed.
var categoryMessages = map[sessionkit.Category]string{
	sessionkit.CategoryFixInput:         "Check your input and try again.",
	sessionkit.CategoryWait:             "Too many attempts. Try again later.",
	sessionkit.CategoryWrongCredentials: "Invalid email or password.",
	sessionkit.CategoryTryLater:         "Something went wrong. Try again later.",
}

func (s *Server) writeError(c *gin.Context, err error) {
	mapping, ok := errorTable[sessionkit.KindOf(err)]
	if !ok {
		mapping = errorMapping{http.StatusInternalServerError, "internal"}
	}
	category := sessionkit.CategoryOf(err)

	body := errorBody{
		Code:     mapping.code,
		Category: category.String(),
		Message:  categoryMessages[category],
	}
	var e *sessionkit.Error
	if errors.As(err, &e) {
		if e.Message != "" {
			body.Message = e.Message
		}
		body.Field = e.Field
		body.RetryAfter = e.RetryAfterSeconds()
	}
	if body.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(body.RetryAfter))
	}

	if mapping.status >= http.StatusInternalServerError {
		s.logger.Warn().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.AbortWithStatusJSON(mapping.status, body)
}

func badBody(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{
		Code:     "invalid_input",
		Category: sessionkit.CategoryFixInput.String(),
		Message:  "Request body must be a JSON object.",
	})
}
