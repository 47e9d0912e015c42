package middleware

import (
	"context"
	"net/http"

	"github.com/MrEthical07/sessionkit"
)

type sessionContextKey struct{}

// SessionFromContext returns the Session a guard admitted the request with.
func SessionFromContext(ctx context.Context) (sessionkit.Session, bool) {
	s, ok := ctx.Value(sessionContextKey{}).(sessionkit.Session)
	return s, ok
}

// Guard admits requests while m has a current Session.
func Guard(m *sessionkit.Manager) func(http.Handler) http.Handler {
	return guard(m, func(sessionkit.Session) bool { return true })
}

// RequireRole admits requests while the current Session has role.
func RequireRole(m *sessionkit.Manager, role sessionkit.Role) func(http.Handler) http.Handler {
	return guard(m, func(s sessionkit.Session) bool { return s.Role == role })
}

func guard(m *sessionkit.Manager, allow func(sessionkit.Session) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			s, ok := m.Current()
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !allow(s) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, s)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
