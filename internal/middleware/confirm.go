package middleware

import (
	"errors"
	"net/http"

	"github.com/oscmail/automailer/internal/gate"
)

// ConfirmHeader carries the confirmation passcode on guarded routes
const ConfirmHeader = "X-Confirm-Passcode"

// Checker verifies a confirmation passcode
type Checker interface {
	Check(input string) error
}

// Confirm rejects requests whose ConfirmHeader does not pass the gate.
func (m *Middleware) Confirm(g Checker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := g.Check(r.Header.Get(ConfirmHeader))
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, gate.ErrNotConfigured):
				m.log.Error().Msg("confirmation gate enforced but no passcode configured")
				writeError(w, http.StatusInternalServerError, "gate_not_configured", "Confirmation passcode is not configured")
			default:
				m.log.Warn().Str("path", r.URL.Path).Msg("confirmation passcode rejected")
				writeError(w, http.StatusForbidden, "invalid_passcode", "Invalid passcode")
			}
		})
	}
}
