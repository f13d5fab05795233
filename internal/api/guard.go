package api

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking-gateway/internal/session"
)

const managerKey contextKey = "session_manager"

func managerFrom(ctx context.Context) *session.Manager {
	m, _ := ctx.Value(managerKey).(*session.Manager)
	return m
}

// requireRole restores the caller's session and applies the view's policy.
// Only allowed requests reach next; the restored manager travels in the
// request context.
func (h *Handlers) requireRole(view string, roles ...session.Role) func(http.Handler) http.Handler {
	policy := session.Policy{View: view, Allow: roles}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := h.sessions.Open(GetSessionID(r.Context()))
			snap, err := m.Restore(r.Context())
			if err != nil && !errors.Is(err, session.ErrRoleChanged) {
				h.logger.Warn("session restore failed",
					zap.String("view", view),
					zap.String("request_id", GetRequestID(r.Context())),
					zap.Error(err),
				)
			}

			d := session.Guard(snap, policy)
			switch {
			case d.Loading:
				h.metrics.ObserveGuard(view, "loading")
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusServiceUnavailable, "session_loading", "session could not be resolved yet, please retry")
			case d.Redirect != "":
				h.metrics.ObserveGuard(view, "redirect")
				writeRedirect(w, d.Redirect, ErrorResponse{Error: "redirect", Redirect: d.Redirect})
			default:
				h.metrics.ObserveGuard(view, "allowed")
				ctx := context.WithValue(r.Context(), managerKey, m)
				next.ServeHTTP(w, r.WithContext(ctx))
			}
		})
	}
}
