package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"

	"github.com/gitshopapp/preorder/internal/observability"
)

// RequireAdminToken rejects requests without the configured bearer token.
func (h *Handlers) RequireAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) != 1 {
			reason := "invalid_token"
			if !ok {
				reason = "missing_token"
			}
			observability.MeterFromContext(r.Context()).Count("security.admin_token.rejected", 1,
				sentry.WithAttributes(attribute.String("reason", reason)))
			h.loggerFromContext(r.Context()).Warn("rejected admin request", "reason", reason)

			w.Header().Set("WWW-Authenticate", `Bearer realm="preorder"`)
			writeJSON(w, h.loggerFromContext(r.Context()), http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
