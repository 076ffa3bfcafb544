package handler

import (
	"net/http"
	"strings"

	"github.com/xenking/storefront/internal/domain/auth"
)

// APIKeyHeader carries the caller's API key. The legacy api_key header is
// accepted too.
const (
	APIKeyHeader       = "X-API-Key"
	legacyAPIKeyHeader = "api_key"
)

// requireAPIKey authenticates the request and stores the principal in its
// context. Requests without a valid key get 401.
func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(APIKeyHeader))
		if key == "" {
			key = strings.TrimSpace(r.Header.Get(legacyAPIKeyHeader))
		}
		if key == "" {
			writeError(w, r, auth.ErrUnauthenticated)
			return
		}

		p, err := h.auth.Authenticate(r.Context(), key)
		if err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}
