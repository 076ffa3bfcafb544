package httpmiddleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitConfig configures the per-client rate limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window.
	Max int
	// Window is the length of the sliding window.
	Window time.Duration
	// KeyFunc extracts the rate limit key from a request. Defaults to the
	// client IP, honouring X-Real-IP and X-Forwarded-For.
	KeyFunc func(*http.Request) (string, error)
}

// RateLimit returns a middleware enforcing a sliding window limit per key.
// Rejected requests get 429 with the API error envelope; every response
// carries the X-RateLimit-* headers.
func RateLimit(cfg RateLimitConfig) Middleware {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = httprate.KeyByRealIP
	}
	return httprate.Limit(cfg.Max, cfg.Window,
		httprate.WithKeyFuncs(keyFunc),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		}),
	)
}

// KeyByAPIKey keys requests by the first non-empty header in headers, so
// every API key gets its own budget. Keys are hashed before they reach the
// limiter's memory. Requests without a key share the client IP's budget.
func KeyByAPIKey(headers ...string) func(*http.Request) (string, error) {
	return func(r *http.Request) (string, error) {
		for _, h := range headers {
			if key := strings.TrimSpace(r.Header.Get(h)); key != "" {
				sum := sha256.Sum256([]byte(key))
				return "key:" + hex.EncodeToString(sum[:8]), nil
			}
		}
		ip, err := httprate.KeyByRealIP(r)
		if err != nil {
			return "", err
		}
		return "ip:" + ip, nil
	}
}
