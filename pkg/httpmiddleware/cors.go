package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSConfig configures cross-origin access for browser storefronts.
type CORSConfig struct {
	// AllowOrigins lists the storefront origins. Empty or "*" allows any
	// origin.
	AllowOrigins []string
	// AllowMethods defaults to the methods the API routes use.
	AllowMethods []string
	// AllowHeaders defaults to DefaultCORSHeaders. A preflight asking for
	// any other header is refused.
	AllowHeaders []string
	// ExposeHeaders defaults to the request id and rate limit headers.
	ExposeHeaders []string
	// AllowCredentials sends Access-Control-Allow-Credentials and echoes
	// the request origin instead of "*".
	AllowCredentials bool
	// MaxAge is how long browsers may cache a preflight. Zero omits it.
	MaxAge time.Duration
}

// DefaultCORSHeaders are the request headers the API reads.
var DefaultCORSHeaders = []string{
	"Content-Type", "X-API-Key", "api_key", "Idempotency-Key", RequestIDHeader,
	"Traceparent", "Tracestate",
}

var (
	defaultCORSMethods = []string{
		http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPatch, http.MethodDelete,
	}
	defaultCORSExpose = []string{
		RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After",
	}
)

type corsPolicy struct {
	anyOrigin   bool
	origins     map[string]string // lower-case origin -> configured spelling
	methods     map[string]struct{}
	headers     map[string]struct{} // canonical header names
	credentials bool

	allowMethods  string
	allowHeaders  string
	exposeHeaders string
	maxAge        string
}

func newCORSPolicy(cfg CORSConfig) *corsPolicy {
	p := &corsPolicy{
		origins:     make(map[string]string),
		methods:     make(map[string]struct{}),
		headers:     make(map[string]struct{}),
		credentials: cfg.AllowCredentials,
	}
	for _, o := range cfg.AllowOrigins {
		switch o = strings.TrimSpace(o); o {
		case "":
		case "*":
			p.anyOrigin = true
		default:
			p.origins[strings.ToLower(o)] = o
		}
	}
	if len(p.origins) == 0 {
		p.anyOrigin = true
	}

	methods := orDefault(cfg.AllowMethods, defaultCORSMethods)
	for _, m := range methods {
		p.methods[strings.ToUpper(m)] = struct{}{}
	}
	headers := orDefault(cfg.AllowHeaders, DefaultCORSHeaders)
	for _, h := range headers {
		p.headers[http.CanonicalHeaderKey(h)] = struct{}{}
	}

	p.allowMethods = strings.Join(methods, ", ")
	p.allowHeaders = strings.Join(headers, ", ")
	p.exposeHeaders = strings.Join(orDefault(cfg.ExposeHeaders, defaultCORSExpose), ", ")
	if cfg.MaxAge > 0 {
		p.maxAge = strconv.Itoa(int(cfg.MaxAge / time.Second))
	}
	return p
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, or ""
// when the origin is not allowed. Browsers reject "*" on credentialed
// responses, so the origin itself is echoed then.
func (p *corsPolicy) allowOrigin(origin string) string {
	switch {
	case p.anyOrigin && p.credentials:
		return origin
	case p.anyOrigin:
		return "*"
	}
	return p.origins[strings.ToLower(origin)]
}

// variesByOrigin reports whether responses differ per Origin header.
func (p *corsPolicy) variesByOrigin() bool {
	return !p.anyOrigin || p.credentials
}

// refusal explains why a preflight is refused, or returns "".
func (p *corsPolicy) refusal(r *http.Request) string {
	method := strings.ToUpper(r.Header.Get("Access-Control-Request-Method"))
	if _, ok := p.methods[method]; !ok && method != http.MethodOptions {
		return "method " + method + " is not allowed"
	}
	for _, raw := range r.Header.Values("Access-Control-Request-Headers") {
		for _, h := range strings.Split(raw, ",") {
			h = strings.TrimSpace(h)
			if h == "" {
				continue
			}
			if _, ok := p.headers[http.CanonicalHeaderKey(h)]; !ok {
				return "header " + h + " is not allowed"
			}
		}
	}
	return ""
}

func (p *corsPolicy) preflight(w http.ResponseWriter, r *http.Request, allowed string) {
	h := w.Header()
	h.Add("Vary", "Origin")
	h.Add("Vary", "Access-Control-Request-Method")
	h.Add("Vary", "Access-Control-Request-Headers")

	if allowed == "" {
		writeError(w, http.StatusForbidden, "origin not allowed")
		return
	}
	if reason := p.refusal(r); reason != "" {
		writeError(w, http.StatusForbidden, reason)
		return
	}

	h.Set("Access-Control-Allow-Origin", allowed)
	h.Set("Access-Control-Allow-Methods", p.allowMethods)
	h.Set("Access-Control-Allow-Headers", p.allowHeaders)
	if p.credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if p.maxAge != "" {
		h.Set("Access-Control-Max-Age", p.maxAge)
	}
	w.WriteHeader(http.StatusNoContent)
}

// CORS answers preflight requests itself and decorates actual cross-origin
// requests. Preflights from unknown origins, or asking for a method or
// header the API does not accept, get 403 with the error envelope. Actual
// requests from unknown origins pass through without CORS headers and the
// browser withholds the response.
func CORS(cfg CORSConfig) Middleware {
	p := newCORSPolicy(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				p.preflight(w, r, p.allowOrigin(origin))
				return
			}

			if p.variesByOrigin() {
				w.Header().Add("Vary", "Origin")
			}
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed := p.allowOrigin(origin)
			if allowed != "" {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", allowed)
				h.Set("Access-Control-Expose-Headers", p.exposeHeaders)
				if p.credentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
