package httpmiddleware

import (
	"net/http"

	"github.com/unrolled/secure"
)

// SecureConfig configures security response headers.
type SecureConfig struct {
	// SSLRedirect redirects plain HTTP requests to HTTPS.
	SSLRedirect bool
	// HSTSSeconds enables Strict-Transport-Security when positive.
	HSTSSeconds int64
	// Development disables every check, for local runs.
	Development bool
}

// SecureHeaders returns a middleware that sets the API's security headers.
func SecureHeaders(cfg SecureConfig) Middleware {
	s := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		SSLRedirect:           cfg.SSLRedirect,
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		STSSeconds:            cfg.HSTSSeconds,
		STSIncludeSubdomains:  cfg.HSTSSeconds > 0,
		IsDevelopment:         cfg.Development,
	})
	s.SetBadHostHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusBadRequest, "bad host")
	}))
	return s.Handler
}
