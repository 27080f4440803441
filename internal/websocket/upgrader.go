package websocket

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// NewUpgrader builds an upgrader that accepts connections only from the given
// origins. An entry matches exactly, or as a parent domain of the origin host
// (scheme must agree). Localhost variations are always accepted for
// development.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"), allowedOrigins)
		},
	}
}

func originAllowed(origin string, allowed []string) bool {
	if origin == "" {
		// Non-browser clients send no Origin header
		return true
	}

	for _, candidate := range allowed {
		if origin == candidate {
			return true
		}
		if matchesSubdomain(origin, candidate) {
			return true
		}
	}

	return isLoopbackOrigin(origin)
}

// isLoopbackOrigin accepts local development servers. Only an exact loopback
// host matches; a host that merely contains "localhost" as a substring, such
// as localhost.evil.com, does not.
func isLoopbackOrigin(origin string) bool {
	o, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := o.Hostname()
	return host == "localhost" || host == "127.0.0.1"
}

// matchesSubdomain reports whether origin is a subdomain of the allowed entry,
// e.g. https://app.example.com against https://example.com.
func matchesSubdomain(origin, candidate string) bool {
	o, err := url.Parse(origin)
	if err != nil || o.Hostname() == "" {
		return false
	}
	c, err := url.Parse(candidate)
	if err != nil || c.Hostname() == "" {
		return false
	}
	if o.Scheme != c.Scheme {
		return false
	}
	return strings.HasSuffix(o.Hostname(), "."+c.Hostname())
}
