package httpx

import (
	"net/http"

	"github.com/go-chi/httprate"
)

// ClientKey returns the function that identifies a client for rate limiting and
// security logging. Forwarding headers are only honoured behind a trusted proxy.
func ClientKey(trustProxy bool) httprate.KeyFunc {
	if trustProxy {
		return httprate.KeyByRealIP
	}
	return httprate.KeyByIP
}

// ClientIP resolves the client address, falling back to RemoteAddr.
func ClientIP(key httprate.KeyFunc, r *http.Request) string {
	if ip, err := key(r); err == nil && ip != "" {
		return ip
	}
	return r.RemoteAddr
}
