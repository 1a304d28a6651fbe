package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/MrEthical07/tiergate"
)

// DefaultAPIKeyHeader is the header read for API keys when [Options.APIKeyHeader] is empty.
const DefaultAPIKeyHeader = "Api-Key"

// Options control how credentials are read from a request.
type Options struct {
	// APIKeyHeader names the API key header. Defaults to [DefaultAPIKeyHeader].
	APIKeyHeader string
	// TrustForwardedFor takes the client address from the first X-Forwarded-For
	// entry, then X-Real-IP. Enable only behind a proxy that overwrites them.
	TrustForwardedFor bool
}

func (o Options) apiKeyHeader() string {
	if o.APIKeyHeader == "" {
		return DefaultAPIKeyHeader
	}
	return o.APIKeyHeader
}

// Credentials extracts the bearer token, API key and client address from r.
func Credentials(r *http.Request, opts Options) tiergate.Credentials {
	token, _ := bearerToken(r.Header.Get("Authorization"))
	return tiergate.Credentials{
		BearerToken:   token,
		APIKey:        strings.TrimSpace(r.Header.Get(opts.apiKeyHeader())),
		ClientAddress: clientAddress(r, opts.TrustForwardedFor),
	}
}

// bearerToken accepts "Bearer <token>" with a case-insensitive scheme. Anything else
// is treated as no token.
func bearerToken(value string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}

	return token, true
}

func clientAddress(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	if r.RemoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
