package upstream

import (
	"net/http"
	"strings"

	"github.com/ccrelay/ccrelay/pkg/registry"
)

// hopByHopHeaders are connection-scoped and must never be forwarded in
// either direction (RFC 9110 §7.6.1).
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Proxy-Connection":    {},
	"Keep-Alive":          {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Te":                  {},
	"Trailer":             {},
	"Trailers":            {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
}

// inboundCredentialHeaders carry the CLI's own credentials. They are
// stripped before forwarding so only the provider's key ever reaches the
// upstream.
var inboundCredentialHeaders = map[string]struct{}{
	"Authorization": {},
	"X-Api-Key":     {},
	"Api-Key":       {},
}

// IsHopByHop reports whether a header name is connection-scoped.
func IsHopByHop(name string) bool {
	_, ok := hopByHopHeaders[http.CanonicalHeaderKey(name)]
	return ok
}

// outboundHeaders builds the header set for one forwarding attempt: the
// inbound headers minus hop-by-hop, host, content-length, and inbound
// credentials, plus the provider's credential in the shape the service's
// upstream expects.
func outboundHeaders(svc registry.Service, provider registry.Provider, inbound http.Header) http.Header {
	out := make(http.Header, len(inbound))
	for name, values := range inbound {
		canonical := http.CanonicalHeaderKey(name)
		if _, hop := hopByHopHeaders[canonical]; hop {
			continue
		}
		if _, cred := inboundCredentialHeaders[canonical]; cred {
			continue
		}
		if canonical == "Host" || canonical == "Content-Length" {
			continue
		}
		out[canonical] = append([]string(nil), values...)
	}

	switch svc {
	case registry.ServiceClaude:
		out.Set("X-Api-Key", provider.APIKey)
	case registry.ServiceCodex:
		out.Set("Authorization", "Bearer "+strings.TrimSpace(provider.APIKey))
	}
	return out
}

// ResponseHeaders copies an upstream response header set for the client,
// dropping hop-by-hop headers and Content-Length (the body is re-framed by
// the server as it streams).
func ResponseHeaders(upstream http.Header) http.Header {
	out := make(http.Header, len(upstream))
	for name, values := range upstream {
		canonical := http.CanonicalHeaderKey(name)
		if _, hop := hopByHopHeaders[canonical]; hop {
			continue
		}
		if canonical == "Content-Length" {
			continue
		}
		out[canonical] = append([]string(nil), values...)
	}
	return out
}
