// Package registry holds the immutable, per-service ordered provider lists.
//
// The registry is built once at startup from configuration and never mutated
// afterwards. A provider's identity is its position in its service's list:
// index 0 is the highest-priority provider, and the sticky router in
// pkg/routing addresses providers exclusively by index. Reconfiguration is a
// restart, not a hot swap, so readers need no synchronization.
package registry

import (
	"fmt"
	"strings"
)

// Service identifies one of the two independently routed client protocols.
type Service string

const (
	// ServiceClaude is the Anthropic messages protocol used by Claude Code.
	ServiceClaude Service = "claude"

	// ServiceCodex is the OpenAI responses protocol used by Codex.
	ServiceCodex Service = "codex"
)

// Services lists all routable services in a stable order.
func Services() []Service {
	return []Service{ServiceClaude, ServiceCodex}
}

// Provider is one upstream endpoint + credential pair.
// Immutable once loaded; identified by its position in the service list.
type Provider struct {
	// Name is an optional human-readable label for logs and status output.
	Name string

	// APIURL is the upstream base URL (scheme + host, optional path prefix).
	APIURL string

	// APIKey is the credential injected into outbound requests.
	APIKey string
}

// Label returns the provider's display name for logs: the configured name if
// present, otherwise the API URL.
func (p Provider) Label() string {
	if p.Name != "" {
		return p.Name
	}
	return p.APIURL
}

// Registry exposes the frozen provider lists per service.
type Registry struct {
	providers map[Service][]Provider
}

// New builds a registry from per-service provider lists. Entries with an
// empty URL or key are rejected rather than silently skipped: a half-formed
// provider in the priority order would shift the indices of everything
// behind it.
func New(lists map[Service][]Provider) (*Registry, error) {
	frozen := make(map[Service][]Provider, len(lists))
	for svc, list := range lists {
		for i, p := range list {
			if strings.TrimSpace(p.APIURL) == "" {
				return nil, fmt.Errorf("service %q provider %d: apiUrl is empty", svc, i)
			}
			if strings.TrimSpace(p.APIKey) == "" {
				return nil, fmt.Errorf("service %q provider %d: apiKey is empty", svc, i)
			}
		}
		frozen[svc] = append([]Provider(nil), list...)
	}
	return &Registry{providers: frozen}, nil
}

// Providers returns the ordered provider list for a service. The returned
// slice is shared and must not be modified by callers.
func (r *Registry) Providers(svc Service) []Provider {
	return r.providers[svc]
}

// Provider returns the provider at the given priority position.
func (r *Registry) Provider(svc Service, index int) (Provider, error) {
	list := r.providers[svc]
	if index < 0 || index >= len(list) {
		return Provider{}, fmt.Errorf("service %q has no provider at index %d (have %d)", svc, index, len(list))
	}
	return list[index], nil
}

// Len returns the number of providers configured for a service.
func (r *Registry) Len(svc Service) int {
	return len(r.providers[svc])
}
