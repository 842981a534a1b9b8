package routing

import (
	"errors"
	"fmt"

	"github.com/ccrelay/ccrelay/pkg/registry"
)

// ErrNoProviders is returned when a service has an empty provider list.
// Requests hitting this never reach the network.
var ErrNoProviders = errors.New("no providers configured")

// NoProvidersError identifies which service had nothing to route to.
type NoProvidersError struct {
	// Service is the service with an empty provider list.
	Service registry.Service
}

// Error implements the error interface.
func (e *NoProvidersError) Error() string {
	return fmt.Sprintf("no providers configured for service %q", e.Service)
}

// Is implements error matching for errors.Is().
func (e *NoProvidersError) Is(target error) bool {
	return target == ErrNoProviders
}
