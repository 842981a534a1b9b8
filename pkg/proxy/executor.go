// Package proxy drives failover across a service's provider chain.
//
// The Executor owns the per-request attempt loop: start at the pinned
// provider, try one attempt, and on a retryable failure advance the pin and
// try the next index. It enforces the failover bounds (at most one attempt
// per provider per request) and aggregates failures into a single
// exhaustion error when no provider answers.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ccrelay/ccrelay/pkg/registry"
	"github.com/ccrelay/ccrelay/pkg/routing"
	"github.com/ccrelay/ccrelay/pkg/upstream"
)

// AttemptRecorder receives the outcome of every upstream attempt for
// metrics and diagnostic history. Implementations must not block.
type AttemptRecorder interface {
	RecordAttempt(svc registry.Service, providerIndex int, provider string, outcome string, status int, latency time.Duration)
}

// Attempt outcome labels used by recorders.
const (
	OutcomeSuccess   = "success"
	OutcomeRetryable = "retryable_failure"
	OutcomeCanceled  = "canceled"
)

// Outcome is a completed request-level forwarding: the winning attempt's
// response plus routing metadata for logs and headers.
type Outcome struct {
	// Result is the committed upstream response. The caller must close
	// Result.Body after streaming it to the client.
	Result *upstream.Result
	// ProviderIndex is the registry index that answered.
	ProviderIndex int
	// Provider is the answering provider's label.
	Provider string
	// Attempts is how many providers were tried, the winner included.
	Attempts int
}

// Executor runs the failover loop for forwarded requests.
type Executor struct {
	reg       *registry.Registry
	router    *routing.Router
	client    *upstream.Client
	recorders []AttemptRecorder
}

// NewExecutor creates an Executor. Recorders are optional observers of
// attempt outcomes.
func NewExecutor(reg *registry.Registry, router *routing.Router, client *upstream.Client, recorders ...AttemptRecorder) *Executor {
	return &Executor{
		reg:       reg,
		router:    router,
		client:    client,
		recorders: recorders,
	}
}

// Execute forwards one buffered request for the given service, failing over
// through the provider chain as needed.
//
// On success the pin's deadline has been refreshed and the winning response
// is returned with its body unread. Failure modes:
//   - routing.ErrNoProviders: the service has no configured providers; no
//     network traffic happened.
//   - context cancellation: the inbound client went away mid-attempt; the
//     pin was not advanced for it.
//   - ErrProvidersExhausted: every provider failed retryably; the pin rests
//     on the last index.
func (e *Executor) Execute(ctx context.Context, svc registry.Service, req *upstream.ForwardRequest) (*Outcome, error) {
	idx, err := e.router.Current(svc)
	if err != nil {
		return nil, err
	}
	providers := e.reg.Providers(svc)

	attempted := make(map[int]bool, len(providers))
	var failures []error

	for !attempted[idx] {
		attempted[idx] = true
		provider := providers[idx]

		start := time.Now()
		res, err := e.client.Do(ctx, svc, provider, req)
		latency := time.Since(start)

		if err == nil {
			e.router.Confirm(svc, idx)
			e.record(svc, idx, provider.Label(), OutcomeSuccess, res.StatusCode, latency)
			if len(attempted) > 1 {
				slog.Info("request recovered by failover",
					"service", svc,
					"provider", provider.Label(),
					"provider_index", idx,
					"attempts", len(attempted),
				)
			}
			return &Outcome{
				Result:        res,
				ProviderIndex: idx,
				Provider:      provider.Label(),
				Attempts:      len(attempted),
			}, nil
		}

		if ctx.Err() != nil {
			// Client disconnect is not a provider failure; leave the pin
			// where it is.
			e.record(svc, idx, provider.Label(), OutcomeCanceled, 0, latency)
			return nil, err
		}
		if !errors.Is(err, upstream.ErrRetryable) {
			return nil, err
		}

		failures = append(failures, err)
		e.record(svc, idx, provider.Label(), OutcomeRetryable, retryStatus(err), latency)
		slog.Warn("provider attempt failed",
			"service", svc,
			"provider", provider.Label(),
			"provider_index", idx,
			"error", err,
		)

		next, ok := e.router.Advance(svc, idx)
		if !ok {
			break
		}
		// A concurrent idle reset can hand back an index this request
		// already visited; the loop condition stops it from re-attempting.
		idx = next
	}

	slog.Error("all providers exhausted",
		"service", svc,
		"attempts", len(attempted),
	)
	return nil, &ExhaustedError{
		Service:  svc,
		Attempts: len(attempted),
		Failures: failures,
	}
}

func (e *Executor) record(svc registry.Service, idx int, provider, outcome string, status int, latency time.Duration) {
	for _, r := range e.recorders {
		r.RecordAttempt(svc, idx, provider, outcome, status, latency)
	}
}

// retryStatus extracts the upstream HTTP status from a retryable attempt
// error, or zero for transport-level failures.
func retryStatus(err error) int {
	var re *upstream.RetryableError
	if errors.As(err, &re) {
		return re.Status
	}
	return 0
}

// ErrProvidersExhausted marks requests for which every configured provider
// failed retryably. Match with errors.Is.
var ErrProvidersExhausted = errors.New("all providers exhausted")

// ExhaustedError aggregates the per-provider failures of an exhausted
// request.
type ExhaustedError struct {
	Service  registry.Service
	Attempts int
	Failures []error
}

func (e *ExhaustedError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "service %s: all %d providers failed", e.Service, e.Attempts)
	for _, f := range e.Failures {
		sb.WriteString("; ")
		sb.WriteString(f.Error())
	}
	return sb.String()
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrProvidersExhausted }

func (e *ExhaustedError) Unwrap() []error { return e.Failures }
