// Package handlers contains the relay's HTTP endpoints: the per-service
// forwarding pipeline plus the health and status endpoints.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ccrelay/ccrelay/pkg/proxy"
	"github.com/ccrelay/ccrelay/pkg/proxy/middleware"
	"github.com/ccrelay/ccrelay/pkg/registry"
	"github.com/ccrelay/ccrelay/pkg/telemetry/metrics"
	"github.com/ccrelay/ccrelay/pkg/upstream"
)

// ProviderHeader names the provider that answered, for debugging which
// upstream a response came from.
const ProviderHeader = "X-CCRelay-Provider"

// Forwarder is the request pipeline for one service: buffer the body,
// run the failover executor, stream the winning response back.
type Forwarder struct {
	svc     registry.Service
	exec    *proxy.Executor
	metrics *metrics.RelayMetrics
}

// NewForwarder builds the forwarding handler for a service. metrics may be
// nil when the endpoint is disabled.
func NewForwarder(svc registry.Service, exec *proxy.Executor, m *metrics.RelayMetrics) *Forwarder {
	return &Forwarder{svc: svc, exec: exec, metrics: m}
}

func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	// The body must be buffered in full before the first attempt so a
	// failover replays byte-identical content. The cap comes from the
	// BodyLimit middleware.
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			slog.Warn("request body over limit",
				"service", f.svc,
				"limit", maxErr.Limit,
				"request_id", requestID,
			)
			proxy.WriteServiceError(w, f.svc, http.StatusRequestEntityTooLarge,
				"invalid_request_error",
				fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
			f.observe(start, http.StatusRequestEntityTooLarge)
			return
		}
		slog.Warn("reading request body", "service", f.svc, "error", err, "request_id", requestID)
		proxy.WriteServiceError(w, f.svc, http.StatusBadRequest,
			"invalid_request_error", "could not read request body")
		f.observe(start, http.StatusBadRequest)
		return
	}

	freq := &upstream.ForwardRequest{
		Method: r.Method,
		Path:   r.URL.RequestURI(),
		Header: r.Header,
		Body:   body,
	}

	out, err := f.exec.Execute(ctx, f.svc, freq)
	if err != nil {
		if ctx.Err() != nil {
			// Client is gone; there is nobody to answer.
			slog.Debug("client disconnected", "service", f.svc, "request_id", requestID)
			return
		}
		if f.metrics != nil && errors.Is(err, proxy.ErrProvidersExhausted) {
			f.metrics.RecordExhaustion(f.svc)
		}
		proxy.WriteForwardError(w, f.svc, err)
		f.observe(start, http.StatusBadGateway)
		return
	}
	defer out.Result.Body.Close()

	if f.metrics != nil && out.Attempts > 1 {
		for i := 1; i < out.Attempts; i++ {
			f.metrics.RecordFailover(f.svc)
		}
	}

	header := w.Header()
	for name, values := range upstream.ResponseHeaders(out.Result.Header) {
		header[name] = values
	}
	header.Set(ProviderHeader, out.Provider)

	// First byte below commits this response; failures past this point
	// can only be logged.
	w.WriteHeader(out.Result.StatusCode)

	if _, err := io.Copy(&flushingWriter{w: w}, out.Result.Body); err != nil {
		slog.Debug("response stream interrupted",
			"service", f.svc,
			"provider", out.Provider,
			"error", err,
			"request_id", requestID,
		)
	}
	f.observe(start, out.Result.StatusCode)
}

func (f *Forwarder) observe(start time.Time, status int) {
	if f.metrics == nil {
		return
	}
	f.metrics.ObserveRequest(f.svc, strconv.Itoa(status), time.Since(start))
}

// flushingWriter flushes after every write so event-stream chunks reach the
// client as the upstream produces them instead of sitting in a buffer.
type flushingWriter struct {
	w http.ResponseWriter
}

func (fw *flushingWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if f, ok := fw.w.(http.Flusher); ok {
		f.Flush()
	}
	return n, err
}
