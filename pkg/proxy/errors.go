package proxy

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ccrelay/ccrelay/pkg/registry"
	"github.com/ccrelay/ccrelay/pkg/routing"
)

// anthropicErrorEnvelope is the error shape the claude CLI parses.
type anthropicErrorEnvelope struct {
	Type  string              `json:"type"`
	Error anthropicErrorInner `json:"error"`
}

type anthropicErrorInner struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// openaiErrorEnvelope is the error shape the codex CLI parses.
type openaiErrorEnvelope struct {
	Error openaiErrorInner `json:"error"`
}

type openaiErrorInner struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// WriteServiceError writes an error response in the envelope the given
// service's CLI expects, so tooling on the other side renders a readable
// message instead of a parse failure.
func WriteServiceError(w http.ResponseWriter, svc registry.Service, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	var payload any
	switch svc {
	case registry.ServiceCodex:
		payload = openaiErrorEnvelope{Error: openaiErrorInner{Message: message, Type: errType}}
	default:
		payload = anthropicErrorEnvelope{Type: "error", Error: anthropicErrorInner{Type: errType, Message: message}}
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Debug("writing error response", "error", err)
	}
}

// WriteForwardError maps an Execute failure to a client-facing error
// response. Cancellation gets no response; by then the client is gone.
func WriteForwardError(w http.ResponseWriter, svc registry.Service, err error) {
	switch {
	case errors.Is(err, routing.ErrNoProviders):
		WriteServiceError(w, svc, http.StatusBadGateway, "api_error",
			"no providers configured for this service")
	case errors.Is(err, ErrProvidersExhausted):
		WriteServiceError(w, svc, http.StatusBadGateway, "api_error",
			"all upstream providers failed")
	default:
		WriteServiceError(w, svc, http.StatusBadGateway, "api_error",
			"upstream request failed")
	}
}
