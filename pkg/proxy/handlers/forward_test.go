package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ccrelay/ccrelay/pkg/proxy"
	"github.com/ccrelay/ccrelay/pkg/proxy/middleware"
	"github.com/ccrelay/ccrelay/pkg/registry"
	"github.com/ccrelay/ccrelay/pkg/routing"
	"github.com/ccrelay/ccrelay/pkg/upstream"
)

func newForwarderFor(t *testing.T, svc registry.Service, urls ...string) *Forwarder {
	t.Helper()
	providers := make([]registry.Provider, len(urls))
	for i, u := range urls {
		providers[i] = registry.Provider{Name: "p", APIURL: u, APIKey: "sk-key"}
	}
	reg, err := registry.New(map[registry.Service][]registry.Provider{svc: providers})
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}
	exec := proxy.NewExecutor(reg, routing.NewRouter(reg), upstream.NewClient())
	return NewForwarder(svc, exec, nil)
}

func TestForwarder_PassesResponseThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Anthropic-Ratelimit-Requests-Remaining", "99")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"msg_1"}`))
	}))
	defer srv.Close()

	h := newForwarderFor(t, registry.ServiceClaude, srv.URL)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model":"m"}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != `{"id":"msg_1"}` {
		t.Errorf("body = %q, want upstream body untouched", rec.Body.String())
	}
	if rec.Header().Get("Anthropic-Ratelimit-Requests-Remaining") != "99" {
		t.Error("upstream header not passed through")
	}
	if rec.Header().Get(ProviderHeader) == "" {
		t.Error("provider header missing")
	}
}

func TestForwarder_QueryStringForwarded(t *testing.T) {
	var gotURI string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURI = r.URL.RequestURI()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := newForwarderFor(t, registry.ServiceClaude, srv.URL)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages?beta=true", strings.NewReader(`{}`)))

	if gotURI != "/v1/messages?beta=true" {
		t.Errorf("upstream URI = %q, want query preserved", gotURI)
	}
}

func TestForwarder_FailoverProducesSingleResponse(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"down"}`))
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"msg_2"}`))
	}))
	defer up.Close()

	h := newForwarderFor(t, registry.ServiceClaude, down.URL, up.URL)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model":"m"}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 from backup", rec.Code)
	}
	if rec.Body.String() != `{"id":"msg_2"}` {
		t.Errorf("body = %q, want only the winning response", rec.Body.String())
	}
}

func TestForwarder_ExhaustionEnvelopePerService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	t.Run("claude", func(t *testing.T) {
		h := newForwarderFor(t, registry.ServiceClaude, srv.URL)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{}`)))

		if rec.Code != http.StatusBadGateway {
			t.Fatalf("status = %d, want 502", rec.Code)
		}
		var envelope struct {
			Type  string `json:"type"`
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
			t.Fatalf("parsing error body: %v", err)
		}
		if envelope.Type != "error" || envelope.Error.Type != "api_error" {
			t.Errorf("envelope = %+v, want anthropic error shape", envelope)
		}
	})

	t.Run("codex", func(t *testing.T) {
		h := newForwarderFor(t, registry.ServiceCodex, srv.URL)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/responses", strings.NewReader(`{}`)))

		if rec.Code != http.StatusBadGateway {
			t.Fatalf("status = %d, want 502", rec.Code)
		}
		var envelope struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			} `json:"error"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
			t.Fatalf("parsing error body: %v", err)
		}
		if envelope.Error.Message == "" {
			t.Errorf("envelope = %+v, want openai error shape", envelope)
		}
	})
}

func TestForwarder_BodyOverLimit(t *testing.T) {
	var upstreamHits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := newForwarderFor(t, registry.ServiceClaude, srv.URL)
	chain := middleware.BodyLimit(64)(h)

	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(strings.Repeat("x", 256))))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	if upstreamHits != 0 {
		t.Errorf("upstream hits = %d, want 0 (oversized body must not be forwarded)", upstreamHits)
	}
}

func TestForwarder_StreamsEventStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		f := w.(http.Flusher)
		w.Write([]byte("event: message_start\ndata: {}\n\n"))
		f.Flush()
		w.Write([]byte("event: message_stop\ndata: {}\n\n"))
	}))
	defer srv.Close()

	h := newForwarderFor(t, registry.ServiceClaude, srv.URL)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{}`)))

	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	want := "event: message_start\ndata: {}\n\nevent: message_stop\ndata: {}\n\n"
	if rec.Body.String() != want {
		t.Errorf("streamed body = %q, want %q", rec.Body.String(), want)
	}
}
