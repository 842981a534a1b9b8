package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ccrelay/ccrelay/pkg/registry"
)

// Health serves the liveness endpoint. It answers as soon as the listener
// is up; the relay has no deeper readiness state because providers are only
// contacted on demand. The per-service counts let a probe distinguish "up"
// from "up but serving an empty provider list".
func Health(reg *registry.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		services := make(map[string]int, len(registry.Services()))
		for _, svc := range registry.Services() {
			services[string(svc)] = reg.Len(svc)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"providers": services,
		})
	})
}
