package health

import (
	"encoding/json"
	"net/http"
)

// Probe paths registered by Routes.
const (
	LivePath   = "/health/live"
	ReadyPath  = "/health/ready"
	HealthPath = "/health"
)

// Routes registers the liveness, readiness and combined handlers on mux.
func (h *Health) Routes(mux *http.ServeMux) {
	mux.HandleFunc(LivePath, h.LivenessHandler())
	mux.HandleFunc(ReadyPath, h.ReadinessHandler())
	mux.HandleFunc(HealthPath, h.HealthHandler())
}

// LivenessHandler answers 200 as long as the process serves HTTP. It runs no checks.
func (h *Health) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadinessHandler answers 200 when every component is healthy and 503 otherwise,
// with the per-component results as the body.
func (h *Health) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result := h.Check(r.Context())
		writeJSON(w, statusCode(result), result)
	}
}

// HealthHandler combines liveness and readiness in one response.
func (h *Health) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result := h.Check(r.Context())
		writeJSON(w, statusCode(result), map[string]interface{}{
			"liveness":  "alive",
			"readiness": result,
		})
	}
}

func statusCode(result *Result) int {
	if result.Healthy() {
		return http.StatusOK
	}
	return http.StatusServiceUnavailable
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
