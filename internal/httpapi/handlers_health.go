package httpapi

import (
	"encoding/json"
	"net/http"
	"time"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	services := map[string]any{
		"database":  "unknown",
		"broker":    "unknown",
		"ai_agents": "unknown",
	}
	if s.guard != nil {
		report := s.guard.BuildReport()
		status := "ok"
		if report.IsHalted {
			status = "halted"
		} else if report.Override != "" && report.Override != "none" {
			status = string(report.Override)
		}
		for name, probe := range report.ProbeStates {
			services[name] = string(probe.Status)
		}
		services["overall"] = status
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services":  services,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, errorCode, message string) {
	writeJSON(w, status, map[string]string{"error": errorCode, "message": message})
}
