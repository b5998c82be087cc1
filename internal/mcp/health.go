package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthResponse represents the JSON response from the health check endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Database  string `json:"database"`
	Vectors   string `json:"vectors"`
	Timestamp string `json:"timestamp"`
}

// HealthChecker is implemented by storage.DB and every vector store.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// NewHealthHandler creates an HTTP handler for the /health endpoint. It
// answers 503 when either the database or the vector backend is down.
func NewHealthHandler(db, vectors HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		response := HealthResponse{
			Status:    "healthy",
			Database:  "connected",
			Vectors:   "connected",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		code := http.StatusOK
		if err := db.Health(ctx); err != nil {
			response.Database = "disconnected"
			code = http.StatusServiceUnavailable
		}
		if err := vectors.Health(ctx); err != nil {
			response.Vectors = "disconnected"
			code = http.StatusServiceUnavailable
		}
		if code != http.StatusOK {
			response.Status = "unhealthy"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(response)
	}
}
