package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/mordris/ledgerwatch/pkg/models"
)

// SnapshotSource returns the latest mirrored snapshot.
type SnapshotSource interface {
	Current() *models.Snapshot
}

// Handler holds the dependencies for API handlers
type Handler struct {
	Snapshots SnapshotSource
	Logger    *zap.Logger
}

// NewHandler creates a new Handler instance
func NewHandler(snapshots SnapshotSource, logger *zap.Logger) *Handler {
	return &Handler{
		Snapshots: snapshots,
		Logger:    logger,
	}
}

// NewRouter creates and configures the HTTP router with all API routes
func (h *Handler) NewRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/health", h.HandleHealth).Methods(http.MethodGet)

	r.HandleFunc("/api/status", h.HandleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/blocks", h.HandleBlocks).Methods(http.MethodGet)
	r.HandleFunc("/api/blocks/{index}", h.HandleBlock).Methods(http.MethodGet)
	r.HandleFunc("/api/directory", h.HandleDirectory).Methods(http.MethodGet)
	r.HandleFunc("/api/snapshot", h.HandleSnapshot).Methods(http.MethodGet)

	return r
}

// HandleHealth returns a simple health check response
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
