package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"experiment-test-service/internal/app"
	"experiment-test-service/internal/domain"
	"experiment-test-service/internal/export"
)

// ResultsHandler serves aggregated results and exports over plain HTTP.
type ResultsHandler struct {
	results   *app.ResultsService
	snapshots app.SnapshotRepository
	logger    *slog.Logger
}

func NewResultsHandler(results *app.ResultsService, snapshots app.SnapshotRepository, logger *slog.Logger) *ResultsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultsHandler{results: results, snapshots: snapshots, logger: logger}
}

// Register mounts the results routes on mux.
func (h *ResultsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /results/users/{userId}", h.User)
	mux.HandleFunc("GET /results/groups/{groupId}", h.Group)
	mux.HandleFunc("GET /results/summary", h.Summary)
	mux.HandleFunc("GET /results/export", h.Export)
}

func (h *ResultsHandler) User(w http.ResponseWriter, r *http.Request) {
	version, err := versionParam(r, "version", h.snapshots)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.results.User(r.Context(), r.PathValue("userId"), version)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *ResultsHandler) Group(w http.ResponseWriter, r *http.Request) {
	version, err := versionParam(r, "version", h.snapshots)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.results.Group(r.Context(), version, r.PathValue("groupId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *ResultsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	version, err := versionParam(r, "version", h.snapshots)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.results.Config(r.Context(), version)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Export streams the gzip tar of a config version; format defaults to csv.
func (h *ResultsHandler) Export(w http.ResponseWriter, r *http.Request) {
	format := export.FormatCSV
	if raw := r.URL.Query().Get("format"); raw != "" {
		f, err := export.ParseFormat(raw)
		if err != nil {
			writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidEvent, err))
			return
		}
		format = f
	}
	version, err := versionParam(r, "version", h.snapshots)
	if err != nil {
		writeError(w, err)
		return
	}
	users, err := h.results.ExportUsers(r.Context(), version)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="results-v%d-%s.tar.gz"`, version, format))
	if err := export.WriteArchive(w, format, users); err != nil {
		// headers are gone; all that is left is to log
		h.logger.Error("export failed", "version", version, "err", err)
	}
}

func errBadParam(name string) error {
	return fmt.Errorf("%w: bad %s parameter", domain.ErrInvalidEvent, name)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code, status := errorCode(err)
	writeJSON(w, status, errorPayload{Code: code, Message: err.Error()})
}
