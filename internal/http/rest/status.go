package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/italolelis/watchdir/internal/logctx"
	"github.com/italolelis/watchdir/internal/storage"
	"github.com/italolelis/watchdir/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status    string   `json:"status"`
	Uptime    string   `json:"uptime"`
	WatchDirs []string `json:"watch_dirs"`
}

// HandoffEntry is one row of GET /history.
type HandoffEntry struct {
	ID          string    `json:"id"`
	TorrentPath string    `json:"torrent_path"`
	DownloadDir string    `json:"download_dir"`
	Worker      string    `json:"worker"`
	Status      string    `json:"status"`
	SizeBytes   int64     `json:"size_bytes"`
	Size        string    `json:"size"`
	FinishedAt  time.Time `json:"finished_at"`
	Ago         string    `json:"ago"`
}

type HistoryResponse struct {
	Handoffs []HandoffEntry `json:"handoffs"`
}

// StatusHandler serves health, hand-off history and metrics.
type StatusHandler struct {
	history   storage.HandoffReadRepository
	telemetry *telemetry.Telemetry
	watchDirs func() []string
	startedAt time.Time
}

// NewStatusHandler creates a status handler. history may be nil when the
// ledger is disabled.
func NewStatusHandler(history storage.HandoffReadRepository, watchDirs func() []string, t *telemetry.Telemetry) *StatusHandler {
	return &StatusHandler{
		history:   history,
		telemetry: t,
		watchDirs: watchDirs,
		startedAt: time.Now(),
	}
}

// Routes returns the status routes wrapped in the request middleware chain.
func (h *StatusHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID, telemetry.HTTPLogging, telemetry.NewHTTPMiddleware(h.telemetry).Middleware)

	r.Get("/healthz", h.HandleHealth)
	r.Get("/history", h.HandleHistory)
	r.Method(http.MethodGet, "/metrics", h.telemetry.Handler())

	return otelhttp.NewHandler(r, "status")
}

func (h *StatusHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	var dirs []string
	if h.watchDirs != nil {
		dirs = h.watchDirs()
	}

	writeJSON(w, r, http.StatusOK, HealthResponse{
		Status:    "ok",
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		WatchDirs: dirs,
	})
}

func (h *StatusHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	if h.history == nil {
		http.Error(w, "history ledger is disabled", http.StatusNotFound)

		return
	}

	limit := defaultHistoryLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)

			return
		}

		limit = min(n, maxHistoryLimit)
	}

	records, err := h.history.GetHandoffs(r.Context(), limit)
	if err != nil {
		logger.Error("failed to get hand-off history", "err", err)
		http.Error(w, "failed to get history", http.StatusInternalServerError)

		return
	}

	entries := make([]HandoffEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, HandoffEntry{
			ID:          rec.ID,
			TorrentPath: rec.TorrentPath,
			DownloadDir: rec.DownloadDir,
			Worker:      rec.Worker,
			Status:      rec.Status,
			SizeBytes:   rec.SizeBytes,
			Size:        humanize.Bytes(uint64(max(rec.SizeBytes, 0))),
			FinishedAt:  rec.FinishedAt,
			Ago:         humanize.Time(rec.FinishedAt),
		})
	}

	writeJSON(w, r, http.StatusOK, HistoryResponse{Handoffs: entries})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}
