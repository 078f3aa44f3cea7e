package rest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/puttr/internal/logctx"
	"github.com/italolelis/puttr/internal/storage"
	"github.com/italolelis/puttr/internal/syncer"
	"github.com/italolelis/puttr/internal/telemetry"
	"github.com/italolelis/puttr/internal/transfer"
)

const (
	defaultListLimit = 20
	maxListLimit     = 500
)

// Syncer is the part of the sync coordinator the API exposes.
type Syncer interface {
	Sync(ctx context.Context) (*syncer.CycleReport, error)
	LastReport() *syncer.CycleReport
}

type StatusResponse struct {
	LastCycle       *syncer.CycleReport      `json:"last_cycle"`
	ActiveDownloads []storage.DownloadRecord `json:"active_downloads"`
}

type SyncResponse struct {
	RequestID string              `json:"request_id,omitempty"`
	Report    *syncer.CycleReport `json:"report,omitempty"`
	Error     string              `json:"error,omitempty"`
}

type StatusHandler struct {
	username  string
	password  string
	syncer    Syncer
	downloads storage.DownloadReadRepository
	cycles    storage.CycleRepository
	metrics   http.Handler
}

// NewStatusHandler creates the status and control API. An empty username
// leaves POST /sync unauthenticated; a nil metrics handler leaves /metrics
// unmounted.
func NewStatusHandler(
	username, password string,
	s Syncer,
	downloads storage.DownloadReadRepository,
	cycles storage.CycleRepository,
	metrics http.Handler,
) *StatusHandler {
	return &StatusHandler{
		username:  username,
		password:  password,
		syncer:    s,
		downloads: downloads,
		cycles:    cycles,
		metrics:   metrics,
	}
}

func (h *StatusHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", h.HandleHealth)
	r.Get("/status", h.HandleStatus)
	r.Get("/cycles", h.HandleCycles)
	r.Get("/downloads", h.HandleDownloads)
	r.With(h.basicAuthMiddleware).Post("/sync", h.HandleSync)

	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}

	return r
}

func (h *StatusHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleStatus returns the last cycle report and the sessions currently
// holding a download claim.
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		LastCycle:       h.syncer.LastReport(),
		ActiveDownloads: []storage.DownloadRecord{},
	}

	if h.downloads != nil {
		active, err := h.downloads.GetActiveDownloads(r.Context())
		if err != nil {
			logctx.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "failed to get active downloads", "err", err)
			http.Error(w, "failed to get active downloads", http.StatusInternalServerError)

			return
		}

		if active != nil {
			resp.ActiveDownloads = active
		}
	}

	writeJSON(w, r, http.StatusOK, resp)
}

func (h *StatusHandler) HandleCycles(w http.ResponseWriter, r *http.Request) {
	if h.cycles == nil {
		writeJSON(w, r, http.StatusOK, []storage.CycleRecord{})

		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	cycles, err := h.cycles.GetCycles(r.Context(), limit)
	if err != nil {
		logctx.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "failed to get cycles", "err", err)
		http.Error(w, "failed to get cycles", http.StatusInternalServerError)

		return
	}

	if cycles == nil {
		cycles = []storage.CycleRecord{}
	}

	writeJSON(w, r, http.StatusOK, cycles)
}

func (h *StatusHandler) HandleDownloads(w http.ResponseWriter, r *http.Request) {
	if h.downloads == nil {
		writeJSON(w, r, http.StatusOK, []storage.DownloadRecord{})

		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	downloads, err := h.downloads.GetDownloads(r.Context(), limit)
	if err != nil {
		logctx.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "failed to get downloads", "err", err)
		http.Error(w, "failed to get downloads", http.StatusInternalServerError)

		return
	}

	if downloads == nil {
		downloads = []storage.DownloadRecord{}
	}

	writeJSON(w, r, http.StatusOK, downloads)
}

// HandleSync runs a cycle now, or joins the one in flight, and answers with
// its report. The cycle keeps running if the client goes away.
func (h *StatusHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())
	logger.InfoContext(r.Context(), "sync requested")

	requestID := telemetry.GetRequestID(r.Context())

	report, err := h.syncer.Sync(context.WithoutCancel(r.Context()))
	if err != nil {
		status := http.StatusInternalServerError
		if transfer.IsServiceUnavailable(err) {
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, r, status, SyncResponse{RequestID: requestID, Report: report, Error: err.Error()})

		return
	}

	writeJSON(w, r, http.StatusOK, SyncResponse{RequestID: requestID, Report: report})
}

func (h *StatusHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.username == "" {
			next.ServeHTTP(w, r)

			return
		}

		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="puttr"`)
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		userOK := subtle.ConstantTimeCompare([]byte(username), []byte(h.username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(password), []byte(h.password)) == 1

		if !userOK || !passOK {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}

	return min(limit, maxListLimit), nil
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "failed to encode response", "err", err)
	}
}
