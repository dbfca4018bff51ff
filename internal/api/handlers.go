package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formrunner/api/schemas"
	"github.com/xkilldash9x/formrunner/internal/config"
	"github.com/xkilldash9x/formrunner/internal/queue"
	"github.com/xkilldash9x/formrunner/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBodyBytes = 1 << 20

// JobQueue is the part of the queue the HTTP surface calls into.
type JobQueue interface {
	Enqueue(task schemas.Task, opts queue.EnqueueOptions) (string, error)
	Status(id string) (queue.JobStatus, bool)
	Counts() map[queue.State]int
}

// ResultReader looks up persisted results for jobs the queue no longer holds.
type ResultReader interface {
	GetResult(ctx context.Context, jobID string) (*store.JobRecord, error)
}

// SubmitOptions mirrors schemas.TaskOptions with optional fields so omitted
// values fall back to the defaults.
type SubmitOptions struct {
	SimulateHuman   *bool  `json:"simulateHuman"`
	TakeScreenshots *bool  `json:"takeScreenshots"`
	UserAgent       string `json:"userAgent"`
}

// SubmitRequest is the body of POST /api/submit.
type SubmitRequest struct {
	AccountID         string                    `json:"accountId"`
	FormData          *schemas.FormData         `json:"formData"`
	TargetURL         string                    `json:"targetUrl"`
	SubmitSelector    string                    `json:"submitSelector"`
	SuccessIndicators schemas.SuccessIndicators `json:"successIndicators"`
	Priority          int                       `json:"priority"`
	Options           *SubmitOptions            `json:"options"`
}

// SubmitResponse is returned with 202 Accepted.
type SubmitResponse struct {
	JobID     string `json:"jobId"`
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	cfg     config.Interface
	queue   JobQueue
	results ResultReader
	logger  *zap.Logger
	now     func() time.Time
}

// NewHandler creates a new HTTP handler
func NewHandler(cfg config.Interface, q JobQueue, results ResultReader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if results == nil {
		results = store.NopStore{}
	}
	return &Handler{
		cfg:     cfg,
		queue:   q,
		results: results,
		logger:  logger.Named("api"),
		now:     time.Now,
	}
}

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	r := mux.NewRouter()

	// Routes stay on the root router so a method mismatch answers 405.
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/api/submit", h.Submit).Methods("POST")
	r.HandleFunc("/api/jobs/{id}", h.GetJob).Methods("GET")

	r.Use(loggingMiddleware(h.logger))
	return r
}

// buildTask applies defaults and validates a submission.
func (h *Handler) buildTask(req SubmitRequest) (schemas.Task, error) {
	task := schemas.Task{
		AccountID:         strings.TrimSpace(req.AccountID),
		FormData:          req.FormData,
		TargetURL:         strings.TrimSpace(req.TargetURL),
		SubmitSelector:    strings.TrimSpace(req.SubmitSelector),
		SuccessIndicators: req.SuccessIndicators,
		Priority:          req.Priority,
		Options:           schemas.DefaultTaskOptions(),
		CreatedAt:         h.now().UTC(),
	}
	if task.TargetURL == "" {
		task.TargetURL = h.cfg.Defaults().TargetURL
	}
	if task.SubmitSelector == "" {
		task.SubmitSelector = h.cfg.Forms().DefaultSubmitSelector
	}
	if o := req.Options; o != nil {
		if o.SimulateHuman != nil {
			task.Options.SimulateHuman = *o.SimulateHuman
		}
		if o.TakeScreenshots != nil {
			task.Options.TakeScreenshots = *o.TakeScreenshots
		}
		task.Options.UserAgent = strings.TrimSpace(o.UserAgent)
	}

	if task.AccountID == "" {
		return task, errors.New("accountId is required")
	}
	if task.TargetURL != "" {
		u, err := url.Parse(task.TargetURL)
		if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return task, errors.New("targetUrl must be an absolute http(s) URL")
		}
	}
	task.SessionID = schemas.NewSessionID(task.AccountID, task.CreatedAt)
	return task, task.Validate()
}

// Submit handles POST /api/submit
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	task, err := h.buildTask(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID, err := h.queue.Enqueue(task, queue.EnqueueOptions{Priority: task.Priority})
	if errors.Is(err, queue.ErrQueueClosed) {
		writeError(w, http.StatusServiceUnavailable, "service is shutting down")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info("Task accepted",
		zap.String("job_id", jobID),
		zap.String("session_id", task.SessionID),
		zap.String("account_id", task.AccountID),
		zap.String("target_url", task.TargetURL))

	writeJSON(w, http.StatusAccepted, SubmitResponse{
		JobID:     jobID,
		SessionID: task.SessionID,
		Status:    "queued",
	})
}

// GetJob handles GET /api/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if st, ok := h.queue.Status(id); ok {
		writeJSON(w, http.StatusOK, st)
		return
	}

	rec, err := h.results.GetResult(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		h.logger.Error("Result lookup failed", zap.String("job_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "result lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   h.now().UTC(),
		"jobs":   h.queue.Counts(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
