// Package dashboard serves the operational view over stored jobs.
package dashboard

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/md-rashed-zaman/recipeshare/libs/httpx"
	"github.com/md-rashed-zaman/recipeshare/libs/jobqueue"
)

type Handler struct {
	inspector jobqueue.Inspector
	logger    *slog.Logger
}

func NewHandler(inspector jobqueue.Inspector, logger *slog.Logger) *Handler {
	return &Handler{inspector: inspector, logger: logger}
}

// Register mounts the dashboard routes, every one behind guard: job payloads
// carry user data such as notification addresses.
func (h *Handler) Register(mux *http.ServeMux, guard httpx.Middleware) {
	mux.Handle("GET /api/v1/jobs", guard(http.HandlerFunc(h.List)))
	mux.Handle("GET /api/v1/jobs/stats", guard(http.HandlerFunc(h.Stats)))
	mux.Handle("GET /api/v1/jobs/{id}", guard(http.HandlerFunc(h.Get)))
	mux.Handle("POST /api/v1/jobs/{id}/requeue", guard(http.HandlerFunc(h.Requeue)))
}

type jobView struct {
	jobqueue.Job
	Retries int             `json:"retries"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func toView(j jobqueue.Job, withPayload bool) jobView {
	v := jobView{Job: j, Retries: j.Retries()}
	if withPayload && json.Valid(j.Payload) {
		v.Payload = j.Payload
	}
	return v
}

type listResponse struct {
	Jobs []jobView `json:"jobs"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := jobqueue.Filter{Queue: q.Get("queue")}
	if raw := q.Get("status"); raw != "" {
		status, err := jobqueue.ParseStatus(raw)
		if err != nil {
			httpx.WriteError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		filter.Status = status
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpx.WriteError(w, r, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}

	jobs, err := h.inspector.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list jobs failed", "err", err)
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	resp := listResponse{Jobs: make([]jobView, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, toView(j, false))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.inspector.Stats(r.Context())
	if err != nil {
		h.logger.Error("job stats failed", "err", err)
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to load stats")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	job, err := h.inspector.Get(r.Context(), id)
	if errors.Is(err, jobqueue.ErrNotFound) {
		httpx.WriteError(w, r, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		h.logger.Error("get job failed", "job_id", id, "err", err)
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to load job")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toView(job, true))
}

type requeueResponse struct {
	ID     int64           `json:"id"`
	Status jobqueue.Status `json:"status"`
}

func (h *Handler) Requeue(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	err := h.inspector.Requeue(r.Context(), id)
	switch {
	case errors.Is(err, jobqueue.ErrNotFound):
		httpx.WriteError(w, r, http.StatusNotFound, "job not found")
		return
	case errors.Is(err, jobqueue.ErrNotRequeueable):
		httpx.WriteError(w, r, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.logger.Error("requeue job failed", "job_id", id, "err", err)
		httpx.WriteError(w, r, http.StatusInternalServerError, "failed to requeue job")
		return
	}
	h.logger.Info("job requeued from dashboard", "job_id", id)
	httpx.WriteJSON(w, http.StatusAccepted, requeueResponse{ID: id, Status: jobqueue.StatusEnqueued})
}

func jobID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid job id")
		return 0, false
	}
	return id, true
}
