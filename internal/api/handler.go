// Package api exposes the HTTP surface: event intake, automation management,
// execution history, health probes, and Prometheus metrics.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leadkit/automation/internal/automation"
	"github.com/leadkit/automation/internal/engine"
	"github.com/leadkit/automation/internal/event"
	"github.com/leadkit/automation/internal/metrics"
	"github.com/leadkit/automation/internal/record"
	"github.com/leadkit/automation/internal/registry"
)

const (
	maxBatchSize     = 100
	defaultRunsLimit = 50
	maxRunsLimit     = 500
)

// Handler holds all HTTP handler dependencies.
type Handler struct {
	dispatcher *engine.Dispatcher
	exec       *engine.Executor
	reg        registry.Registry
	records    record.Store
	mux        *http.ServeMux
}

// New creates an HTTP handler and registers all routes.
func New(dispatcher *engine.Dispatcher, exec *engine.Executor, reg registry.Registry, records record.Store) http.Handler {
	h := &Handler{
		dispatcher: dispatcher,
		exec:       exec,
		reg:        reg,
		records:    records,
		mux:        http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/events", h.ingestEvent)
	h.mux.HandleFunc("POST /v1/events/batch", h.ingestBatch)
	h.mux.HandleFunc("GET /v1/automations", h.listAutomations)
	h.mux.HandleFunc("POST /v1/automations", h.createAutomation)
	h.mux.HandleFunc("GET /v1/automations/{id}", h.getAutomation)
	h.mux.HandleFunc("PUT /v1/automations/{id}", h.updateAutomation)
	h.mux.HandleFunc("DELETE /v1/automations/{id}", h.deleteAutomation)
	h.mux.HandleFunc("POST /v1/automations/{id}/activate", h.setActive(true))
	h.mux.HandleFunc("POST /v1/automations/{id}/deactivate", h.setActive(false))
	h.mux.HandleFunc("GET /v1/automations/{id}/executions", h.listExecutions)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.mux)
}

// POST /v1/events — synchronous single-event dispatch.
func (h *Handler) ingestEvent(w http.ResponseWriter, r *http.Request) {
	var ev event.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	prepareEvent(&ev, time.Now())

	res, err := h.dispatcher.Dispatch(r.Context(), &ev)
	if err != nil {
		var verr *event.ValidationError
		switch {
		case errors.As(err, &verr):
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":  "invalid event",
				"fields": verr.Fields,
			})
		case engine.IsUnavailable(err):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	if res.Rejected > 0 {
		// Queue full: the source should back off and redeliver.
		writeJSON(w, http.StatusTooManyRequests, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /v1/events/batch — batch dispatch (up to 100 events).
func (h *Handler) ingestBatch(w http.ResponseWriter, r *http.Request) {
	var events []*event.Event
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusBadRequest, "batch must contain at least one event")
		return
	}
	if len(events) > maxBatchSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch size %d exceeds max %d", len(events), maxBatchSize))
		return
	}

	now := time.Now()
	jobID := uuid.New().String()
	var enqueued, deduped, rejected, invalid int
	for _, ev := range events {
		prepareEvent(ev, now)
		res, err := h.dispatcher.Dispatch(r.Context(), ev)
		if err != nil {
			var verr *event.ValidationError
			if errors.As(err, &verr) {
				invalid++
				continue
			}
			if engine.IsUnavailable(err) {
				writeError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		enqueued += res.Enqueued
		deduped += res.Deduped
		rejected += res.Rejected
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":   jobID,
		"total":    len(events),
		"enqueued": enqueued,
		"deduped":  deduped,
		"rejected": rejected,
		"invalid":  invalid,
	})
}

func prepareEvent(ev *event.Event, now time.Time) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	ev.ReceivedAt = now
}

// GET /v1/automations — list, optionally filtered by campaign_id.
func (h *Handler) listAutomations(w http.ResponseWriter, r *http.Request) {
	var campaignID int64
	if raw := r.URL.Query().Get("campaign_id"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "campaign_id must be an integer")
			return
		}
		campaignID = v
	}

	list, err := h.reg.List(r.Context(), campaignID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"automations": list,
		"count":       len(list),
	})
}

// POST /v1/automations — create from a definition in the request body.
func (h *Handler) createAutomation(w http.ResponseWriter, r *http.Request) {
	var a automation.Automation
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	a.ID = 0
	if err := automation.Validate(&a); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := h.reg.Create(r.Context(), &a); err != nil {
		h.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &a)
}

// GET /v1/automations/{id}
func (h *Handler) getAutomation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a, err := h.reg.Get(r.Context(), id)
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// PUT /v1/automations/{id} — full replacement of the definition.
func (h *Handler) updateAutomation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var a automation.Automation
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	a.ID = id
	if err := automation.Validate(&a); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := h.reg.Update(r.Context(), &a); err != nil {
		h.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &a)
}

// DELETE /v1/automations/{id} — removes the definition. Execution records
// are retained as the audit trail.
func (h *Handler) deleteAutomation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.reg.Delete(r.Context(), id); err != nil {
		h.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": true, "id": id})
}

// POST /v1/automations/{id}/activate and /deactivate.
func (h *Handler) setActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		if err := h.reg.SetActive(r.Context(), id, active); err != nil {
			h.writeRegistryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "is_active": active})
	}
}

// GET /v1/automations/{id}/executions — run history, newest first.
func (h *Handler) listExecutions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if v > maxRunsLimit {
			v = maxRunsLimit
		}
		limit = v
	}

	recs, err := h.records.ListByAutomation(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"automation_id": id,
		"executions":    recs,
		"count":         len(recs),
	})
}

// GET /healthz — always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz — 503 if the execution queue is >80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.exec.QueueUtilization()
	metrics.QueueUtilization.Set(util)
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ready",
		"queue_utilization": util,
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "automation id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrReadOnly):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
