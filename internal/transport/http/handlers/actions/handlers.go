package actionshandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"kpiboard/internal/domain/kpi"
	"kpiboard/internal/domain/review"
	"kpiboard/internal/platform/metrics"
	"kpiboard/internal/store"
	"kpiboard/internal/transport/http/api"
	"kpiboard/internal/transport/http/middleware"
)

const (
	ActionSubmitUpdate   = "submit_update"
	ActionSubmitFeedback = "submit_feedback"
)

type Handler struct {
	Store   store.Store
	Metrics *metrics.Collector
}

func NewHandler(st store.Store, collector *metrics.Collector) *Handler {
	return &Handler{Store: st, Metrics: collector}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(middleware.RequireUser).Post("/actions", h.HandleAction)
}

type actionRequest struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// HandleAction is the single write entrypoint, mirroring the backing
// API's action envelope. Responses are optimistic acknowledgments; the
// authoritative state is whatever the next dashboard fetch returns.
func (h *Handler) HandleAction(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON", reqID)
		return
	}

	switch req.Action {
	case ActionSubmitUpdate:
		h.handleSubmitUpdate(w, r, req.Payload)
	case ActionSubmitFeedback:
		h.handleSubmitFeedback(w, r, req.Payload)
	default:
		api.Fail(w, http.StatusBadRequest, "unknown_action", "action must be submit_update or submit_feedback", reqID)
	}
}

func (h *Handler) handleSubmitUpdate(w http.ResponseWriter, r *http.Request, payload json.RawMessage) {
	reqID := middleware.GetRequestID(r.Context())
	user, _ := middleware.GetUser(r.Context())

	var update review.UpdateRequest
	if err := json.Unmarshal(payload, &update); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_json", "payload must be valid JSON", reqID)
		return
	}

	target, err := h.Store.KPIByID(r.Context(), update.KPIID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			api.Fail(w, http.StatusNotFound, "kpi_not_found", "no such KPI", reqID)
			return
		}
		slog.Error("kpi lookup failed", "err", err, "requestId", reqID)
		api.Fail(w, http.StatusInternalServerError, "update_failed", "failed to load KPI", reqID)
		return
	}

	sub, err := review.BuildSubmission(update, user, target, time.Now())
	if err != nil {
		if errors.Is(err, review.ErrNotOwner) {
			api.Fail(w, http.StatusForbidden, "not_owner", "kpi is assigned to another user", reqID)
			return
		}
		api.FailWithDetails(w, http.StatusBadRequest, "validation_error", "payload validation failed", err, reqID)
		return
	}

	rowID, err := h.Store.AppendSubmission(r.Context(), sub)
	if err != nil {
		slog.Error("submission append failed", "err", err, "requestId", reqID)
		api.Fail(w, http.StatusInternalServerError, "update_failed", "failed to store submission", reqID)
		return
	}

	if h.Metrics != nil {
		h.Metrics.RecordUpdate()
	}
	slog.Info("submission accepted", "kpi", sub.KPIID, "user", user.Name, "rowId", rowID, "requestId", reqID)
	api.Accepted(w, map[string]string{"rowId": rowID}, reqID)
}

func (h *Handler) handleSubmitFeedback(w http.ResponseWriter, r *http.Request, payload json.RawMessage) {
	reqID := middleware.GetRequestID(r.Context())
	user, _ := middleware.GetUser(r.Context())

	var decision review.DecisionRequest
	if err := json.Unmarshal(payload, &decision); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_json", "payload must be valid JSON", reqID)
		return
	}

	sub, err := h.Store.SubmissionByRowID(r.Context(), decision.RowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			api.Fail(w, http.StatusNotFound, "submission_not_found", "no such submission", reqID)
			return
		}
		slog.Error("submission lookup failed", "err", err, "requestId", reqID)
		api.Fail(w, http.StatusInternalServerError, "feedback_failed", "failed to load submission", reqID)
		return
	}

	if err := review.ApplyDecision(&sub, decision, user, time.Now()); err != nil {
		switch {
		case errors.Is(err, review.ErrNotAdmin):
			api.Fail(w, http.StatusForbidden, "not_admin", "only admins may review submissions", reqID)
		case errors.Is(err, review.ErrAlreadyReviewed):
			api.Fail(w, http.StatusConflict, "already_reviewed", "submission already has a decision", reqID)
		default:
			api.FailWithDetails(w, http.StatusBadRequest, "validation_error", "payload validation failed", err, reqID)
		}
		return
	}

	if err := h.Store.UpdateSubmissionReview(r.Context(), sub); err != nil {
		slog.Error("review update failed", "err", err, "requestId", reqID)
		api.Fail(w, http.StatusInternalServerError, "feedback_failed", "failed to store decision", reqID)
		return
	}

	// Approval writes the adjusted progress back to the KPI's display
	// completion. Best effort: the submission's decision is already
	// durable.
	if sub.ManagerDecision == kpi.DecisionApproved && sub.ManagerAdjustedProgress != nil {
		if err := h.Store.SetKPICompletion(r.Context(), sub.KPIID, *sub.ManagerAdjustedProgress); err != nil {
			slog.Warn("completion write-back failed", "err", err, "kpi", sub.KPIID, "requestId", reqID)
		}
	}

	if h.Metrics != nil {
		h.Metrics.RecordDecision()
	}
	slog.Info("decision recorded", "rowId", sub.RowID, "decision", sub.ManagerDecision, "reviewer", user.Name, "requestId", reqID)
	api.Accepted(w, map[string]string{"rowId": sub.RowID, "decision": sub.ManagerDecision}, reqID)
}
