package reportshandler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"kpiboard/internal/domain/kpi"
	"kpiboard/internal/domain/reports"
	"kpiboard/internal/store"
	"kpiboard/internal/transport/http/api"
	"kpiboard/internal/transport/http/middleware"
)

type Handler struct {
	Store store.Store
}

func NewHandler(st store.Store) *Handler {
	return &Handler{Store: st}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.With(middleware.RequireAdmin).Get("/reports/summary.pdf", h.HandleSummaryPDF)
}

func (h *Handler) HandleSummaryPDF(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	user, _ := middleware.GetUser(r.Context())

	kpis, subs, err := h.Store.Records(r.Context())
	if err != nil {
		slog.Error("report read failed", "err", err, "requestId", reqID)
		api.Fail(w, http.StatusInternalServerError, "report_failed", "failed to read records", reqID)
		return
	}

	data, err := reports.SummaryPDF(kpi.Snapshot{UserInfo: user, KPIs: kpis, SubmissionHistory: subs}, time.Now())
	if err != nil {
		slog.Error("report render failed", "err", err, "requestId", reqID)
		api.Fail(w, http.StatusInternalServerError, "report_failed", "failed to render report", reqID)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="kpi-summary.pdf"`)
	_, _ = w.Write(data)
}
