package dashboardhandler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"kpiboard/internal/domain/kpi"
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
	r.With(middleware.RequireUser).Get("/dashboard", h.HandleDashboard)
}

// HandleDashboard returns the full snapshot: the caller's identity plus
// every KPI and submission. Reads are idempotent; clients replace their
// local copy wholesale.
func (h *Handler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	user, _ := middleware.GetUser(r.Context())

	kpis, subs, err := h.Store.Records(r.Context())
	if err != nil {
		slog.Error("dashboard read failed", "err", err, "requestId", reqID)
		api.Fail(w, http.StatusInternalServerError, "dashboard_failed", "failed to read records", reqID)
		return
	}

	api.Success(w, kpi.Snapshot{
		UserInfo:          user,
		KPIs:              kpis,
		SubmissionHistory: subs,
	}, reqID)
}
