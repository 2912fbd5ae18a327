package authhandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"kpiboard/internal/domain/auth"
	"kpiboard/internal/domain/kpi"
	"kpiboard/internal/store"
	"kpiboard/internal/transport/http/api"
	"kpiboard/internal/transport/http/middleware"
)

type Handler struct {
	Store     store.Store
	JWTSecret string
	TokenTTL  time.Duration
}

func NewHandler(st store.Store, secret string, ttl time.Duration) *Handler {
	return &Handler{Store: st, JWTSecret: secret, TokenTTL: ttl}
}

type loginRequest struct {
	AuthKey string `json:"authKey"`
}

func (r loginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.AuthKey, validation.Required),
	)
}

type loginResponse struct {
	Token    string       `json:"token"`
	UserInfo kpi.UserInfo `json:"userInfo"`
}

// HandleLogin exchanges an opaque auth key for a short-lived bearer
// token. The key itself is never echoed back and never stored beyond
// its bcrypt hash.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Fail(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON", reqID)
		return
	}
	if err := req.Validate(); err != nil {
		api.FailWithDetails(w, http.StatusBadRequest, "validation_error", "payload validation failed", err, reqID)
		return
	}

	user, err := h.Store.VerifyAuthKey(r.Context(), req.AuthKey)
	if err != nil {
		if errors.Is(err, store.ErrInvalidAuthKey) {
			api.Fail(w, http.StatusUnauthorized, "invalid_auth_key", "auth key not recognized", reqID)
			return
		}
		slog.Error("auth key verification failed", "err", err, "requestId", reqID)
		api.Fail(w, http.StatusInternalServerError, "login_failed", "failed to verify auth key", reqID)
		return
	}

	token, err := auth.GenerateToken(h.JWTSecret, auth.Claims{Name: user.Name, Role: user.Role}, h.TokenTTL)
	if err != nil {
		slog.Error("token generation failed", "err", err, "requestId", reqID)
		api.Fail(w, http.StatusInternalServerError, "login_failed", "failed to issue token", reqID)
		return
	}

	slog.Info("login", "user", user.Name, "role", user.Role, "requestId", reqID)
	api.Success(w, loginResponse{Token: token, UserInfo: user}, reqID)
}

// HandleLogout acknowledges the logout. Tokens are stateless; the
// client discards its session and ignores results from in-flight
// requests.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	api.Success(w, map[string]string{"status": "logged_out"}, middleware.GetRequestID(r.Context()))
}
