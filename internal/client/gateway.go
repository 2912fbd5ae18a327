package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"kpiboard/internal/domain/kpi"
)

// AuthError marks failures the gateway cannot recover from by
// retrying, meaning the credential itself was refused.
type AuthError struct {
	Code    string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth rejected: %s (%s)", e.Message, e.Code)
}

func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// Gateway is the HTTP edge of the client. It exchanges the auth key
// for a token on demand and retries exactly once on token expiry.
type Gateway struct {
	BaseURL string
	HTTP    *http.Client

	token string
}

func NewGateway(baseURL string) *Gateway {
	return &Gateway{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *apiError       `json:"error"`
	RequestID string          `json:"requestId"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type loginResult struct {
	Token    string       `json:"token"`
	UserInfo kpi.UserInfo `json:"userInfo"`
}

// Login exchanges the auth key for a token and the resolved identity.
func (g *Gateway) Login(ctx context.Context, authKey string) (kpi.UserInfo, error) {
	body, _ := json.Marshal(map[string]string{"authKey": authKey})
	env, status, err := g.do(ctx, http.MethodPost, "/api/v1/auth/login", body, "")
	if err != nil {
		return kpi.UserInfo{}, err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return kpi.UserInfo{}, &AuthError{Code: errCode(env), Message: errMessage(env)}
	}
	if !env.Success {
		return kpi.UserInfo{}, fmt.Errorf("login failed: %s", errMessage(env))
	}
	var result loginResult
	if err := json.Unmarshal(env.Data, &result); err != nil {
		return kpi.UserInfo{}, fmt.Errorf("decode login response: %w", err)
	}
	g.token = result.Token
	return result.UserInfo, nil
}

// FetchDashboard loads the full snapshot for the logged in user. When
// the token has expired it logs in again once with the given key.
func (g *Gateway) FetchDashboard(ctx context.Context, authKey string) (kpi.Snapshot, error) {
	var snap kpi.Snapshot
	err := g.authed(ctx, authKey, func() error {
		env, status, err := g.do(ctx, http.MethodGet, "/api/v1/dashboard", nil, g.token)
		if err != nil {
			return err
		}
		if status == http.StatusUnauthorized {
			return errTokenExpired
		}
		if !env.Success {
			return fmt.Errorf("dashboard fetch failed: %s", errMessage(env))
		}
		return json.Unmarshal(env.Data, &snap)
	})
	return snap, err
}

// PostAction sends an action payload and returns the acknowledgement
// data. The server replies before the write lands, so a nil error
// only means the action was accepted.
func (g *Gateway) PostAction(ctx context.Context, authKey, action string, payload any) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	body, _ := json.Marshal(map[string]json.RawMessage{
		"action":  json.RawMessage(fmt.Sprintf("%q", action)),
		"payload": raw,
	})

	var ack json.RawMessage
	err = g.authed(ctx, authKey, func() error {
		env, status, err := g.do(ctx, http.MethodPost, "/api/v1/actions", body, g.token)
		if err != nil {
			return err
		}
		if status == http.StatusUnauthorized {
			return errTokenExpired
		}
		if status == http.StatusForbidden {
			return &AuthError{Code: errCode(env), Message: errMessage(env)}
		}
		if !env.Success {
			return fmt.Errorf("action %s failed: %s", action, errMessage(env))
		}
		ack = env.Data
		return nil
	})
	return ack, err
}

// FetchSummaryPDF downloads the admin summary report as raw bytes.
func (g *Gateway) FetchSummaryPDF(ctx context.Context, authKey string) ([]byte, error) {
	var pdf []byte
	err := g.authed(ctx, authKey, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.BaseURL+"/api/v1/reports/summary.pdf", nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+g.token)
		resp, err := g.HTTP.Do(req)
		if err != nil {
			return fmt.Errorf("fetch report: %w", err)
		}
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK:
		case http.StatusUnauthorized:
			return errTokenExpired
		case http.StatusForbidden:
			return &AuthError{Code: "forbidden", Message: "admin role required"}
		default:
			return fmt.Errorf("report request failed with status %d", resp.StatusCode)
		}
		pdf, err = io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		return err
	})
	return pdf, err
}

func (g *Gateway) Logout(ctx context.Context) {
	_, _, _ = g.do(ctx, http.MethodPost, "/api/v1/auth/logout", nil, g.token)
	g.token = ""
}

var errTokenExpired = fmt.Errorf("token expired")

// authed runs fn, refreshing the token once when it reports expiry.
func (g *Gateway) authed(ctx context.Context, authKey string, fn func() error) error {
	if g.token == "" {
		if _, err := g.Login(ctx, authKey); err != nil {
			return err
		}
	}
	err := fn()
	if err == errTokenExpired {
		g.token = ""
		if _, err := g.Login(ctx, authKey); err != nil {
			return err
		}
		return fn()
	}
	return err
}

func (g *Gateway) do(ctx context.Context, method, path string, body []byte, token string) (*envelope, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.BaseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.HTTP.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, resp.StatusCode, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
		}
	}
	return &env, resp.StatusCode, nil
}

func errCode(env *envelope) string {
	if env != nil && env.Error != nil {
		return env.Error.Code
	}
	return "unknown"
}

func errMessage(env *envelope) string {
	if env != nil && env.Error != nil {
		return env.Error.Message
	}
	return "unknown error"
}
