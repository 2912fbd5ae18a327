package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"kpiboard/internal/app/server"
	"kpiboard/internal/domain/kpi"
	"kpiboard/internal/platform/config"
	"kpiboard/internal/store/workbook"
)

const (
	adminKey    = "admin-key-1234"
	employeeKey = "employee-key-1234"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kpis.xlsx")

	wb, err := workbook.Open(path)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	if err := wb.AddUser(ctx, "Dana Admin", kpi.RoleAdmin, adminKey); err != nil {
		t.Fatalf("add admin: %v", err)
	}
	if err := wb.AddUser(ctx, "Bob Chen", kpi.RoleEmployee, employeeKey); err != nil {
		t.Fatalf("add employee: %v", err)
	}
	due := time.Now().UTC().AddDate(0, 0, 7)
	for _, k := range []kpi.KPI{
		{ID: "K-100", Name: "Ship weekly report", Frequency: kpi.FrequencyWeekly, AssignedUser: "Bob Chen", DueDate: &due},
		{ID: "K-200", Name: "Quarterly audit", Frequency: kpi.FrequencyMonthly, AssignedUser: "Dana Admin"},
	} {
		if err := wb.AddKPI(ctx, k); err != nil {
			t.Fatalf("add kpi %s: %v", k.ID, err)
		}
	}
	if err := wb.Close(); err != nil {
		t.Fatalf("close workbook: %v", err)
	}

	app, err := server.New(ctx, config.Config{
		Addr:               ":0",
		Environment:        "test",
		StoreDriver:        config.DriverWorkbook,
		WorkbookPath:       path,
		JWTSecret:          "test-secret-test-secret-test-secret",
		TokenTTL:           time.Hour,
		MaxBodyBytes:       1 << 20,
		RateLimitPerMinute: 1000,
		MetricsEnabled:     true,
	})
	if err != nil {
		t.Fatalf("build app: %v", err)
	}
	t.Cleanup(app.Close)

	ts := httptest.NewServer(app.Router)
	t.Cleanup(ts.Close)
	return ts
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"requestId"`
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode %s %s response: %v", method, path, err)
	}
	return resp.StatusCode, env
}

func login(t *testing.T, ts *httptest.Server, key string) (string, kpi.UserInfo) {
	t.Helper()
	status, env := doJSON(t, ts, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"authKey": key})
	if status != http.StatusOK || !env.Success {
		t.Fatalf("login failed: status=%d env=%+v", status, env)
	}
	var result struct {
		Token    string       `json:"token"`
		UserInfo kpi.UserInfo `json:"userInfo"`
	}
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("decode login data: %v", err)
	}
	return result.Token, result.UserInfo
}

func fetchSnapshot(t *testing.T, ts *httptest.Server, token string) kpi.Snapshot {
	t.Helper()
	status, env := doJSON(t, ts, http.MethodGet, "/api/v1/dashboard", token, nil)
	if status != http.StatusOK || !env.Success {
		t.Fatalf("dashboard failed: status=%d env=%+v", status, env)
	}
	var snap kpi.Snapshot
	if err := json.Unmarshal(env.Data, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return snap
}

func submitUpdate(t *testing.T, ts *httptest.Server, token, kpiID string, progress float64) string {
	t.Helper()
	status, env := doJSON(t, ts, http.MethodPost, "/api/v1/actions", token, map[string]any{
		"action": "submit_update",
		"payload": map[string]any{
			"kpi_id":           kpiID,
			"task_status":      kpi.TaskStatusInProgress,
			"progress_percent": progress,
			"focus_today":      "finishing the draft",
		},
	})
	if status != http.StatusAccepted || !env.Success {
		t.Fatalf("submit_update failed: status=%d env=%+v", status, env)
	}
	var ack struct {
		RowID string `json:"rowId"`
	}
	if err := json.Unmarshal(env.Data, &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.RowID == "" {
		t.Fatal("accepted update carries no row id")
	}
	return ack.RowID
}

func TestJourneySubmitApproveAdjust(t *testing.T) {
	ts := newTestServer(t)

	empToken, empUser := login(t, ts, employeeKey)
	if empUser.Name != "Bob Chen" || empUser.Role != kpi.RoleEmployee {
		t.Fatalf("unexpected identity: %+v", empUser)
	}

	snap := fetchSnapshot(t, ts, empToken)
	if len(snap.KPIs) != 2 {
		t.Fatalf("expected 2 KPIs in snapshot, got %d", len(snap.KPIs))
	}
	if len(snap.SubmissionHistory) != 0 {
		t.Fatalf("fresh board should have empty history, got %d rows", len(snap.SubmissionHistory))
	}

	rowID := submitUpdate(t, ts, empToken, "K-100", 60)

	snap = fetchSnapshot(t, ts, empToken)
	if len(snap.SubmissionHistory) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(snap.SubmissionHistory))
	}
	sub := snap.SubmissionHistory[0]
	if sub.RowID != rowID || !sub.PendingReview() {
		t.Fatalf("submission not pending under its row id: %+v", sub)
	}
	if sub.Blockers != kpi.FieldPlaceholder {
		t.Fatalf("blank blockers should be placeholdered, got %q", sub.Blockers)
	}

	adminToken, adminUser := login(t, ts, adminKey)
	if !adminUser.IsAdmin() {
		t.Fatalf("expected admin identity, got %+v", adminUser)
	}

	status, env := doJSON(t, ts, http.MethodPost, "/api/v1/actions", adminToken, map[string]any{
		"action": "submit_feedback",
		"payload": map[string]any{
			"row_id":            rowID,
			"kpi_id":            "K-100",
			"decision":          kpi.DecisionApproved,
			"adjusted_progress": 80,
			"feedback":          "solid progress",
		},
	})
	if status != http.StatusAccepted || !env.Success {
		t.Fatalf("approve failed: status=%d env=%+v", status, env)
	}

	snap = fetchSnapshot(t, ts, adminToken)
	sub = snap.SubmissionHistory[0]
	if sub.ManagerDecision != kpi.DecisionApproved {
		t.Fatalf("expected approved, got %q", sub.ManagerDecision)
	}
	if sub.ManagerAdjustedProgress == nil || *sub.ManagerAdjustedProgress != 80 {
		t.Fatalf("expected adjusted progress 80, got %v", sub.ManagerAdjustedProgress)
	}
	if sub.ReviewedBy != "Dana Admin" {
		t.Fatalf("expected reviewer recorded, got %q", sub.ReviewedBy)
	}
	for _, k := range snap.KPIs {
		if k.ID == "K-100" && k.CompletionPercent != 80 {
			t.Fatalf("approval should write completion back, got %.0f", k.CompletionPercent)
		}
	}
}

func TestJourneyRejectForcesZero(t *testing.T) {
	ts := newTestServer(t)

	empToken, _ := login(t, ts, employeeKey)
	rowID := submitUpdate(t, ts, empToken, "K-100", 45)

	adminToken, _ := login(t, ts, adminKey)
	status, env := doJSON(t, ts, http.MethodPost, "/api/v1/actions", adminToken, map[string]any{
		"action": "submit_feedback",
		"payload": map[string]any{
			"row_id":            rowID,
			"kpi_id":            "K-100",
			"decision":          kpi.DecisionRejected,
			"adjusted_progress": 90,
			"feedback":          "numbers do not match the tracker",
		},
	})
	if status != http.StatusAccepted || !env.Success {
		t.Fatalf("reject failed: status=%d env=%+v", status, env)
	}

	snap := fetchSnapshot(t, ts, adminToken)
	sub := snap.SubmissionHistory[0]
	if sub.ManagerDecision != kpi.DecisionRejected {
		t.Fatalf("expected rejected, got %q", sub.ManagerDecision)
	}
	if sub.ManagerAdjustedProgress == nil || *sub.ManagerAdjustedProgress != 0 {
		t.Fatalf("rejection must force adjusted progress to zero, got %v", sub.ManagerAdjustedProgress)
	}
}

func TestJourneyDecisionIsTerminal(t *testing.T) {
	ts := newTestServer(t)

	empToken, _ := login(t, ts, employeeKey)
	rowID := submitUpdate(t, ts, empToken, "K-100", 30)

	adminToken, _ := login(t, ts, adminKey)
	approve := map[string]any{
		"action": "submit_feedback",
		"payload": map[string]any{
			"row_id":   rowID,
			"kpi_id":   "K-100",
			"decision": kpi.DecisionApproved,
		},
	}
	if status, env := doJSON(t, ts, http.MethodPost, "/api/v1/actions", adminToken, approve); status != http.StatusAccepted {
		t.Fatalf("first decision failed: status=%d env=%+v", status, env)
	}
	status, env := doJSON(t, ts, http.MethodPost, "/api/v1/actions", adminToken, approve)
	if status != http.StatusConflict {
		t.Fatalf("second decision should conflict, got status=%d env=%+v", status, env)
	}
	if env.Error == nil || env.Error.Code != "already_reviewed" {
		t.Fatalf("expected already_reviewed, got %+v", env.Error)
	}
}

func TestJourneyAuthorization(t *testing.T) {
	ts := newTestServer(t)

	empToken, _ := login(t, ts, employeeKey)

	// Wrong key is refused outright.
	status, env := doJSON(t, ts, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"authKey": "nope"})
	if status != http.StatusUnauthorized || env.Error == nil || env.Error.Code != "invalid_auth_key" {
		t.Fatalf("bad key should 401 invalid_auth_key, got status=%d env=%+v", status, env)
	}

	// No token, no dashboard.
	if status, _ := doJSON(t, ts, http.MethodGet, "/api/v1/dashboard", "", nil); status != http.StatusUnauthorized {
		t.Fatalf("anonymous dashboard should 401, got %d", status)
	}

	// Updates against a KPI assigned to someone else are rejected.
	status, env = doJSON(t, ts, http.MethodPost, "/api/v1/actions", empToken, map[string]any{
		"action": "submit_update",
		"payload": map[string]any{
			"kpi_id":           "K-200",
			"task_status":      kpi.TaskStatusInProgress,
			"progress_percent": 10,
		},
	})
	if status != http.StatusForbidden || env.Error == nil || env.Error.Code != "not_owner" {
		t.Fatalf("cross-user update should 403 not_owner, got status=%d env=%+v", status, env)
	}

	// Employees cannot review.
	rowID := submitUpdate(t, ts, empToken, "K-100", 50)
	status, env = doJSON(t, ts, http.MethodPost, "/api/v1/actions", empToken, map[string]any{
		"action": "submit_feedback",
		"payload": map[string]any{
			"row_id":   rowID,
			"kpi_id":   "K-100",
			"decision": kpi.DecisionApproved,
		},
	})
	if status != http.StatusForbidden || env.Error == nil || env.Error.Code != "not_admin" {
		t.Fatalf("employee review should 403 not_admin, got status=%d env=%+v", status, env)
	}

	// Unknown rows and unknown KPIs are 404s.
	adminToken, _ := login(t, ts, adminKey)
	status, env = doJSON(t, ts, http.MethodPost, "/api/v1/actions", adminToken, map[string]any{
		"action": "submit_feedback",
		"payload": map[string]any{
			"row_id":   "no-such-row",
			"kpi_id":   "K-100",
			"decision": kpi.DecisionApproved,
		},
	})
	if status != http.StatusNotFound {
		t.Fatalf("unknown row should 404, got status=%d env=%+v", status, env)
	}
}

func TestJourneySummaryPDF(t *testing.T) {
	ts := newTestServer(t)

	empToken, _ := login(t, ts, employeeKey)
	adminToken, _ := login(t, ts, adminKey)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/reports/summary.pdf", nil)
	req.Header.Set("Authorization", "Bearer "+empToken)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("employee report request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("employee report access should 403, got %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/api/v1/reports/summary.pdf", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err = ts.Client().Do(req)
	if err != nil {
		t.Fatalf("admin report request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin report access should 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("expected application/pdf, got %q", ct)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read pdf: %v", err)
	}
	if !bytes.HasPrefix(raw, []byte("%PDF")) {
		t.Fatalf("response is not a PDF, starts with %q", raw[:min(8, len(raw))])
	}
}

func TestJourneyHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := ts.Client().Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s should 200, got %d", path, resp.StatusCode)
		}
	}

	adminToken, _ := login(t, ts, adminKey)
	status, env := doJSON(t, ts, http.MethodGet, "/api/v1/metrics", adminToken, nil)
	if status != http.StatusOK || !env.Success {
		t.Fatalf("metrics fetch failed: status=%d env=%+v", status, env)
	}
	var counters map[string]any
	if err := json.Unmarshal(env.Data, &counters); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if len(counters) == 0 {
		t.Fatal("metrics should report at least one counter")
	}
}

func TestJourneyRequestIDPropagates(t *testing.T) {
	ts := newTestServer(t)

	status, env := doJSON(t, ts, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"authKey": adminKey})
	if status != http.StatusOK {
		t.Fatalf("login failed: %d", status)
	}
	if env.RequestID == "" {
		t.Fatal("responses must carry a request id")
	}
}
