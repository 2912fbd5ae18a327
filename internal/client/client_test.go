package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"kpiboard/internal/domain/kpi"
	"kpiboard/internal/domain/review"
)

// fakeServer speaks just enough of the board protocol for the client
// to log in, fetch dashboards and post actions.
type fakeServer struct {
	mu       sync.Mutex
	authKey  string
	user     kpi.UserInfo
	kpis     []kpi.KPI
	history  []kpi.Submission
	nextRow  int
	rejected bool
	// dropWrites acknowledges actions without persisting them and
	// without assigning a row ID, like a backend whose deferred write
	// silently fails.
	dropWrites bool
	logins     int
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.logins++
		var body struct {
			AuthKey string `json:"authKey"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.AuthKey != f.authKey {
			writeEnvelope(w, http.StatusUnauthorized, false, nil, "invalid_auth_key", "auth key not recognised")
			return
		}
		writeEnvelope(w, http.StatusOK, true, map[string]any{"token": "tok-1", "userInfo": f.user}, "", "")
	})
	mux.HandleFunc("GET /api/v1/dashboard", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			writeEnvelope(w, http.StatusUnauthorized, false, nil, "unauthorized", "token missing")
			return
		}
		snap := kpi.Snapshot{UserInfo: f.user, KPIs: f.kpis, SubmissionHistory: f.history}
		writeEnvelope(w, http.StatusOK, true, snap, "", "")
	})
	mux.HandleFunc("POST /api/v1/actions", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.rejected {
			writeEnvelope(w, http.StatusForbidden, false, nil, "not_owner", "not your board")
			return
		}
		if f.dropWrites {
			writeEnvelope(w, http.StatusAccepted, true, map[string]string{}, "", "")
			return
		}
		var body struct {
			Action  string          `json:"action"`
			Payload json.RawMessage `json:"payload"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.nextRow++
		rowID := fmt.Sprintf("row-%d", f.nextRow)
		var req review.UpdateRequest
		_ = json.Unmarshal(body.Payload, &req)
		f.history = append(f.history, kpi.Submission{
			RowID:           rowID,
			KPIID:           req.KPIID,
			SubmitterName:   f.user.Name,
			Timestamp:       time.Now().UTC(),
			TaskStatus:      req.TaskStatus,
			ProgressPercent: req.ProgressPercent,
		})
		writeEnvelope(w, http.StatusAccepted, true, map[string]string{"rowId": rowID}, "", "")
	})
	mux.HandleFunc("POST /api/v1/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, true, map[string]string{"status": "logged_out"}, "", "")
	})
	return mux
}

func writeEnvelope(w http.ResponseWriter, status int, success bool, data any, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	env := map[string]any{"success": success, "requestId": "req-test"}
	if data != nil {
		env["data"] = data
	}
	if code != "" {
		env["error"] = map[string]string{"code": code, "message": message}
	}
	_ = json.NewEncoder(w).Encode(env)
}

func newTestClient(t *testing.T, srv *fakeServer) (*Client, string) {
	t.Helper()
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)
	sessionPath := filepath.Join(t.TempDir(), "session.json")
	return New(ts.URL, NewSessionFile(sessionPath), nil), sessionPath
}

func testKPIs() []kpi.KPI {
	return []kpi.KPI{{
		ID:           "K1",
		Name:         "Weekly report",
		Frequency:    kpi.FrequencyWeekly,
		AssignedUser: "Alice",
	}}
}

func TestLoginPersistsSessionAndLoadsSnapshot(t *testing.T) {
	srv := &fakeServer{
		authKey: "key-alice",
		user:    kpi.UserInfo{Name: "Alice", Role: kpi.RoleEmployee},
		kpis:    testKPIs(),
	}
	c, sessionPath := newTestClient(t, srv)

	snap, err := c.Login(context.Background(), "key-alice")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if snap.UserInfo.Name != "Alice" {
		t.Fatalf("expected Alice, got %q", snap.UserInfo.Name)
	}
	if len(snap.KPIs) != 1 {
		t.Fatalf("expected 1 kpi, got %d", len(snap.KPIs))
	}

	raw, err := os.ReadFile(sessionPath)
	if err != nil {
		t.Fatalf("session file not written: %v", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		t.Fatalf("session file not json: %v", err)
	}
	if sess.AuthKey != "key-alice" || sess.UserName != "Alice" {
		t.Fatalf("session content wrong: %+v", sess)
	}
}

func TestLoginRejectedWithAuthError(t *testing.T) {
	srv := &fakeServer{authKey: "key-alice", user: kpi.UserInfo{Name: "Alice"}}
	c, _ := newTestClient(t, srv)

	_, err := c.Login(context.Background(), "wrong-key")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestResumeWithoutSessionReturnsNotLoggedIn(t *testing.T) {
	srv := &fakeServer{authKey: "key-alice", user: kpi.UserInfo{Name: "Alice"}}
	c, _ := newTestClient(t, srv)

	if _, err := c.Resume(context.Background()); err != ErrNotLoggedIn {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
}

func TestResumeRestoresPersistedSession(t *testing.T) {
	srv := &fakeServer{
		authKey: "key-alice",
		user:    kpi.UserInfo{Name: "Alice", Role: kpi.RoleEmployee},
		kpis:    testKPIs(),
	}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()
	sessionPath := filepath.Join(t.TempDir(), "session.json")

	first := New(ts.URL, NewSessionFile(sessionPath), nil)
	if _, err := first.Login(context.Background(), "key-alice"); err != nil {
		t.Fatalf("login: %v", err)
	}

	second := New(ts.URL, NewSessionFile(sessionPath), nil)
	snap, err := second.Resume(context.Background())
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if snap.UserInfo.Name != "Alice" {
		t.Fatalf("expected Alice after resume, got %q", snap.UserInfo.Name)
	}
}

func TestSubmitUpdateConfirmsIntentAndReconciles(t *testing.T) {
	srv := &fakeServer{
		authKey: "key-alice",
		user:    kpi.UserInfo{Name: "Alice", Role: kpi.RoleEmployee},
		kpis:    testKPIs(),
	}
	c, _ := newTestClient(t, srv)
	if _, err := c.Login(context.Background(), "key-alice"); err != nil {
		t.Fatalf("login: %v", err)
	}

	sub, err := c.SubmitUpdate(context.Background(), review.UpdateRequest{
		KPIID:           "K1",
		TaskStatus:      kpi.TaskStatusInProgress,
		ProgressPercent: 40,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.RowID != "row-1" {
		t.Fatalf("expected server row id, got %q", sub.RowID)
	}

	pending := c.PendingIntents()
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending intent, got %d", len(pending))
	}
	history := c.History()
	if len(history) != 1 || history[0].RowID != "row-1" {
		t.Fatalf("expected overlaid submission, got %+v", history)
	}

	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := len(c.PendingIntents()); got != 0 {
		t.Fatalf("intent should be confirmed after refresh, %d still pending", got)
	}
	history = c.History()
	if len(history) != 1 || history[0].RowID != "row-1" {
		t.Fatalf("history should hold the server row once, got %+v", history)
	}
}

func TestSubmitUpdateLocalValidation(t *testing.T) {
	srv := &fakeServer{
		authKey: "key-alice",
		user:    kpi.UserInfo{Name: "Alice", Role: kpi.RoleEmployee},
		kpis:    testKPIs(),
	}
	c, _ := newTestClient(t, srv)
	if _, err := c.Login(context.Background(), "key-alice"); err != nil {
		t.Fatalf("login: %v", err)
	}

	if _, err := c.SubmitUpdate(context.Background(), review.UpdateRequest{
		KPIID:      "K-missing",
		TaskStatus: kpi.TaskStatusInProgress,
	}); err == nil {
		t.Fatal("unknown kpi should fail before hitting the server")
	}
	if _, err := c.SubmitUpdate(context.Background(), review.UpdateRequest{
		KPIID:           "K1",
		TaskStatus:      "paused",
		ProgressPercent: 10,
	}); err == nil {
		t.Fatal("invalid task status should fail validation")
	}
	if srv.nextRow != 0 {
		t.Fatalf("server should not have seen any action, saw %d", srv.nextRow)
	}
}

func TestSubmitUpdateRejectionDiscardsIntent(t *testing.T) {
	srv := &fakeServer{
		authKey:  "key-alice",
		user:     kpi.UserInfo{Name: "Alice", Role: kpi.RoleEmployee},
		kpis:     testKPIs(),
		rejected: true,
	}
	c, _ := newTestClient(t, srv)
	if _, err := c.Login(context.Background(), "key-alice"); err != nil {
		t.Fatalf("login: %v", err)
	}

	_, err := c.SubmitUpdate(context.Background(), review.UpdateRequest{
		KPIID:           "K1",
		TaskStatus:      kpi.TaskStatusInProgress,
		ProgressPercent: 40,
	})
	if err == nil {
		t.Fatal("expected rejection")
	}
	if len(c.History()) != 0 {
		t.Fatal("discarded intent must not appear in history")
	}
}

func TestLogoutClearsSessionAndCache(t *testing.T) {
	srv := &fakeServer{
		authKey: "key-alice",
		user:    kpi.UserInfo{Name: "Alice", Role: kpi.RoleEmployee},
		kpis:    testKPIs(),
	}
	c, sessionPath := newTestClient(t, srv)
	if _, err := c.Login(context.Background(), "key-alice"); err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := c.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := os.Stat(sessionPath); !os.IsNotExist(err) {
		t.Fatal("session file should be gone after logout")
	}
	if _, err := c.Refresh(context.Background()); err != ErrNotLoggedIn {
		t.Fatalf("expected ErrNotLoggedIn after logout, got %v", err)
	}
}

func TestSubmitUpdateLostWriteRevertsAfterReconciliation(t *testing.T) {
	srv := &fakeServer{
		authKey:    "key-alice",
		user:       kpi.UserInfo{Name: "Alice", Role: kpi.RoleEmployee},
		kpis:       testKPIs(),
		dropWrites: true,
	}
	c, _ := newTestClient(t, srv)
	if _, err := c.Login(context.Background(), "key-alice"); err != nil {
		t.Fatalf("login: %v", err)
	}

	sub, err := c.SubmitUpdate(context.Background(), review.UpdateRequest{
		KPIID:           "K1",
		TaskStatus:      kpi.TaskStatusInProgress,
		ProgressPercent: 40,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !review.IsTempRowID(sub.RowID) {
		t.Fatalf("ack without row id should leave the temp row id, got %q", sub.RowID)
	}

	// The snapshot right after the write may predate it; the intent
	// stays queued through that first fetch.
	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if got := len(c.PendingIntents()); got != 1 {
		t.Fatalf("intent should survive one missed fetch, got %d pending", got)
	}

	// A second authoritative snapshot still without the row means the
	// write was lost. The phantom entry must leave the overlay.
	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if got := len(c.PendingIntents()); got != 0 {
		t.Fatalf("lost write should be reverted, %d still pending", got)
	}
	if got := len(c.History()); got != 0 {
		t.Fatalf("reverted submission must not linger in history, got %d rows", got)
	}
}

func TestRecordStoreRevertsIntentMissingFromFetches(t *testing.T) {
	rs := NewRecordStore()
	rs.SetSnapshot(kpi.Snapshot{})

	rs.Queue(ActionSubmitUpdate, kpi.Submission{RowID: review.TempRowID(), KPIID: "K1"})

	rs.SetSnapshot(kpi.Snapshot{})
	if got := len(rs.Pending()); got != 1 {
		t.Fatalf("one missed fetch should not revert, got %d pending", got)
	}
	if got := len(rs.EffectiveHistory()); got != 1 {
		t.Fatalf("queued intent should still overlay, got %d rows", got)
	}

	rs.SetSnapshot(kpi.Snapshot{})
	if got := len(rs.Pending()); got != 0 {
		t.Fatalf("two missed fetches should revert, got %d pending", got)
	}
	if got := len(rs.EffectiveHistory()); got != 0 {
		t.Fatalf("reverted intent must leave the overlay, got %d rows", got)
	}

	reverted := rs.TakeReverted()
	if len(reverted) != 1 || reverted[0].State != IntentReverted {
		t.Fatalf("expected one reverted intent, got %+v", reverted)
	}
	if got := rs.TakeReverted(); len(got) != 0 {
		t.Fatalf("reverted intents must drain exactly once, got %d again", len(got))
	}
}

func TestRecordStoreOverlayAndReconcile(t *testing.T) {
	rs := NewRecordStore()
	rs.SetSnapshot(kpi.Snapshot{SubmissionHistory: []kpi.Submission{{RowID: "row-a"}}})

	id := rs.Queue(ActionSubmitUpdate, kpi.Submission{RowID: review.TempRowID(), KPIID: "K1"})
	if got := len(rs.EffectiveHistory()); got != 2 {
		t.Fatalf("expected overlay of 2, got %d", got)
	}

	rs.Confirm(id, "row-b")
	rs.SetSnapshot(kpi.Snapshot{SubmissionHistory: []kpi.Submission{
		{RowID: "row-a"}, {RowID: "row-b"},
	}})
	if got := len(rs.Pending()); got != 0 {
		t.Fatalf("expected intent confirmed, %d pending", got)
	}
	if got := len(rs.EffectiveHistory()); got != 2 {
		t.Fatalf("confirmed intent must not double-count, got %d", got)
	}
}
