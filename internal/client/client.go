// Package client is the consumer side of the board: it holds the
// session credential, exchanges it for tokens, caches the dashboard
// snapshot and layers optimistic write intents over it so submitted
// updates show up before the server has persisted them.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kpiboard/internal/domain/kpi"
	"kpiboard/internal/domain/review"
)

// ErrNotLoggedIn is returned by operations that need an active
// session when none exists.
var ErrNotLoggedIn = errors.New("not logged in")

const (
	// ActionSubmitUpdate and ActionSubmitFeedback mirror the action
	// names the server dispatches on.
	ActionSubmitUpdate   = "submit_update"
	ActionSubmitFeedback = "submit_feedback"

	// refetchDelay is how long after an accepted write the client
	// waits before pulling a fresh snapshot to reconcile intents. The
	// server acknowledges before the write lands, so an immediate
	// fetch would usually miss it.
	refetchDelay = 2 * time.Second
)

// Client ties the session file, the HTTP gateway and the record store
// together. All methods are safe for concurrent use.
type Client struct {
	mu      sync.Mutex
	gateway *Gateway
	session *SessionFile
	records *RecordStore
	logger  *slog.Logger

	current *Session
	refetch *time.Timer
}

func New(baseURL string, sessions *SessionFile, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		gateway: NewGateway(baseURL),
		session: sessions,
		records: NewRecordStore(),
		logger:  logger,
	}
}

// Login exchanges the auth key, persists the session and loads the
// first snapshot.
func (c *Client) Login(ctx context.Context, authKey string) (kpi.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	user, err := c.gateway.Login(ctx, authKey)
	if err != nil {
		return kpi.Snapshot{}, err
	}

	sess := &Session{
		AuthKey:  authKey,
		SavedAt:  time.Now().UTC(),
		UserName: user.Name,
		UserRole: user.Role,
	}
	if err := c.session.Save(sess); err != nil {
		c.logger.Warn("session not persisted", "err", err)
	}
	c.current = sess

	return c.refreshLocked(ctx)
}

// Resume restores a persisted session, if any, and loads a snapshot.
// Returns ErrNotLoggedIn when no session exists.
func (c *Client) Resume(ctx context.Context) (kpi.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.session.Load()
	if err != nil {
		return kpi.Snapshot{}, err
	}
	if sess == nil {
		return kpi.Snapshot{}, ErrNotLoggedIn
	}
	c.current = sess
	return c.refreshLocked(ctx)
}

// Refresh pulls a fresh snapshot and reconciles pending intents.
func (c *Client) Refresh(ctx context.Context) (kpi.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return kpi.Snapshot{}, ErrNotLoggedIn
	}
	return c.refreshLocked(ctx)
}

// refreshLocked fetches the dashboard. An auth failure tears the
// session down; a transient failure keeps the session but drops the
// cached snapshot so stale data is never served as fresh.
func (c *Client) refreshLocked(ctx context.Context) (kpi.Snapshot, error) {
	snap, err := c.gateway.FetchDashboard(ctx, c.current.AuthKey)
	if err != nil {
		if IsAuthError(err) {
			c.teardownLocked()
		} else {
			c.records.Clear()
		}
		return kpi.Snapshot{}, err
	}
	c.records.SetSnapshot(snap)
	for _, intent := range c.records.TakeReverted() {
		c.logger.Warn("submission never reached the server, reverted",
			"rowId", intent.Submission.RowID,
			"kpi", intent.Submission.KPIID,
			"action", intent.Action,
			"queuedAt", intent.CreatedAt)
	}
	return snap, nil
}

// SubmitUpdate validates the draft locally, queues an optimistic
// intent, sends the action and schedules a reconciling re-fetch. The
// returned submission is the optimistic one, carrying the server row
// ID once the acknowledgement arrives.
func (c *Client) SubmitUpdate(ctx context.Context, req review.UpdateRequest) (kpi.Submission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return kpi.Submission{}, ErrNotLoggedIn
	}

	snap, ok := c.records.Snapshot()
	if !ok {
		return kpi.Submission{}, errors.New("no snapshot loaded, refresh first")
	}
	target, ok := findKPI(snap.KPIs, req.KPIID)
	if !ok {
		return kpi.Submission{}, fmt.Errorf("unknown kpi %q", req.KPIID)
	}

	user := kpi.UserInfo{Name: c.current.UserName, Role: c.current.UserRole}
	sub, err := review.BuildSubmission(req, user, target, time.Now())
	if err != nil {
		return kpi.Submission{}, err
	}

	intentID := c.records.Queue(ActionSubmitUpdate, sub)
	ack, err := c.gateway.PostAction(ctx, c.current.AuthKey, ActionSubmitUpdate, req)
	if err != nil {
		c.records.Discard(intentID)
		if IsAuthError(err) {
			c.teardownLocked()
		}
		return kpi.Submission{}, err
	}

	if rowID := ackRowID(ack); rowID != "" {
		c.records.Confirm(intentID, rowID)
		sub.RowID = rowID
	}
	c.scheduleRefetchLocked()
	return sub, nil
}

// SubmitDecision sends a reviewer verdict and schedules a re-fetch.
// Decisions are not overlaid optimistically; the settled row arrives
// with the next snapshot.
func (c *Client) SubmitDecision(ctx context.Context, req review.DecisionRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ErrNotLoggedIn
	}
	if err := req.Validate(); err != nil {
		return err
	}

	_, err := c.gateway.PostAction(ctx, c.current.AuthKey, ActionSubmitFeedback, req)
	if err != nil {
		if IsAuthError(err) {
			c.teardownLocked()
		}
		return err
	}
	c.scheduleRefetchLocked()
	return nil
}

// History returns the cached history with queued intents overlaid.
func (c *Client) History() []kpi.Submission {
	return c.records.EffectiveHistory()
}

// PendingIntents exposes writes still awaiting reconciliation.
func (c *Client) PendingIntents() []WriteIntent {
	return c.records.Pending()
}

// ExportSummary downloads the admin summary PDF. Requires an admin
// session; employees get an auth error back from the server.
func (c *Client) ExportSummary(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, ErrNotLoggedIn
	}
	// Forbidden means wrong role, not a dead credential, so the
	// session stays intact on auth errors here.
	return c.gateway.FetchSummaryPDF(ctx, c.current.AuthKey)
}

// Logout notifies the server on a best effort basis and clears all
// local state.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gateway.Logout(ctx)
	c.teardownLocked()
	return nil
}

func (c *Client) teardownLocked() {
	if err := c.session.Clear(); err != nil {
		c.logger.Warn("session not cleared", "err", err)
	}
	c.current = nil
	c.records.Clear()
	if c.refetch != nil {
		c.refetch.Stop()
		c.refetch = nil
	}
}

// scheduleRefetchLocked arms (or re-arms) the delayed reconciliation
// fetch after an accepted write.
func (c *Client) scheduleRefetchLocked() {
	if c.refetch != nil {
		c.refetch.Stop()
	}
	c.refetch = time.AfterFunc(refetchDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if _, err := c.Refresh(ctx); err != nil {
			c.logger.Debug("reconciling refresh failed", "err", err)
		}
	})
}

func findKPI(kpis []kpi.KPI, id string) (kpi.KPI, bool) {
	for _, k := range kpis {
		if k.ID == id {
			return k, true
		}
	}
	return kpi.KPI{}, false
}

func ackRowID(ack json.RawMessage) string {
	var body struct {
		RowID string `json:"rowId"`
	}
	if err := json.Unmarshal(ack, &body); err != nil {
		return ""
	}
	return body.RowID
}
