package client

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"kpiboard/internal/domain/kpi"
)

// IntentState tracks the lifecycle of an optimistic write.
type IntentState string

const (
	IntentQueued    IntentState = "queued"
	IntentConfirmed IntentState = "confirmed"
	IntentReverted  IntentState = "reverted"
)

// revertAfterFetches is how many authoritative snapshots may arrive
// without an intent's row before the store gives up on it. The first
// snapshot after queueing may have been requested before the write
// landed, so one miss is tolerated.
const revertAfterFetches = 2

// WriteIntent records a change the client has sent but not yet seen
// reflected in a server snapshot. Queued intents are overlaid on the
// snapshot so the caller sees their own writes immediately.
type WriteIntent struct {
	ID         string
	Action     string
	Submission kpi.Submission
	State      IntentState
	CreatedAt  time.Time

	// gen is the snapshot generation the intent was queued after.
	gen uint64
}

// RecordStore holds the latest snapshot plus pending write intents.
// All methods are safe for concurrent use.
type RecordStore struct {
	mu       sync.RWMutex
	snapshot kpi.Snapshot
	loaded   bool
	gen      uint64
	intents  []WriteIntent
	reverted []WriteIntent
}

func NewRecordStore() *RecordStore {
	return &RecordStore{}
}

// SetSnapshot replaces the cached snapshot and reconciles pending
// intents against it: an intent whose row appears in the server
// history is confirmed and dropped, one whose row is still absent
// after revertAfterFetches snapshots is reverted. Reverted intents
// wait in a side list until TakeReverted collects them, so the
// failure is surfaced exactly once.
func (s *RecordStore) SetSnapshot(snap kpi.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshot = snap
	s.loaded = true
	s.gen++

	seen := make(map[string]bool, len(snap.SubmissionHistory))
	for _, sub := range snap.SubmissionHistory {
		seen[sub.RowID] = true
	}

	kept := s.intents[:0]
	for _, intent := range s.intents {
		switch {
		case seen[intent.Submission.RowID]:
			// The authoritative row arrived; the overlay copy is no
			// longer needed.
		case s.gen >= intent.gen+revertAfterFetches:
			intent.State = IntentReverted
			s.reverted = append(s.reverted, intent)
		default:
			kept = append(kept, intent)
		}
	}
	s.intents = kept
}

// Snapshot returns the cached snapshot and whether one has been
// loaded since the last clear.
func (s *RecordStore) Snapshot() (kpi.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot, s.loaded
}

// Queue records an optimistic write and returns the intent ID.
func (s *RecordStore) Queue(action string, sub kpi.Submission) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	intent := WriteIntent{
		ID:         uuid.NewString(),
		Action:     action,
		Submission: sub,
		State:      IntentQueued,
		CreatedAt:  time.Now().UTC(),
		gen:        s.gen,
	}
	s.intents = append(s.intents, intent)
	return intent.ID
}

// Confirm binds a queued intent to the row ID the server assigned.
// The intent still waits for its row to show up in a snapshot before
// it leaves the overlay.
func (s *RecordStore) Confirm(intentID, rowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.intents {
		if s.intents[i].ID == intentID {
			s.intents[i].Submission.RowID = rowID
			s.intents[i].State = IntentConfirmed
			return
		}
	}
}

// Discard removes an intent whose action the server rejected outright.
// The caller already holds the error, so nothing is queued for later
// surfacing.
func (s *RecordStore) Discard(intentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.intents {
		if s.intents[i].ID == intentID {
			s.intents = append(s.intents[:i], s.intents[i+1:]...)
			return
		}
	}
}

// Pending returns the intents still awaiting server confirmation.
func (s *RecordStore) Pending() []WriteIntent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]WriteIntent, len(s.intents))
	copy(out, s.intents)
	return out
}

// TakeReverted drains the intents that reconciliation gave up on.
// Each reverted intent is returned exactly once.
func (s *RecordStore) TakeReverted() []WriteIntent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.reverted
	s.reverted = nil
	return out
}

// EffectiveHistory is the server history with queued submission
// intents appended, newest last, so callers render their own pending
// writes without waiting for the next fetch.
func (s *RecordStore) EffectiveHistory() []kpi.Submission {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := make([]kpi.Submission, len(s.snapshot.SubmissionHistory))
	copy(history, s.snapshot.SubmissionHistory)

	present := make(map[string]bool, len(history))
	for _, sub := range history {
		present[sub.RowID] = true
	}
	for _, intent := range s.intents {
		if present[intent.Submission.RowID] {
			continue
		}
		history = append(history, intent.Submission)
	}
	return history
}

// Clear drops the snapshot and every intent, used on logout and on
// auth failure.
func (s *RecordStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = kpi.Snapshot{}
	s.loaded = false
	s.gen = 0
	s.intents = nil
	s.reverted = nil
}
