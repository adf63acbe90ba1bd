package cluster

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rahulmehra-dev/convoy/pkg/models"
)

var (
	ErrNotFound          = errors.New("submission not found")
	ErrInvalidTransition = errors.New("invalid submission transition")
	ErrNotCancellable    = errors.New("submission is already terminal")
)

// validTransitions encodes the submission state machine. Anything not
// listed is rejected, which makes transitions strictly monotonic and
// terminal states immutable.
var validTransitions = map[string][]string{
	models.StatusSubmitted: {models.StatusScheduled, models.StatusFailed, models.StatusCancelled},
	models.StatusScheduled: {models.StatusRunning, models.StatusCancelled},
	models.StatusRunning:   {models.StatusSucceeded, models.StatusFailed, models.StatusLost},
}

// Table holds every submission record the coordinator knows about, in
// arrival order. The coordinator is the only writer.
type Table struct {
	mu    sync.RWMutex
	subs  map[uuid.UUID]*models.Submission
	order []uuid.UUID

	// cancelRequested tracks RUNNING submissions waiting for the worker
	// to acknowledge an abort, keyed by submission id with the request
	// time for the ack timeout.
	cancelRequested map[uuid.UUID]time.Time
}

func NewTable() *Table {
	return &Table{
		subs:            make(map[uuid.UUID]*models.Submission),
		cancelRequested: make(map[uuid.UUID]time.Time),
	}
}

// Add records a new submission in SUBMITTED state and returns a copy.
func (t *Table) Add(sub *models.Submission) *models.Submission {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC()
	sub.Status = models.StatusSubmitted
	sub.CreatedAt = now
	sub.UpdatedAt = now
	t.subs[sub.ID] = sub
	t.order = append(t.order, sub.ID)

	cp := *sub
	return &cp
}

// Get returns a copy of the submission record.
func (t *Table) Get(id uuid.UUID) (*models.Submission, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	sub, ok := t.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

// List returns copies of all submissions in arrival order.
func (t *Table) List() []*models.Submission {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*models.Submission, 0, len(t.order))
	for _, id := range t.order {
		cp := *t.subs[id]
		out = append(out, &cp)
	}
	return out
}

// InStatus returns copies of submissions currently in the given status,
// in arrival order (FIFO for the scheduler).
func (t *Table) InStatus(status string) []*models.Submission {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*models.Submission
	for _, id := range t.order {
		if sub := t.subs[id]; sub.Status == status {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out
}

// TransitionOption mutates record fields alongside a status transition.
type TransitionOption func(*models.Submission)

func WithWorker(identity string) TransitionOption {
	return func(s *models.Submission) { s.WorkerID = identity }
}

func WithFailureCause(cause string) TransitionOption {
	return func(s *models.Submission) { s.FailureCause = &cause }
}

func WithOutputPath(path string) TransitionOption {
	return func(s *models.Submission) { s.OutputPath = &path }
}

// Transition moves a submission to the given status, enforcing the state
// machine, and returns a copy of the updated record.
func (t *Table) Transition(id uuid.UUID, status string, opts ...TransitionOption) (*models.Submission, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sub, ok := t.subs[id]
	if !ok {
		return nil, ErrNotFound
	}

	allowed := false
	for _, next := range validTransitions[sub.Status] {
		if next == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sub.Status, status)
	}

	now := time.Now().UTC()
	sub.Status = status
	sub.UpdatedAt = now
	switch status {
	case models.StatusScheduled:
		sub.ScheduledAt = &now
	case models.StatusRunning:
		sub.StartedAt = &now
	case models.StatusSucceeded, models.StatusFailed, models.StatusLost, models.StatusCancelled:
		sub.CompletedAt = &now
		delete(t.cancelRequested, id)
	}
	for _, opt := range opts {
		opt(sub)
	}

	cp := *sub
	return &cp, nil
}

// Reassign clears or replaces the worker assignment of a SCHEDULED
// submission without a state transition. Used when the assigned worker is
// lost before acknowledging the artifact reference.
func (t *Table) Reassign(id uuid.UUID, identity string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	sub, ok := t.subs[id]
	if !ok {
		return ErrNotFound
	}
	if sub.Status != models.StatusScheduled {
		return fmt.Errorf("%w: reassign in %s", ErrInvalidTransition, sub.Status)
	}
	sub.WorkerID = identity
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

// RequestCancel flags a RUNNING submission for abort. The flag is cleared
// when the submission reaches a terminal state.
func (t *Table) RequestCancel(id uuid.UUID, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelRequested[id] = now
}

// CancelRequested reports whether an abort was requested for the
// submission, with the request time.
func (t *Table) CancelRequested(id uuid.UUID) (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	at, ok := t.cancelRequested[id]
	return at, ok
}

// PendingCancels returns the ids of flagged submissions assigned to the
// given worker.
func (t *Table) PendingCancels(identity string) []uuid.UUID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []uuid.UUID
	for _, id := range t.order {
		if _, ok := t.cancelRequested[id]; !ok {
			continue
		}
		if t.subs[id].WorkerID == identity {
			out = append(out, id)
		}
	}
	return out
}
