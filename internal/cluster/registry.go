package cluster

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rahulmehra-dev/convoy/pkg/models"
)

// ErrUnknownWorker is returned for heartbeats or task traffic from an
// identity that never registered (or was swept after a liveness timeout).
var ErrUnknownWorker = errors.New("unknown worker")

// Registry is the coordinator's live view of the worker pool. It is
// process-wide state owned exclusively by the coordinator and resets on
// restart. Registration order is captured as a sequence number so that
// scheduling tie-breaks are deterministic.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]*models.Worker
	nextSeq uint64
}

func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]*models.Worker)}
}

// Register adds or refreshes a worker. Repeated registration with the same
// identity is idempotent: capacity is updated, the liveness timestamp
// refreshed, and the original sequence number kept.
func (r *Registry) Register(identity string, capacity int) *models.Worker {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if w, ok := r.workers[identity]; ok {
		w.Capacity = capacity
		w.State = models.WorkerAlive
		w.LastHeartbeat = now
		cp := *w
		return &cp
	}

	r.nextSeq++
	w := &models.Worker{
		Identity:      identity,
		Capacity:      capacity,
		Seq:           r.nextSeq,
		State:         models.WorkerAlive,
		RegisteredAt:  now,
		LastHeartbeat: now,
	}
	r.workers[identity] = w
	cp := *w
	return &cp
}

// Heartbeat refreshes the liveness timestamp for a worker.
func (r *Registry) Heartbeat(identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[identity]
	if !ok {
		return ErrUnknownWorker
	}
	w.LastHeartbeat = time.Now().UTC()
	return nil
}

// Deregister removes a worker record.
func (r *Registry) Deregister(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, identity)
}

// Get returns a copy of the worker record.
func (r *Registry) Get(identity string) (*models.Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workers[identity]
	if !ok {
		return nil, false
	}
	cp := *w
	return &cp, true
}

// List returns copies of all worker records ordered by registration
// sequence. Never by map iteration order: callers rely on the ordering
// for reproducible scheduling.
func (r *Registry) List() []*models.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Worker, 0, len(r.workers))
	for _, w := range r.workers {
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// PickWorker returns the earliest-registered alive worker with a free
// execution slot, or false if none qualifies.
func (r *Registry) PickWorker() (*models.Worker, bool) {
	for _, w := range r.List() {
		if w.State == models.WorkerAlive && w.Free() > 0 {
			return w, true
		}
	}
	return nil, false
}

// Acquire reserves one execution slot on a worker.
func (r *Registry) Acquire(identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[identity]
	if !ok {
		return ErrUnknownWorker
	}
	w.InFlight++
	return nil
}

// Release frees one execution slot. Unknown identities are ignored: the
// worker may have been swept while its work was still finishing.
func (r *Registry) Release(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[identity]
	if !ok {
		return
	}
	if w.InFlight > 0 {
		w.InFlight--
	}
}

// Sweep removes workers whose last heartbeat is older than timeout and
// returns their identities. Gaps shorter than the timeout are tolerated
// silently.
func (r *Registry) Sweep(timeout time.Duration, now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lost []string
	for id, w := range r.workers {
		if now.Sub(w.LastHeartbeat) > timeout {
			lost = append(lost, id)
			delete(r.workers, id)
		}
	}
	sort.Strings(lost)
	return lost
}
