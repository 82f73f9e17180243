package service

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	ErrAlreadyRunning = errors.New("job is already executing")
	ErrRegistryFull   = errors.New("too many active jobs")
)

// Registry tracks executions in flight in this process: at most one per job,
// plus a cancellation flag the executor polls at its checkpoints. The Job
// Store stays the system of record; the flag only short-circuits a re-read.
type Registry struct {
	mu     sync.Mutex
	max    int
	active map[uuid.UUID]*Handle
}

type Handle struct {
	id        uuid.UUID
	cancelled atomic.Bool
	reg       *Registry
}

func NewRegistry(max int) *Registry {
	if max <= 0 {
		max = 1000
	}
	return &Registry{max: max, active: make(map[uuid.UUID]*Handle)}
}

// Acquire claims the execution slot for id. The caller must Release it.
func (r *Registry) Acquire(id uuid.UUID) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[id]; busy {
		return nil, ErrAlreadyRunning
	}
	if len(r.active) >= r.max {
		return nil, ErrRegistryFull
	}
	h := &Handle{id: id, reg: r}
	r.active[id] = h
	return h, nil
}

// Signal flags id as cancelled if it is executing here. Reports whether it was.
func (r *Registry) Signal(id uuid.UUID) bool {
	r.mu.Lock()
	h, ok := r.active[id]
	r.mu.Unlock()
	if ok {
		h.cancelled.Store(true)
	}
	return ok
}

func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func (h *Handle) Cancelled() bool { return h.cancelled.Load() }

func (h *Handle) Release() {
	h.reg.mu.Lock()
	defer h.reg.mu.Unlock()
	if h.reg.active[h.id] == h {
		delete(h.reg.active, h.id)
	}
}
