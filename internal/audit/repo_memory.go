package audit

import (
	"context"
	"sync"
)

// MemoryRepo keeps events in a slice. Tests use FailWith to check that
// callers treat audit writes as best-effort.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

// FailWith makes every later Append return err. A nil err restores normal behavior.
func (r *MemoryRepo) FailWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *MemoryRepo) Append(ctx context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of everything appended so far, oldest first.
func (r *MemoryRepo) Events() []Event {
	return r.OfType("")
}

// OfType returns the events of type t, or all events when t is empty.
func (r *MemoryRepo) OfType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, len(r.events))
	for _, e := range r.events {
		if t == "" || e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
