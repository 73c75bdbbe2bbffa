package transport

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"studiomic/internal/protocol"
)

var errDuplicateID = errors.New("correlation id already registered")

// NewCorrelationID mints an opaque id for one in-flight request.
func NewCorrelationID() string {
	return uuid.NewString()
}

type outcome struct {
	reply protocol.Reply
	err   error
}

// registry holds one-shot listeners keyed by correlation id. It is the only
// place a reply is matched to a waiter, so each id resolves at most once.
type registry struct {
	mu      sync.Mutex
	pending map[string]chan outcome
}

func newRegistry() *registry {
	return &registry{pending: make(map[string]chan outcome)}
}

func (r *registry) register(id string) (<-chan outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[id]; ok {
		return nil, errDuplicateID
	}
	ch := make(chan outcome, 1)
	r.pending[id] = ch
	return ch, nil
}

// deliver resolves the listener for id and removes it. It reports false when
// no listener is registered, in which case the outcome is dropped.
func (r *registry) deliver(id string, out outcome) bool {
	r.mu.Lock()
	ch, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	ch <- out
	return true
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

// failAll resolves every pending listener with err.
func (r *registry) failAll(err error) int {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[string]chan outcome)
	r.mu.Unlock()

	for _, ch := range pending {
		ch <- outcome{err: err}
	}
	return len(pending)
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
