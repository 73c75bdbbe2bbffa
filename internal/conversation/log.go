// Package conversation keeps the ordered history of exchanged messages.
package conversation

import (
	"sync"
	"time"

	"studiomic/internal/domain"
)

// Log is an append-only message list. Entries are never reordered or removed;
// only the fields in domain.StatusPatch change after append.
type Log struct {
	mu      sync.RWMutex
	entries []domain.Message
	index   map[uint64]int
	nextID  uint64
	now     func() time.Time
}

func NewLog() *Log {
	return &Log{index: make(map[uint64]int), now: time.Now}
}

// Append assigns the next id and creation time and stores msg.
func (l *Log) Append(msg domain.Message) domain.Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	msg.ID = l.nextID
	msg.CreatedAt = l.now()
	if msg.Kind == "" {
		msg.Kind = domain.MessageKindText
	}
	l.index[msg.ID] = len(l.entries)
	l.entries = append(l.entries, msg)
	return msg
}

// UpdateStatus applies patch to the entry with id. It reports false and changes
// nothing when id is unknown.
func (l *Log) UpdateStatus(id uint64, patch domain.StatusPatch) (domain.Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.index[id]
	if !ok {
		return domain.Message{}, false
	}
	entry := &l.entries[pos]
	if patch.Playing != nil {
		entry.Playing = *patch.Playing
	}
	return *entry, true
}

// Snapshot returns a copy of every entry in insertion order.
func (l *Log) Snapshot() []domain.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Message, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
