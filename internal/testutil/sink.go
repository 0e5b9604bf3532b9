package testutil

import (
	"sync"

	"github.com/roach88/datasync/internal/notify"
)

// RecordingSink is a notify.Sink that keeps every notification in order.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type RecordingSink struct {
	mu     sync.Mutex
	events []notify.Notification
}

// NewRecordingSink creates an empty sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

// Notify implements notify.Sink.
func (s *RecordingSink) Notify(n notify.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, n)
}

// Events returns a copy of every notification received.
func (s *RecordingSink) Events() []notify.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notify.Notification, len(s.events))
	copy(out, s.events)
	return out
}

// Kinds returns the kinds received, in order.
func (s *RecordingSink) Kinds() []notify.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notify.Kind, len(s.events))
	for i, e := range s.events {
		out[i] = e.Kind
	}
	return out
}

// OfKind returns the notifications of one kind, in order.
func (s *RecordingSink) OfKind(kind notify.Kind) []notify.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notify.Notification
	for _, e := range s.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Count returns the number of notifications of one kind.
func (s *RecordingSink) Count(kind notify.Kind) int {
	return len(s.OfKind(kind))
}

// Reset drops everything recorded so far.
func (s *RecordingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
