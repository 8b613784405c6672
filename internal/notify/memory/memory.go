// Package memory provides an in-memory notify.Scheduler used by tests and
// local runs without a notification backend.
package memory

import (
	"context"
	"sync"
	"time"

	"subsum/internal/notify"
)

// Reminder is a scheduled reminder held in memory.
type Reminder struct {
	ID     string
	FireAt time.Time
	Title  string
	Body   string
}

type Scheduler struct {
	mu        sync.Mutex
	reminders map[string]Reminder
}

var _ notify.Scheduler = (*Scheduler)(nil)

func NewScheduler() *Scheduler {
	return &Scheduler{reminders: make(map[string]Reminder)}
}

func (s *Scheduler) Schedule(_ context.Context, id string, fireAt time.Time, title, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminders[id] = Reminder{ID: id, FireAt: fireAt, Title: title, Body: body}
	return nil
}

func (s *Scheduler) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reminders, id)
	return nil
}

func (s *Scheduler) CancelAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminders = make(map[string]Reminder)
	return nil
}

// Pending returns a snapshot of the currently scheduled reminders.
func (s *Scheduler) Pending() []Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Reminder, 0, len(s.reminders))
	for _, r := range s.reminders {
		out = append(out, r)
	}
	return out
}

// Get returns the pending reminder for id, if any.
func (s *Scheduler) Get(id string) (Reminder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	return r, ok
}
