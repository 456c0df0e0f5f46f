// Package catalog provides read access to the event approval subsystem.
package catalog

import (
	"context"
	"sync"

	"github.com/rl1809/ticket-escrow/internal/core/domain"
)

// Memory is an in-process catalog for development and tests.
type Memory struct {
	mu     sync.RWMutex
	events map[string]*domain.Event
}

func NewMemory(events ...*domain.Event) *Memory {
	m := &Memory{events: make(map[string]*domain.Event)}
	for _, e := range events {
		m.Put(e)
	}
	return m
}

func (m *Memory) Put(e *domain.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.ID] = copyEvent(e)
}

func (m *Memory) GetEventByID(ctx context.Context, id string) (*domain.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.events[id]
	if !ok {
		return nil, nil
	}
	return copyEvent(e), nil
}

// Record applies an approval notice to the stored statuses. Notices for
// unknown events or dates are ignored.
func (m *Memory) Record(n domain.ApprovalNotice) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.events {
		if n.Kind == domain.ApprovalKindEvent && e.ID == n.EventID {
			e.Status = n.Status
			return
		}
		if n.Kind != domain.ApprovalKindDate {
			continue
		}
		for i := range e.Dates {
			if e.Dates[i].ID == n.DateID {
				e.Dates[i].Status = n.Status
				return
			}
		}
	}
}

func copyEvent(e *domain.Event) *domain.Event {
	c := *e
	c.Dates = append([]domain.EventDate(nil), e.Dates...)
	return &c
}

// ApprovalHandler reacts to approval notices.
type ApprovalHandler interface {
	HandleApproval(ctx context.Context, n domain.ApprovalNotice) (int, error)
}

// Recording returns a handler that records each notice in m before passing
// it on, so a memory catalog follows the notices it is sent.
func (m *Memory) Recording(next ApprovalHandler) ApprovalHandler {
	return recording{m: m, next: next}
}

type recording struct {
	m    *Memory
	next ApprovalHandler
}

func (r recording) HandleApproval(ctx context.Context, n domain.ApprovalNotice) (int, error) {
	if err := n.Validate(); err != nil {
		return 0, err
	}
	r.m.Record(n)
	return r.next.HandleApproval(ctx, n)
}
