package domain

import (
	"fmt"
	"time"
)

// ApprovalStatus is owned by the external event-approval subsystem.
type ApprovalStatus string

const (
	ApprovalStatusPending   ApprovalStatus = "pending"
	ApprovalStatusApproved  ApprovalStatus = "approved"
	ApprovalStatusRejected  ApprovalStatus = "rejected"
	ApprovalStatusCancelled ApprovalStatus = "cancelled"
)

type EventDate struct {
	ID       string         `json:"id"`
	StartsAt time.Time      `json:"starts_at"`
	Status   ApprovalStatus `json:"status"`
}

// Event is the read-only approval view of an event and its dates.
type Event struct {
	ID     string         `json:"id"`
	Status ApprovalStatus `json:"status"`
	Dates  []EventDate    `json:"dates"`
}

func (e *Event) Date(id string) (EventDate, bool) {
	for _, d := range e.Dates {
		if d.ID == id {
			return d, true
		}
	}
	return EventDate{}, false
}

// Approved reports whether both the event and the given date are approved.
func (e *Event) Approved(dateID string) bool {
	if e.Status != ApprovalStatusApproved {
		return false
	}
	d, ok := e.Date(dateID)
	return ok && d.Status == ApprovalStatusApproved
}

type ApprovalKind string

const (
	ApprovalKindEvent ApprovalKind = "event"
	ApprovalKindDate  ApprovalKind = "date"
)

// ApprovalNotice is sent by the approval subsystem after it changes the
// status of an event or one of its dates.
type ApprovalNotice struct {
	Kind    ApprovalKind   `json:"kind"`
	EventID string         `json:"event_id"`
	DateID  string         `json:"date_id,omitempty"`
	Status  ApprovalStatus `json:"status"`
}

func (n ApprovalNotice) Validate() error {
	switch n.Kind {
	case ApprovalKindEvent:
		if n.EventID == "" {
			return fmt.Errorf("%w: event_id is required", ErrValidation)
		}
	case ApprovalKindDate:
		if n.DateID == "" {
			return fmt.Errorf("%w: date_id is required", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown approval kind %q", ErrValidation, n.Kind)
	}
	switch n.Status {
	case ApprovalStatusPending, ApprovalStatusApproved, ApprovalStatusRejected, ApprovalStatusCancelled:
		return nil
	}
	return fmt.Errorf("%w: unknown approval status %q", ErrValidation, n.Status)
}
