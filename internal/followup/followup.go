// Package followup schedules the deferred "continue conversation" callback
// that re-evaluates whether a silent lead should be re-engaged.
package followup

import (
	"context"
	"errors"
	"time"
)

// ErrTaskNotFound is returned by Cancel when the task no longer exists,
// typically because it already fired.
var ErrTaskNotFound = errors.New("follow-up task not found")

// Payload is the body delivered to the continue-conversation callback.
// LeadID carries the lead's phone number.
type Payload struct {
	BusinessID string `json:"business_id"`
	LeadID     string `json:"lead_id"`
}

// Request describes a follow-up to schedule.
type Request struct {
	BusinessID string
	LeadID     string
	RunAt      time.Time
}

func (r Request) payload() Payload {
	return Payload{BusinessID: r.BusinessID, LeadID: r.LeadID}
}

// Scheduler creates and cancels deferred follow-up tasks.
type Scheduler interface {
	// Schedule registers a callback at req.RunAt and returns its task id.
	Schedule(ctx context.Context, req Request) (string, error)
	// Cancel removes a pending task. It returns ErrTaskNotFound if the task is gone.
	Cancel(ctx context.Context, taskID string) error
}
