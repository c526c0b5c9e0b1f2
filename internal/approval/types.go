package approval

import (
	"time"
)

// Status represents the state of an approval request.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusDenied    Status = "denied"
	StatusTimedOut  Status = "timed_out"
	StatusAbandoned Status = "abandoned"
)

// Prompt describes the signature awaiting a decision.
type Prompt struct {
	ConnID      string
	Key         string
	Fingerprint string
	Rule        string
	Text        string
}

// Request represents a pending human approval request.
type Request struct {
	ID          string     `json:"id"`
	CreatedAt   time.Time  `json:"created_at"`
	ConnID      string     `json:"conn_id,omitempty"`
	Key         string     `json:"key"`
	Fingerprint string     `json:"fingerprint,omitempty"`
	Rule        string     `json:"rule"`
	Text        string     `json:"text"`
	Status      Status     `json:"status"`
	DecidedAt   *time.Time `json:"decided_at,omitempty"`

	// done is signaled when the request is resolved
	done chan struct{}
}

// Wait returns a channel closed when the request is resolved.
func (r *Request) Wait() <-chan struct{} {
	return r.done
}
