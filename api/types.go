package api

import "time"

// Verdict represents the outcome of an allow-list evaluation.
type Verdict string

const (
	VerdictAllow   Verdict = "allow"
	VerdictDeny    Verdict = "deny"
	VerdictConfirm Verdict = "confirm" // allow after interactive confirmation
)

// AuditRecord represents a single request handled by the filter. Verdict is
// the final decision: a confirmed signature is recorded as VerdictConfirm,
// a refused confirmation as VerdictDeny with Confirmation set.
type AuditRecord struct {
	ID           string        `json:"id"`
	Timestamp    time.Time     `json:"timestamp"`
	ConnID       string        `json:"conn_id,omitempty"`
	Method       string        `json:"method"`
	Key          string        `json:"key,omitempty"`
	Fingerprint  string        `json:"fingerprint,omitempty"`
	Verdict      Verdict       `json:"verdict"`
	Rule         string        `json:"rule,omitempty"`
	Message      string        `json:"message,omitempty"`
	Confirmation string        `json:"confirmation,omitempty"`
	Upstream     bool          `json:"upstream,omitempty"`
	RawSize      int           `json:"raw_size,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
}

// CheckRequest is used by the CLI `check` command and the dashboard API.
// Key is an authorized_keys line or a base64 key blob.
type CheckRequest struct {
	Comment string `json:"comment,omitempty"`
	Key     string `json:"key,omitempty"`
}

// CheckResponse is the result of an allow-list check.
type CheckResponse struct {
	Verdict     Verdict `json:"verdict"`
	Rule        string  `json:"rule,omitempty"`
	Message     string  `json:"message,omitempty"`
	Fingerprint string  `json:"fingerprint,omitempty"`
}
