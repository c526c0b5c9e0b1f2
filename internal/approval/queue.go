// Package approval holds signatures awaiting a decision from the web
// dashboard.
package approval

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultHistory is how many resolved requests are kept for display.
const DefaultHistory = 100

// Queue manages pending approval requests.
type Queue struct {
	mu       sync.RWMutex
	requests map[string]*Request
	order    []string
	timeout  time.Duration
	history  int

	// Subscribers for real-time updates
	subMu   sync.RWMutex
	subs    map[int]chan *Request
	nextSub int
}

// NewQueue creates a new approval queue with the given timeout.
func NewQueue(timeout time.Duration) *Queue {
	return &Queue{
		requests: make(map[string]*Request),
		timeout:  timeout,
		history:  DefaultHistory,
		subs:     make(map[int]chan *Request),
	}
}

// Submit creates a new approval request and blocks until it is resolved,
// times out, or ctx is done. The returned status is never StatusPending.
func (q *Queue) Submit(ctx context.Context, p Prompt) (Status, error) {
	req := q.enqueue(p)

	// Notify subscribers
	q.notifySubscribers(req)

	timer := time.NewTimer(q.timeout)
	defer timer.Stop()

	select {
	case <-req.Wait():
		q.mu.RLock()
		defer q.mu.RUnlock()
		return req.Status, nil

	case <-timer.C:
		return q.expire(req, StatusTimedOut), nil

	case <-ctx.Done():
		return q.expire(req, StatusAbandoned), ctx.Err()
	}
}

func (q *Queue) enqueue(p Prompt) *Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	req := &Request{
		ID:          uuid.NewString(),
		CreatedAt:   time.Now(),
		ConnID:      p.ConnID,
		Key:         p.Key,
		Fingerprint: p.Fingerprint,
		Rule:        p.Rule,
		Text:        p.Text,
		Status:      StatusPending,
		done:        make(chan struct{}),
	}
	q.requests[req.ID] = req
	q.order = append(q.order, req.ID)
	q.prune()
	return req
}

// expire resolves req with status unless a decision raced in first, and
// returns the final status.
func (q *Queue) expire(req *Request, status Status) Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	if req.Status != StatusPending {
		return req.Status
	}
	q.settle(req, status)
	return status
}

// Approve marks a request as approved.
func (q *Queue) Approve(id string) error {
	return q.resolve(id, StatusApproved)
}

// Deny marks a request as denied.
func (q *Queue) Deny(id string) error {
	return q.resolve(id, StatusDenied)
}

func (q *Queue) resolve(id string, status Status) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	req, ok := q.requests[id]
	if !ok {
		return fmt.Errorf("approval request %q not found", id)
	}
	if req.Status != StatusPending {
		return fmt.Errorf("approval request %q already resolved: %s", id, req.Status)
	}
	q.settle(req, status)
	return nil
}

// settle must be called with q.mu held.
func (q *Queue) settle(req *Request, status Status) {
	req.Status = status
	now := time.Now()
	req.DecidedAt = &now
	close(req.done)
}

// prune drops the oldest resolved requests beyond the history limit.
// Must be called with q.mu held.
func (q *Queue) prune() {
	resolved := 0
	for _, id := range q.order {
		if q.requests[id].Status != StatusPending {
			resolved++
		}
	}
	if resolved <= q.history {
		return
	}
	excess := resolved - q.history
	q.order = slices.DeleteFunc(q.order, func(id string) bool {
		if excess > 0 && q.requests[id].Status != StatusPending {
			delete(q.requests, id)
			excess--
			return true
		}
		return false
	})
}

// Get returns a copy of the request with the given ID.
func (q *Queue) Get(id string) (*Request, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	req, ok := q.requests[id]
	if !ok {
		return nil, false
	}
	snapshot := *req
	return &snapshot, true
}

// Pending returns copies of all pending approval requests, oldest first.
func (q *Queue) Pending() []*Request {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var pending []*Request
	for _, id := range q.order {
		if req := q.requests[id]; req.Status == StatusPending {
			snapshot := *req
			pending = append(pending, &snapshot)
		}
	}
	return pending
}

// All returns copies of all retained requests, oldest first (for dashboard
// history).
func (q *Queue) All() []*Request {
	q.mu.RLock()
	defer q.mu.RUnlock()

	all := make([]*Request, 0, len(q.order))
	for _, id := range q.order {
		snapshot := *q.requests[id]
		all = append(all, &snapshot)
	}
	return all
}

// Subscribe returns a channel that receives new approval requests.
func (q *Queue) Subscribe() (<-chan *Request, func()) {
	q.subMu.Lock()
	defer q.subMu.Unlock()

	ch := make(chan *Request, 50)
	id := q.nextSub
	q.nextSub++
	q.subs[id] = ch

	cancel := func() {
		q.subMu.Lock()
		defer q.subMu.Unlock()
		delete(q.subs, id)
		close(ch)
	}

	return ch, cancel
}

func (q *Queue) notifySubscribers(req *Request) {
	q.subMu.RLock()
	defer q.subMu.RUnlock()

	for _, ch := range q.subs {
		select {
		case ch <- req:
		default:
		}
	}
}
