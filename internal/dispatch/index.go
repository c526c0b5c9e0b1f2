package dispatch

import (
	"sync"

	"github.com/tkingovr/ssh-agent-guard/internal/agentproto"
)

// IdentityIndex remembers the comment the upstream agent reported for each
// key blob, so sign requests can be checked without asking upstream.
type IdentityIndex struct {
	mu     sync.RWMutex
	byBlob map[string]*agentproto.Identity
}

// NewIdentityIndex creates an empty index.
func NewIdentityIndex() *IdentityIndex {
	return &IdentityIndex{byBlob: make(map[string]*agentproto.Identity)}
}

// Update replaces the index with the given identity list.
func (x *IdentityIndex) Update(ids []*agentproto.Identity) {
	m := make(map[string]*agentproto.Identity, len(ids))
	for _, id := range ids {
		m[string(id.Blob)] = id
	}
	x.mu.Lock()
	x.byBlob = m
	x.mu.Unlock()
}

// Resolve returns the identity for blob. Unknown blobs resolve to an
// identity with an empty comment.
func (x *IdentityIndex) Resolve(blob []byte) *agentproto.Identity {
	x.mu.RLock()
	id, ok := x.byBlob[string(blob)]
	x.mu.RUnlock()
	if ok {
		return id
	}
	return &agentproto.Identity{Blob: blob}
}

// Len returns the number of indexed identities.
func (x *IdentityIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byBlob)
}
