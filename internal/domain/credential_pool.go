// Package domain contains the core business entities and value objects.
package domain

import (
	"sync"
	"sync/atomic"
)

// CredentialPool implements a thread-safe circular buffer for round-robin
// credential selection. Insertion order is fixed at construction time.
type CredentialPool struct {
	// credentials holds the session credentials in load order.
	credentials []*Credential

	// bySessionKey indexes credentials for organization id updates.
	bySessionKey map[string]*Credential

	// index is the atomic counter for round-robin selection.
	index uint64

	// mu protects the organization ids stored on the credentials.
	mu sync.RWMutex
}

// NewCredentialPool creates a pool from the given credentials.
// Empty session keys are skipped and duplicates keep their first position.
func NewCredentialPool(credentials []Credential) *CredentialPool {
	p := &CredentialPool{
		credentials:  make([]*Credential, 0, len(credentials)),
		bySessionKey: make(map[string]*Credential, len(credentials)),
	}

	for _, c := range credentials {
		if c.SessionKey == "" {
			continue
		}
		if _, exists := p.bySessionKey[c.SessionKey]; exists {
			continue
		}
		cred := &Credential{
			SessionKey:     c.SessionKey,
			OrganizationID: c.OrganizationID,
		}
		p.credentials = append(p.credentials, cred)
		p.bySessionKey[cred.SessionKey] = cred
	}

	return p
}

// Next returns a snapshot of the credential at the cursor and advances it.
// Returns ErrPoolExhausted if the pool is empty.
//
// The cursor is a lock-free atomic increment; the returned value is a copy so
// callers never race with SetOrganizationID.
func (p *CredentialPool) Next() (Credential, error) {
	n := uint64(len(p.credentials))
	if n == 0 {
		return Credential{}, ErrPoolExhausted
	}

	// atomic.AddUint64 returns the NEW value, so subtract 1 for the current index
	idx := (atomic.AddUint64(&p.index, 1) - 1) % n

	p.mu.RLock()
	defer p.mu.RUnlock()
	return *p.credentials[idx], nil
}

// SetOrganizationID caches the organization id for the credential identified
// by sessionKey. Unknown keys are ignored.
func (p *CredentialPool) SetOrganizationID(sessionKey, orgID string) {
	cred, ok := p.bySessionKey[sessionKey]
	if !ok {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	cred.OrganizationID = orgID
}

// OrganizationID returns the cached organization id for sessionKey.
func (p *CredentialPool) OrganizationID(sessionKey string) (string, bool) {
	cred, ok := p.bySessionKey[sessionKey]
	if !ok {
		return "", false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return cred.OrganizationID, cred.OrganizationID != ""
}

// Size returns the number of credentials in the pool.
func (p *CredentialPool) Size() int {
	return len(p.credentials)
}

// ResolvedCount returns how many credentials already have an organization id.
func (p *CredentialPool) ResolvedCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	resolved := 0
	for _, c := range p.credentials {
		if c.OrganizationID != "" {
			resolved++
		}
	}
	return resolved
}

// Snapshot returns a copy of every credential in insertion order.
// Useful for diagnostics and the orgs command.
func (p *CredentialPool) Snapshot() []Credential {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]Credential, len(p.credentials))
	for i, c := range p.credentials {
		result[i] = *c
	}
	return result
}
