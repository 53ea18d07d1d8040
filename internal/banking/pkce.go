package banking

import (
	"sync"
	"time"
)

type verifierEntry struct {
	verifier  string
	expiresAt time.Time
}

// VerifierCache keeps PKCE code verifiers between the authorization redirect
// and the callback. Entries are single use.
type VerifierCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]verifierEntry
}

// NewVerifierCache creates a cache whose entries live for ttl
func NewVerifierCache(ttl time.Duration) *VerifierCache {
	return &VerifierCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]verifierEntry),
	}
}

func verifierKey(bank, state string) string {
	return bank + "\x00" + state
}

// Put stores verifier under (bank, state) and drops expired entries
func (c *VerifierCache) Put(bank, state, verifier string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.entries[verifierKey(bank, state)] = verifierEntry{verifier: verifier, expiresAt: now.Add(c.ttl)}
}

// Take returns and removes the verifier. Expired entries are not returned.
func (c *VerifierCache) Take(bank, state string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := verifierKey(bank, state)
	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	delete(c.entries, key)
	if c.now().After(e.expiresAt) {
		return "", false
	}
	return e.verifier, true
}

// Len returns the number of stored entries
func (c *VerifierCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
