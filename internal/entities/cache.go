package entities

import "sync"

// Cache is the shared normalized entity store. Collections hold ids only;
// bodies live here, keyed by id with last-writer-wins semantics. Server
// entities are immutable snapshots, so replacing whole values is safe.
type Cache struct {
	mu            sync.RWMutex
	statuses      map[string]*Status
	accounts      map[string]*Account
	relationships map[string]*Relationship
}

func NewCache() *Cache {
	return &Cache{
		statuses:      make(map[string]*Status),
		accounts:      make(map[string]*Account),
		relationships: make(map[string]*Relationship),
	}
}

// UpsertStatus stores a status and every entity nested in it (author account,
// boosted status and its author).
func (c *Cache) UpsertStatus(s *Status) {
	if s == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upsertStatusLocked(s)
}

func (c *Cache) upsertStatusLocked(s *Status) {
	c.statuses[s.ID] = s
	acct := s.Account
	c.accounts[acct.ID] = &acct
	if s.Reblog != nil {
		c.upsertStatusLocked(s.Reblog)
	}
}

// PatchStatus replaces the body of an already-cached status in place, used by
// live edit events. Returns false when the status was never cached; edits for
// unknown statuses carry no ordering information and are dropped upstream.
func (c *Cache) PatchStatus(s *Status) bool {
	if s == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.statuses[s.ID]; !ok {
		return false
	}
	c.upsertStatusLocked(s)
	return true
}

// UpsertNotification stores the entities referenced by a notification.
func (c *Cache) UpsertNotification(n *Notification) {
	if n == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	acct := n.Account
	c.accounts[acct.ID] = &acct
	if n.Status != nil {
		c.upsertStatusLocked(n.Status)
	}
}

func (c *Cache) Status(id string) (*Status, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.statuses[id]
	return s, ok
}

func (c *Cache) Account(id string) (*Account, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.accounts[id]
	return a, ok
}

// RemoveStatus drops a status body. Callers decide separately whether the id
// leaves any collections.
func (c *Cache) RemoveStatus(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.statuses, id)
}

// UpsertRelationship stores a relationship keyed by the remote account id.
func (c *Cache) UpsertRelationship(r *Relationship) {
	if r == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.relationships[r.ID] = r
}

func (c *Cache) Relationship(accountID string) (*Relationship, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.relationships[accountID]
	return r, ok
}

// Len reports cached status and account counts, for the stats command.
func (c *Cache) Len() (statuses, accounts int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.statuses), len(c.accounts)
}
