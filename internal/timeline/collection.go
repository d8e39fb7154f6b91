// Package timeline holds the ordered id collections behind every feed view:
// home/public/hashtag timelines, notifications, conversations. Collections
// store identifiers only; entity bodies live in the shared cache.
package timeline

import "sync"

// DefaultMaxQueued bounds the pending queue. Past this the backlog is
// considered stale and a full resync replaces incremental dequeue.
const DefaultMaxQueued = 40

// Cursor is an opaque pagination token owned exclusively by REST expand
// calls. Push-delivered items never carry or update one.
type Cursor string

// IngestResult reports what Ingest did with an item.
type IngestResult int

const (
	IngestMerged IngestResult = iota
	IngestQueued
	IngestDuplicate
)

// DequeueResult is the outcome of a dequeue trigger.
type DequeueResult struct {
	// Spliced holds ids moved from the queue into the visible items,
	// newest first. Empty when nothing was queued or a resync is needed.
	Spliced []string

	// NeedsResync is set when the queue overflowed. The collection has been
	// cleared and the caller must fetch from scratch (cursor = none).
	NeedsResync bool
}

// Collection is one named ordered set of item ids plus its pagination and
// queue state. All methods are safe for concurrent use.
type Collection struct {
	id        string
	maxQueued int

	mu      sync.Mutex
	items   []string
	index   map[string]struct{}
	queue   []string
	queuedN int // queue length plus duplicates coalesced into queued entries
	next    Cursor
	prev    Cursor
	loading bool

	// Newest id that arrived via a REST page rather than push. Backward
	// since_id fetches start here so a range already delivered over the
	// stream is not requested twice.
	lastRestID string
}

func newCollection(id string, maxQueued int) *Collection {
	if maxQueued <= 0 {
		maxQueued = DefaultMaxQueued
	}
	return &Collection{
		id:        id,
		maxQueued: maxQueued,
		index:     make(map[string]struct{}),
	}
}

// ID returns the collection's partition key.
func (c *Collection) ID() string { return c.id }

// Ingest merges one push-delivered id. Push items are always newer than
// everything held (the transport guarantees emission order), so merged items
// go to the front without timestamp comparison. When suppress is set the id
// is routed to the pending queue instead of being shown immediately.
func (c *Collection) Ingest(id string, suppress bool) IngestResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.index[id]; ok {
		return IngestDuplicate
	}

	if suppress {
		for _, q := range c.queue {
			if q == id {
				// Already queued: fold into the existing entry. The
				// counter still moves so overflow detection sees the
				// full inbound volume.
				c.queuedN++
				return IngestQueued
			}
		}
		c.queue = append(c.queue, id)
		c.queuedN++
		return IngestQueued
	}

	c.pushFrontLocked(id)
	return IngestMerged
}

// Dequeue moves queued ids into the visible items, invoked on a user-visible
// trigger such as a "show new posts" tap. Queued ids are replayed in their
// recorded order, each merging at the front, so the result stays newest
// first. Overflow clears everything and demands a full resync instead.
func (c *Collection) Dequeue() DequeueResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.queuedN == 0 {
		return DequeueResult{}
	}

	if c.queuedN > c.maxQueued {
		c.clearLocked()
		return DequeueResult{NeedsResync: true}
	}

	spliced := make([]string, 0, len(c.queue))
	for _, id := range c.queue {
		if _, ok := c.index[id]; ok {
			continue
		}
		c.pushFrontLocked(id)
		spliced = append(spliced, id)
	}
	c.queue = nil
	c.queuedN = 0
	return DequeueResult{Spliced: spliced}
}

// QueuedCount returns the pending-queue counter, including coalesced
// duplicates folded into existing queued entries.
func (c *Collection) QueuedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queuedN
}

// MergeOlder appends a REST page fetched past the older boundary (max_id
// direction). Already-held ids are skipped; page order is preserved. The
// next cursor is replaced with the page's.
func (c *Collection) MergeOlder(ids []string, next Cursor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range ids {
		if _, ok := c.index[id]; ok {
			continue
		}
		c.items = append(c.items, id)
		c.index[id] = struct{}{}
	}
	c.next = next
	if c.lastRestID == "" && len(ids) > 0 {
		c.lastRestID = ids[0]
	}
}

// MergeNewer prepends a REST page that fills the gap above the newest
// REST-originated id, e.g. after a reconnect. The page is expected newest
// first; held ids (typically push-delivered during the gap fetch) are
// skipped.
func (c *Collection) MergeNewer(ids []string, prev Cursor) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fresh := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := c.index[id]; ok {
			continue
		}
		fresh = append(fresh, id)
	}
	if len(fresh) > 0 {
		c.items = append(fresh, c.items...)
		for _, id := range fresh {
			c.index[id] = struct{}{}
		}
	}
	if prev != "" {
		c.prev = prev
	}
	if len(ids) > 0 {
		c.lastRestID = ids[0]
	}
}

// Remove drops an id from the visible items and the queue. Returns whether
// anything changed.
func (c *Collection) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := false
	if _, ok := c.index[id]; ok {
		delete(c.index, id)
		for i, held := range c.items {
			if held == id {
				c.items = append(c.items[:i], c.items[i+1:]...)
				break
			}
		}
		changed = true
	}
	for i, q := range c.queue {
		if q == id {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			c.queuedN--
			changed = true
			break
		}
	}
	return changed
}

// Contains reports membership in the visible items.
func (c *Collection) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index[id]
	return ok
}

// Items returns a copy of the visible ids, newest first.
func (c *Collection) Items() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.items))
	copy(out, c.items)
	return out
}

// SinceID returns the id a gap-fill fetch should pass as since_id: the
// newest REST-originated id, never a push-origin one.
func (c *Collection) SinceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRestID
}

// NewestID returns the id at the front, used for read markers.
func (c *Collection) NewestID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) == 0 {
		return ""
	}
	return c.items[0]
}

// NextCursor returns the older-boundary pagination cursor.
func (c *Collection) NextCursor() Cursor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// BeginLoad flips the advisory loading flag. A second expand for a
// collection already loading must be rejected as a no-op, so duplicate
// in-flight pagination requests cannot corrupt cursor state.
func (c *Collection) BeginLoad() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loading {
		return false
	}
	c.loading = true
	return true
}

// EndLoad clears the loading flag regardless of outcome, so a failed expand
// leaves the collection retryable.
func (c *Collection) EndLoad() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loading = false
}

// Clear empties items, queue and cursors. The collection object itself
// persists across reconnects and resyncs.
func (c *Collection) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

func (c *Collection) clearLocked() {
	c.items = nil
	c.index = make(map[string]struct{})
	c.queue = nil
	c.queuedN = 0
	c.next = ""
	c.prev = ""
	c.lastRestID = ""
}

func (c *Collection) pushFrontLocked(id string) {
	c.items = append([]string{id}, c.items...)
	c.index[id] = struct{}{}
}
