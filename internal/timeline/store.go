package timeline

import "sync"

// Store hands out one Collection per partition key. Keys like "home",
// "public:media", "hashtag:<tag>" or "notifications" are opaque here; only
// equality matters.
type Store struct {
	maxQueued int

	mu          sync.Mutex
	collections map[string]*Collection
}

func NewStore(maxQueued int) *Store {
	return &Store{
		maxQueued:   maxQueued,
		collections: make(map[string]*Collection),
	}
}

// Get returns the collection for a key, creating it on first use.
func (s *Store) Get(id string) *Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[id]
	if !ok {
		c = newCollection(id, s.maxQueued)
		s.collections[id] = c
	}
	return c
}

// All returns the live collections, for operations that touch every feed
// such as evicting a deleted status.
func (s *Store) All() []*Collection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Collection, 0, len(s.collections))
	for _, c := range s.collections {
		out = append(out, c)
	}
	return out
}

// RemoveEverywhere drops an id from every collection and returns the keys
// that changed.
func (s *Store) RemoveEverywhere(id string) []string {
	var changed []string
	for _, c := range s.All() {
		if c.Remove(id) {
			changed = append(changed, c.ID())
		}
	}
	return changed
}
