package timeline

import (
	"sort"
	"sync"
	"time"
)

// ConversationList orders direct-message threads by last activity. Unlike id
// collections, conversation updates replace in place and re-sort: a thread
// moves up when a new message lands in it.
type ConversationList struct {
	mu      sync.Mutex
	order   []conversationEntry
	arrival int
}

type conversationEntry struct {
	id       string
	activity time.Time
	arrival  int // insertion order, stable tiebreak
}

func NewConversationList() *ConversationList {
	return &ConversationList{}
}

// Upsert inserts or replaces a conversation by id and re-sorts by activity
// descending, breaking ties by insertion order.
func (l *ConversationList) Upsert(id string, activity time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	found := false
	for i := range l.order {
		if l.order[i].id == id {
			l.order[i].activity = activity
			found = true
			break
		}
	}
	if !found {
		l.arrival++
		l.order = append(l.order, conversationEntry{id: id, activity: activity, arrival: l.arrival})
	}

	sort.SliceStable(l.order, func(i, j int) bool {
		a, b := l.order[i], l.order[j]
		if !a.activity.Equal(b.activity) {
			return a.activity.After(b.activity)
		}
		return a.arrival < b.arrival
	})
}

// IDs returns conversation ids, most recently active first.
func (l *ConversationList) IDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.order))
	for i, e := range l.order {
		out[i] = e.id
	}
	return out
}
