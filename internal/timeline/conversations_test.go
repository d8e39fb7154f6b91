package timeline

import (
	"reflect"
	"testing"
	"time"
)

func TestConversationOrdering(t *testing.T) {
	l := NewConversationList()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	l.Upsert("a", base)
	l.Upsert("b", base.Add(time.Minute))
	l.Upsert("c", base.Add(-time.Minute))

	want := []string{"b", "a", "c"}
	if got := l.IDs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}

	// New activity in an old thread moves it to the top, without
	// duplicating it.
	l.Upsert("c", base.Add(2*time.Minute))
	want = []string{"c", "b", "a"}
	if got := l.IDs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("after upsert: %v, want %v", got, want)
	}
}

func TestConversationTiebreakInsertionOrder(t *testing.T) {
	l := NewConversationList()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	l.Upsert("first", at)
	l.Upsert("second", at)
	l.Upsert("third", at)

	want := []string{"first", "second", "third"}
	if got := l.IDs(); !reflect.DeepEqual(got, want) {
		t.Errorf("equal timestamps must keep insertion order: %v", got)
	}
}
