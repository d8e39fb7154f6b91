package entities

import "testing"

func TestUpsertStatusCachesNestedEntities(t *testing.T) {
	c := NewCache()
	c.UpsertStatus(&Status{
		ID:      "1",
		Account: Account{ID: "alice"},
		Reblog: &Status{
			ID:      "9",
			Account: Account{ID: "bob"},
		},
	})

	if _, ok := c.Status("1"); !ok {
		t.Error("outer status not cached")
	}
	if _, ok := c.Status("9"); !ok {
		t.Error("boosted status not cached")
	}
	if _, ok := c.Account("alice"); !ok {
		t.Error("author not cached")
	}
	if _, ok := c.Account("bob"); !ok {
		t.Error("boosted author not cached")
	}
}

func TestPatchStatusRequiresExisting(t *testing.T) {
	c := NewCache()

	if c.PatchStatus(&Status{ID: "1", Content: "edited"}) {
		t.Error("patch of unknown status must be rejected")
	}

	c.UpsertStatus(&Status{ID: "1", Account: Account{ID: "a"}, Content: "original"})
	if !c.PatchStatus(&Status{ID: "1", Account: Account{ID: "a"}, Content: "edited"}) {
		t.Fatal("patch of cached status rejected")
	}
	got, _ := c.Status("1")
	if got.Content != "edited" {
		t.Errorf("content = %q after patch", got.Content)
	}
}

func TestUpsertNotification(t *testing.T) {
	c := NewCache()
	c.UpsertNotification(&Notification{
		ID:      "n1",
		Type:    "favourite",
		Account: Account{ID: "alice"},
		Status:  &Status{ID: "s1", Account: Account{ID: "me"}},
	})

	if _, ok := c.Account("alice"); !ok {
		t.Error("actor not cached")
	}
	if _, ok := c.Status("s1"); !ok {
		t.Error("referenced status not cached")
	}
}

func TestRemoveStatus(t *testing.T) {
	c := NewCache()
	c.UpsertStatus(&Status{ID: "1", Account: Account{ID: "a"}})

	c.RemoveStatus("1")
	if _, ok := c.Status("1"); ok {
		t.Error("status still cached after removal")
	}
	// The author stays; accounts are shared across statuses.
	if _, ok := c.Account("a"); !ok {
		t.Error("author evicted with the status")
	}
}

func TestRelationshipRoundTrip(t *testing.T) {
	c := NewCache()
	if _, ok := c.Relationship("bob"); ok {
		t.Error("unknown relationship reported present")
	}

	c.UpsertRelationship(&Relationship{ID: "bob", Following: true})
	rel, ok := c.Relationship("bob")
	if !ok || !rel.Following {
		t.Errorf("relationship = %+v, ok=%v", rel, ok)
	}
}

func TestNilUpsertsIgnored(t *testing.T) {
	c := NewCache()
	c.UpsertStatus(nil)
	c.UpsertNotification(nil)
	c.UpsertRelationship(nil)

	if s, a := c.Len(); s != 0 || a != 0 {
		t.Errorf("cache not empty after nil upserts: %d statuses, %d accounts", s, a)
	}
}

func TestStatusTargetID(t *testing.T) {
	plain := &Status{ID: "1"}
	if plain.TargetID() != "1" {
		t.Errorf("plain target = %q", plain.TargetID())
	}
	boost := &Status{ID: "2", Reblog: &Status{ID: "9"}}
	if boost.TargetID() != "9" {
		t.Errorf("boost target = %q", boost.TargetID())
	}
}

func TestNotificationTargetID(t *testing.T) {
	mention := &Notification{ID: "n1", Account: Account{ID: "a"}, Status: &Status{ID: "s1"}}
	if mention.TargetID() != "s1" {
		t.Errorf("mention target = %q", mention.TargetID())
	}
	follow := &Notification{ID: "n2", Account: Account{ID: "a"}}
	if follow.TargetID() != "a" {
		t.Errorf("follow target = %q", follow.TargetID())
	}
}
