// Package dedup collapses raw events of the same kind about the same target
// into single display entries with a combined actor list.
package dedup

import (
	"strings"

	"github.com/skua-dev/skua/internal/entities"
)

// Kinds that collapse into one entry when they share a target. Everything
// else passes through as a singleton aggregate.
const (
	KindFavourite             = "favourite"
	KindReblog                = "reblog"
	KindEventReminder         = "pleroma:event_reminder"
	KindParticipationAccepted = "pleroma:participation_accepted"
	KindParticipationRequest  = "pleroma:participation_request"
)

var aggregable = map[string]bool{
	KindFavourite:             true,
	KindReblog:                true,
	KindEventReminder:         true,
	KindParticipationAccepted: true,
	KindParticipationRequest:  true,
}

// Event is the normalized view of one raw notification or repost.
type Event struct {
	ID       string
	Kind     string
	TargetID string
	ActorID  string
}

// Aggregate is one display entry. For a single contributing event the
// composite id equals the raw id and ActorIDs is a singleton.
type Aggregate struct {
	ID       string // composite: raw ids joined with "+"
	Kind     string
	TargetID string
	ActorIDs []string // insertion order preserved
}

// Deduplicate scans a batch in order and folds aggregable events that share
// (kind, target) into one aggregate. Aggregation is batch-scoped: it never
// reaches into entries already resident in a collection from earlier batches.
func Deduplicate(events []Event) []Aggregate {
	out := make([]Aggregate, 0, len(events))
	byKey := make(map[[2]string]int)

	for _, ev := range events {
		if aggregable[ev.Kind] {
			key := [2]string{ev.Kind, ev.TargetID}
			if i, ok := byKey[key]; ok {
				agg := &out[i]
				agg.ActorIDs = append(agg.ActorIDs, ev.ActorID)
				agg.ID = agg.ID + "+" + ev.ID
				continue
			}
			byKey[key] = len(out)
		}
		out = append(out, Aggregate{
			ID:       ev.ID,
			Kind:     ev.Kind,
			TargetID: ev.TargetID,
			ActorIDs: []string{ev.ActorID},
		})
	}
	return out
}

// CursorID returns the segment of a composite id usable for cursor math and
// read markers. Ids are produced monotonically, so the last contributing raw
// id is the most recent one.
func CursorID(compositeID string) string {
	if i := strings.LastIndexByte(compositeID, '+'); i >= 0 {
		return compositeID[i+1:]
	}
	return compositeID
}

// ContributingIDs splits a composite id back into its raw event ids.
func ContributingIDs(compositeID string) []string {
	return strings.Split(compositeID, "+")
}

// FromNotifications converts a notification batch into dedup events.
func FromNotifications(batch []*entities.Notification) []Event {
	events := make([]Event, 0, len(batch))
	for _, n := range batch {
		events = append(events, Event{
			ID:       n.ID,
			Kind:     n.Type,
			TargetID: n.TargetID(),
			ActorID:  n.Account.ID,
		})
	}
	return events
}

// FromStatuses converts a timeline batch into dedup events. Plain posts keep
// their own id as target; reposts target the boosted status so multiple
// boosts of the same post collapse.
func FromStatuses(batch []*entities.Status) []Event {
	events := make([]Event, 0, len(batch))
	for _, s := range batch {
		kind := "status"
		if s.Reblog != nil {
			kind = KindReblog
		}
		events = append(events, Event{
			ID:       s.ID,
			Kind:     kind,
			TargetID: s.TargetID(),
			ActorID:  s.Account.ID,
		})
	}
	return events
}
