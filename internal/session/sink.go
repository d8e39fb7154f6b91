package session

import (
	"time"

	"go.uber.org/zap"

	"github.com/skua-dev/skua/internal/router"
	"github.com/skua-dev/skua/internal/timeline"
)

// StatusArrived merges one push-delivered status into its collection.
func (s *Session) StatusArrived(collection string, ev router.UpdateEvent) {
	status := ev.Status

	// A push echo of the local actor's own just-created post duplicates
	// the optimistic insert; the safe choice is to drop the push copy.
	if me := s.localActor(); me != "" && status.Account.ID == me && s.hasOptimisticInflight(collection) {
		s.logger.Debug("dropping own-post echo",
			zap.String("collection", collection),
			zap.String("status", status.ID),
		)
		return
	}

	s.cache.UpsertStatus(status)

	suppress := s.shouldSuppress(collection, status)
	coll := s.store.Get(collection)
	switch coll.Ingest(status.ID, suppress) {
	case timeline.IngestMerged:
		s.notifyItem(collection, status.ID)
	case timeline.IngestQueued:
		s.logger.Debug("queued item",
			zap.String("collection", collection),
			zap.String("status", status.ID),
			zap.Int("queued", coll.QueuedCount()),
		)
	case timeline.IngestDuplicate:
		// Re-delivery after a reconnect overlap; already held.
	}
}

// StatusEdited patches the cached body in place. Edits never reorder.
func (s *Session) StatusEdited(ev router.EditEvent) {
	if !s.cache.PatchStatus(ev.Status) {
		s.logger.Debug("edit for uncached status dropped",
			zap.String("status", ev.Status.ID))
	}
}

// StatusDeleted drops the cached body but deliberately leaves timeline
// membership alone: removing an entry under the reader makes the view jump.
// Stale ids resolve to "gone" on the next context fetch and are evicted
// there instead.
func (s *Session) StatusDeleted(ev router.DeleteEvent) {
	s.cache.RemoveStatus(ev.StatusID)
	s.logger.Debug("status deleted upstream, keeping timeline position",
		zap.String("status", ev.StatusID))
}

// NotificationArrived merges one push notification. Push events arrive one
// at a time, so each is its own aggregation batch; batch-scoped folding only
// applies to REST pages.
func (s *Session) NotificationArrived(ev router.NotificationEvent) {
	n := ev.Notification
	s.cache.UpsertNotification(n)

	suppress := false
	s.focusMu.Lock()
	if s.blurred["notifications"] {
		suppress = true
	}
	s.focusMu.Unlock()

	coll := s.store.Get("notifications")
	if coll.Ingest(n.ID, suppress) == timeline.IngestMerged {
		s.notifyItem("notifications", n.ID)
	}
}

// ConversationUpdated upserts a thread and re-sorts by last activity.
func (s *Session) ConversationUpdated(ev router.ConversationEvent) {
	cv := ev.Conversation
	if cv.LastStatus != nil {
		s.cache.UpsertStatus(cv.LastStatus)
	}
	s.convos.Upsert(cv.ID, cv.LastActivity())
}

// FiltersChanged asks the external filter-rule cache to refresh.
func (s *Session) FiltersChanged() {
	s.logger.Debug("server filter rules changed")
	if s.cfg.OnFiltersChanged != nil {
		s.cfg.OnFiltersChanged()
	}
}

// RelationshipUpdated applies a follow-state change, but only when it
// concerns the local actor's outgoing relationship, and only after a short
// delay to absorb the race with an in-flight REST relationship fetch whose
// response may land after this event despite being older.
func (s *Session) RelationshipUpdated(ev router.RelationshipEvent) {
	me := s.localActor()
	if me == "" || ev.Follower.ID != me {
		return
	}

	followedID := ev.Followed.ID
	state := ev.State
	time.AfterFunc(s.cfg.RelationshipDelay, func() {
		rel, ok := s.cache.Relationship(followedID)
		if !ok {
			return
		}
		patched := *rel
		switch state {
		case "follow_pending":
			patched.Requested = true
		case "follow_accept":
			patched.Following = true
			patched.Requested = false
		case "follow_reject":
			patched.Following = false
			patched.Requested = false
		default:
			return
		}
		s.cache.UpsertRelationship(&patched)
		s.logger.Debug("relationship updated",
			zap.String("account", followedID),
			zap.String("state", state),
		)
	})
}

// MarkersUpdated stores the pushed read markers verbatim.
func (s *Session) MarkersUpdated(ev router.MarkerEvent) {
	s.markerMu.Lock()
	for name, m := range ev.Markers {
		s.markers[name] = m
	}
	s.markerMu.Unlock()
}
