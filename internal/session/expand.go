package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/skua-dev/skua/internal/api"
	"github.com/skua-dev/skua/internal/dedup"
	"github.com/skua-dev/skua/internal/entities"
	"github.com/skua-dev/skua/internal/timeline"
)

// ErrAlreadyLoading is returned when an expand is rejected because one is
// already in flight for the collection. Callers treat it as a no-op.
var ErrAlreadyLoading = errors.New("collection is already loading")

const backgroundFetchTimeout = 30 * time.Second

// ExpandOlder fetches the page past the collection's older boundary and
// appends it. Failures are terminal for the call; the loading flag is
// cleared so a manual retry works.
func (s *Session) ExpandOlder(ctx context.Context, collection string) error {
	coll := s.store.Get(collection)
	if !coll.BeginLoad() {
		return ErrAlreadyLoading
	}
	defer coll.EndLoad()

	opts := api.ExpandOpts{Cursor: api.Cursor(coll.NextCursor()), Limit: s.cfg.PageLimit}
	if opts.Cursor == "" {
		// No cursor yet: page below the oldest held id, if any.
		items := coll.Items()
		if len(items) > 0 {
			opts.MaxID = cursorOf(items[len(items)-1])
		}
	}
	return s.fetchAndMergeOlder(ctx, collection, coll, opts)
}

// Refresh clears a collection and reloads it from the newest page. Used for
// the forced resync after queue overflow.
func (s *Session) Refresh(ctx context.Context, collection string) error {
	coll := s.store.Get(collection)
	coll.Clear()
	if !coll.BeginLoad() {
		return ErrAlreadyLoading
	}
	defer coll.EndLoad()
	return s.fetchAndMergeOlder(ctx, collection, coll, api.ExpandOpts{Limit: s.cfg.PageLimit})
}

func (s *Session) fetchAndMergeOlder(ctx context.Context, collection string, coll *timeline.Collection, opts api.ExpandOpts) error {
	if collection == "notifications" {
		page, err := s.api.ExpandNotifications(ctx, opts)
		if err != nil {
			return err
		}
		ids := s.importNotifications(page.Notifications)
		coll.MergeOlder(ids, timeline.Cursor(page.Next))
		return nil
	}

	page, err := s.api.ExpandTimeline(ctx, collection, opts)
	if err != nil {
		return err
	}
	ids := s.importStatuses(page.Statuses)
	coll.MergeOlder(ids, timeline.Cursor(page.Next))
	return nil
}

// initialLoad runs on first connect: load the newest page if the collection
// is still empty.
func (s *Session) initialLoad(collection string) {
	coll := s.store.Get(collection)
	if len(coll.Items()) > 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), backgroundFetchTimeout)
	defer cancel()
	if err := s.Refresh(ctx, collection); err != nil && !errors.Is(err, ErrAlreadyLoading) {
		s.logger.Warn("initial load failed",
			zap.String("collection", collection),
			zap.Error(err),
		)
	}
}

// gapFill fetches everything newer than the last REST-originated id, filling
// the interval during which the client was disconnected.
func (s *Session) gapFill(collection string) {
	ctx, cancel := context.WithTimeout(context.Background(), backgroundFetchTimeout)
	defer cancel()
	s.fillSince(ctx, collection)
}

// poll is the fallback cadence while disconnected: the same since-fetch a
// reconnect would perform.
func (s *Session) poll(ctx context.Context, collection string) {
	s.fillSince(ctx, collection)
}

func (s *Session) fillSince(ctx context.Context, collection string) {
	coll := s.store.Get(collection)
	since := coll.SinceID()
	if since == "" {
		s.initialLoad(collection)
		return
	}
	if !coll.BeginLoad() {
		return
	}
	defer coll.EndLoad()

	opts := api.ExpandOpts{SinceID: cursorOf(since), Limit: s.cfg.PageLimit}
	if collection == "notifications" {
		page, err := s.api.ExpandNotifications(ctx, opts)
		if err != nil {
			s.logger.Warn("gap fill failed",
				zap.String("collection", collection), zap.Error(err))
			return
		}
		ids := s.importNotifications(page.Notifications)
		coll.MergeNewer(ids, timeline.Cursor(page.Prev))
		return
	}

	page, err := s.api.ExpandTimeline(ctx, collection, opts)
	if err != nil {
		s.logger.Warn("gap fill failed",
			zap.String("collection", collection), zap.Error(err))
		return
	}
	ids := s.importStatuses(page.Statuses)
	coll.MergeNewer(ids, timeline.Cursor(page.Prev))
}

// importStatuses caches a REST batch and returns the display ids in page
// order. Later boosts of a target already boosted earlier in the same batch
// fold away; aggregation never reaches across batches.
func (s *Session) importStatuses(batch []*entities.Status) []string {
	for _, st := range batch {
		s.cache.UpsertStatus(st)
	}
	byID := make(map[string]*entities.Status, len(batch))
	for _, st := range batch {
		byID[st.ID] = st
	}

	aggregates := dedup.Deduplicate(dedup.FromStatuses(batch))
	ids := make([]string, 0, len(aggregates))
	for _, agg := range aggregates {
		// Timelines keep the first contributing status as the display
		// entry; the remaining actors ride along via the aggregate.
		ids = append(ids, dedup.ContributingIDs(agg.ID)[0])
	}
	return ids
}

// importNotifications caches a REST batch and returns display ids, composite
// for folded aggregates. Consumers split on "+" and use the last segment for
// cursor math.
func (s *Session) importNotifications(batch []*entities.Notification) []string {
	for _, n := range batch {
		s.cache.UpsertNotification(n)
	}
	aggregates := dedup.Deduplicate(dedup.FromNotifications(batch))
	ids := make([]string, 0, len(aggregates))
	for _, agg := range aggregates {
		ids = append(ids, agg.ID)
	}
	return ids
}

// Dequeue releases a collection's pending queue on a user-visible trigger.
// An overflowed queue clears the collection and forces a full resync; a
// successful splice advances the read marker.
func (s *Session) Dequeue(ctx context.Context, collection string) error {
	coll := s.store.Get(collection)
	res := coll.Dequeue()

	if res.NeedsResync {
		s.logger.Info("queue overflow, resyncing from scratch",
			zap.String("collection", collection))
		return s.Refresh(ctx, collection)
	}

	for _, id := range res.Spliced {
		s.notifyItem(collection, id)
	}
	if len(res.Spliced) > 0 {
		s.MarkRead(ctx, collection)
	}
	return nil
}

// MarkRead persists the newest held id as the collection's read marker. On
// the legacy Pleroma dialect an explicit mark-read call goes out in parallel
// for notifications.
func (s *Session) MarkRead(ctx context.Context, collection string) {
	newest := s.store.Get(collection).NewestID()
	if newest == "" {
		return
	}
	lastRead := cursorOf(newest)

	name := markerTimeline(collection)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.api.SaveMarker(ctx, name, lastRead); err != nil {
			s.logger.Warn("marker save failed",
				zap.String("timeline", name), zap.Error(err))
		}
	}()

	if s.cfg.LegacyMarkRead && collection == "notifications" {
		if err := s.api.MarkNotificationsRead(ctx, lastRead); err != nil {
			s.logger.Warn("legacy mark-read failed", zap.Error(err))
		}
	}
	<-done
}

// Marker returns the last pushed read marker for a timeline name.
func (s *Session) Marker(name string) (entities.Marker, bool) {
	s.markerMu.Lock()
	defer s.markerMu.Unlock()
	m, ok := s.markers[name]
	return m, ok
}

// ResolveStatus fetches a status body on demand, e.g. when opening a thread.
// Only one resolve is in flight per session: issuing a new one aborts the
// previous (last-request-wins). A not-found answer evicts the id from every
// collection; the item is simply gone, not an error.
func (s *Session) ResolveStatus(ctx context.Context, id string) (*entities.Status, error) {
	s.lookupMu.Lock()
	if s.lookupCancel != nil {
		s.lookupCancel()
	}
	lookupCtx, cancel := context.WithCancel(ctx)
	s.lookupCancel = cancel
	s.lookupMu.Unlock()

	status, err := s.api.FetchStatus(lookupCtx, id)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			s.evictStale(id)
			return nil, nil
		}
		return nil, err
	}
	s.cache.UpsertStatus(status)
	return status, nil
}

func (s *Session) evictStale(id string) {
	s.cache.RemoveStatus(id)
	changed := s.store.RemoveEverywhere(id)
	s.logger.Debug("evicted stale reference",
		zap.String("status", id),
		zap.Strings("collections", changed),
	)
}
