// Package session wires the streaming connections, the event router, the
// collection store and the REST client into one engine instance. All state
// lives on the Session; nothing here is a process-wide singleton, so two
// sessions in one process (or one test) never share queues or aborts.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/skua-dev/skua/internal/api"
	"github.com/skua-dev/skua/internal/dedup"
	"github.com/skua-dev/skua/internal/entities"
	"github.com/skua-dev/skua/internal/journal"
	"github.com/skua-dev/skua/internal/router"
	"github.com/skua-dev/skua/internal/streaming"
	"github.com/skua-dev/skua/internal/timeline"
)

// FilterFunc decides whether a status should be withheld from immediate
// display and queued instead (muted words, accounts, content policy).
type FilterFunc func(s *entities.Status) bool

// Config tunes one session.
type Config struct {
	MaxQueued         int           // pending queue bound, default timeline.DefaultMaxQueued
	PageLimit         int           // REST page size, default 20
	LegacyMarkRead    bool          // Pleroma dialect: extra explicit mark-read call
	RelationshipDelay time.Duration // delay before applying relationship updates

	// OnItem fires for every id merged into a collection's visible items.
	OnItem func(collection, id string)

	// OnFiltersChanged asks the external filter-rule cache to refresh.
	OnFiltersChanged func()
}

const defaultRelationshipDelay = 500 * time.Millisecond

// Session is one authenticated sync engine instance.
type Session struct {
	cfg    Config
	api    api.Client
	mgr    *streaming.Manager
	store  *timeline.Store
	convos *timeline.ConversationList
	cache  *entities.Cache
	logger *zap.Logger

	meMu sync.RWMutex
	me   string // local actor account id

	filterMu sync.RWMutex
	filter   FilterFunc

	focusMu sync.Mutex
	blurred map[string]bool // collections whose view is not focused

	optimisticMu sync.Mutex
	optimistic   map[string]int // in-flight local submissions per collection

	subsMu sync.Mutex
	subs   map[string]*Subscription

	markerMu sync.Mutex
	markers  map[string]entities.Marker

	// One abortable point-lookup per session; a new lookup cancels the
	// previous one (last-request-wins). Expand calls are not cancelled,
	// they are guarded by the collection loading flag instead.
	lookupMu     sync.Mutex
	lookupCancel context.CancelFunc

	journalMu sync.Mutex
	journal   *journal.Writer
}

func New(apiClient api.Client, mgr *streaming.Manager, cache *entities.Cache, cfg Config, logger *zap.Logger) *Session {
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 20
	}
	if cfg.RelationshipDelay <= 0 {
		cfg.RelationshipDelay = defaultRelationshipDelay
	}
	return &Session{
		cfg:        cfg,
		api:        apiClient,
		mgr:        mgr,
		store:      timeline.NewStore(cfg.MaxQueued),
		convos:     timeline.NewConversationList(),
		cache:      cache,
		logger:     logger,
		blurred:    make(map[string]bool),
		optimistic: make(map[string]int),
		subs:       make(map[string]*Subscription),
		markers:    make(map[string]entities.Marker),
	}
}

// Start resolves the local actor so own-post echo suppression can work.
func (s *Session) Start(ctx context.Context) error {
	me, err := s.api.VerifyCredentials(ctx)
	if err != nil {
		return err
	}
	s.meMu.Lock()
	s.me = me.ID
	s.meMu.Unlock()
	s.logger.Info("session started", zap.String("account", me.Acct))
	return nil
}

// Close tears down every subscription, the lookup slot and the journal.
func (s *Session) Close() {
	s.subsMu.Lock()
	subs := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subsMu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}

	s.lookupMu.Lock()
	if s.lookupCancel != nil {
		s.lookupCancel()
		s.lookupCancel = nil
	}
	s.lookupMu.Unlock()

	s.journalMu.Lock()
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			s.logger.Warn("closing journal", zap.Error(err))
		}
		s.journal = nil
	}
	s.journalMu.Unlock()
}

// Store exposes the collection store to consumers (CLI, UI bindings).
func (s *Session) Store() *timeline.Store { return s.store }

// Cache exposes the shared entity cache.
func (s *Session) Cache() *entities.Cache { return s.cache }

// Conversations exposes the ordered conversation list.
func (s *Session) Conversations() *timeline.ConversationList { return s.convos }

// SetFilter installs the suppression predicate.
func (s *Session) SetFilter(f FilterFunc) {
	s.filterMu.Lock()
	s.filter = f
	s.filterMu.Unlock()
}

// SetFocused records whether a collection's view is focused. Items arriving
// for a blurred view are queued rather than merged.
func (s *Session) SetFocused(collection string, focused bool) {
	s.focusMu.Lock()
	if focused {
		delete(s.blurred, collection)
	} else {
		s.blurred[collection] = true
	}
	s.focusMu.Unlock()
}

// RecordTo journals every received frame to w (zstd JSONL).
func (s *Session) RecordTo(w *journal.Writer) {
	s.journalMu.Lock()
	s.journal = w
	s.journalMu.Unlock()
}

// NoteLocalPost marks an optimistic local submission as in flight for a
// collection. While any are pending, a push echo of the local actor's own
// item is dropped: the optimistic insert lacks the server-assigned id the
// push copy carries, so the two cannot be matched reliably.
func (s *Session) NoteLocalPost(collection string) {
	s.optimisticMu.Lock()
	s.optimistic[collection]++
	s.optimisticMu.Unlock()
}

// LocalPostDone resolves one in-flight optimistic submission.
func (s *Session) LocalPostDone(collection string) {
	s.optimisticMu.Lock()
	if s.optimistic[collection] > 0 {
		s.optimistic[collection]--
	}
	s.optimisticMu.Unlock()
}

// Subscription binds one collection to its stream connection.
type Subscription struct {
	collection string
	conn       *streaming.Conn
	session    *Session
	closeOnce  sync.Once
}

func (sub *Subscription) Collection() string { return sub.collection }

// Status reports the underlying connection state, for the staleness
// indicator.
func (sub *Subscription) Status() streaming.Status { return sub.conn.Status() }

// Close tears down the stream and forgets the subscription.
func (sub *Subscription) Close() {
	sub.closeOnce.Do(func() {
		sub.conn.Close()
		sub.session.subsMu.Lock()
		delete(sub.session.subs, sub.collection)
		sub.session.subsMu.Unlock()
	})
}

// Subscribe opens the stream for a collection and performs the initial load
// once connected. One subscription per collection; subscribing twice returns
// the existing one.
func (s *Session) Subscribe(ctx context.Context, collection string) (*Subscription, error) {
	s.subsMu.Lock()
	if sub, ok := s.subs[collection]; ok {
		s.subsMu.Unlock()
		return sub, nil
	}
	s.subsMu.Unlock()

	endpoint, err := endpointFor(collection)
	if err != nil {
		return nil, err
	}

	rt := router.New(s, s.logger)
	sub := &Subscription{collection: collection, session: s}

	handlers := streaming.Handlers{
		OnConnect: func() {
			s.initialLoad(collection)
		},
		OnDisconnect: func() {
			s.logger.Debug("stream down, polling fallback engaged",
				zap.String("collection", collection))
		},
		OnReconnect: func() {
			// Gap-fill before any further push item merges silently.
			s.gapFill(collection)
		},
		OnMessage: func(raw []byte) {
			s.record(collection, raw)
			rt.Route(collection, raw)
		},
		Poll: func(pollCtx context.Context) {
			s.poll(pollCtx, collection)
		},
	}

	sub.conn = s.mgr.Open(endpoint, handlers)

	s.subsMu.Lock()
	if existing, ok := s.subs[collection]; ok {
		// A concurrent Subscribe won the race; tear down the redundant
		// connection.
		s.subsMu.Unlock()
		sub.conn.Close()
		return existing, nil
	}
	s.subs[collection] = sub
	s.subsMu.Unlock()
	return sub, nil
}

func (s *Session) record(collection string, raw []byte) {
	s.journalMu.Lock()
	defer s.journalMu.Unlock()
	if s.journal == nil {
		return
	}
	if err := s.journal.Write(collection, raw); err != nil {
		s.logger.Warn("journal write failed", zap.Error(err))
	}
}

func (s *Session) localActor() string {
	s.meMu.RLock()
	defer s.meMu.RUnlock()
	return s.me
}

func (s *Session) shouldSuppress(collection string, status *entities.Status) bool {
	s.focusMu.Lock()
	blurred := s.blurred[collection]
	s.focusMu.Unlock()
	if blurred {
		return true
	}

	s.filterMu.RLock()
	f := s.filter
	s.filterMu.RUnlock()
	return f != nil && f(status)
}

func (s *Session) hasOptimisticInflight(collection string) bool {
	s.optimisticMu.Lock()
	defer s.optimisticMu.Unlock()
	return s.optimistic[collection] > 0
}

func (s *Session) notifyItem(collection, id string) {
	if s.cfg.OnItem != nil {
		s.cfg.OnItem(collection, id)
	}
}

// endpointFor maps a collection partition key to its stream endpoint.
func endpointFor(collection string) (streaming.Endpoint, error) {
	e := streaming.Endpoint{Collection: collection}
	switch {
	case collection == "home":
		e.Topic = "user"
	case collection == "notifications":
		e.Topic = "user:notification"
	case collection == "public" || collection == "public:media":
		e.Topic = "public"
	case collection == "community":
		e.Topic = "public:local"
	case collection == "bubble":
		e.Topic = "bubble"
	case collection == "direct":
		e.Topic = "direct"
	case strings.HasPrefix(collection, "hashtag:"):
		e.Topic = "hashtag"
		e.Tag = strings.TrimPrefix(collection, "hashtag:")
	case strings.HasPrefix(collection, "list:"):
		e.Topic = "list"
		e.List = strings.TrimPrefix(collection, "list:")
	default:
		return streaming.Endpoint{}, errors.New("collection has no stream endpoint: " + collection)
	}
	return e, nil
}

var _ router.Sink = (*Session)(nil)

// markerTimeline maps a collection to the server-side marker timeline name.
func markerTimeline(collection string) string {
	if collection == "notifications" {
		return "notifications"
	}
	return "home"
}

// cursorOf returns the raw id usable for cursor math from a possibly
// composite display id.
func cursorOf(id string) string {
	return dedup.CursorID(id)
}
