// Package fakeserver is a local stand-in for a Mastodon/Pleroma-compatible
// backend: Link-paginated REST timelines plus a websocket streaming endpoint
// frames can be injected into. It backs the `skua fake-server` command and
// the end-to-end tests.
package fakeserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const defaultPageLimit = 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server holds canned timeline data keyed by collection and fans injected
// frames out to stream subscribers.
type Server struct {
	logger *zap.Logger

	mu        sync.RWMutex
	timelines map[string][]json.RawMessage // newest first, element must carry "id"
	account   json.RawMessage
	markers   map[string]string

	subMu sync.Mutex
	subs  map[*subscriber]bool
}

type subscriber struct {
	topic string
	send  chan []byte
}

func New(logger *zap.Logger) *Server {
	return &Server{
		logger:    logger,
		timelines: make(map[string][]json.RawMessage),
		account:   json.RawMessage(`{"id":"1","acct":"local","display_name":"Local"}`),
		markers:   make(map[string]string),
		subs:      make(map[*subscriber]bool),
	}
}

// Seed installs canned entries for a timeline, newest first.
func (s *Server) Seed(timeline string, entries []json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timelines[timeline] = entries
}

// SetAccount sets the verify_credentials response body.
func (s *Server) SetAccount(body json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = body
}

// Inject pushes a raw streaming frame to every subscriber of a topic.
func (s *Server) Inject(topic string, frame []byte) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for sub := range s.subs {
		if sub.topic != topic {
			continue
		}
		select {
		case sub.send <- frame:
		default:
			s.logger.Debug("subscriber buffer full, dropping frame",
				zap.String("topic", topic))
		}
	}
}

// Marker returns the last saved marker for a timeline name.
func (s *Server) Marker(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markers[name]
	return m, ok
}

// Handler builds the chi router for the fake API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/api/v1/streaming", s.handleStreaming)
	r.Get("/api/v1/accounts/verify_credentials", s.handleVerifyCredentials)
	r.Get("/api/v1/timelines/home", s.timelineHandler("home"))
	r.Get("/api/v1/timelines/public", s.timelineHandler("public"))
	r.Get("/api/v1/timelines/tag/{tag}", s.handleHashtag)
	r.Get("/api/v1/notifications", s.timelineHandler("notifications"))
	r.Post("/api/v1/markers", s.handleMarkers)
	r.Post("/api/v1/pleroma/notifications/read", s.handleLegacyRead)

	return r
}

func (s *Server) handleVerifyCredentials(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	body := s.account
	s.mu.RUnlock()
	writeJSON(w, body)
}

func (s *Server) handleHashtag(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	s.timelineHandler("hashtag:" + tag)(w, r)
}

// timelineHandler pages a canned timeline with max_id/since_id semantics and
// advertises next/prev cursors via a Link header, the way the real API does.
func (s *Server) timelineHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		entries := s.timelines[name]
		s.mu.RUnlock()

		maxID := r.URL.Query().Get("max_id")
		sinceID := r.URL.Query().Get("since_id")
		limit := defaultPageLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}

		var page []json.RawMessage
		for _, entry := range entries {
			id := entryID(entry)
			if maxID != "" && !idLess(id, maxID) {
				continue
			}
			if sinceID != "" && !idLess(sinceID, id) {
				continue
			}
			page = append(page, entry)
			if len(page) == limit {
				break
			}
		}

		if len(page) > 0 {
			oldest := entryID(page[len(page)-1])
			newest := entryID(page[0])
			base := "http://" + r.Host + r.URL.Path
			w.Header().Set("Link", fmt.Sprintf(
				`<%s?max_id=%s>; rel="next", <%s?since_id=%s>; rel="prev"`,
				base, oldest, base, newest,
			))
		}

		data, _ := json.Marshal(page)
		if page == nil {
			data = []byte("[]")
		}
		writeJSON(w, data)
	}
}

func (s *Server) handleMarkers(w http.ResponseWriter, r *http.Request) {
	var payload map[string]map[string]string
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	for name, fields := range payload {
		s.markers[name] = fields["last_read_id"]
	}
	s.mu.Unlock()
	writeJSON(w, []byte("{}"))
}

func (s *Server) handleLegacyRead(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, []byte("[]"))
}

func (s *Server) handleStreaming(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("access_token") == "" {
		http.Error(w, "missing access_token", http.StatusUnauthorized)
		return
	}
	topic := r.URL.Query().Get("stream")
	if topic == "" {
		http.Error(w, "missing stream", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := &subscriber{topic: topic, send: make(chan []byte, 64)}
	s.subMu.Lock()
	s.subs[sub] = true
	s.subMu.Unlock()
	s.logger.Debug("stream subscriber connected", zap.String("topic", topic))

	defer func() {
		s.subMu.Lock()
		delete(s.subs, sub)
		s.subMu.Unlock()
		_ = conn.Close()
	}()

	// Drain reads so close frames are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case frame := <-sub.send:
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func entryID(entry json.RawMessage) string {
	var probe struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(entry, &probe)
	return probe.ID
}

// idLess compares ids numerically by length first, matching the snowflake
// ordering the real servers use for decimal ids.
func idLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// SortEntries orders seeded entries newest first, for callers that build
// fixtures out of order.
func SortEntries(entries []json.RawMessage) {
	sort.Slice(entries, func(i, j int) bool {
		return idLess(entryID(entries[j]), entryID(entries[i]))
	})
}
