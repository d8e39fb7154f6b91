package streaming

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func TestStreamURL(t *testing.T) {
	m := NewManager("wss://s.example/api/v1/streaming", "tok", zap.NewNop())

	cases := []struct {
		endpoint Endpoint
		want     url.Values
	}{
		{
			Endpoint{Topic: "user"},
			url.Values{"access_token": {"tok"}, "stream": {"user"}},
		},
		{
			Endpoint{Topic: "hashtag", Tag: "golang"},
			url.Values{"access_token": {"tok"}, "stream": {"hashtag"}, "tag": {"golang"}},
		},
		{
			Endpoint{Topic: "list", List: "12"},
			url.Values{"access_token": {"tok"}, "stream": {"list"}, "list": {"12"}},
		},
	}

	for _, tc := range cases {
		raw, err := m.StreamURL(tc.endpoint)
		if err != nil {
			t.Fatalf("StreamURL(%+v): %v", tc.endpoint, err)
		}
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if u.Scheme != "wss" || u.Path != "/api/v1/streaming" {
			t.Errorf("%+v: url = %q", tc.endpoint, raw)
		}
		if got := u.Query(); got.Encode() != tc.want.Encode() {
			t.Errorf("%+v: query = %v, want %v", tc.endpoint, got, tc.want)
		}
	}
}

func TestStreamURLWithoutToken(t *testing.T) {
	m := NewManager("wss://s.example/api/v1/streaming", "", zap.NewNop())
	raw, err := m.StreamURL(Endpoint{Topic: "public"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(raw, "access_token") {
		t.Errorf("anonymous url leaks token param: %q", raw)
	}
}

func TestFirstPollDelayBounds(t *testing.T) {
	for i := 0; i < 1000; i++ {
		d := firstPollDelay()
		if d < 0 || d >= pollBase+pollJitter {
			t.Fatalf("first poll delay %v out of [0, %v)", d, pollBase+pollJitter)
		}
	}
}

func TestNextPollDelayBounds(t *testing.T) {
	for i := 0; i < 1000; i++ {
		d := nextPollDelay()
		if d < pollBase || d >= pollBase+pollJitter {
			t.Fatalf("poll delay %v out of [%v, %v)", d, pollBase, pollBase+pollJitter)
		}
	}
}

func TestReconnectDelayBounds(t *testing.T) {
	for attempt := 0; attempt < 20; attempt++ {
		for i := 0; i < 100; i++ {
			d := reconnectDelay(attempt)
			if d > reconnectCap {
				t.Fatalf("attempt %d: delay %v exceeds cap %v", attempt, d, reconnectCap)
			}
			if d < reconnectBase/2 {
				t.Fatalf("attempt %d: delay %v below half base", attempt, d)
			}
		}
	}
}

func TestReconnectDelayGrows(t *testing.T) {
	// The upper bound of the jitter window doubles per attempt until the cap.
	max := func(attempt int) time.Duration {
		var top time.Duration
		for i := 0; i < 300; i++ {
			if d := reconnectDelay(attempt); d > top {
				top = d
			}
		}
		return top
	}
	if max(4) <= max(0) {
		t.Error("backoff window did not grow with attempts")
	}
}

// wsTestServer upgrades every request and feeds the connection to accept.
func wsTestServer(t *testing.T, accept func(*websocket.Conn)) *Manager {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accept(ws)
	}))
	t.Cleanup(srv.Close)
	return NewManager("ws"+strings.TrimPrefix(srv.URL, "http"), "tok", zap.NewNop())
}

func TestConnectDeliversMessages(t *testing.T) {
	m := wsTestServer(t, func(ws *websocket.Conn) {
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"event":"update"}`))
	})

	connected := make(chan struct{})
	messages := make(chan []byte, 1)
	conn := m.Open(Endpoint{Topic: "user", Collection: "home"}, Handlers{
		OnConnect: func() { close(connected) },
		OnMessage: func(raw []byte) { messages <- raw },
	})
	defer conn.Close()

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("never connected")
	}
	select {
	case raw := <-messages:
		if string(raw) != `{"event":"update"}` {
			t.Errorf("message = %q", raw)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message never delivered")
	}
	if conn.Status() != StatusConnected {
		t.Errorf("status = %v, want connected", conn.Status())
	}
}

func TestServerDropTriggersReconnectCallback(t *testing.T) {
	var dials atomic.Int32
	m := wsTestServer(t, func(ws *websocket.Conn) {
		// Drop the first connection immediately; keep the second open.
		if dials.Add(1) == 1 {
			_ = ws.Close()
			return
		}
		time.Sleep(10 * time.Second)
	})

	connects := make(chan struct{}, 1)
	reconnects := make(chan struct{}, 1)
	disconnects := make(chan struct{}, 1)
	conn := m.Open(Endpoint{Topic: "user", Collection: "home"}, Handlers{
		OnConnect:    func() { connects <- struct{}{} },
		OnDisconnect: func() { disconnects <- struct{}{} },
		OnReconnect:  func() { reconnects <- struct{}{} },
	})
	defer conn.Close()

	select {
	case <-connects:
	case <-time.After(5 * time.Second):
		t.Fatal("initial connect never happened")
	}
	select {
	case <-disconnects:
	case <-time.After(5 * time.Second):
		t.Fatal("drop not observed")
	}
	// The second successful dial must report as a reconnect, not a fresh
	// connect, so the subscriber knows to gap-fill.
	select {
	case <-reconnects:
	case <-time.After(10 * time.Second):
		t.Fatal("reconnect callback never fired")
	}
	select {
	case <-connects:
		t.Error("OnConnect fired again after reconnect")
	default:
	}
}

func TestDialFailureStartsPolling(t *testing.T) {
	// Nothing listens here, so every dial fails and the fallback kicks in.
	m := NewManager("ws://127.0.0.1:1/api/v1/streaming", "tok", zap.NewNop())

	// Poll delays are tens of seconds; assert the goroutine is scheduled by
	// watching status instead of waiting a poll out.
	conn := m.Open(Endpoint{Topic: "user", Collection: "home"}, Handlers{
		Poll: func(ctx context.Context) {},
	})
	defer conn.Close()

	deadline := time.After(5 * time.Second)
	for {
		if s := conn.Status(); s == StatusDisconnected {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("status = %v, never reached disconnected", conn.Status())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	m := wsTestServer(t, func(ws *websocket.Conn) {
		time.Sleep(10 * time.Second)
	})
	conn := m.Open(Endpoint{Topic: "user"}, Handlers{})

	conn.Close()
	conn.Close()

	select {
	case <-conn.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("lifecycle goroutine never exited")
	}
	if conn.Status() != StatusDisconnected {
		t.Errorf("status after close = %v", conn.Status())
	}
}

func TestStatusString(t *testing.T) {
	cases := map[Status]string{
		StatusDisconnected: "disconnected",
		StatusConnecting:   "connecting",
		StatusConnected:    "connected",
		StatusReconnecting: "reconnecting",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", s, got, want)
		}
	}
}
