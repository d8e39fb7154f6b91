package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.Handler) (*HTTPClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(srv.URL, "test-token", 100, 5*time.Second, zap.NewNop())
	return client, srv
}

func TestExpandTimelineParsesLinkHeader(t *testing.T) {
	var gotAuth string
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/api/v1/timelines/home" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Link", fmt.Sprintf(
			`<%s/api/v1/timelines/home?max_id=3>; rel="next", <%s/api/v1/timelines/home?since_id=9>; rel="prev"`,
			"http://"+r.Host, "http://"+r.Host,
		))
		_, _ = w.Write([]byte(`[{"id":"9","account":{"id":"1"}},{"id":"3","account":{"id":"2"}}]`))
	}))

	page, err := client.ExpandTimeline(context.Background(), "home", ExpandOpts{})
	if err != nil {
		t.Fatalf("ExpandTimeline: %v", err)
	}

	if gotAuth != "Bearer test-token" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if len(page.Statuses) != 2 || page.Statuses[0].ID != "9" {
		t.Errorf("unexpected statuses: %+v", page.Statuses)
	}
	if page.Next != Cursor(srv.URL+"/api/v1/timelines/home?max_id=3") {
		t.Errorf("next cursor = %q", page.Next)
	}
	if page.Prev != Cursor(srv.URL+"/api/v1/timelines/home?since_id=9") {
		t.Errorf("prev cursor = %q", page.Prev)
	}
}

func TestExpandTimelineCursorHonoredVerbatim(t *testing.T) {
	var gotURL string
	client, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		_, _ = w.Write([]byte(`[]`))
	}))

	cursor := Cursor(srv.URL + "/api/v1/timelines/home?max_id=3&limit=20")
	if _, err := client.ExpandTimeline(context.Background(), "home", ExpandOpts{Cursor: cursor}); err != nil {
		t.Fatalf("ExpandTimeline: %v", err)
	}
	if gotURL != "/api/v1/timelines/home?max_id=3&limit=20" {
		t.Errorf("request url = %q", gotURL)
	}
}

func TestForeignCursorRejected(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not be issued")
	}))

	_, err := client.ExpandTimeline(context.Background(), "home", ExpandOpts{
		Cursor: "https://evil.example/api/v1/timelines/home?max_id=3",
	})
	if !errors.Is(err, ErrBadCursor) {
		t.Errorf("expected ErrBadCursor, got %v", err)
	}
}

func TestExpandQueryParams(t *testing.T) {
	var got string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.RawQuery
		_, _ = w.Write([]byte(`[]`))
	}))

	_, err := client.ExpandTimeline(context.Background(), "home", ExpandOpts{
		SinceID: "5", Limit: 10,
	})
	if err != nil {
		t.Fatalf("ExpandTimeline: %v", err)
	}
	if got != "limit=10&since_id=5" {
		t.Errorf("query = %q", got)
	}
}

func TestSentinelErrors(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, ErrNotFound},
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusUnauthorized, ErrAuthFailed},
		{http.StatusForbidden, ErrAuthFailed},
	}

	for _, tc := range cases {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		_, err := client.FetchStatus(context.Background(), "42")
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: got %v, want %v", tc.status, err, tc.want)
		}
	}
}

func TestSaveMarkerPayload(t *testing.T) {
	var got map[string]map[string]string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/markers" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{}`))
	}))

	if err := client.SaveMarker(context.Background(), "home", "42"); err != nil {
		t.Fatalf("SaveMarker: %v", err)
	}
	if got["home"]["last_read_id"] != "42" {
		t.Errorf("payload = %v", got)
	}
}

func TestTimelineEndpointMapping(t *testing.T) {
	cases := []struct {
		collection string
		path       string
		query      string
	}{
		{"home", "/api/v1/timelines/home", ""},
		{"public", "/api/v1/timelines/public", ""},
		{"public:media", "/api/v1/timelines/public", "only_media=true"},
		{"community", "/api/v1/timelines/public", "local=true"},
		{"bubble", "/api/v1/timelines/bubble", ""},
		{"direct", "/api/v1/timelines/direct", ""},
		{"hashtag:golang", "/api/v1/timelines/tag/golang", ""},
		{"list:12", "/api/v1/timelines/list/12", ""},
		{"group:9", "/api/v1/timelines/group/9", ""},
		{"account:7", "/api/v1/accounts/7/statuses", "exclude_replies=true"},
		{"account:7:with_replies", "/api/v1/accounts/7/statuses", ""},
		{"account:7:media", "/api/v1/accounts/7/statuses", "only_media=true"},
		{"account:7:pinned", "/api/v1/accounts/7/statuses", "pinned=true"},
	}

	for _, tc := range cases {
		endpoint, params, err := timelineEndpoint(tc.collection)
		if err != nil {
			t.Errorf("%s: %v", tc.collection, err)
			continue
		}
		if endpoint != tc.path {
			t.Errorf("%s: path = %q, want %q", tc.collection, endpoint, tc.path)
		}
		if got := params.Encode(); got != tc.query {
			t.Errorf("%s: query = %q, want %q", tc.collection, got, tc.query)
		}
	}

	if _, _, err := timelineEndpoint("nonsense"); err == nil {
		t.Error("expected error for unknown collection")
	}
}

func TestParseLinkHeaderVariants(t *testing.T) {
	h := http.Header{}
	h.Add("Link", `<https://s.example/a?max_id=1>; rel="next"`)
	h.Add("Link", `<https://s.example/a?since_id=9>; rel=prev`)

	next, prev := parseLinkHeader(h)
	if next != "https://s.example/a?max_id=1" {
		t.Errorf("next = %q", next)
	}
	if prev != "https://s.example/a?since_id=9" {
		t.Errorf("prev = %q", prev)
	}

	next, prev = parseLinkHeader(http.Header{})
	if next != "" || prev != "" {
		t.Errorf("empty header produced cursors: %q %q", next, prev)
	}
}
