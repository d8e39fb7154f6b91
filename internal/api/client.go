// Package api is the REST side of the sync engine: cursor-driven page
// fetches, read-marker persistence and the few point lookups the streaming
// path needs. It is deliberately thin; the streaming layer owns liveness.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/skua-dev/skua/internal/entities"
)

// Client is the surface the session layer consumes. Kept as an interface so
// tests can substitute fakes.
type Client interface {
	ExpandTimeline(ctx context.Context, collection string, opts ExpandOpts) (*Page, error)
	ExpandNotifications(ctx context.Context, opts ExpandOpts) (*NotificationPage, error)
	FetchStatus(ctx context.Context, id string) (*entities.Status, error)
	FetchRelationship(ctx context.Context, accountID string) (*entities.Relationship, error)
	SaveMarker(ctx context.Context, timelineName, lastReadID string) error
	MarkNotificationsRead(ctx context.Context, maxID string) error
	VerifyCredentials(ctx context.Context) (*entities.Account, error)
}

// ExpandOpts selects which page to fetch. Cursor wins when set; otherwise
// MaxID/SinceID are sent as query parameters. All empty means the newest
// page.
type ExpandOpts struct {
	Cursor  Cursor
	MaxID   string
	SinceID string
	Limit   int
}

// Page is one REST timeline page plus the cursors adjacent to it.
type Page struct {
	Statuses []*entities.Status
	Next     Cursor
	Prev     Cursor
}

// NotificationPage is the notifications variant of Page.
type NotificationPage struct {
	Notifications []*entities.Notification
	Next          Cursor
	Prev          Cursor
}

// HTTPClient talks to a Mastodon/Pleroma-compatible REST API.
type HTTPClient struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
	limiter     *rate.Limiter
	logger      *zap.Logger
}

func NewClient(baseURL, accessToken string, ratePerSec int, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:    100,
		MaxConnsPerHost: 10,
		IdleConnTimeout: 90 * time.Second,
	}
	if ratePerSec < 1 {
		ratePerSec = 1
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		limiter:     rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2),
		logger:      logger,
	}
}

// ExpandTimeline fetches one page of a timeline collection. Expand failures
// are terminal for the call; the caller clears its loading flag and may
// retry manually.
func (c *HTTPClient) ExpandTimeline(ctx context.Context, collection string, opts ExpandOpts) (*Page, error) {
	endpoint, params, err := timelineEndpoint(collection)
	if err != nil {
		return nil, err
	}

	body, header, err := c.get(ctx, endpoint, params, opts)
	if err != nil {
		return nil, err
	}

	var statuses []*entities.Status
	if err := json.Unmarshal(body, &statuses); err != nil {
		return nil, fmt.Errorf("decoding timeline page: %w", err)
	}

	next, prev := parseLinkHeader(header)
	return &Page{Statuses: statuses, Next: next, Prev: prev}, nil
}

// ExpandNotifications fetches one page of the notifications feed.
func (c *HTTPClient) ExpandNotifications(ctx context.Context, opts ExpandOpts) (*NotificationPage, error) {
	body, header, err := c.get(ctx, "/api/v1/notifications", nil, opts)
	if err != nil {
		return nil, err
	}

	var notifications []*entities.Notification
	if err := json.Unmarshal(body, &notifications); err != nil {
		return nil, fmt.Errorf("decoding notifications page: %w", err)
	}

	next, prev := parseLinkHeader(header)
	return &NotificationPage{Notifications: notifications, Next: next, Prev: prev}, nil
}

// FetchStatus looks up a single status, used when a push event references an
// id the entity cache has never seen. ErrNotFound means the status is gone
// and the caller should evict the reference.
func (c *HTTPClient) FetchStatus(ctx context.Context, id string) (*entities.Status, error) {
	body, _, err := c.get(ctx, "/api/v1/statuses/"+url.PathEscape(id), nil, ExpandOpts{})
	if err != nil {
		return nil, err
	}
	var s entities.Status
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("decoding status: %w", err)
	}
	return &s, nil
}

// FetchRelationship re-reads the authoritative follow state for one account.
func (c *HTTPClient) FetchRelationship(ctx context.Context, accountID string) (*entities.Relationship, error) {
	params := url.Values{"id[]": {accountID}}
	body, _, err := c.get(ctx, "/api/v1/accounts/relationships", params, ExpandOpts{})
	if err != nil {
		return nil, err
	}
	var rels []*entities.Relationship
	if err := json.Unmarshal(body, &rels); err != nil {
		return nil, fmt.Errorf("decoding relationships: %w", err)
	}
	if len(rels) == 0 {
		return nil, ErrNotFound
	}
	return rels[0], nil
}

// SaveMarker persists the read position for a timeline.
func (c *HTTPClient) SaveMarker(ctx context.Context, timelineName, lastReadID string) error {
	payload := map[string]map[string]string{
		timelineName: {"last_read_id": lastReadID},
	}
	return c.post(ctx, "/api/v1/markers", payload)
}

// MarkNotificationsRead issues the legacy Pleroma explicit mark-read call,
// required in addition to the marker on that backend dialect.
func (c *HTTPClient) MarkNotificationsRead(ctx context.Context, maxID string) error {
	payload := map[string]string{"max_id": maxID}
	return c.post(ctx, "/api/v1/pleroma/notifications/read", payload)
}

// VerifyCredentials returns the local actor's account.
func (c *HTTPClient) VerifyCredentials(ctx context.Context) (*entities.Account, error) {
	body, _, err := c.get(ctx, "/api/v1/accounts/verify_credentials", nil, ExpandOpts{})
	if err != nil {
		return nil, err
	}
	var a entities.Account
	if err := json.Unmarshal(body, &a); err != nil {
		return nil, fmt.Errorf("decoding account: %w", err)
	}
	return &a, nil
}

func (c *HTTPClient) get(ctx context.Context, endpoint string, params url.Values, opts ExpandOpts) ([]byte, http.Header, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("rate limiter: %w", err)
	}

	target, err := c.buildURL(endpoint, params, opts)
	if err != nil {
		return nil, nil, err
	}
	c.logger.Debug("requesting", zap.String("url", target))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading response: %w", err)
	}
	if err := checkStatus(resp.StatusCode, body); err != nil {
		return nil, nil, err
	}
	return body, resp.Header, nil
}

func (c *HTTPClient) post(ctx context.Context, endpoint string, payload any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	return checkStatus(resp.StatusCode, body)
}

// buildURL resolves the request target. A cursor is a full URL handed back
// by a previous Link header; it is honored verbatim after checking it points
// at our server.
func (c *HTTPClient) buildURL(endpoint string, params url.Values, opts ExpandOpts) (string, error) {
	if opts.Cursor != "" {
		if !strings.HasPrefix(string(opts.Cursor), c.baseURL+"/") {
			return "", ErrBadCursor
		}
		return string(opts.Cursor), nil
	}

	u, err := url.Parse(c.baseURL + endpoint)
	if err != nil {
		return "", fmt.Errorf("parsing endpoint: %w", err)
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	if opts.MaxID != "" {
		q.Set("max_id", opts.MaxID)
	}
	if opts.SinceID != "" {
		q.Set("since_id", opts.SinceID)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}
	req.Header.Set("Accept", "application/json")
}

func checkStatus(code int, body []byte) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrAuthFailed
	default:
		return fmt.Errorf("unexpected status %d: %s", code, truncate(body, 200))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// timelineEndpoint maps a collection partition key to its REST path and
// fixed query parameters.
func timelineEndpoint(collection string) (string, url.Values, error) {
	switch {
	case collection == "home":
		return "/api/v1/timelines/home", nil, nil
	case collection == "public":
		return "/api/v1/timelines/public", nil, nil
	case collection == "public:media":
		return "/api/v1/timelines/public", url.Values{"only_media": {"true"}}, nil
	case collection == "community":
		return "/api/v1/timelines/public", url.Values{"local": {"true"}}, nil
	case collection == "bubble":
		return "/api/v1/timelines/bubble", nil, nil
	case collection == "direct":
		return "/api/v1/timelines/direct", nil, nil
	case strings.HasPrefix(collection, "hashtag:"):
		tag := strings.TrimPrefix(collection, "hashtag:")
		return "/api/v1/timelines/tag/" + url.PathEscape(tag), nil, nil
	case strings.HasPrefix(collection, "list:"):
		id := strings.TrimPrefix(collection, "list:")
		return "/api/v1/timelines/list/" + url.PathEscape(id), nil, nil
	case strings.HasPrefix(collection, "group:"):
		id := strings.TrimPrefix(collection, "group:")
		return "/api/v1/timelines/group/" + url.PathEscape(id), nil, nil
	case strings.HasPrefix(collection, "account:"):
		rest := strings.TrimPrefix(collection, "account:")
		id, variant, _ := strings.Cut(rest, ":")
		endpoint := "/api/v1/accounts/" + url.PathEscape(id) + "/statuses"
		switch variant {
		case "":
			return endpoint, url.Values{"exclude_replies": {"true"}}, nil
		case "with_replies":
			return endpoint, nil, nil
		case "media":
			return endpoint, url.Values{"only_media": {"true"}}, nil
		case "pinned":
			return endpoint, url.Values{"pinned": {"true"}}, nil
		}
		return "", nil, fmt.Errorf("unknown account collection variant %q", variant)
	default:
		return "", nil, fmt.Errorf("unknown collection %q", collection)
	}
}
