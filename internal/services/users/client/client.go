// Package client wraps the registry's HTTP surface for tools: typed
// dispatch helpers per entrypoint, journal listing, and a websocket event
// watcher. Errors from the service are rebuilt into coded domain errors so
// callers can branch on the code.
package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	apperrors "github.com/louisbranch/overlay/internal/platform/errors"
	"github.com/louisbranch/overlay/internal/platform/timeouts"
	"github.com/louisbranch/overlay/internal/services/users/domain"
	"github.com/louisbranch/overlay/internal/services/users/grant"
)

// Config defines the inputs for a registry client.
type Config struct {
	BaseURL string
	// SigningKey mints call grants. Optional: without it only the public
	// read surface is usable.
	SigningKey ed25519.PrivateKey
	GrantTTL   time.Duration
	HTTPClient *http.Client
}

// Client talks to one registry service.
type Client struct {
	baseURL    string
	signKey    ed25519.PrivateKey
	grantTTL   time.Duration
	httpClient *http.Client
	now        func() time.Time
}

// New validates the configuration and returns a ready client.
func New(config Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("base url is required")
	}
	if len(config.SigningKey) != 0 && len(config.SigningKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signing key must be %d bytes", ed25519.PrivateKeySize)
	}
	if config.GrantTTL <= 0 {
		config.GrantTTL = time.Minute
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeouts.HTTPRequest}
	}

	return &Client{
		baseURL:    baseURL,
		signKey:    config.SigningKey,
		grantTTL:   config.GrantTTL,
		httpClient: httpClient,
		now:        time.Now,
	}, nil
}

// Event is one committed journal entry as the service reports it.
type Event struct {
	Seq        int64           `json:"seq"`
	Ts         string          `json:"ts"`
	Entrypoint string          `json:"entrypoint"`
	Origin     string          `json:"origin"`
	SenderKind string          `json:"sender_kind"`
	SenderID   string          `json:"sender_id"`
	Params     json.RawMessage `json:"params,omitempty"`
}

// DispatchResult reports what a dispatched call produced.
type DispatchResult struct {
	Result   json.RawMessage `json:"result,omitempty"`
	Revision int64           `json:"revision"`
	Event    *Event          `json:"event,omitempty"`
}

// Migration is the optional follow-up call an upgrade runs.
type Migration struct {
	Entrypoint string          `json:"entrypoint"`
	Params     json.RawMessage `json:"params,omitempty"`
}

// ListEventsRequest selects a page of the call journal.
type ListEventsRequest struct {
	Filter     string
	PageSize   int
	Cursor     int64
	Descending bool
}

// EventPage is one page of journal entries.
type EventPage struct {
	Events     []Event `json:"events"`
	HasNext    bool    `json:"has_next"`
	NextCursor int64   `json:"next_cursor"`
	TotalCount int64   `json:"total_count"`
}

// Call dispatches one entrypoint as the given identity. params may be any
// JSON-encodable value, or nil for entrypoints without params.
func (c *Client) Call(ctx context.Context, identity grant.Grant, entrypoint string, params any) (DispatchResult, error) {
	token, err := c.mintGrant(identity)
	if err != nil {
		return DispatchResult{}, err
	}

	var body io.Reader
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return DispatchResult{}, fmt.Errorf("encode call params: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	var result DispatchResult
	if err := c.do(ctx, http.MethodPost, "/v1/call/"+url.PathEscape(entrypoint), token, body, &result); err != nil {
		return DispatchResult{}, err
	}
	return result, nil
}

// Init creates the registry with the identity's origin as first admin.
func (c *Client) Init(ctx context.Context, identity grant.Grant) (DispatchResult, error) {
	return c.Call(ctx, identity, "init", nil)
}

// TransferAdmin hands the admin role to another account.
func (c *Client) TransferAdmin(ctx context.Context, identity grant.Grant, newAdmin string) (DispatchResult, error) {
	return c.Call(ctx, identity, "transfer_admin", struct {
		Admin string `json:"admin"`
	}{Admin: newAdmin})
}

// SetAuthority points the project authority at a new address.
func (c *Client) SetAuthority(ctx context.Context, identity grant.Grant, authority domain.Address) (DispatchResult, error) {
	return c.Call(ctx, identity, "set_authority", struct {
		Authority domain.Address `json:"authority"`
	}{Authority: authority})
}

// AddCurator grants the curator role.
func (c *Client) AddCurator(ctx context.Context, identity grant.Grant, addr string) (DispatchResult, error) {
	return c.callAddr(ctx, identity, "add_curator", addr)
}

// RemoveCurator revokes the curator role.
func (c *Client) RemoveCurator(ctx context.Context, identity grant.Grant, addr string) (DispatchResult, error) {
	return c.callAddr(ctx, identity, "remove_curator", addr)
}

// AddValidator grants the validator role.
func (c *Client) AddValidator(ctx context.Context, identity grant.Grant, addr string) (DispatchResult, error) {
	return c.callAddr(ctx, identity, "add_validator", addr)
}

// RemoveValidator revokes the validator role.
func (c *Client) RemoveValidator(ctx context.Context, identity grant.Grant, addr string) (DispatchResult, error) {
	return c.callAddr(ctx, identity, "remove_validator", addr)
}

// Curate records a curated project on a curator's record.
func (c *Client) Curate(ctx context.Context, identity grant.Grant, addr, projectID string) (DispatchResult, error) {
	return c.callProject(ctx, identity, "curate", addr, projectID)
}

// Validate records a validated project on a validator's record.
func (c *Client) Validate(ctx context.Context, identity grant.Grant, addr, projectID string) (DispatchResult, error) {
	return c.callProject(ctx, identity, "validate", addr, projectID)
}

// Upgrade activates a declared code reference, optionally running one
// migration call.
func (c *Client) Upgrade(ctx context.Context, identity grant.Grant, ref string, migrate *Migration) (DispatchResult, error) {
	return c.Call(ctx, identity, "upgrade", struct {
		Ref     string     `json:"ref"`
		Migrate *Migration `json:"migrate,omitempty"`
	}{Ref: ref, Migrate: migrate})
}

func (c *Client) callAddr(ctx context.Context, identity grant.Grant, entrypoint, addr string) (DispatchResult, error) {
	return c.Call(ctx, identity, entrypoint, struct {
		Addr string `json:"addr"`
	}{Addr: addr})
}

func (c *Client) callProject(ctx context.Context, identity grant.Grant, entrypoint, addr, projectID string) (DispatchResult, error) {
	return c.Call(ctx, identity, entrypoint, struct {
		Addr      string `json:"addr"`
		ProjectID string `json:"project_id"`
	}{Addr: addr, ProjectID: projectID})
}

// ViewUser fetches the record for one account.
func (c *Client) ViewUser(ctx context.Context, addr string) (domain.UserEntry, error) {
	var entry domain.UserEntry
	if err := c.do(ctx, http.MethodGet, "/v1/users/"+url.PathEscape(addr), "", nil, &entry); err != nil {
		return domain.UserEntry{}, err
	}
	return entry, nil
}

// ViewUsers fetches every stored record.
func (c *Client) ViewUsers(ctx context.Context) ([]domain.UserEntry, error) {
	var resp struct {
		Users []domain.UserEntry `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/users", "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// ViewAdmin fetches the root configuration; the identity must be the admin.
func (c *Client) ViewAdmin(ctx context.Context, identity grant.Grant) (domain.RootView, error) {
	token, err := c.mintGrant(identity)
	if err != nil {
		return domain.RootView{}, err
	}
	var view domain.RootView
	if err := c.do(ctx, http.MethodGet, "/v1/admin", token, nil, &view); err != nil {
		return domain.RootView{}, err
	}
	return view, nil
}

// ListEvents fetches one page of the call journal.
func (c *Client) ListEvents(ctx context.Context, req ListEventsRequest) (EventPage, error) {
	query := url.Values{}
	if strings.TrimSpace(req.Filter) != "" {
		query.Set("filter", req.Filter)
	}
	if req.PageSize > 0 {
		query.Set("page_size", strconv.Itoa(req.PageSize))
	}
	if req.Cursor > 0 {
		query.Set("cursor", strconv.FormatInt(req.Cursor, 10))
	}
	if req.Descending {
		query.Set("order", "desc")
	}

	path := "/v1/events"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var page EventPage
	if err := c.do(ctx, http.MethodGet, path, "", nil, &page); err != nil {
		return EventPage{}, err
	}
	return page, nil
}

// Health probes the liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", "", nil, nil)
}

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// WatchEvents streams committed events to fn until ctx ends, the server
// closes the stream, or a protocol error occurs.
func (c *Client) WatchEvents(ctx context.Context, fn func(Event)) error {
	if fn == nil {
		return errors.New("event callback is required")
	}

	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws"
	conn, err := websocket.Dial(wsURL, "", c.baseURL)
	if err != nil {
		return fmt.Errorf("dial event stream: %w", err)
	}
	defer conn.Close()

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-watchDone:
		}
	}()

	if err := json.NewEncoder(conn).Encode(wsFrame{Type: "watch"}); err != nil {
		return fmt.Errorf("send watch frame: %w", err)
	}

	decoder := json.NewDecoder(conn)
	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read event stream: %w", err)
		}

		switch frame.Type {
		case "watching":
		case "event":
			var payload struct {
				Event Event `json:"event"`
			}
			if err := json.Unmarshal(frame.Payload, &payload); err != nil {
				return fmt.Errorf("decode event frame: %w", err)
			}
			fn(payload.Event)
		case "error":
			return fmt.Errorf("event stream error: %s", string(frame.Payload))
		}
	}
}

func (c *Client) mintGrant(identity grant.Grant) (string, error) {
	if len(c.signKey) != ed25519.PrivateKeySize {
		return "", errors.New("signing key is not configured")
	}
	return grant.Issue(c.signKey, identity, c.grantTTL, c.now)
}

func (c *Client) do(ctx context.Context, method, path, token string, body io.Reader, dst any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call registry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return decodeError(resp)
	}
	if dst == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var envelope struct {
		Error struct {
			Code     string            `json:"code"`
			Message  string            `json:"message"`
			Metadata map[string]string `json:"metadata"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || envelope.Error.Code == "" {
		return fmt.Errorf("registry returned status %d", resp.StatusCode)
	}
	return apperrors.WithMetadata(apperrors.Code(envelope.Error.Code), envelope.Error.Message, envelope.Error.Metadata)
}
