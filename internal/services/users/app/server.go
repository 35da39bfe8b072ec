// Package server hosts the registry's HTTP and WebSocket surface. The
// transport stays thin: grants are verified at the boundary, call params
// pass through to the dispatch engine untouched, and journal reads go
// straight to storage.
package server

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	apperrors "github.com/louisbranch/overlay/internal/platform/errors"
	"github.com/louisbranch/overlay/internal/platform/timeouts"
	"github.com/louisbranch/overlay/internal/services/users/domain"
	"github.com/louisbranch/overlay/internal/services/users/engine"
	"github.com/louisbranch/overlay/internal/services/users/filter"
	"github.com/louisbranch/overlay/internal/services/users/grant"
	"github.com/louisbranch/overlay/internal/services/users/storage"
)

const maxCallParamBytes = 64 * 1024

// Config defines the inputs for the registry transport boundary.
type Config struct {
	HTTPAddr          string
	GrantPublicKey    ed25519.PublicKey
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Journal is the read side of the call journal the events endpoint serves.
type Journal interface {
	ListEvents(ctx context.Context, req storage.ListEventsRequest) (storage.EventPage, error)
}

// Server hosts the registry HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	pump            *eventPump
}

// NewServer wires the transport over a dispatch engine and a journal
// reader, and registers the engine's commit hook for the event stream.
func NewServer(config Config, registry *engine.Engine, journal Journal) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if registry == nil {
		return nil, errors.New("dispatch engine is required")
	}
	if journal == nil {
		return nil, errors.New("journal reader is required")
	}
	if len(config.GrantPublicKey) != ed25519.PublicKeySize {
		return nil, errors.New("grant public key is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	hub := newWatchHub()
	pump := startEventPump(hub)
	registry.SetEventHook(pump.enqueue)

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           newHandler(registry, journal, config.GrantPublicKey, hub),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		pump:            pump,
	}, nil
}

// Run creates and serves a registry server until the context ends.
func Run(ctx context.Context, config Config, registry *engine.Engine, journal Journal) error {
	server, err := NewServer(config, registry, journal)
	if err != nil {
		return fmt.Errorf("init users server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve users: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("users server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("users server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Handler exposes the route tree, mainly for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.pump != nil {
		s.pump.stop()
	}
}

type handlers struct {
	registry *engine.Engine
	journal  Journal
	grantKey ed25519.PublicKey
	now      func() time.Time
}

func newHandler(registry *engine.Engine, journal Journal, grantKey ed25519.PublicKey, hub *watchHub) http.Handler {
	h := &handlers{registry: registry, journal: journal, grantKey: grantKey, now: time.Now}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("POST /v1/call/{entrypoint}", h.handleDispatch)
	mux.HandleFunc("GET /v1/users", h.handleListUsers)
	mux.HandleFunc("GET /v1/users/{address}", h.handleViewUser)
	mux.HandleFunc("GET /v1/admin", h.handleViewAdmin)
	mux.HandleFunc("GET /v1/events", h.handleListEvents)

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleWSConn(conn, hub, registry)
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})

	return mux
}

func (h *handlers) authenticate(r *http.Request) (grant.Identity, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return grant.Identity{}, apperrors.New(apperrors.CodeUnauthenticated, "bearer grant is required")
	}
	return grant.Verify(h.grantKey, strings.TrimSpace(token), h.now)
}

func (h *handlers) handleDispatch(w http.ResponseWriter, r *http.Request) {
	identity, err := h.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	params, err := io.ReadAll(io.LimitReader(r.Body, maxCallParamBytes+1))
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeMalformedInput, "read call params", err))
		return
	}
	if len(params) > maxCallParamBytes {
		writeError(w, apperrors.New(apperrors.CodeMalformedInput, "call params exceed the size limit"))
		return
	}

	call := domain.Call{Origin: identity.Origin, Sender: identity.Sender}
	entrypoint := strings.TrimSpace(r.PathValue("entrypoint"))
	res, err := h.registry.Dispatch(r.Context(), call, entrypoint, params)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := dispatchResponse{Result: res.Result, Revision: res.Revision}
	if res.Event != nil {
		payload := eventToPayload(*res.Event)
		resp.Event = &payload
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) handleViewUser(w http.ResponseWriter, r *http.Request) {
	addr := domain.AccountID(strings.TrimSpace(r.PathValue("address")))
	record, err := h.registry.ViewUser(addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.UserEntry{Address: addr, Record: record})
}

func (h *handlers) handleListUsers(w http.ResponseWriter, r *http.Request) {
	entries, err := h.registry.ViewAllUsers()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, usersResponse{Users: entries})
}

func (h *handlers) handleViewAdmin(w http.ResponseWriter, r *http.Request) {
	identity, err := h.authenticate(r)
	if err != nil {
		writeError(w, err)
		return
	}

	view, err := h.registry.ViewAdmin(domain.Call{Origin: identity.Origin, Sender: identity.Sender})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) handleListEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var req storage.ListEventsRequest
	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 1 {
			writeError(w, apperrors.New(apperrors.CodeInvalidArgument, "page_size must be a positive integer"))
			return
		}
		req.PageSize = size
	}
	if raw := strings.TrimSpace(query.Get("cursor")); raw != "" {
		cursor, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || cursor < 1 {
			writeError(w, apperrors.New(apperrors.CodeInvalidArgument, "cursor must be a positive event seq"))
			return
		}
		req.CursorSeq = cursor
	}
	switch strings.TrimSpace(query.Get("order")) {
	case "", "asc":
	case "desc":
		req.Descending = true
	default:
		writeError(w, apperrors.New(apperrors.CodeInvalidArgument, "order must be asc or desc"))
		return
	}

	cond, err := filter.ParseJournalFilter(query.Get("filter"))
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid filter expression", err))
		return
	}
	req.FilterClause = cond.Clause
	req.FilterParams = cond.Params

	page, err := h.journal.ListEvents(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := eventsResponse{
		Events:     make([]eventPayload, 0, len(page.Events)),
		HasNext:    page.HasNext,
		TotalCount: page.TotalCount,
	}
	for _, evt := range page.Events {
		resp.Events = append(resp.Events, eventToPayload(evt))
	}
	if page.HasNext && len(page.Events) > 0 {
		resp.NextCursor = page.Events[len(page.Events)-1].Seq
	}
	writeJSON(w, http.StatusOK, resp)
}

type dispatchResponse struct {
	Result   json.RawMessage `json:"result,omitempty"`
	Revision int64           `json:"revision"`
	Event    *eventPayload   `json:"event,omitempty"`
}

type usersResponse struct {
	Users []domain.UserEntry `json:"users"`
}

type eventsResponse struct {
	Events     []eventPayload `json:"events"`
	HasNext    bool           `json:"has_next"`
	NextCursor int64          `json:"next_cursor,omitempty"`
	TotalCount int64          `json:"total_count"`
}

type eventPayload struct {
	Seq        int64           `json:"seq"`
	Ts         string          `json:"ts"`
	Entrypoint string          `json:"entrypoint"`
	Origin     string          `json:"origin"`
	SenderKind string          `json:"sender_kind"`
	SenderID   string          `json:"sender_id"`
	Params     json.RawMessage `json:"params,omitempty"`
}

func eventToPayload(evt storage.Event) eventPayload {
	payload := eventPayload{
		Seq:        evt.Seq,
		Ts:         evt.Ts.UTC().Format(time.RFC3339Nano),
		Entrypoint: evt.Entrypoint,
		Origin:     evt.Origin,
		SenderKind: evt.SenderKind,
		SenderID:   evt.SenderID,
	}
	if len(evt.Params) > 0 {
		payload.Params = json.RawMessage(evt.Params)
	}
	return payload
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	if domainErr, ok := apperrors.FromError(err); ok {
		writeJSON(w, domainErr.Code.HTTPStatus(), errorEnvelope{Error: errorBody{
			Code:     string(domainErr.Code),
			Message:  domainErr.Message,
			Metadata: domainErr.Metadata,
		}})
		return
	}

	log.Printf("users: unhandled transport error: %v", err)
	writeJSON(w, http.StatusInternalServerError, errorEnvelope{Error: errorBody{
		Code:    string(apperrors.CodeInternal),
		Message: "internal error",
	}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}
