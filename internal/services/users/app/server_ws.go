package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"

	"golang.org/x/net/websocket"

	"github.com/louisbranch/overlay/internal/services/users/engine"
	"github.com/louisbranch/overlay/internal/services/users/storage"
)

const (
	maxWSPayloadBytes      = 16 * 1024
	maxDecodeErrorsPerConn = 3
	eventPumpBuffer        = 256
)

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type wsErrorEnvelope struct {
	Error wsError `json:"error"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type watchingPayload struct {
	Revision int64 `json:"revision"`
}

type eventEnvelope struct {
	Event eventPayload `json:"event"`
}

type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

type watchHub struct {
	mu       sync.Mutex
	watchers map[*wsPeer]struct{}
}

func newWatchHub() *watchHub {
	return &watchHub{watchers: make(map[*wsPeer]struct{})}
}

func (h *watchHub) watch(peer *wsPeer) {
	h.mu.Lock()
	h.watchers[peer] = struct{}{}
	h.mu.Unlock()
}

func (h *watchHub) leave(peer *wsPeer) {
	h.mu.Lock()
	delete(h.watchers, peer)
	h.mu.Unlock()
}

func (h *watchHub) broadcast(evt storage.Event) {
	h.mu.Lock()
	watchers := make([]*wsPeer, 0, len(h.watchers))
	for watcher := range h.watchers {
		watchers = append(watchers, watcher)
	}
	h.mu.Unlock()

	frame := wsFrame{Type: "event", Payload: mustJSON(eventEnvelope{Event: eventToPayload(evt)})}
	for _, watcher := range watchers {
		_ = watcher.writeFrame(frame)
	}
}

// eventPump decouples the engine's commit hook from websocket writes. The
// hook runs under the engine lock and must never wait on a peer.
type eventPump struct {
	events   chan storage.Event
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func startEventPump(hub *watchHub) *eventPump {
	pump := &eventPump{
		events: make(chan storage.Event, eventPumpBuffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(pump.done)
		for {
			select {
			case <-pump.quit:
				return
			case evt := <-pump.events:
				hub.broadcast(evt)
			}
		}
	}()
	return pump
}

func (p *eventPump) enqueue(evt storage.Event) {
	select {
	case p.events <- evt:
	default:
		log.Printf("users: event stream backlog full, dropping seq %d", evt.Seq)
	}
}

func (p *eventPump) stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
		<-p.done
	})
}

func handleWSConn(conn *websocket.Conn, hub *watchHub, registry *engine.Engine) {
	defer func() {
		_ = conn.Close()
	}()

	decoder := json.NewDecoder(conn)
	peer := newWSPeer(json.NewEncoder(conn))
	defer hub.leave(peer)

	decodeErrors := 0
	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeWSError(peer, "", "INVALID_ARGUMENT", "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxWSPayloadBytes {
			_ = writeWSError(peer, frame.RequestID, "INVALID_ARGUMENT", "payload too large")
			continue
		}

		switch frame.Type {
		case "watch":
			hub.watch(peer)
			_ = peer.writeFrame(wsFrame{
				Type:      "watching",
				RequestID: frame.RequestID,
				Payload:   mustJSON(watchingPayload{Revision: registry.Revision()}),
			})
		default:
			_ = writeWSError(peer, frame.RequestID, "INVALID_ARGUMENT", "unsupported frame type")
		}
	}
}

func writeWSError(peer *wsPeer, requestID string, code string, message string) error {
	return peer.writeFrame(wsFrame{
		Type:      "error",
		RequestID: requestID,
		Payload: mustJSON(wsErrorEnvelope{
			Error: wsError{Code: code, Message: message},
		}),
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("users: failed to marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}
