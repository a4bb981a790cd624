package apihttp

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"audiobridge/internal/domain"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 64
)

// progressMessage is the frame written to subscribers.
type progressMessage struct {
	Type string             `json:"type"`
	Data domain.IngestEvent `json:"data"`
}

type progressFrame struct {
	ingestID string
	payload  []byte
}

// subscriber is one websocket connection. An empty ingestID receives every
// event.
type subscriber struct {
	hub      *progressHub
	conn     *websocket.Conn
	send     chan []byte
	ingestID string
}

func (s *subscriber) wants(ingestID string) bool {
	return s.ingestID == "" || s.ingestID == ingestID
}

// progressHub fans ingest events out to websocket subscribers. All
// subscriber bookkeeping happens on the run goroutine.
type progressHub struct {
	subscribers map[*subscriber]struct{}
	connected   atomic.Int32
	frames      chan progressFrame
	join        chan *subscriber
	leave       chan *subscriber
	done        chan struct{}
	logger      *slog.Logger
}

func newProgressHub(logger *slog.Logger) *progressHub {
	return &progressHub{
		subscribers: make(map[*subscriber]struct{}),
		frames:      make(chan progressFrame, 64),
		join:        make(chan *subscriber),
		leave:       make(chan *subscriber),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

func (h *progressHub) run() {
	for {
		select {
		case <-h.done:
			for sub := range h.subscribers {
				if sub.conn != nil {
					_ = sub.conn.WriteControl(
						websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
						time.Now().Add(2*time.Second),
					)
				}
				h.drop(sub)
			}
			h.logger.Debug("progress hub stopped")
			return
		case sub := <-h.join:
			h.subscribers[sub] = struct{}{}
			h.connected.Store(int32(len(h.subscribers)))
			h.logger.Debug("progress subscriber joined",
				slog.String("ingestId", sub.ingestID),
				slog.Int("total", len(h.subscribers)),
			)
		case sub := <-h.leave:
			if _, ok := h.subscribers[sub]; ok {
				h.drop(sub)
				h.logger.Debug("progress subscriber left", slog.Int("total", len(h.subscribers)))
			}
		case frame := <-h.frames:
			for sub := range h.subscribers {
				if !sub.wants(frame.ingestID) {
					continue
				}
				select {
				case sub.send <- frame.payload:
				default:
					h.logger.Debug("progress subscriber too slow, dropping")
					h.drop(sub)
				}
			}
		}
	}
}

func (h *progressHub) drop(sub *subscriber) {
	delete(h.subscribers, sub)
	close(sub.send)
	h.connected.Store(int32(len(h.subscribers)))
}

// Close disconnects all subscribers and stops the hub.
func (h *progressHub) Close() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

func (h *progressHub) subscriberCount() int {
	return int(h.connected.Load())
}

// publish queues ev for delivery. Events are dropped when nobody listens or
// the hub is backed up; progress is advisory and records stay queryable.
func (h *progressHub) publish(ev domain.IngestEvent) {
	if h.subscriberCount() == 0 {
		return
	}
	payload, err := json.Marshal(progressMessage{Type: string(ev.Type), Data: ev})
	if err != nil {
		h.logger.Error("progress marshal failed", slog.String("error", err.Error()))
		return
	}
	select {
	case h.frames <- progressFrame{ingestID: ev.IngestID, payload: payload}:
	default:
	}
}

// subscribe registers sub unless the hub is already closed.
func (h *progressHub) subscribe(sub *subscriber) bool {
	select {
	case h.join <- sub:
		return true
	case <-h.done:
		return false
	}
}

func (s *subscriber) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only services control frames; subscribers never send data.
func (s *subscriber) readPump() {
	defer func() {
		select {
		case s.hub.leave <- s:
		case <-s.hub.done:
		}
		s.conn.Close()
	}()
	s.conn.SetReadLimit(512)
	_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
