package hub

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vango-dev/reactive/pkg/reactive"
)

// Update is the message pushed to a watcher each time the watched signal
// notifies. Seq starts at 1 and increases by one per message produced;
// a slow client may skip sequence numbers but always receives the latest
// value.
type Update struct {
	Signal  string `json:"signal"`
	Value   any    `json:"value"`
	Seq     uint64 `json:"seq"`
	Session string `json:"session"`
}

// session is one watch connection. Its root runs a single effect that
// reads the watched signal and hands the value to the write loop.
type session struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	signal string
	root   *reactive.Root
	logger *slog.Logger

	connected atomic.Bool
	started   atomic.Bool

	mu     sync.Mutex
	seq    uint64
	latest *Update

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(h *Hub, conn *websocket.Conn, name string) *session {
	id := newSessionID()
	s := &session{
		id:     id,
		hub:    h,
		conn:   conn,
		signal: name,
		logger: h.logger.With("session", id, "signal", name),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	s.connected.Store(true)
	s.root = reactive.NewRoot(h.sched, reactive.ConnectableFunc(s.connected.Load), h.rootOptions(id, s.logger)...)
	return s
}

// newSessionID returns a time-ordered UUID, falling back to a random one.
func newSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// start registers the watch effect. The first push is scheduled, so the
// client receives the current value without having to ask. It fails if
// the session was closed first.
func (s *session) start() error {
	sig := s.hub.signals[s.signal]
	if _, err := s.root.TryEffect(func() {
		s.publish(sig.Get())
	}); err != nil {
		return err
	}
	s.started.Store(true)
	if s.hub.metrics != nil {
		s.hub.metrics.RootOpened()
	}
	s.logger.Info("session opened")
	return nil
}

// publish replaces the pending update. It never blocks.
func (s *session) publish(v any) {
	s.mu.Lock()
	s.seq++
	s.latest = &Update{Signal: s.signal, Value: v, Seq: s.seq, Session: s.id}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *session) take() *Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.latest
	s.latest = nil
	return u
}

// readLoop discards client messages and returns when the connection
// fails. Pongs extend the read deadline.
func (s *session) readLoop() {
	defer s.close()

	wait := 2 * s.hub.pingInterval
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(wait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.logger.Warn("read error", "error", err)
			}
			return
		}
	}
}

// writeLoop is the only writer of data frames on the connection.
func (s *session) writeLoop() {
	ticker := time.NewTicker(s.hub.pingInterval)
	defer ticker.Stop()
	defer s.close()

	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
			u := s.take()
			if u == nil {
				continue
			}
			s.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
			if err := s.conn.WriteJSON(u); err != nil {
				s.logger.Debug("write failed", "error", err)
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(defaultWriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// shutdown sends a going-away close frame, then closes.
func (s *session) shutdown() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub closed")
	s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	s.close()
}

// close marks the session disconnected and disposes its root. It is
// idempotent.
func (s *session) close() {
	s.closeOnce.Do(func() {
		s.connected.Store(false)
		close(s.done)
		s.root.Dispose()
		s.hub.unregister(s)
		if s.started.Load() && s.hub.metrics != nil {
			s.hub.metrics.RootClosed()
		}
		s.conn.Close()
		s.logger.Info("session closed", "updates", s.seqValue())
	})
}

func (s *session) seqValue() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}
