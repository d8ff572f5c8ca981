// Package hub serves a fixed set of named signals over HTTP and WebSocket.
//
// Every signal is a reactive.State[any] holding a JSON-compatible value.
// Clients read and write values over plain HTTP and watch them over a
// WebSocket. Each watch connection is a session that owns its own
// reactive.Root, whose effect pushes the watched value to the client. The
// root is disposed when the connection goes away.
//
// All session roots share the hub's scheduler. A write therefore waits for
// stability on that scheduler before it is acknowledged: when PUT returns,
// every watcher has been handed the new value.
//
//	sched, err := scheduler.NewMacrotask()
//	if err != nil {
//	    return err
//	}
//	defer sched.Close()
//	h, err := hub.New(sched, map[string]any{"count": 0})
//	if err != nil {
//	    return err
//	}
//	defer h.Close()
//	http.ListenAndServe(":7070", h.Routes())
package hub

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-dev/reactive/internal/config"
	"github.com/vango-dev/reactive/internal/errors"
	"github.com/vango-dev/reactive/pkg/reactive"
	"github.com/vango-dev/reactive/pkg/scheduler"
	"github.com/vango-dev/reactive/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrUnknownSignal is returned for names the hub does not serve.
var ErrUnknownSignal = stderrors.New("hub: unknown signal")

// ErrClosed is returned by Set after Close.
var ErrClosed = stderrors.New("hub: closed")

const (
	defaultPingInterval = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
	maxMessageSize      = 4096
)

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics reports session roots, effect runs and writes to m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(h *Hub) {
		h.metrics = m
	}
}

// WithTracer sets the tracer used for write spans and session roots.
func WithTracer(tracer trace.Tracer) Option {
	return func(h *Hub) {
		if tracer != nil {
			h.tracer = tracer
		}
	}
}

// WithStableTimeout bounds how long a write waits for the graph to settle.
func WithStableTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.stableTimeout = d
		}
	}
}

// WithPingInterval sets how often idle watch connections are pinged.
func WithPingInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// WithCheckOrigin sets the WebSocket origin check. The default accepts
// same-origin requests only.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = fn
	}
}

// Hub owns the named signals and the watch sessions.
type Hub struct {
	sched         scheduler.Scheduler
	signals       map[string]*reactive.State[any]
	names         []string
	logger        *slog.Logger
	metrics       *telemetry.Metrics
	tracer        trace.Tracer
	upgrader      websocket.Upgrader
	stableTimeout time.Duration
	pingInterval  time.Duration

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

// New creates a hub serving the given signals with their initial values.
// Every name must be a valid signal name.
func New(sched scheduler.Scheduler, signals map[string]any, opts ...Option) (*Hub, error) {
	h := &Hub{
		sched:         sched,
		signals:       make(map[string]*reactive.State[any], len(signals)),
		logger:        slog.Default().With("component", "hub"),
		tracer:        otel.Tracer("reactive/hub"),
		stableTimeout: config.DefaultStableTimeout,
		pingInterval:  defaultPingInterval,
		sessions:      make(map[string]*session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	for _, opt := range opts {
		opt(h)
	}

	for name, initial := range signals {
		if !config.ValidSignalName(name) {
			return nil, errors.New("R106").WithKey("signals." + name)
		}
		h.signals[name] = reactive.NewSignal(initial)
		h.names = append(h.names, name)
	}
	sort.Strings(h.names)
	return h, nil
}

// Names returns the served signal names, sorted.
func (h *Hub) Names() []string {
	return append([]string(nil), h.names...)
}

// Signal returns the signal registered under name.
func (h *Hub) Signal(name string) (*reactive.State[any], bool) {
	s, ok := h.signals[name]
	return s, ok
}

// Value returns the current value of a signal without tracking it.
func (h *Hub) Value(name string) (any, error) {
	s, ok := h.signals[name]
	if !ok {
		return nil, ErrUnknownSignal
	}
	return s.Peek(), nil
}

// Set writes a signal and waits until the shared scheduler is stable, so
// that every session watching the signal has been handed the new value.
// The value stays written if the wait times out.
func (h *Hub) Set(ctx context.Context, name string, value any) error {
	s, ok := h.signals[name]
	if !ok {
		return ErrUnknownSignal
	}
	if h.isClosed() {
		return ErrClosed
	}

	ctx, span := h.tracer.Start(ctx, "hub.set", trace.WithAttributes(attribute.String("hub.signal", name)))
	defer span.End()

	s.Set(value)
	if h.metrics != nil {
		h.metrics.RecordSignalWrite(name)
	}

	ctx, cancel := context.WithTimeout(ctx, h.stableTimeout)
	defer cancel()
	if err := h.Stable(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "not stable")
		return errors.New("R162").
			WithKey(name).
			Wrap(err).
			WithSuggestion("Raise hub.stableTimeout or look for an effect that keeps rescheduling itself")
	}
	return nil
}

// Stable waits until no session has pending work.
func (h *Hub) Stable(ctx context.Context) error {
	return reactive.NewComponentRef(h.sched).Stable(ctx)
}

// Sessions returns the number of open watch sessions.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close ends every watch session with a going-away close frame. Later
// watch requests and writes are refused.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.shutdown()
	}
	h.logger.Info("hub closed", "sessions", len(sessions))
	return nil
}

func (h *Hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// register adds s unless the hub is closed.
func (h *Hub) register(s *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[s.id] = s
	return true
}

func (h *Hub) unregister(s *session) {
	h.mu.Lock()
	delete(h.sessions, s.id)
	h.mu.Unlock()
}

// rootOptions returns the options for a session root.
func (h *Hub) rootOptions(id string, logger *slog.Logger) []reactive.RootOption {
	opts := []reactive.RootOption{
		reactive.WithName(id),
		reactive.WithLogger(logger),
		reactive.WithTracer(h.tracer),
	}
	if h.metrics != nil {
		opts = append(opts, reactive.WithObserver(h.metrics))
	}
	return opts
}
