package hub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vango-dev/reactive/internal/errors"
	"github.com/vango-dev/reactive/pkg/reactive"
	"github.com/vango-dev/reactive/pkg/scheduler"
	"github.com/vango-dev/reactive/pkg/telemetry"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHub(t *testing.T, signals map[string]any, opts ...Option) (*Hub, *httptest.Server) {
	t.Helper()
	sched, err := scheduler.NewMacrotask(scheduler.WithLogger(quietLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { sched.Close() })

	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	h, err := New(sched, signals, opts...)
	require.NoError(t, err)

	srv := httptest.NewServer(h.Routes())
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server, name string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/signals/" + name + "/watch"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUpdate(t *testing.T, conn *websocket.Conn) Update {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var u Update
	require.NoError(t, conn.ReadJSON(&u))
	return u
}

func put(t *testing.T, srv *httptest.Server, name, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/signals/"+name, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestNewRejectsBadNames(t *testing.T) {
	_, err := New(scheduler.NewSync(), map[string]any{"bad name": 1})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, "R106"))
}

func TestListAndGet(t *testing.T) {
	_, srv := newTestHub(t, map[string]any{"count": 1, "title": "hello"})

	resp, err := http.Get(srv.URL + "/signals")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var list Listing
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Equal(t, []SignalValue{
		{Name: "count", Value: float64(1)},
		{Name: "title", Value: "hello"},
	}, list.Signals)
	assert.Equal(t, 0, list.Sessions)

	resp, err = http.Get(srv.URL + "/signals/title")
	require.NoError(t, err)
	defer resp.Body.Close()
	var one SignalValue
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&one))
	assert.Equal(t, SignalValue{Name: "title", Value: "hello"}, one)
}

func TestUnknownSignal(t *testing.T) {
	_, srv := newTestHub(t, map[string]any{"count": 0})

	for _, tc := range []struct {
		method, path string
	}{
		{http.MethodGet, "/signals/nope"},
		{http.MethodPut, "/signals/nope"},
		{http.MethodGet, "/signals/nope/watch"},
	} {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, srv.URL+tc.path, strings.NewReader("1"))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
			body := decodeError(t, resp)
			assert.Equal(t, "R160", body["code"])
			assert.Equal(t, "nope", body["key"])
		})
	}
}

func TestPutInvalidBody(t *testing.T) {
	_, srv := newTestHub(t, map[string]any{"count": 0})

	resp := put(t, srv, "count", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "R161", decodeError(t, resp)["code"])
}

func TestPutKeepsIntegers(t *testing.T) {
	h, srv := newTestHub(t, map[string]any{"count": 0})

	resp := put(t, srv, "count", "42")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	v, err := h.Value("count")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	resp = put(t, srv, "count", `{"n": 1.5, "list": [1, 2]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	v, _ = h.Value("count")
	assert.Equal(t, map[string]any{"n": 1.5, "list": []any{int64(1), int64(2)}}, v)
}

func TestWatchReceivesWrites(t *testing.T) {
	h, srv := newTestHub(t, map[string]any{"count": 0})
	conn := dial(t, srv, "count")

	first := readUpdate(t, conn)
	assert.Equal(t, "count", first.Signal)
	assert.Equal(t, float64(0), first.Value)
	assert.Equal(t, uint64(1), first.Seq)
	assert.NotEmpty(t, first.Session)
	assert.Equal(t, 1, h.Sessions())

	resp := put(t, srv, "count", "5")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	next := readUpdate(t, conn)
	assert.Equal(t, float64(5), next.Value)
	assert.Equal(t, uint64(2), next.Seq)
	assert.Equal(t, first.Session, next.Session)
}

func TestWatchersAreIndependent(t *testing.T) {
	_, srv := newTestHub(t, map[string]any{"a": "x", "b": "y"})
	ca := dial(t, srv, "a")
	cb := dial(t, srv, "b")

	ua := readUpdate(t, ca)
	ub := readUpdate(t, cb)
	assert.NotEqual(t, ua.Session, ub.Session)

	require.Equal(t, http.StatusOK, put(t, srv, "b", `"z"`).StatusCode)
	assert.Equal(t, "z", readUpdate(t, cb).Value)

	// a was not written, so its watcher gets nothing
	require.NoError(t, ca.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := ca.ReadMessage()
	require.Error(t, err)
}

func TestSessionClosedOnDisconnect(t *testing.T) {
	h, srv := newTestHub(t, map[string]any{"count": 0})
	conn := dial(t, srv, "count")
	readUpdate(t, conn)
	require.Equal(t, 1, h.Sessions())

	conn.Close()
	require.Eventually(t, func() bool { return h.Sessions() == 0 }, 2*time.Second, 10*time.Millisecond)

	// writes after the disconnect still settle
	require.NoError(t, h.Set(context.Background(), "count", 1))
}

func TestPutStableTimeout(t *testing.T) {
	h, srv := newTestHub(t, map[string]any{"count": 0}, WithStableTimeout(50*time.Millisecond))

	// an effect that keeps rescheduling itself never lets the hub settle
	spin := reactive.NewSignal(0)
	root := reactive.NewRoot(h.sched, nil, reactive.WithLogger(quietLogger()))
	t.Cleanup(root.Dispose)
	root.Effect(func() {
		spin.Set(spin.Get() + 1)
	})

	resp := put(t, srv, "count", "1")
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	assert.Equal(t, "R162", decodeError(t, resp)["code"])

	v, err := h.Value("count")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v, "the write is kept")
}

func TestCloseEndsSessions(t *testing.T) {
	h, srv := newTestHub(t, map[string]any{"count": 0})
	conn := dial(t, srv, "count")
	readUpdate(t, conn)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Equal(t, 0, h.Sessions())

	resp := put(t, srv, "count", "1")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.ErrorIs(t, h.Set(context.Background(), "count", 2), ErrClosed)
}

func TestSetUnknown(t *testing.T) {
	h, _ := newTestHub(t, map[string]any{})
	assert.ErrorIs(t, h.Set(context.Background(), "x", 1), ErrUnknownSignal)
	_, err := h.Value("x")
	assert.ErrorIs(t, err, ErrUnknownSignal)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := telemetry.New(telemetry.WithRegistry(reg))
	h, srv := newTestHub(t, map[string]any{"count": 0}, WithMetrics(m))

	conn := dial(t, srv, "count")
	readUpdate(t, conn)
	require.Equal(t, http.StatusOK, put(t, srv, "count", "1").StatusCode)
	readUpdate(t, conn)

	assert.Equal(t, 1.0, gathered(t, reg, "reactive_active_roots"))
	assert.Equal(t, 1.0, gathered(t, reg, "reactive_signal_writes_total"))
	assert.Equal(t, 2.0, gathered(t, reg, "reactive_effect_runs_total"))

	conn.Close()
	require.Eventually(t, func() bool { return h.Sessions() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0.0, gathered(t, reg, "reactive_active_roots"))
}

// gathered sums every counter or gauge sample of the named family.
func gathered(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var sum float64
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				sum += c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				sum += g.GetValue()
			}
		}
		return sum
	}
	return 0
}
