package hub

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/vango-dev/reactive/internal/errors"
)

// maxBodySize caps PUT bodies.
const maxBodySize = 1 << 20

// SignalValue is the JSON shape of a single signal.
type SignalValue struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Listing is the JSON shape of GET /signals.
type Listing struct {
	Signals  []SignalValue `json:"signals"`
	Sessions int           `json:"sessions"`
}

// Routes returns the hub's HTTP handler:
//
//	GET /signals               all signals and the open session count
//	GET /signals/{name}        one signal
//	PUT /signals/{name}        write a JSON value, reply once stable
//	GET /signals/{name}/watch  WebSocket stream of Update messages
func (h *Hub) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/signals", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Get("/{name}", h.handleGet)
		r.Put("/{name}", h.handlePut)
		r.Get("/{name}/watch", h.handleWatch)
	})
	return r
}

func (h *Hub) handleList(w http.ResponseWriter, r *http.Request) {
	out := Listing{Signals: make([]SignalValue, 0, len(h.names)), Sessions: h.Sessions()}
	for _, name := range h.names {
		out.Signals = append(out.Signals, SignalValue{Name: name, Value: h.signals[name].Peek()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Hub) handleGet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	v, err := h.Value(name)
	if err != nil {
		h.writeError(w, r, unknownSignal(name))
		return
	}
	writeJSON(w, http.StatusOK, SignalValue{Name: name, Value: v})
}

func (h *Hub) handlePut(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := h.signals[name]; !ok {
		h.writeError(w, r, unknownSignal(name))
		return
	}

	var value any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.UseNumber()
	if err := dec.Decode(&value); err != nil {
		h.writeError(w, r, errors.New("R161").WithKey(name).Wrap(err))
		return
	}
	value = normalize(value)

	if err := h.Set(r.Context(), name, value); err != nil {
		if stderrors.Is(err, ErrClosed) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		h.writeError(w, r, err)
		return
	}
	h.logger.Debug("signal written", "signal", name, "request_id", middleware.GetReqID(r.Context()))
	writeJSON(w, http.StatusOK, SignalValue{Name: name, Value: value})
}

func (h *Hub) handleWatch(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := h.signals[name]; !ok {
		h.writeError(w, r, unknownSignal(name))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied
		h.logger.Warn("websocket upgrade failed", "error", errors.New("R163").Wrap(err))
		return
	}

	s := newSession(h, conn, name)
	if !h.register(s) {
		s.shutdown()
		return
	}
	if err := s.start(); err != nil {
		return
	}
	go s.writeLoop()
	s.readLoop()
}

func unknownSignal(name string) *errors.Error {
	return errors.New("R160").
		WithKey(name).
		Wrap(ErrUnknownSignal).
		WithSuggestion("GET /signals lists the served names")
}

// status maps hub error codes to HTTP status codes.
func status(code string) int {
	switch code {
	case "R160":
		return http.StatusNotFound
	case "R161":
		return http.StatusBadRequest
	case "R162":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Hub) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e := errors.FromError(err, "")
	code := status(e.Code)
	if code >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "error", err,
			"request_id", middleware.GetReqID(r.Context()))
	}
	writeJSON(w, code, e)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// normalize turns json.Number values into int64 when they are whole and
// float64 otherwise, so integer signals keep integer values.
func normalize(v any) any {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		f, _ := v.Float64()
		return f
	case []any:
		for i := range v {
			v[i] = normalize(v[i])
		}
		return v
	case map[string]any:
		for k := range v {
			v[k] = normalize(v[k])
		}
		return v
	}
	return v
}
