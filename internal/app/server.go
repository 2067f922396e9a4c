package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/sous/internal/conversation"
	"github.com/MrWong99/sous/internal/health"
	"github.com/MrWong99/sous/internal/observe"
	"github.com/MrWong99/sous/pkg/audio"
)

const defaultHistoryLimit = 20

// routes builds the control API. Gestures are POSTs so that a presentation
// layer can map buttons onto them directly.
func (a *App) routes() http.Handler {
	mux := http.NewServeMux()

	health.New(
		health.Condition("orchestrator", a.orch.Running, "orchestrator is not running"),
		health.Condition("detector", a.detector.Started, "capture is not running"),
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /v1/listen", a.gesture(a.orch.Listen))
	mux.HandleFunc("POST /v1/tap", a.gesture(a.orch.Tap))
	mux.HandleFunc("POST /v1/press/start", a.gesture(a.orch.PressStart))
	mux.HandleFunc("POST /v1/press/end", a.gesture(a.orch.PressEnd))
	mux.HandleFunc("PUT /v1/expert-mode", a.handleExpertMode)
	mux.HandleFunc("GET /v1/state", a.handleState)
	mux.HandleFunc("GET /v1/history", a.handleHistory)
	mux.HandleFunc("GET /v1/events", a.handleEvents)
	return mux
}

type errorBody struct {
	Error string `json:"error"`
}

// gesture adapts an orchestrator call to a handler that answers with the
// resulting snapshot.
func (a *App) gesture(fn func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context()); err != nil {
			a.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, a.orch.Snapshot())
	}
}

func (a *App) handleExpertMode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: `body must be {"enabled": true|false}`})
		return
	}
	if err := a.orch.SetExpertMode(r.Context(), *body.Enabled); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.orch.Snapshot())
}

func (a *App) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.orch.Snapshot())
}

func (a *App) handleHistory(w http.ResponseWriter, r *http.Request) {
	n := defaultHistoryLimit
	if s := r.URL.Query().Get("n"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "n must be a positive integer"})
			return
		}
		n = v
	}
	entries := a.orch.History().Recent(n)
	if entries == nil {
		entries = []conversation.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleEvents streams state changes and notices as server-sent events. The
// first event is the current snapshot.
func (a *App) handleEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	changes, unsubscribe := a.orch.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, "snapshot", a.orch.Snapshot()); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		observe.Logger(r.Context()).Debug("events: flush unsupported", "err", err)
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case c := <-changes:
			if err := writeEvent(w, string(c.Kind), c); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, conversation.ErrNotRunning), errors.Is(err, audio.ErrCaptureUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusRequestTimeout
	}
	a.metrics.RecordError(r.Context(), "http", err)
	observe.Logger(r.Context()).Warn("control request failed", "path", r.URL.Path, "status", status, "err", err)
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "err", err)
	}
}
