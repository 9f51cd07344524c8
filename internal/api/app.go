// Package api serves the read-side HTTP surface: query endpoints over
// the store, a websocket stream fed by the event broker, and metrics.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mcpwatch/mcpwatch/internal/events"
	"github.com/mcpwatch/mcpwatch/internal/metrics"
	"github.com/mcpwatch/mcpwatch/internal/store"
	"github.com/mcpwatch/mcpwatch/pkg/types"
)

type App struct {
	events   store.EventStore
	findings store.FindingStore
	broker   *events.Broker
	metrics  *metrics.Metrics
}

func NewApp(ev store.EventStore, f store.FindingStore, broker *events.Broker, m *metrics.Metrics) *App {
	return &App{events: ev, findings: f, broker: broker, metrics: m}
}

func (a *App) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { writeText(w, http.StatusOK, "ok\n") })

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/events", a.listEvents)
		r.Get("/findings", a.listFindings)
		r.Get("/stream", a.streamUpdates)
	})

	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics.Handler())
	}
	return r
}

func (a *App) listEvents(w http.ResponseWriter, r *http.Request) {
	q, err := parseEventQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	msgs, err := a.events.QueryMessages(r.Context(), q)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if msgs == nil {
		msgs = []types.CanonicalMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (a *App) listFindings(w http.ResponseWriter, r *http.Request) {
	q, err := parseEventQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	fs, err := a.findings.QueryFindings(r.Context(), q)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if fs == nil {
		fs = []types.Finding{}
	}
	writeJSON(w, http.StatusOK, fs)
}

func parseEventQuery(r *http.Request) (types.EventQuery, error) {
	var q types.EventQuery
	vals := r.URL.Query()

	q.Tag = vals.Get("tag")
	if t := vals.Get("types"); t != "" {
		q.Types = strings.Split(t, ",")
	}
	if s := vals.Get("since"); s != "" {
		ts, err := parseTimeParam(s)
		if err != nil {
			return q, err
		}
		q.Since = &ts
	}
	if s := vals.Get("until"); s != "" {
		ts, err := parseTimeParam(s)
		if err != nil {
			return q, err
		}
		q.Until = &ts
	}
	if s := vals.Get("severity"); s != "" {
		sev, err := types.ParseSeverity(s)
		if err != nil {
			return q, err
		}
		q.Severity = &sev
	}
	if s := vals.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return q, err
		}
		q.Limit = n
	}
	if s := vals.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return q, err
		}
		q.Offset = n
	}
	q.Asc = vals.Get("order") == "asc"
	return q, nil
}

// parseTimeParam accepts RFC3339 or a relative duration like "15m".
func parseTimeParam(s string) (time.Time, error) {
	if strings.ContainsAny(s, "smhdw") && !strings.Contains(s, "T") {
		d, err := time.ParseDuration(s)
		if err != nil {
			return time.Time{}, err
		}
		return time.Now().UTC().Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(s))
}
