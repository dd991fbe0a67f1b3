package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/quill/internal/metrics"
	"github.com/DukeRupert/quill/internal/watch"
)

// streamKeepAlive is how often an idle event stream sends a comment line.
const streamKeepAlive = 25 * time.Second

// streamBuffer bounds the events queued for a slow client. Events beyond
// it are dropped and the client is told to resynchronise.
const streamBuffer = 32

// sseEvent is one Server-Sent Event.
type sseEvent struct {
	Name string
	Data any
}

// serveStream subscribes to key on the registry and writes each published
// value as an event until the client goes away. The subscription is removed
// when the request ends.
func serveStream[T any](
	w http.ResponseWriter,
	r *http.Request,
	logger *slog.Logger,
	stream string,
	registry *watch.Registry[T],
	key string,
	initial []sseEvent,
	encode func(T) sseEvent,
) {
	rc := http.NewResponseController(w)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	events := make(chan sseEvent, streamBuffer)
	overflow := make(chan struct{}, 1)
	unsubscribe := registry.Subscribe(key, func(v T) {
		select {
		case events <- encode(v):
		default:
			select {
			case overflow <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	metrics.StreamSubscribers.WithLabelValues(stream).Inc()
	defer metrics.StreamSubscribers.WithLabelValues(stream).Dec()

	for _, ev := range initial {
		if err := writeEvent(w, ev); err != nil {
			return
		}
	}
	if err := rc.Flush(); err != nil {
		logger.Warn("event stream unsupported", "error", err, "stream", stream)
		return
	}

	ticker := time.NewTicker(streamKeepAlive)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-r.Context().Done():
			return
		case ev := <-events:
			err = writeEvent(w, ev)
		case <-overflow:
			err = writeEvent(w, sseEvent{Name: "resync", Data: map[string]string{"reason": "events dropped"}})
		case <-ticker.C:
			_, err = fmt.Fprint(w, ": keep-alive\n\n")
		}
		if err == nil {
			err = rc.Flush()
		}
		if err != nil {
			logger.Debug("event stream closed", "error", err, "stream", stream)
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, ev sseEvent) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, data)
	return err
}
