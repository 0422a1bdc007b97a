package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"experiment-test-service/internal/app"
	"github.com/gorilla/websocket"
)

// MonitorHandler streams the accepted session events of one config version.
type MonitorHandler struct {
	events    app.EventSubscriber
	snapshots app.SnapshotRepository
	logger    *slog.Logger
	upgrader  websocket.Upgrader
}

func NewMonitorHandler(events app.EventSubscriber, snapshots app.SnapshotRepository, logger *slog.Logger) *MonitorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MonitorHandler{
		events:    events,
		snapshots: snapshots,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS follows ?config=N, or the latest version when absent.
func (h *MonitorHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	version, err := h.version(r)
	if err != nil {
		writeError(w, err)
		return
	}

	updates, cancel, err := h.events.Subscribe(r.Context(), version)
	if err != nil {
		writeError(w, err)
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			// monitors only listen; reading detects the close
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	if err := conn.WriteJSON(outboundMessage[any]{Type: "subscribed", Payload: map[string]int{"configVersion": version}}); err != nil {
		return
	}
	for {
		select {
		case ev, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(outboundMessage[any]{Type: "event", Payload: ev}); err != nil {
				h.logger.Warn("monitor write error", "err", err)
				return
			}
		case <-closed:
			return
		}
	}
}

func (h *MonitorHandler) version(r *http.Request) (int, error) {
	return versionParam(r, "config", h.snapshots)
}

// versionParam reads a config version query parameter, resolving absent or 0 to the latest.
func versionParam(r *http.Request, name string, snapshots app.SnapshotRepository) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, errBadParam(name)
		}
		if v > 0 {
			return v, nil
		}
	}
	snap, err := snapshots.Latest(r.Context())
	if err != nil {
		return 0, err
	}
	return snap.Version, nil
}
