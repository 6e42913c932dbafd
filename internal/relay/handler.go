package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/emostream/relay/internal/emotion"
	"github.com/emostream/relay/internal/enrich"
	"github.com/emostream/relay/internal/hume"
	"github.com/emostream/relay/internal/metrics"
)

// Client channel event names
const (
	eventStartSession = "start_session"
	eventVideoFrame   = "video_frame"
	eventAudioData    = "audio_data"
	eventDisconnect   = "disconnect"

	eventWelcome          = "welcome"
	eventStatus           = "status"
	eventHumeConnected    = "hume_connected"
	eventHumeError        = "hume_error"
	eventHumeDisconnected = "hume_disconnected"
	eventEmotionalData    = "emotional_data"
	eventGPTAnalysis      = "gpt_analysis"
	eventError            = "error"
)

const (
	welcomeMessage   = "Successfully connected to WebSocket server!"
	startingMessage  = "Starting emotion analysis session..."
	humeErrorMessage = "Connection error with emotion analysis service"
	duplicateMessage = "Session already active"
)

// SessionFactory creates an upstream session for a client. The handler calls
// Connect on its own goroutine.
type SessionFactory func(clientID string, callbacks hume.Callbacks) UpstreamSession

// Enricher turns a snapshot into an enrichment result. Implementations never
// return an error; failures are carried inside the result.
type Enricher interface {
	Analyze(ctx context.Context, snapshot *emotion.Snapshot) enrich.Result
}

// Handler relays events between client WebSocket channels and upstream
// sessions. It has no state of its own beyond the collaborators it delegates
// to.
type Handler struct {
	logger     *slog.Logger
	registry   *Registry
	throttle   *Throttle
	enricher   Enricher
	metrics    *metrics.Metrics
	newSession SessionFactory
	upgrader   websocket.Upgrader
}

// envelope is the JSON message frame used on the client channel in both
// directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type textMessage struct {
	Message string `json:"message"`
}

// NewHandler creates the relay handler
func NewHandler(logger *slog.Logger, registry *Registry, throttle *Throttle,
	enricher Enricher, m *metrics.Metrics, newSession SessionFactory) *Handler {

	return &Handler{
		logger:     logger,
		registry:   registry,
		throttle:   throttle,
		enricher:   enricher,
		metrics:    m,
		newSession: newSession,
		upgrader:   websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

// clientConn is one connected client channel. All writes go through the
// mutex so concurrent senders (client loop, upstream read loop, enrichment
// goroutines) never interleave frames.
type clientConn struct {
	id     string
	ws     *websocket.Conn
	logger *slog.Logger
	mu     sync.Mutex
}

// send writes one event to the client. A write to a closed socket is logged
// and otherwise ignored; late results after disconnect are simply discarded.
func (c *clientConn) send(event string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ws.WriteJSON(outbound{Event: event, Data: data}); err != nil {
		c.logger.Debug("dropped outbound event",
			slog.String("client_id", c.id),
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// ServeWS upgrades the HTTP request and runs the client event loop until the
// channel closes. Session teardown runs on every exit path.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", slog.String("error", err.Error()))
		return
	}

	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = ulid.Make().String()
	}

	conn := &clientConn{id: clientID, ws: ws, logger: h.logger}

	h.metrics.RecordClientConnected()
	h.logger.Info("client connected", slog.String("client_id", clientID))

	conn.send(eventWelcome, textMessage{Message: welcomeMessage})

	defer func() {
		h.destroySession(clientID)
		ws.Close()
		h.logger.Info("client disconnected", slog.String("client_id", clientID))
	}()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			h.logger.Warn("ignoring malformed client message",
				slog.String("client_id", clientID),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch env.Event {
		case eventStartSession:
			h.startSession(conn)
		case eventVideoFrame:
			h.relayFrame(conn, env.Data, hume.MediaKindVideo)
		case eventAudioData:
			h.relayFrame(conn, env.Data, hume.MediaKindAudio)
		case eventDisconnect:
			return
		default:
			h.logger.Debug("ignoring unknown client event",
				slog.String("client_id", clientID),
				slog.String("event", env.Event),
			)
		}
	}
}

// startSession creates the upstream session and wires its notifications back
// onto the client channel. A duplicate start is a soft error event, not a
// session change.
func (h *Handler) startSession(conn *clientConn) {
	session := h.newSession(conn.id, hume.Callbacks{
		OnConnected: func() {
			conn.send(eventHumeConnected, nil)
		},
		OnSnapshot: func(snapshot *emotion.Snapshot) {
			h.handleSnapshot(conn, snapshot)
		},
		OnError: func(err error) {
			conn.send(eventHumeError, textMessage{Message: humeErrorMessage})
		},
		OnClosed: func() {
			conn.send(eventHumeDisconnected, nil)
			h.destroySession(conn.id)
		},
	})

	if err := h.registry.Create(conn.id, session); err != nil {
		h.logger.Warn("session already active", slog.String("client_id", conn.id))
		conn.send(eventError, textMessage{Message: duplicateMessage})
		return
	}

	h.metrics.RecordSessionCreated()
	h.metrics.SetActiveSessions(h.registry.Count())

	conn.send(eventStatus, textMessage{Message: startingMessage})

	go func() {
		if err := session.Connect(); err != nil {
			h.logger.Error("failed to start session",
				slog.String("client_id", conn.id),
				slog.String("error", err.Error()),
			)
			conn.send(eventHumeError, textMessage{Message: humeErrorMessage})
			// The upstream never reached streaming; release the slot so the
			// client can retry with a fresh start_session.
			h.destroySession(conn.id)
		}
	}()
}

// handleSnapshot forwards the raw snapshot to the client and, when the
// throttle permits, runs enrichment in the background. Delivery order of the
// enrichment result relative to later snapshots is not guaranteed.
func (h *Handler) handleSnapshot(conn *clientConn, snapshot *emotion.Snapshot) {
	conn.send(eventEmotionalData, snapshot)
	h.metrics.RecordSnapshotRelayed()

	if !h.throttle.TryAcquire(conn.id) {
		h.metrics.RecordEnrichmentThrottled()
		return
	}

	go func() {
		result := h.enricher.Analyze(context.Background(), snapshot)
		h.metrics.RecordEnrichment(!result.Error)
		conn.send(eventGPTAnalysis, result)
	}()
}

// relayFrame forwards one media blob to the client's upstream session.
// Missing sessions and closed connections drop the frame silently.
func (h *Handler) relayFrame(conn *clientConn, data json.RawMessage, kind hume.MediaKind) {
	session, err := h.registry.Get(conn.id)
	if err != nil {
		return
	}

	var media string
	if err := json.Unmarshal(data, &media); err != nil {
		h.logger.Warn("ignoring malformed media frame",
			slog.String("client_id", conn.id),
			slog.String("error", err.Error()),
		)
		return
	}

	session.SubmitFrame(media, kind)

	kindLabel := "video"
	if kind == hume.MediaKindAudio {
		kindLabel = "audio"
	}
	h.metrics.RecordFrameRelayed(kindLabel)
}

// destroySession tears down the client's session and throttle entry. Safe on
// every disconnect path, including repeated calls.
func (h *Handler) destroySession(clientID string) {
	if h.registry.Destroy(clientID) {
		h.metrics.RecordSessionDestroyed()
	}
	h.throttle.Release(clientID)
	h.metrics.SetActiveSessions(h.registry.Count())
}
