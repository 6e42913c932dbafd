package hume

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/emostream/relay/internal/emotion"
)

// MediaKind tags the media type of an outbound frame. The upstream API
// assumes video when the tag is absent.
type MediaKind string

const (
	MediaKindVideo MediaKind = ""
	MediaKindAudio MediaKind = "audio"
)

// State is the upstream connection lifecycle state
type State int

const (
	StateConnecting State = iota
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config contains upstream streaming connection configuration
type Config struct {
	StreamURL string
	APIKey    string
}

// Callbacks are the notifications a session delivers to the relay layer.
// They are invoked from the session's goroutines; handlers must be safe to
// call after the client socket has gone away.
type Callbacks struct {
	OnConnected func()
	OnSnapshot  func(*emotion.Snapshot)
	OnError     func(error)
	OnClosed    func()
}

// Client owns one streaming connection to the emotion-inference service for
// a single relay client. It is created in the connecting state; Connect moves
// it to streaming, and Close (or any upstream error) moves it to the terminal
// closed state. A new session requires a new Client.
type Client struct {
	config    Config
	clientID  string
	logger    *slog.Logger
	dialer    *websocket.Dialer
	callbacks Callbacks

	mu    sync.Mutex
	conn  *websocket.Conn
	state State
}

// Outbound message envelopes, fixed by the upstream protocol.
type configEnvelope struct {
	Config modelConfig `json:"config"`
}

type modelConfig struct {
	Models    modelSelection `json:"models"`
	RawOutput bool           `json:"raw_output"`
}

type modelSelection struct {
	Face     struct{} `json:"face"`
	Prosody  struct{} `json:"prosody"`
	Language struct{} `json:"language"`
}

type frameEnvelope struct {
	Data frameData `json:"data"`
}

type frameData struct {
	Media      string     `json:"media"`
	SourceInfo sourceInfo `json:"source_info"`
}

type sourceInfo struct {
	SourceID    string    `json:"source_id"`
	TimestampMs int64     `json:"timestamp_ms"`
	MediaType   MediaKind `json:"media_type,omitempty"`
}

// NewClient creates a session client in the connecting state.
func NewClient(config Config, clientID string, logger *slog.Logger, callbacks Callbacks) *Client {
	return &Client{
		config:    config,
		clientID:  clientID,
		logger:    logger,
		dialer:    websocket.DefaultDialer,
		callbacks: callbacks,
	}
}

// Connect dials the upstream service with the bearer credential, sends the
// fixed capability configuration, and starts the read loop. On failure the
// session is closed and an error returned; the caller reports it to the
// client side.
func (c *Client) Connect() error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.config.APIKey)

	conn, _, err := c.dialer.Dial(c.config.StreamURL, header)
	if err != nil {
		c.setClosed()
		return fmt.Errorf("failed to connect to emotion stream: %w", err)
	}

	// Model configuration must be the first outbound message
	if err := conn.WriteJSON(configEnvelope{Config: modelConfig{RawOutput: false}}); err != nil {
		conn.Close()
		c.setClosed()
		return fmt.Errorf("failed to send model configuration: %w", err)
	}

	c.mu.Lock()
	if c.state == StateClosed {
		// Torn down while the dial was in flight
		c.mu.Unlock()
		conn.Close()
		return fmt.Errorf("session closed during connect")
	}
	c.conn = conn
	c.state = StateStreaming
	c.mu.Unlock()

	c.logger.Info("upstream connection established", slog.String("client_id", c.clientID))
	if c.callbacks.OnConnected != nil {
		c.callbacks.OnConnected()
	}

	go c.readLoop(conn)

	return nil
}

// State returns the current lifecycle state
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SubmitFrame forwards one media blob to the upstream service, stamped with
// the current time. Frames are silently dropped while the connection is not
// streaming; best-effort relay promises nothing stronger.
func (c *Client) SubmitFrame(media string, kind MediaKind) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateStreaming || c.conn == nil {
		return
	}

	frame := frameEnvelope{
		Data: frameData{
			Media: media,
			SourceInfo: sourceInfo{
				SourceID:    c.clientID,
				TimestampMs: time.Now().UnixMilli(),
				MediaType:   kind,
			},
		},
	}

	if err := c.conn.WriteJSON(frame); err != nil {
		c.logger.Error("failed to forward frame upstream",
			slog.String("client_id", c.clientID),
			slog.String("error", err.Error()),
		)
	}
}

// readLoop consumes upstream messages until the connection dies. Prediction
// messages become snapshots; malformed payloads are logged and skipped;
// anything else is ignored.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		snapshot, ok, err := emotion.Extract(raw, time.Now())
		if err != nil {
			c.logger.Warn("ignoring malformed upstream message",
				slog.String("client_id", c.clientID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !ok {
			continue
		}

		if c.callbacks.OnSnapshot != nil {
			c.callbacks.OnSnapshot(snapshot)
		}
	}
}

// handleReadError classifies the end of the read loop: deliberate local
// teardown and normal upstream closure report a plain close, everything else
// reports an error first. Both paths end in the terminal closed state.
func (c *Client) handleReadError(err error) {
	deliberate := c.State() == StateClosed

	c.closeTransport()

	if !deliberate && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Error("upstream connection error",
			slog.String("client_id", c.clientID),
			slog.String("error", err.Error()),
		)
		if c.callbacks.OnError != nil {
			c.callbacks.OnError(err)
		}
	} else {
		c.logger.Info("upstream connection closed", slog.String("client_id", c.clientID))
	}

	if c.callbacks.OnClosed != nil {
		c.callbacks.OnClosed()
	}
}

// Close tears the session down. Safe to call from any state and any number
// of times.
func (c *Client) Close() {
	c.closeTransport()
}

func (c *Client) setClosed() {
	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
}

func (c *Client) closeTransport() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.state = StateClosed
	c.mu.Unlock()

	if conn != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}
}
