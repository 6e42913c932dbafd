package hume

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emostream/relay/internal/emotion"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeUpstream runs an in-process stand-in for the inference streaming
// service.
type fakeUpstream struct {
	server *httptest.Server
	auth   chan string
	conns  chan *websocket.Conn
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()

	f := &fakeUpstream{
		auth:  make(chan string, 8),
		conns: make(chan *websocket.Conn, 8),
	}

	upgrader := websocket.Upgrader{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.conns <- conn
	}))

	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeUpstream) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *fakeUpstream) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-f.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("upstream connection never arrived")
		return nil
	}
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]interface{}
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

type recordedCallbacks struct {
	connected chan struct{}
	snapshots chan *emotion.Snapshot
	errors    chan error
	closed    chan struct{}
}

func newRecordedCallbacks() (*recordedCallbacks, Callbacks) {
	rec := &recordedCallbacks{
		connected: make(chan struct{}, 8),
		snapshots: make(chan *emotion.Snapshot, 8),
		errors:    make(chan error, 8),
		closed:    make(chan struct{}, 8),
	}
	return rec, Callbacks{
		OnConnected: func() { rec.connected <- struct{}{} },
		OnSnapshot:  func(s *emotion.Snapshot) { rec.snapshots <- s },
		OnError:     func(err error) { rec.errors <- err },
		OnClosed:    func() { rec.closed <- struct{}{} },
	}
}

func waitSignal(t *testing.T, ch chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestConnectSendsConfiguration(t *testing.T) {
	upstream := newFakeUpstream(t)
	rec, callbacks := newRecordedCallbacks()

	client := NewClient(Config{StreamURL: upstream.url(), APIKey: "secret"}, "client-1", testLogger(), callbacks)
	require.NoError(t, client.Connect())
	defer client.Close()

	assert.Equal(t, "Bearer secret", <-upstream.auth)
	waitSignal(t, rec.connected, "connected notification")
	assert.Equal(t, StateStreaming, client.State())

	conn := upstream.conn(t)
	defer conn.Close()

	// First outbound message is the fixed capability configuration
	msg := readJSON(t, conn)
	config, ok := msg["config"].(map[string]interface{})
	require.True(t, ok, "first message must be the config envelope, got %v", msg)

	models, ok := config["models"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, models, "face")
	assert.Contains(t, models, "prosody")
	assert.Contains(t, models, "language")
	assert.Equal(t, false, config["raw_output"])
}

func TestConnectFailure(t *testing.T) {
	// A server that is already gone refuses the dial
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	rec, callbacks := newRecordedCallbacks()
	client := NewClient(Config{StreamURL: url, APIKey: "secret"}, "client-1", testLogger(), callbacks)

	err := client.Connect()
	assert.Error(t, err)
	assert.Equal(t, StateClosed, client.State())

	select {
	case <-rec.connected:
		t.Fatal("connected notification must not fire on dial failure")
	default:
	}
}

func TestSubmitFrameEnvelope(t *testing.T) {
	upstream := newFakeUpstream(t)
	_, callbacks := newRecordedCallbacks()

	client := NewClient(Config{StreamURL: upstream.url(), APIKey: "secret"}, "client-42", testLogger(), callbacks)
	require.NoError(t, client.Connect())
	defer client.Close()

	conn := upstream.conn(t)
	defer conn.Close()
	readJSON(t, conn) // skip config

	client.SubmitFrame("YmxvYg==", MediaKindAudio)

	msg := readJSON(t, conn)
	data, ok := msg["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "YmxvYg==", data["media"])

	sourceInfo, ok := data["source_info"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "client-42", sourceInfo["source_id"])
	assert.Equal(t, "audio", sourceInfo["media_type"])
	assert.Greater(t, sourceInfo["timestamp_ms"].(float64), float64(0))
}

func TestSubmitFrameVideoOmitsMediaType(t *testing.T) {
	upstream := newFakeUpstream(t)
	_, callbacks := newRecordedCallbacks()

	client := NewClient(Config{StreamURL: upstream.url(), APIKey: "secret"}, "client-1", testLogger(), callbacks)
	require.NoError(t, client.Connect())
	defer client.Close()

	conn := upstream.conn(t)
	defer conn.Close()
	readJSON(t, conn) // skip config

	client.SubmitFrame("ZnJhbWU=", MediaKindVideo)

	msg := readJSON(t, conn)
	data := msg["data"].(map[string]interface{})
	sourceInfo := data["source_info"].(map[string]interface{})
	assert.NotContains(t, sourceInfo, "media_type")
}

func TestSubmitFrameDroppedWhenNotStreaming(t *testing.T) {
	_, callbacks := newRecordedCallbacks()
	client := NewClient(Config{StreamURL: "ws://127.0.0.1:1", APIKey: "secret"}, "client-1", testLogger(), callbacks)

	// Still connecting: no panic, frame silently dropped
	client.SubmitFrame("ZnJhbWU=", MediaKindVideo)

	client.Close()
	client.SubmitFrame("ZnJhbWU=", MediaKindVideo)
	assert.Equal(t, StateClosed, client.State())
}

func TestPredictionMessagesBecomeSnapshots(t *testing.T) {
	upstream := newFakeUpstream(t)
	rec, callbacks := newRecordedCallbacks()

	client := NewClient(Config{StreamURL: upstream.url(), APIKey: "secret"}, "client-1", testLogger(), callbacks)
	require.NoError(t, client.Connect())
	defer client.Close()

	conn := upstream.conn(t)
	defer conn.Close()
	readJSON(t, conn) // skip config

	// Irrelevant and malformed messages are skipped without killing the loop
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"job_details":{}}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`garbage`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"predictions":{"face":{"emotions":{"joy":0.8,"calm":0.1}}}}`)))

	select {
	case snapshot := <-rec.snapshots:
		require.NotNil(t, snapshot.Face)
		require.Len(t, snapshot.Face.Emotions, 2)
		assert.Equal(t, "joy", snapshot.Face.Emotions[0].Name)
		assert.Nil(t, snapshot.Speech)
		assert.Nil(t, snapshot.Language)
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot never delivered")
	}
}

func TestCloseNotifiesWithoutError(t *testing.T) {
	upstream := newFakeUpstream(t)
	rec, callbacks := newRecordedCallbacks()

	client := NewClient(Config{StreamURL: upstream.url(), APIKey: "secret"}, "client-1", testLogger(), callbacks)
	require.NoError(t, client.Connect())

	conn := upstream.conn(t)
	defer conn.Close()
	readJSON(t, conn) // skip config

	client.Close()
	waitSignal(t, rec.closed, "closed notification")

	select {
	case err := <-rec.errors:
		t.Fatalf("deliberate close must not report an error, got %v", err)
	default:
	}

	assert.Equal(t, StateClosed, client.State())

	// Close is terminal and idempotent
	client.Close()
	assert.Equal(t, StateClosed, client.State())
}

func TestUpstreamErrorNotifiesBothWays(t *testing.T) {
	upstream := newFakeUpstream(t)
	rec, callbacks := newRecordedCallbacks()

	client := NewClient(Config{StreamURL: upstream.url(), APIKey: "secret"}, "client-1", testLogger(), callbacks)
	require.NoError(t, client.Connect())
	defer client.Close()

	conn := upstream.conn(t)
	readJSON(t, conn) // skip config

	// Drop the TCP connection without a close handshake
	conn.UnderlyingConn().Close()

	select {
	case <-rec.errors:
	case <-time.After(2 * time.Second):
		t.Fatal("error notification never delivered")
	}
	waitSignal(t, rec.closed, "closed notification")
	assert.Equal(t, StateClosed, client.State())
}

// Keep the decoder honest about what prediction payloads look like on the wire.
func TestFrameEnvelopeJSON(t *testing.T) {
	frame := frameEnvelope{
		Data: frameData{
			Media: "abc",
			SourceInfo: sourceInfo{
				SourceID:    "c1",
				TimestampMs: 123,
			},
		},
	}

	data, err := json.Marshal(frame)
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":{"media":"abc","source_info":{"source_id":"c1","timestamp_ms":123}}}`, string(data))
}
