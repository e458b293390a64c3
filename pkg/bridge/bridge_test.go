package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hibiki-ai/hibiki/pkg/config"
	"github.com/hibiki-ai/hibiki/pkg/device"
	"github.com/hibiki-ai/hibiki/pkg/outbox"
)

func newTestServer(t *testing.T, cfg config.BridgeConfig, box *outbox.Outbox) (*Server, *httptest.Server) {
	t.Helper()
	s := New(cfg, nil, box)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	ts := httptest.NewServer(http.HandlerFunc(s.handleWS))
	t.Cleanup(func() {
		s.cancel()
		ts.Close()
	})
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func writeFrame(t *testing.T, conn *websocket.Conn, f frame) {
	t.Helper()
	data, err := json.Marshal(f)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestRejectsBadToken(t *testing.T) {
	_, ts := newTestServer(t, config.BridgeConfig{Token: "secret"}, nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAcceptsQueryToken(t *testing.T) {
	s, ts := newTestServer(t, config.BridgeConfig{Token: "secret"}, nil)

	dial(t, ts, "?token=secret")
	require.Eventually(t, s.Connected, time.Second, 5*time.Millisecond)
}

func TestAcceptsBearerHeader(t *testing.T) {
	s, ts := newTestServer(t, config.BridgeConfig{Token: "secret"}, nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	header := http.Header{"Authorization": []string{"Bearer secret"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, s.Connected, time.Second, 5*time.Millisecond)
}

func TestDrainsQueuedOutputOnConnect(t *testing.T) {
	box := outbox.New(filepath.Join(t.TempDir(), "queue.json"))
	box.Append("assistant", "while you were away")
	_, ts := newTestServer(t, config.BridgeConfig{}, box)

	conn := dial(t, ts, "")
	f := readFrame(t, conn)
	assert.Equal(t, "assistant", f.Type)
	assert.Equal(t, "assistant", f.Role)
	assert.Equal(t, "while you were away", f.Content)
	assert.NotZero(t, f.Timestamp)

	pending, err := box.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending, "queue should be empty after the drain")
}

func TestForegroundEventDrainsQueue(t *testing.T) {
	box := outbox.New(filepath.Join(t.TempDir(), "queue.json"))
	s, ts := newTestServer(t, config.BridgeConfig{}, box)

	conn := dial(t, ts, "")
	require.Eventually(t, s.Connected, time.Second, 5*time.Millisecond)

	box.Append("assistant", "reminder fired")
	writeFrame(t, conn, frame{Type: "event", Event: "foreground"})

	f := readFrame(t, conn)
	assert.Equal(t, "assistant", f.Type)
	assert.Equal(t, "reminder fired", f.Content)
}

func TestUtteranceWithoutPipelineGetsErrorFrame(t *testing.T) {
	_, ts := newTestServer(t, config.BridgeConfig{}, nil)

	conn := dial(t, ts, "")
	writeFrame(t, conn, frame{Type: "utterance", Content: "hello?"})

	f := readFrame(t, conn)
	assert.Equal(t, "error", f.Type)
	assert.Contains(t, f.Content, "no conversation pipeline")
}

// respondRPC reads rpc_request frames off conn and answers each with the
// reply returned by answer, until the connection closes.
func respondRPC(t *testing.T, conn *websocket.Conn, answer func(method string, params json.RawMessage) (any, string)) {
	t.Helper()
	go func() {
		for {
			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f frame
			if json.Unmarshal(data, &f) != nil || f.Type != "rpc_request" {
				continue
			}
			result, errMsg := answer(f.Method, f.Params)
			reply := frame{Type: "rpc_response", ID: f.ID, Error: errMsg}
			if result != nil {
				raw, _ := json.Marshal(result)
				reply.Result = raw
			}
			data, _ = json.Marshal(reply)
			if conn.WriteMessage(websocket.TextMessage, data) != nil {
				return
			}
		}
	}()
}

func TestRPCRoundTrip(t *testing.T) {
	s, ts := newTestServer(t, config.BridgeConfig{}, nil)

	conn := dial(t, ts, "")
	require.Eventually(t, s.Connected, time.Second, 5*time.Millisecond)

	var gotMethod string
	respondRPC(t, conn, func(method string, params json.RawMessage) (any, string) {
		gotMethod = method
		return map[string]any{"snapshot": "<node id=\"root\"/>"}, ""
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snapshot, err := s.Device().UISnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ui_snapshot", gotMethod)
	assert.Equal(t, `<node id="root"/>`, snapshot)
}

func TestRPCCarriesParams(t *testing.T) {
	s, ts := newTestServer(t, config.BridgeConfig{}, nil)

	conn := dial(t, ts, "")
	require.Eventually(t, s.Connected, time.Second, 5*time.Millisecond)

	var gotParams map[string]any
	respondRPC(t, conn, func(method string, params json.RawMessage) (any, string) {
		_ = json.Unmarshal(params, &gotParams)
		return map[string]any{"outcome": "tapped"}, ""
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	outcome, err := s.Device().PerformAction(ctx, device.Action{ElementID: "btn-1", Kind: "tap"})
	require.NoError(t, err)
	assert.Equal(t, "tapped", outcome)
	assert.Equal(t, "btn-1", gotParams["elementId"])
	assert.Equal(t, "tap", gotParams["action"])
}

func TestRPCErrorsMapToDeviceSentinels(t *testing.T) {
	s, ts := newTestServer(t, config.BridgeConfig{}, nil)

	conn := dial(t, ts, "")
	require.Eventually(t, s.Connected, time.Second, 5*time.Millisecond)

	respondRPC(t, conn, func(method string, params json.RawMessage) (any, string) {
		switch method {
		case "ui_action":
			return nil, "element_not_found: btn-9"
		case "introspection_enabled":
			return nil, "introspection_disabled"
		default:
			return nil, "boom"
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := s.Device().PerformAction(ctx, device.Action{ElementID: "btn-9", Kind: "tap"})
	require.Error(t, err)
	assert.ErrorIs(t, err, device.ErrElementNotFound)

	_, err = s.Device().IntrospectionEnabled(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, device.ErrIntrospectionDisabled)

	err = s.Device().LaunchApp(ctx, "com.example.mail")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "launch_app failed: boom")
}

func TestRPCFailsWhenDisconnected(t *testing.T) {
	s, _ := newTestServer(t, config.BridgeConfig{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := s.Device().UISnapshot(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPushWithoutConnection(t *testing.T) {
	s := New(config.BridgeConfig{}, nil, nil)
	assert.ErrorIs(t, s.PushAssistant("hello"), ErrNotConnected)
}

func TestNewConnectionSupersedesOld(t *testing.T) {
	s, ts := newTestServer(t, config.BridgeConfig{}, nil)

	first := dial(t, ts, "")
	require.Eventually(t, s.Connected, time.Second, 5*time.Millisecond)

	dial(t, ts, "")

	require.NoError(t, first.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := first.ReadMessage()
	assert.Error(t, err, "old connection should be closed by the new one")
}

func TestMapDeviceError(t *testing.T) {
	err := mapDeviceError("ui_action", "element_not_found: btn-3")
	assert.ErrorIs(t, err, device.ErrElementNotFound)

	err = mapDeviceError("ui_snapshot", "introspection_disabled")
	assert.ErrorIs(t, err, device.ErrIntrospectionDisabled)

	err = mapDeviceError("speak", "audio focus denied")
	require.Error(t, err)
	assert.False(t, errors.Is(err, device.ErrElementNotFound))
	assert.Equal(t, "speak failed: audio focus denied", err.Error())
}
