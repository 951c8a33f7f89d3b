package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	tuyabridge "github.com/nerrad567/gray-logic-tuya/internal/bridges/tuya"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/logging"
)

func newTestHub(devices StateSource) *Hub {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	return NewHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, log, devices)
}

func newHubClient(hub *Hub, devices ...string) *wsClient {
	c := &wsClient{
		hub:      hub,
		send:     make(chan []byte, wsSendBufferSize),
		watching: make(map[string]struct{}),
	}
	for _, id := range devices {
		c.watching[id] = struct{}{}
	}
	hub.register(c)
	return c
}

// nextFrame returns the next queued frame, failing if there is none.
func nextFrame(t *testing.T, c *wsClient) Frame {
	t.Helper()
	select {
	case data := <-c.send:
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return f
	default:
		t.Fatal("expected a queued frame")
		return Frame{}
	}
}

func assertNoFrame(t *testing.T, c *wsClient) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Errorf("unexpected frame %s", data)
	default:
	}
}

func TestHub_PublishStateToWatchers(t *testing.T) {
	hub := newTestHub(newMockBridge())
	watcher := newHubClient(hub, testDeviceID)
	all := newHubClient(hub, WatchAll)
	other := newHubClient(hub, "bf0000000000000000")

	hub.PublishState(tuyabridge.StateMessage{DeviceID: testDeviceID, State: map[string]any{"1": true}})

	for name, c := range map[string]*wsClient{"watcher": watcher, "watch all": all} {
		f := nextFrame(t, c)
		if f.Type != FrameState || f.DeviceID != testDeviceID || f.State == nil {
			t.Errorf("%s frame = %+v", name, f)
		}
	}
	assertNoFrame(t, other)
}

func TestHub_UnregisterClosesSendOnce(t *testing.T) {
	hub := newTestHub(newMockBridge())
	c := newHubClient(hub)

	hub.unregister(c)
	hub.unregister(c)

	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}
	if _, ok := <-c.send; ok {
		t.Error("send channel should be closed")
	}

	// Publishing to a closed client must not panic.
	c.trySend([]byte("late"))
}

func TestWSClient_HandleFrame(t *testing.T) {
	bridge := newMockBridge()
	bridge.markReady(testDeviceID, map[string]any{"1": true})
	hub := newTestHub(bridge)

	tests := []struct {
		name      string
		frame     string
		wantTypes []string
	}{
		{"watch replays ready state", `{"type":"watch","id":"1","devices":["` + testDeviceID + `"]}`, []string{FrameAck, FrameState}},
		{"watch device without session", `{"type":"watch","id":"2","devices":["bf0000000000000000"]}`, []string{FrameAck}},
		{"watch all", `{"type":"watch","id":"3","devices":["*"]}`, []string{FrameAck}},
		{"watch without devices", `{"type":"watch","id":"4"}`, []string{FrameError}},
		{"unwatch", `{"type":"unwatch","id":"5","devices":["*"]}`, []string{FrameAck}},
		{"unwatch without devices", `{"type":"unwatch","id":"6"}`, []string{FrameError}},
		{"write", `{"type":"write","id":"7","device_id":"` + testDeviceID + `","properties":{"1":false}}`, []string{FrameAck}},
		{"write without properties", `{"type":"write","id":"8","device_id":"` + testDeviceID + `"}`, []string{FrameError}},
		{"write to device without session", `{"type":"write","id":"9","device_id":"bf0000000000000000","properties":{"1":false}}`, []string{FrameError}},
		{"ping", `{"type":"ping","id":"10"}`, []string{FramePong}},
		{"unknown type", `{"type":"shout","id":"11"}`, []string{FrameError}},
		{"invalid JSON", `{`, []string{FrameError}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newHubClient(hub)
			c.handleFrame([]byte(tt.frame))

			for _, want := range tt.wantTypes {
				if f := nextFrame(t, c); f.Type != want {
					t.Errorf("type = %q, want %q (frame %+v)", f.Type, want, f)
				}
			}
			assertNoFrame(t, c)
		})
	}

	if got := bridge.writeCount(); got != 1 {
		t.Errorf("bridge writes = %d, want 1", got)
	}
}

func TestWSClient_UnwatchStopsDelivery(t *testing.T) {
	hub := newTestHub(newMockBridge())
	c := newHubClient(hub, testDeviceID)

	c.handleFrame([]byte(`{"type":"unwatch","devices":["` + testDeviceID + `"]}`))
	nextFrame(t, c)

	hub.PublishState(tuyabridge.StateMessage{DeviceID: testDeviceID})
	assertNoFrame(t, c)
}

func dialWS(t *testing.T, ts *httptest.Server, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws" + query
	return websocket.DefaultDialer.Dial(url, nil)
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return f
}

func TestWebSocket_StateEvents(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv.buildRouter())
	t.Cleanup(ts.Close)

	conn, _, err := dialWS(t, ts, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	err = conn.WriteJSON(Frame{Type: FrameWatch, ID: "watch-1", Devices: []string{testDeviceID}})
	if err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if ack := readFrame(t, conn); ack.Type != FrameAck || ack.ID != "watch-1" {
		t.Fatalf("ack = %+v", ack)
	}

	env.bridge.emit(tuyabridge.StateMessage{
		DeviceID: testDeviceID,
		State:    map[string]any{"1": true},
		Source:   tuyabridge.SourceRefresh,
		Protocol: tuyabridge.Protocol,
	})

	event := readFrame(t, conn)
	if event.Type != FrameState {
		t.Fatalf("type = %q, want %q", event.Type, FrameState)
	}
	if event.State == nil || event.State.DeviceID != testDeviceID || event.State.State["1"] != true {
		t.Errorf("state = %+v", event.State)
	}
}

func TestWebSocket_TicketRequired(t *testing.T) {
	env := newTestEnv(t, withJWTSecret(testJWTSecret))
	ts := httptest.NewServer(env.srv.buildRouter())
	t.Cleanup(ts.Close)

	t.Run("missing ticket", func(t *testing.T) {
		_, resp, err := dialWS(t, ts, "")
		if err == nil {
			t.Fatal("dial should fail without a ticket")
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("response = %v, want 401", resp)
		}
	})

	t.Run("valid ticket is single use", func(t *testing.T) {
		ticket := env.srv.tickets.issue("panel")

		conn, _, err := dialWS(t, ts, "?ticket="+ticket)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		conn.Close()

		_, resp, err := dialWS(t, ts, "?ticket="+ticket)
		if err == nil {
			t.Fatal("reused ticket should be rejected")
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("response = %v, want 401", resp)
		}
	})
}
