//go:build integration

package mqtt

import (
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/config"
)

// These tests need a broker on 127.0.0.1:1883:
//
//	go test -tags=integration -count=1 ./internal/infrastructure/mqtt/...

func brokerConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker:    config.MQTTBrokerConfig{Host: "127.0.0.1", Port: 1883, ClientID: clientID},
		QoS:       1,
		Reconnect: config.MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 5},
	}
}

func connectBroker(t *testing.T, clientID string) *Client {
	t.Helper()
	c, err := Connect(brokerConfig(clientID))
	if err != nil {
		t.Fatalf("Connect(%s) error = %v", clientID, err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestIntegration_SubscriptionTracking(t *testing.T) {
	c := connectBroker(t, "graylogic-int-subs")
	noop := func(string, []byte) error { return nil }

	commands := Topics{}.BridgeCommands("int")
	requests := Topics{}.BridgeRequests("int")
	for _, topic := range []string{commands, requests} {
		if err := c.Subscribe(topic, 1, noop); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}
	if got := c.SubscriptionCount(); got != 2 {
		t.Fatalf("SubscriptionCount() = %d, want 2", got)
	}

	if err := c.Unsubscribe(commands); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if c.HasSubscription(commands) || !c.HasSubscription(requests) {
		t.Error("only the requests subscription should remain")
	}
}

// A bridge command published by one client reaches another subscribed with
// the per-protocol wildcard, and the relay response pattern matches too.
func TestIntegration_Roundtrip(t *testing.T) {
	pub := connectBroker(t, "graylogic-int-pub")
	sub := connectBroker(t, "graylogic-int-sub")

	got := make(chan string, 2)
	forward := func(topic string, p []byte) error {
		got <- LastSegment(topic) + " " + string(p)
		return nil
	}
	if err := sub.Subscribe(Topics{}.BridgeCommands("int"), 1, forward); err != nil {
		t.Fatalf("Subscribe(commands) error = %v", err)
	}
	if err := sub.Subscribe(Topics{}.AllRelayResponses("graylogic/int/tuyad"), 1, forward); err != nil {
		t.Fatalf("Subscribe(relay) error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := pub.Publish(Topics{}.BridgeCommand("int", "bf01"), []byte("on"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := pub.PublishJSON(Topics{}.RelayResponse("graylogic/int/tuyad", "req-1"), map[string]bool{"ok": true}, false); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	want := map[string]bool{"bf01 on": true, `req-1 {"ok":true}`: true}
	for range 2 {
		select {
		case msg := <-got:
			if !want[msg] {
				t.Errorf("unexpected message %q", msg)
			}
			delete(want, msg)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out; still waiting for %v", want)
		}
	}
}

func TestIntegration_ConnectRefused(t *testing.T) {
	cfg := brokerConfig("graylogic-int-refused")
	cfg.Broker.Port = 19998

	if _, err := Connect(cfg); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}
