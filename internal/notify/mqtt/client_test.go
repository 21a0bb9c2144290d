package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/pyde1-core/internal/infrastructure/config"
)

// testConfig returns an MQTTConfig pointed at a local Mosquitto broker.
// The tests in this file require a broker at 127.0.0.1:1883 and are
// skipped in short mode.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "pyde1-core-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
		TopicRoot: "pyde1-test",
	}
}

func TestConnect(t *testing.T) {
	if testing.Short() {
		t.Skip("requires a live MQTT broker")
	}

	client, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("expected client to be connected")
	}
}

func TestConnectInvalidBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("requires network access")
	}

	cfg := testConfig()
	cfg.Broker.Host = "192.0.2.1" // TEST-NET-1, guaranteed unreachable
	cfg.Broker.Port = 1883

	_, err := Connect(cfg)
	if err == nil {
		t.Error("expected error connecting to invalid broker")
	}
}

func TestClose(t *testing.T) {
	if testing.Short() {
		t.Skip("requires a live MQTT broker")
	}

	client, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	if client.IsConnected() {
		t.Error("expected client to be disconnected after Close")
	}
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("requires a live MQTT broker")
	}

	client, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topics := Topics{TopicRoot: "pyde1-test"}
	received := make(chan []byte, 1)

	err = client.Subscribe(topics.Event("state_update"), 1, func(_ string, payload []byte) error {
		received <- payload
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := client.Publish(topics.Event("state_update"), []byte(`{"state":"idle"}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case payload := <-received:
		if string(payload) != `{"state":"idle"}` {
			t.Errorf("received payload = %q", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published message")
	}
}

func TestHealthCheck(t *testing.T) {
	if testing.Short() {
		t.Skip("requires a live MQTT broker")
	}

	client, err := Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
