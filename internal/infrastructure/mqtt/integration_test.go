//go:build integration

package mqtt

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/droidpanel-core/internal/events"
	"github.com/nerrad567/droidpanel-core/internal/infrastructure/config"
)

// Integration tests need a broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -count=1 -v ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: clientID,
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func connect(t *testing.T, clientID string) *Client {
	t.Helper()
	client, err := Connect(integrationConfig(clientID))
	if err != nil {
		t.Fatalf("Connect(%s) error = %v", clientID, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestIntegration_ConnectAndClose(t *testing.T) {
	client, err := Connect(integrationConfig("droidpanel-int-close"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := client.Publish("droidpanel/int/x", nil, 1, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestIntegration_BrokerRefused(t *testing.T) {
	cfg := integrationConfig("droidpanel-int-refused")
	cfg.Broker.Port = 19998
	if _, err := Connect(cfg); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestIntegration_SubscriptionTracking(t *testing.T) {
	client := connect(t, "droidpanel-int-subs")
	noop := func(string, []byte) error { return nil }

	topics := []string{Topics{}.AllStopCommands(), Topics{}.AllUnitEvents()}
	for _, topic := range topics {
		if err := client.Subscribe(topic, 1, noop); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}
	if client.SubscriptionCount() != 2 {
		t.Errorf("SubscriptionCount() = %d, want 2", client.SubscriptionCount())
	}
	if err := client.Unsubscribe(topics[0]); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.HasSubscription(topics[0]) || !client.HasSubscription(topics[1]) {
		t.Error("subscription tracking out of sync after Unsubscribe")
	}
}

func TestIntegration_RemoteStop(t *testing.T) {
	panel := connect(t, "droidpanel-int-panel")
	remote := connect(t, "droidpanel-int-remote")

	stopped := make(chan string, 1)
	handler := StopCommandHandler(func(registry, key string) bool {
		stopped <- registry + "/" + key
		return true
	})
	if err := panel.Subscribe(Topics{}.AllStopCommands(), 1, handler); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := remote.Publish(Topics{}.StopCommand("logcat", "emulator-5554"), nil, 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-stopped:
		if got != "logcat/emulator-5554" {
			t.Errorf("stopped %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for stop command")
	}
}

func TestIntegration_BridgeDeliversExit(t *testing.T) {
	panel := connect(t, "droidpanel-int-bridge")
	watcher := connect(t, "droidpanel-int-watcher")

	var once sync.Once
	received := make(chan string, 1)
	err := watcher.Subscribe(Topics{}.UnitEvent("runs", "+", "exit"), 1, func(topic string, _ []byte) error {
		once.Do(func() { received <- topic })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	code := 0
	b := NewBridge(panel, BridgeConfig{QoS: 1})
	if err := b.Forward(events.Event{Kind: events.KindExit, Source: "runs", Key: "int-run", ExitCode: &code}); err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	select {
	case topic := <-received:
		if topic != "droidpanel/unit/runs/int-run/exit" {
			t.Errorf("topic = %q", topic)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for exit event")
	}
}
