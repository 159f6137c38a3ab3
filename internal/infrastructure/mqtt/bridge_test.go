package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/droidpanel-core/internal/events"
)

type published struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakeSender) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{topic, payload, qos, retained})
	return nil
}

func (f *fakeSender) snapshot() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

func TestBridge_Forward(t *testing.T) {
	code := 3
	tests := []struct {
		name         string
		ev           events.Event
		wantTopic    string
		wantRetained bool
	}{
		{
			name:      "exit",
			ev:        events.Event{Kind: events.KindExit, Source: "runs", Key: "r-1", ExitCode: &code, Status: "failed"},
			wantTopic: "droidpanel/unit/runs/r-1/exit",
		},
		{
			name:         "state is retained",
			ev:           events.Event{Kind: events.KindState, Source: "logcat", Key: "pixel", State: "running"},
			wantTopic:    "droidpanel/unit/logcat/pixel/state",
			wantRetained: true,
		},
		{
			name:      "spawn",
			ev:        events.Event{Kind: events.KindSpawn, Source: "services", Key: "appium", PID: 42},
			wantTopic: "droidpanel/unit/services/appium/spawn",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			b := NewBridge(sender, BridgeConfig{QoS: 1})
			if err := b.Forward(tt.ev); err != nil {
				t.Fatalf("Forward() error = %v", err)
			}
			msgs := sender.snapshot()
			if len(msgs) != 1 {
				t.Fatalf("published %d messages, want 1", len(msgs))
			}
			m := msgs[0]
			if m.topic != tt.wantTopic || m.retained != tt.wantRetained || m.qos != 1 {
				t.Errorf("published %q retained=%v qos=%d", m.topic, m.retained, m.qos)
			}
			var got events.Event
			if err := json.Unmarshal(m.payload, &got); err != nil {
				t.Fatalf("payload not JSON: %v", err)
			}
			if got.Kind != tt.ev.Kind || got.Key != tt.ev.Key {
				t.Errorf("payload = %+v", got)
			}
		})
	}
}

func TestBridge_LinesDisabledByDefault(t *testing.T) {
	sender := &fakeSender{}
	b := NewBridge(sender, BridgeConfig{})
	if err := b.Forward(events.Event{Kind: events.KindLine, Source: "logcat", Key: "pixel", Line: "x"}); err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if n := len(sender.snapshot()); n != 0 {
		t.Errorf("published %d line messages, want 0", n)
	}
}

func TestBridge_LineRateLimit(t *testing.T) {
	sender := &fakeSender{}
	b := NewBridge(sender, BridgeConfig{PublishLines: true, LineRate: 1, LineBurst: 3})

	for i := 0; i < 10; i++ {
		if err := b.Forward(events.Event{Kind: events.KindLine, Source: "logcat", Key: "pixel", Line: "x"}); err != nil {
			t.Fatalf("Forward() error = %v", err)
		}
	}
	if n := len(sender.snapshot()); n != 3 {
		t.Errorf("published %d lines, want burst of 3", n)
	}
	if b.Suppressed() != 7 {
		t.Errorf("Suppressed() = %d, want 7", b.Suppressed())
	}
}

func TestBridge_RejectsUntaggedEvents(t *testing.T) {
	b := NewBridge(&fakeSender{}, BridgeConfig{})
	if err := b.Forward(events.Event{Kind: events.KindExit, Key: "r-1"}); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Forward() error = %v, want ErrInvalidTopic", err)
	}
}

func TestBridge_Run(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(16, nil)
	sender := &fakeSender{err: errors.New("broker down")}
	logger := &mockLogger{}

	b := NewBridge(sender, BridgeConfig{})
	b.SetLogger(logger)

	done := make(chan struct{})
	go func() {
		b.Run(context.Background(), sub)
		close(done)
	}()

	bus.Publish(events.Event{Kind: events.KindSpawn, Source: "logcat", Key: "pixel", PID: 7})
	bus.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after the bus closed")
	}
	if b.Failed() != 1 {
		t.Errorf("Failed() = %d, want 1", b.Failed())
	}
	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.warns) != 1 {
		t.Errorf("warnings = %d, want 1", len(logger.warns))
	}
}

func TestBridge_RunStopsOnCancel(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(1, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		NewBridge(&fakeSender{}, BridgeConfig{}).Run(ctx, sub)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
