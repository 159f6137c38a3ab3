package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/nerrad567/droidpanel-core/internal/events"
)

// Sender is the publishing side of Client.
type Sender interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// BridgeConfig controls which events reach the broker.
type BridgeConfig struct {
	QoS byte

	// PublishLines enables per-line messages. Lines are high volume and
	// off by default.
	PublishLines bool

	// LineRate and LineBurst size the token bucket for line messages.
	// Lines over the limit are counted and skipped.
	LineRate  int
	LineBurst int
}

// Bridge forwards supervision events from the in-process bus to MQTT.
//
// Thread Safety:
//   - Run must be called from a single goroutine.
//   - Suppressed and Failed are safe from any goroutine.
type Bridge struct {
	sender Sender
	cfg    BridgeConfig
	lines  *rate.Limiter
	topics Topics

	suppressed atomic.Uint64
	failed     atomic.Uint64

	logger Logger
}

// NewBridge creates a Bridge publishing through sender.
func NewBridge(sender Sender, cfg BridgeConfig) *Bridge {
	limit := rate.Limit(cfg.LineRate)
	if cfg.LineRate <= 0 {
		limit = rate.Inf
	}
	burst := cfg.LineBurst
	if burst <= 0 {
		burst = max(cfg.LineRate, 1)
	}
	return &Bridge{
		sender: sender,
		cfg:    cfg,
		lines:  rate.NewLimiter(limit, burst),
	}
}

// SetLogger sets the logger for publish failures.
func (b *Bridge) SetLogger(logger Logger) {
	b.logger = logger
}

// Run forwards events from sub until ctx is cancelled or the subscription
// is closed.
func (b *Bridge) Run(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if err := b.Forward(ev); err != nil {
				b.failed.Add(1)
				if b.logger != nil {
					b.logger.Warn("event not forwarded to MQTT",
						"source", ev.Source, "key", ev.Key, "kind", ev.Kind, "error", err)
				}
			}
		}
	}
}

// Forward publishes one event. State events are retained so a late
// subscriber sees the current phase of each unit.
func (b *Bridge) Forward(ev events.Event) error {
	if ev.Source == "" || ev.Key == "" {
		return fmt.Errorf("%w: event without source or key", ErrInvalidTopic)
	}
	if ev.Kind == events.KindLine {
		if !b.cfg.PublishLines {
			return nil
		}
		if !b.lines.Allow() {
			b.suppressed.Add(1)
			return nil
		}
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	retained := ev.Kind == events.KindState
	return b.sender.Publish(b.topics.UnitEvent(ev.Source, ev.Key, string(ev.Kind)), payload, b.cfg.QoS, retained)
}

// Suppressed returns the number of line events skipped by the rate limit.
func (b *Bridge) Suppressed() uint64 { return b.suppressed.Load() }

// Failed returns the number of events the broker did not accept.
func (b *Bridge) Failed() uint64 { return b.failed.Load() }
