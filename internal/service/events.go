package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

// Topics maps signal-bus channels to event-log topics.
type Topics struct {
	Decisions string
	Verdicts  string
	Cycles    string
}

// Emitter fans an event out to the signal bus (live WebSocket clients) and the
// event log (Kafka). Either sink may be nil. Delivery failures are logged and
// never fail the caller.
type Emitter struct {
	bus    domain.SignalBus
	pub    domain.EventPublisher
	topics map[string]string
	logger *slog.Logger
	now    func() time.Time
}

// NewEmitter creates an Emitter.
func NewEmitter(bus domain.SignalBus, pub domain.EventPublisher, topics Topics, logger *slog.Logger) *Emitter {
	return &Emitter{
		bus: bus,
		pub: pub,
		topics: map[string]string{
			domain.ChannelDecisions: topics.Decisions,
			domain.ChannelVerdicts:  topics.Verdicts,
			domain.ChannelCycles:    topics.Cycles,
		},
		logger: logger.With(slog.String("component", "emitter")),
		now:    time.Now,
	}
}

// Emit publishes payload on channel wrapped in a domain.Event. Channels
// without a configured topic are not sent to the event log.
func (e *Emitter) Emit(ctx context.Context, channel, eventType, key string, payload any) {
	if e == nil {
		return
	}
	data, err := json.Marshal(domain.Event{
		Type:      eventType,
		Key:       key,
		Payload:   payload,
		CreatedAt: e.now().UTC(),
	})
	if err != nil {
		e.logger.WarnContext(ctx, "emitter: marshal event failed",
			slog.String("type", eventType),
			slog.String("error", err.Error()),
		)
		return
	}

	if e.bus != nil {
		if err := e.bus.Publish(ctx, channel, data); err != nil {
			e.logger.WarnContext(ctx, "emitter: bus publish failed",
				slog.String("channel", channel),
				slog.String("error", err.Error()),
			)
		}
	}
	if topic := e.topics[channel]; e.pub != nil && topic != "" {
		if err := e.pub.Publish(ctx, topic, key, data); err != nil {
			e.logger.WarnContext(ctx, "emitter: event log publish failed",
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
		}
	}
}
