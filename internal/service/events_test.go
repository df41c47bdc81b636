package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
)

type recordedPublish struct {
	topic, key string
	payload    []byte
}

type fakePublisher struct {
	sent []recordedPublish
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, topic, key string, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, recordedPublish{topic, key, payload})
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func TestEmitterRoutesByChannel(t *testing.T) {
	t.Parallel()
	bus := newFakeBus()
	pub := &fakePublisher{}
	e := NewEmitter(bus, pub, Topics{Decisions: "risk.decisions", Verdicts: "exit.verdicts"}, discardLogger())
	e.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	ctx := context.Background()

	e.Emit(ctx, domain.ChannelDecisions, "decision", "BTC-USD", map[string]bool{"allowed": true})
	e.Emit(ctx, domain.ChannelCycles, "cycle", "fx", struct{}{})

	assert.Equal(t, 1, bus.count(domain.ChannelDecisions))
	assert.Equal(t, 1, bus.count(domain.ChannelCycles))
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "risk.decisions", pub.sent[0].topic)
	assert.Equal(t, "BTC-USD", pub.sent[0].key)

	var ev domain.Event
	require.NoError(t, json.Unmarshal(pub.sent[0].payload, &ev))
	assert.Equal(t, "decision", ev.Type)
	assert.Equal(t, "BTC-USD", ev.Key)
	assert.Equal(t, 2026, ev.CreatedAt.Year())
}

func TestEmitterSwallowsFailures(t *testing.T) {
	t.Parallel()
	e := NewEmitter(nil, &fakePublisher{err: errors.New("broker down")}, Topics{Verdicts: "v"}, discardLogger())
	assert.NotPanics(t, func() {
		e.Emit(context.Background(), domain.ChannelVerdicts, "verdict", "p1", 1)
	})

	var nilEmitter *Emitter
	assert.NotPanics(t, func() {
		nilEmitter.Emit(context.Background(), domain.ChannelVerdicts, "verdict", "p1", 1)
	})
}
