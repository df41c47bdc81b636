package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSendsKeyedMessage(t *testing.T) {
	t.Parallel()

	mp := mocks.NewSyncProducer(t, NewSaramaConfig("test"))
	mp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "risk.exit-verdicts" {
			return errors.New("wrong topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "pos-1" {
			return errors.New("wrong key " + string(key))
		}
		return nil
	})

	p := Wrap(mp)
	require.NoError(t, p.Publish(context.Background(), "risk.exit-verdicts", "pos-1", []byte(`{"exit_action":"HOLD"}`)))
	require.NoError(t, p.Close())
}

func TestPublishReportsBrokerError(t *testing.T) {
	t.Parallel()

	mp := mocks.NewSyncProducer(t, NewSaramaConfig("test"))
	mp.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)

	p := Wrap(mp)
	err := p.Publish(context.Background(), "risk.decisions", "", []byte(`{}`))
	assert.ErrorIs(t, err, sarama.ErrNotLeaderForPartition)
	assert.ErrorContains(t, err, "kafka: publish risk.decisions")
	require.NoError(t, p.Close())
}

func TestPublishHonoursCancelledContext(t *testing.T) {
	t.Parallel()

	mp := mocks.NewSyncProducer(t, NewSaramaConfig("test"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Wrap(mp).Publish(ctx, "risk.decisions", "k", nil)
	assert.ErrorIs(t, err, context.Canceled)
	require.NoError(t, mp.Close())
}

func TestNewRequiresBrokers(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	assert.ErrorContains(t, err, "no brokers")
}
