package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ponyfleet/ponyd/internal/cache"
	"github.com/ponyfleet/ponyd/internal/protocol"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func newTestMessage(t *testing.T, connID uuid.UUID) []byte {
	t.Helper()
	raw, err := protocol.NewCreate(cache.Connection{ConnID: connID}, nil).Marshal()
	require.NoError(t, err)
	return raw
}

func TestPublishSubscribe_FIFOPerTopic(t *testing.T) {
	t.Parallel()

	rdb := newTestClient(t)
	logger := zerolog.Nop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topic := "env-prod"
	sub, err := Subscribe(ctx, rdb, logger, topic)
	require.NoError(t, err)
	defer sub.Close()

	msgs := sub.Messages(ctx)
	// Give the subscription a moment to register with miniredis before publishing.
	time.Sleep(50 * time.Millisecond)

	pub := NewPublisher(rdb, logger)
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		m := newTestMessage(t, id)
		require.NoError(t, pub.Publish(ctx, topic, m))
	}

	for _, want := range ids {
		select {
		case env := <-msgs:
			require.Equal(t, KindMessage, env.Kind)
			require.Equal(t, want, env.Message.ConnID)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for message")
		}
	}
}

func TestSubscriber_DropsMalformedPayload(t *testing.T) {
	t.Parallel()

	rdb := newTestClient(t)
	logger := zerolog.Nop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	topic := "node-1"
	sub, err := Subscribe(ctx, rdb, logger, topic)
	require.NoError(t, err)
	defer sub.Close()

	msgs := sub.Messages(ctx)
	time.Sleep(50 * time.Millisecond)

	pub := NewPublisher(rdb, logger)
	require.NoError(t, pub.Publish(ctx, topic, []byte("not a valid frame")))
	require.NoError(t, pub.Publish(ctx, topic, newTestMessage(t, uuid.New())))

	select {
	case env := <-msgs:
		require.Equal(t, KindMessage, env.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the one well-formed message")
	}
}
