package bus

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ponyfleet/ponyd/internal/protocol"
)

// EnvelopeKind discriminates whether a received frame is a JSON control message or a binary snapshot.
type EnvelopeKind int

const (
	KindMessage EnvelopeKind = iota
	KindSnapshot
)

// Envelope is a decoded frame handed to the reconciliation loop.
type Envelope struct {
	Kind     EnvelopeKind
	Topic    string
	Message  protocol.Message
	Snapshot []byte // decoded body, present only when Kind == KindSnapshot
}

// Subscriber receives frames on a fixed set of topics. go-redis already runs the network read loop for a
// subscription on its own goroutine; Messages() exposes the decoded result over a channel, which is the Go
// equivalent of §4.3's "blocking receive offloaded to a dedicated OS thread, bridged via a channel."
type Subscriber struct {
	sub    *redis.PubSub
	logger zerolog.Logger
}

// Subscribe opens a subscription to every given topic (an agent subscribes to both {env} and {node-uuid} on
// startup, per §4.3).
func Subscribe(ctx context.Context, rdb *redis.Client, logger zerolog.Logger, topics ...string) (*Subscriber, error) {
	sub := rdb.Subscribe(ctx, topics...)
	if _, err := sub.Receive(ctx); err != nil {
		return nil, err
	}
	return &Subscriber{sub: sub, logger: logger}, nil
}

// Messages returns a channel of decoded envelopes. Malformed payloads are logged and discarded rather than closing
// the channel, per §4.3.
func (s *Subscriber) Messages(ctx context.Context) <-chan Envelope {
	out := make(chan Envelope)
	raw := s.sub.Channel()
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-raw:
				if !ok {
					return
				}
				env, err := decode(m.Channel, []byte(m.Payload))
				if err != nil {
					s.logger.Warn().Err(err).Str("topic", m.Channel).Msg("bus: dropping malformed payload")
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Close releases the underlying subscription.
func (s *Subscriber) Close() error {
	return s.sub.Close()
}

// decode distinguishes a JSON control message from a framed binary snapshot by trying the snapshot's version-byte
// framing first; a JSON payload starts with '{' and will never match it, and a snapshot payload is never valid JSON,
// so the two are unambiguous.
func decode(topic string, payload []byte) (Envelope, error) {
	if len(payload) > 0 && payload[0] == protocol.SnapshotVersion {
		body, err := protocol.DecodeSnapshot(payload)
		if err == nil {
			return Envelope{Kind: KindSnapshot, Topic: topic, Snapshot: body}, nil
		}
	}
	msg, err := protocol.UnmarshalMessage(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Kind: KindMessage, Topic: topic, Message: msg}, nil
}
