// Package bus implements the pub/sub transport of §4.3 on top of Redis/Valkey PUB/SUB. The spec describes a
// ZMQ-shaped topic/payload socket pair; no ZMQ driver exists anywhere in the reference corpus, so this binds the same
// topic-addressed, fire-and-forget semantics onto github.com/redis/go-redis/v9, the driver the corpus already uses
// for its own event bus (internal/gateway/publisher.go, internal/gateway/hub.go).
package bus

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// EnvTopic returns the broadcast topic name for a deployment class.
func EnvTopic(env string) string { return env }

// NodeTopic returns the targeted topic name for a single node.
func NodeTopic(nodeUUID string) string { return nodeUUID }

// Connect dials Redis/Valkey, retrying up to 5 times with a 5-second backoff before giving up, matching the
// publisher-bind retry policy in §4.3. On exhaustion it returns an error; both binaries treat that as a fatal startup
// failure and exit with code 2.
func Connect(ctx context.Context, rawURL string, dialTimeout time.Duration, logger zerolog.Logger) (*redis.Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("bus: parse url: %w", err)
	}
	if strings.EqualFold(parsed.Scheme, "valkey") {
		parsed.Scheme = "redis"
	}

	opts, err := redis.ParseURL(parsed.String())
	if err != nil {
		return nil, fmt.Errorf("bus: parse url: %w", err)
	}
	opts.DialTimeout = dialTimeout

	const (
		maxAttempts = 5
		backoff     = 5 * time.Second
	)

	var client *redis.Client
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		client = redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			lastErr = err
			_ = client.Close()
			logger.Warn().Err(err).Int("attempt", attempt).Msg("bus: connect failed, retrying")
			if attempt == maxAttempts {
				break
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			continue
		}
		return client, nil
	}
	return nil, fmt.Errorf("bus: connect after %d attempts: %w", maxAttempts, lastErr)
}
