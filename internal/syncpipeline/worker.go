package syncpipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ponyfleet/ponyd/internal/cache"
	"github.com/ponyfleet/ponyd/internal/ident"
	"github.com/ponyfleet/ponyd/internal/ponyerr"
	"github.com/ponyfleet/ponyd/internal/retry"
	"github.com/ponyfleet/ponyd/internal/store"
)

const (
	// DefaultCapacity is the default buffered channel size for the sync queue (§4.6).
	DefaultCapacity = 1024
	// EnqueueTimeout bounds how long Enqueue waits for a free slot before degrading to backpressure.
	EnqueueTimeout = 500 * time.Millisecond
	dbTimeout      = 5 * time.Second
)

// ErrBackpressure is returned by Enqueue when the queue is full for longer than EnqueueTimeout. The boundary layer
// maps this to HTTP 503; the cache is left untouched since handlers enqueue before they mutate it.
var ErrBackpressure = errors.New("syncpipeline: queue full")

// UserStore, ConnectionStore, NodeStore are the narrow persistence contracts the worker needs, consumer-defined the
// way the teacher's gateway.Hub depends on user.Repository rather than a concrete *user.PGRepository.
type UserStore interface {
	Insert(ctx context.Context, u cache.User) error
	Update(ctx context.Context, u cache.User) error
	Delete(ctx context.Context, id ident.ID) error
}

type ConnectionStore interface {
	Insert(ctx context.Context, c cache.Connection) error
	Update(ctx context.Context, c cache.Connection) error
	Delete(ctx context.Context, connID ident.ID) error
	UpdateStat(ctx context.Context, connID ident.ID, online, uplink, downlink int64, modifiedAt cache.Connection) error
	UpdateStatus(ctx context.Context, connID ident.ID, status ident.ConnectionStatus, modifiedAt cache.Connection) error
}

type NodeStore interface {
	Insert(ctx context.Context, n cache.Node) error
	UpdateStatus(ctx context.Context, n cache.Node) error
}

// Worker drains a bounded channel of Tasks with a single goroutine and applies each to Postgres. Ordering within a
// topic-partition is preserved by the single drain goroutine, matching §4.6's single-writer requirement.
type Worker struct {
	tasks    chan Task
	users    UserStore
	conns    ConnectionStore
	nodes    NodeStore
	log      zerolog.Logger
	degraded atomic.Bool
}

func NewWorker(capacity int, users UserStore, conns ConnectionStore, nodes NodeStore, logger zerolog.Logger) *Worker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Worker{
		tasks: make(chan Task, capacity),
		users: users,
		conns: conns,
		nodes: nodes,
		log:   logger.With().Str("component", "syncpipeline").Logger(),
	}
}

// Enqueue offers a task to the queue, waiting up to EnqueueTimeout for room. Returns ErrBackpressure on timeout or
// ctx.Err() if the caller's context is cancelled first.
func (w *Worker) Enqueue(ctx context.Context, t Task) error {
	timeout, cancel := context.WithTimeout(ctx, EnqueueTimeout)
	defer cancel()

	select {
	case w.tasks <- t:
		return nil
	case <-timeout.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrBackpressure
	}
}

// Run drains the queue until ctx is cancelled or the channel is closed. It blocks; callers run it in its own
// goroutine, mirroring the teacher's Hub.Run(ctx) shape.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Msg("sync worker started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-w.tasks:
			if !ok {
				return nil
			}
			w.apply(ctx, t)
		}
	}
}

// Close closes the queue. Enqueue must not be called afterwards, since a send on the closed channel panics; Run
// drains whatever remains already buffered before returning.
func (w *Worker) Close() { close(w.tasks) }

// apply dispatches t to Postgres, retrying a transient error on the shared backoff schedule (§4.6, §8 scenario S6:
// "retries up to 5 times with backoff; eventually succeeds"). A conflict, not-found, or fatal error stops the retry
// loop on its first attempt — only a transient error is worth retrying at all.
func (w *Worker) apply(ctx context.Context, t Task) {
	opCtx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var lastErr error
	attempts := 0
	_ = retry.Do(opCtx, retry.Default, func(int) error {
		attempts++
		lastErr = w.dispatch(opCtx, t)
		if lastErr == nil || !ponyerr.Transient(lastErr) {
			return nil
		}
		return lastErr
	})

	switch {
	case lastErr == nil:
		w.degraded.Store(false)
	case errors.Is(lastErr, store.ErrAlreadyExists):
		w.log.Debug().Str("task", t.Kind.String()).Msg("sync: already exists, not retrying")
	case errors.Is(lastErr, store.ErrNotFound):
		w.log.Warn().Str("task", t.Kind.String()).Msg("sync: target row not found")
	case ponyerr.Transient(lastErr):
		w.log.Warn().Err(lastErr).Str("task", t.Kind.String()).Int("attempts", attempts).
			Msg("sync: transient error, retries exhausted")
	default:
		w.degraded.Store(true)
		w.log.Error().Err(lastErr).Str("task", t.Kind.String()).Msg("sync: fatal error applying task")
	}
}

// Degraded reports whether the most recent non-idempotent dispatch failure was fatal (neither a known conflict nor
// classified transient), per §4.6's "fatal errors mark the pipeline degraded; HTTP health check surfaces the
// degradation." It clears on the next successful dispatch.
func (w *Worker) Degraded() bool {
	return w.degraded.Load()
}

func (w *Worker) dispatch(ctx context.Context, t Task) error {
	switch t.Kind {
	case InsertUser:
		return w.users.Insert(ctx, t.User)
	case UpdateUser:
		return w.users.Update(ctx, t.User)
	case DeleteUser:
		return w.users.Delete(ctx, t.UserID)
	case InsertConn:
		return w.conns.Insert(ctx, t.Connection)
	case UpdateConn:
		return w.conns.Update(ctx, t.Connection)
	case DeleteConn:
		return w.conns.Delete(ctx, t.ConnID)
	case InsertNode:
		return w.nodes.Insert(ctx, t.Node)
	case UpdateNodeStatus:
		return w.nodes.UpdateStatus(ctx, t.Node)
	case UpdateConnStat:
		return w.conns.UpdateStat(ctx, t.ConnID, t.Online, t.Uplink, t.Downlink, cache.Connection{ModifiedAt: time.Now()})
	case UpdateConnStatus:
		return w.conns.UpdateStatus(ctx, t.ConnID, t.Status, cache.Connection{ModifiedAt: time.Now()})
	default:
		return fmt.Errorf("syncpipeline: unknown task kind %v", t.Kind)
	}
}
