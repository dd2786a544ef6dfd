package syncpipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ponyfleet/ponyd/internal/cache"
	"github.com/ponyfleet/ponyd/internal/ident"
	"github.com/ponyfleet/ponyd/internal/ponyerr"
	"github.com/ponyfleet/ponyd/internal/store"
)

type fakeUsers struct {
	mu      sync.Mutex
	inserts []cache.User
}

func (f *fakeUsers) Insert(_ context.Context, u cache.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts = append(f.inserts, u)
	return nil
}
func (f *fakeUsers) Update(context.Context, cache.User) error { return nil }
func (f *fakeUsers) Delete(context.Context, ident.ID) error   { return nil }

type fakeConns struct {
	mu         sync.Mutex
	inserts    []cache.Connection
	insertErr  error
	failBefore int // Insert fails with insertErr this many times before succeeding.
	attempts   int
}

func (f *fakeConns) Insert(_ context.Context, c cache.Connection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.insertErr != nil && f.attempts <= f.failBefore {
		return f.insertErr
	}
	f.inserts = append(f.inserts, c)
	return nil
}
func (f *fakeConns) Update(context.Context, cache.Connection) error { return nil }
func (f *fakeConns) Delete(context.Context, ident.ID) error         { return nil }
func (f *fakeConns) UpdateStat(context.Context, ident.ID, int64, int64, int64, cache.Connection) error {
	return nil
}
func (f *fakeConns) UpdateStatus(context.Context, ident.ID, ident.ConnectionStatus, cache.Connection) error {
	return nil
}

type fakeNodes struct{}

func (fakeNodes) Insert(context.Context, cache.Node) error       { return nil }
func (fakeNodes) UpdateStatus(context.Context, cache.Node) error { return nil }

func newTestWorker(t *testing.T, conns *fakeConns) (*Worker, *fakeUsers) {
	t.Helper()
	users := &fakeUsers{}
	w := NewWorker(4, users, conns, fakeNodes{}, zerolog.Nop())
	return w, users
}

func TestWorker_AppliesInsertUser(t *testing.T) {
	t.Parallel()

	w, users := newTestWorker(t, &fakeConns{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() { defer close(done); _ = w.Run(ctx) }()

	u := cache.User{UserID: uuid.New(), Username: "alice"}
	if err := w.Enqueue(context.Background(), NewInsertUser(u)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		users.mu.Lock()
		n := len(users.inserts)
		users.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for insert to apply")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestWorker_AlreadyExistsIsNotFatal(t *testing.T) {
	t.Parallel()

	conns := &fakeConns{insertErr: store.ErrAlreadyExists, failBefore: 1_000_000}
	w, _ := newTestWorker(t, conns)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() { defer close(done); _ = w.Run(ctx) }()

	if err := w.Enqueue(context.Background(), NewInsertConn(cache.Connection{ConnID: uuid.New()})); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	conns.mu.Lock()
	attempts := conns.attempts
	conns.mu.Unlock()
	if attempts != 1 {
		t.Errorf("expected exactly 1 Insert attempt for a non-transient conflict, got %d", attempts)
	}
}

func TestWorker_EnqueueBackpressure(t *testing.T) {
	t.Parallel()

	users := &fakeUsers{}
	w := NewWorker(1, users, &fakeConns{}, fakeNodes{}, zerolog.Nop())

	// Fill the one-slot buffer; nothing is draining it.
	if err := w.Enqueue(context.Background(), NewInsertUser(cache.User{UserID: uuid.New()})); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}

	start := time.Now()
	err := w.Enqueue(context.Background(), NewInsertUser(cache.User{UserID: uuid.New()}))
	elapsed := time.Since(start)

	if !errors.Is(err, ErrBackpressure) {
		t.Fatalf("Enqueue() error = %v, want ErrBackpressure", err)
	}
	if elapsed < EnqueueTimeout {
		t.Errorf("Enqueue returned after %v, want at least %v", elapsed, EnqueueTimeout)
	}
}

func TestWorker_DegradedOnFatalErrorClearsOnSuccess(t *testing.T) {
	t.Parallel()

	conns := &fakeConns{insertErr: errors.New("relation does not exist"), failBefore: 1_000_000}
	w, _ := newTestWorker(t, conns)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() { defer close(done); _ = w.Run(ctx) }()

	if err := w.Enqueue(context.Background(), NewInsertConn(cache.Connection{ConnID: uuid.New()})); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.After(time.Second)
	for !w.Degraded() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for degraded state")
		case <-time.After(time.Millisecond):
		}
	}

	conns.mu.Lock()
	conns.insertErr = nil
	conns.mu.Unlock()

	if err := w.Enqueue(context.Background(), NewInsertConn(cache.Connection{ConnID: uuid.New()})); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline = time.After(time.Second)
	for w.Degraded() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for degraded state to clear")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestWorker_TransientErrorRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	conns := &fakeConns{
		insertErr:  ponyerr.Wrap(ponyerr.Database, "insert", errors.New("connection reset by peer")),
		failBefore: 3,
	}
	w, _ := newTestWorker(t, conns)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() { defer close(done); _ = w.Run(ctx) }()

	if err := w.Enqueue(context.Background(), NewInsertConn(cache.Connection{ConnID: uuid.New()})); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		conns.mu.Lock()
		n := len(conns.inserts)
		conns.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the insert to succeed after retries")
		case <-time.After(time.Millisecond):
		}
	}

	if w.Degraded() {
		t.Error("expected worker not degraded after a transient error that eventually succeeded")
	}

	conns.mu.Lock()
	attempts := conns.attempts
	conns.mu.Unlock()
	if attempts != 4 {
		t.Errorf("expected 4 Insert attempts (3 failures + 1 success), got %d", attempts)
	}

	cancel()
	<-done
}

func TestWorker_UnknownKindDoesNotPanic(t *testing.T) {
	t.Parallel()

	w, _ := newTestWorker(t, &fakeConns{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() { defer close(done); _ = w.Run(ctx) }()

	if err := w.Enqueue(context.Background(), Task{Kind: Kind(999)}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done
}
