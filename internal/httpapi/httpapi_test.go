package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/ponyfleet/ponyd/internal/cache"
	"github.com/ponyfleet/ponyd/internal/syncpipeline"
)

// fakeQueue is an in-memory syncQueue double recording every enqueued task.
type fakeQueue struct {
	mu         sync.Mutex
	tasks      []syncpipeline.Task
	enqueueErr error
	degraded   bool
}

func (f *fakeQueue) Enqueue(_ context.Context, t syncpipeline.Task) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, t)
	return nil
}

func (f *fakeQueue) Degraded() bool { return f.degraded }

func (f *fakeQueue) taskKinds() []syncpipeline.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]syncpipeline.Kind, len(f.tasks))
	for i, t := range f.tasks {
		out[i] = t.Kind
	}
	return out
}

// fakePublisher is a publisher double recording every published message.
type fakePublisher struct {
	mu         sync.Mutex
	published  int
	publishErr error
}

func (f *fakePublisher) Publish(_ context.Context, _ string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published++
	return f.publishErr
}

func newTestHandler() (*Handler, *cache.Cache, *fakeQueue, *fakePublisher) {
	c := cache.New()
	q := &fakeQueue{}
	p := &fakePublisher{}
	h := NewHandler(c, q, p, "staging", zerolog.Nop())
	return h, c, q, p
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal request body: %v", err)
	}
	return strings.NewReader(string(b))
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) *http.Response {
	t.Helper()
	var reqBody io.Reader
	if body != nil {
		reqBody = jsonBody(t, body)
	}
	req := httptest.NewRequest(method, path, reqBody)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test(): %v", err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		t.Fatalf("decoding JSON: %v\nraw: %s", err, b)
	}
}
