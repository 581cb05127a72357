package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gemhq/gem/internal/store"
	"github.com/gemhq/gem/pkg/models"
)

func TestWorkerDrainsBacklog(t *testing.T) {
	st := store.NewMemoryStore()
	processed := 0
	eng := newTestEngine(t, st, map[string]HandlerFunc{
		"test.echo": func(ctx context.Context, call *Call) (*models.ToolOutcome, error) {
			processed++
			return models.Succeeded(map[string]any{"msg": "ok"}), nil
		},
	})
	w := NewWorker(eng, st, time.Second, quietLogger(), nil)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		inv := &models.Invocation{CallID: uuid.NewString(), ToolName: "test.echo", Input: json.RawMessage(`{"msg":"hi"}`)}
		if err := st.Enqueue(ctx, inv); err != nil {
			t.Fatalf("Enqueue() error: %v", err)
		}
	}

	for i := 0; i < 3; i++ {
		claimed, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce() error: %v", err)
		}
		if !claimed {
			t.Fatalf("RunOnce() claimed nothing with backlog remaining")
		}
	}
	claimed, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}
	if claimed {
		t.Error("RunOnce() claimed from an empty queue")
	}
	if processed != 3 {
		t.Errorf("processed %d invocations, want 3", processed)
	}
}

func TestWorkerSurvivesHandlerFailure(t *testing.T) {
	st := store.NewMemoryStore()
	eng := newTestEngine(t, st, map[string]HandlerFunc{
		"test.echo": func(ctx context.Context, call *Call) (*models.ToolOutcome, error) {
			return nil, errors.New("always fails")
		},
	})
	w := NewWorker(eng, st, time.Second, quietLogger(), nil)

	ctx := context.Background()
	inv := &models.Invocation{CallID: uuid.NewString(), ToolName: "test.echo", Input: json.RawMessage(`{"msg":"hi"}`)}
	if err := st.Enqueue(ctx, inv); err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}

	claimed, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}
	if !claimed {
		t.Fatal("RunOnce() should have claimed the row")
	}

	r := receiptFor(t, st, inv.CallID)
	if r.Status != models.ReceiptFailed {
		t.Errorf("receipt status = %q, want failed", r.Status)
	}
}

func TestWorkerRunStopsOnCancel(t *testing.T) {
	st := store.NewMemoryStore()
	eng := newTestEngine(t, st, nil)
	w := NewWorker(eng, st, 5*time.Millisecond, quietLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestWorkerIDsAreDistinct(t *testing.T) {
	st := store.NewMemoryStore()
	eng := newTestEngine(t, st, nil)

	a := NewWorker(eng, st, time.Second, quietLogger(), nil)
	b := NewWorker(eng, st, time.Second, quietLogger(), nil)
	if a.ID() == b.ID() {
		t.Errorf("worker ids collide: %s", a.ID())
	}
}
