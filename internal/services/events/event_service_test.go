package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/argus/internal/interfaces"
	"github.com/ternarybob/argus/internal/models"
)

// orderRecorder captures the progress values a handler observes, in order.
type orderRecorder struct {
	mu   sync.Mutex
	seen []int
}

func (r *orderRecorder) handler(ctx context.Context, event interfaces.Event) error {
	payload, ok := event.Payload.(models.ProgressPayload)
	if !ok {
		return nil
	}
	r.mu.Lock()
	r.seen = append(r.seen, payload.Progress)
	r.mu.Unlock()
	return nil
}

func (r *orderRecorder) snapshot() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.seen))
	copy(out, r.seen)
	return out
}

func waitForCount(t *testing.T, r *orderRecorder, want int) []int {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		seen := r.snapshot()
		if len(seen) >= want {
			return seen
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("handler saw %d events, want %d", len(r.snapshot()), want)
	return nil
}

func publishProgress(t *testing.T, svc interfaces.EventService, progress int) {
	t.Helper()
	if err := svc.Publish(context.Background(), interfaces.Event{
		Type:    interfaces.EventJobProgress,
		Payload: models.ProgressPayload{JobID: "job_1", Progress: progress},
	}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func TestPublishDeliversInOrderPerSubscriber(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	t.Cleanup(func() { svc.Close() })

	rec := &orderRecorder{}
	if err := svc.Subscribe(interfaces.EventJobProgress, rec.handler); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	const total = 2000
	for i := 0; i < total; i++ {
		publishProgress(t, svc, i)
	}

	seen := waitForCount(t, rec, total)
	for i, p := range seen {
		if p != i {
			t.Fatalf("event %d delivered out of order: got progress %d", i, p)
		}
	}
}

func TestPublishOrderHoldsAcrossSubscribers(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	t.Cleanup(func() { svc.Close() })

	recA := &orderRecorder{}
	recB := &orderRecorder{}
	svc.Subscribe(interfaces.EventJobProgress, recA.handler)
	svc.Subscribe(interfaces.EventJobProgress, recB.handler)

	const total = 500
	for i := 0; i < total; i++ {
		publishProgress(t, svc, i)
	}

	for _, rec := range []*orderRecorder{recA, recB} {
		seen := waitForCount(t, rec, total)
		for i, p := range seen {
			if p != i {
				t.Fatalf("event %d delivered out of order: got progress %d", i, p)
			}
		}
	}
}

func TestPublishSyncWaitsForHandlers(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	t.Cleanup(func() { svc.Close() })

	handled := false
	svc.Subscribe(interfaces.EventJobStatus, func(ctx context.Context, event interfaces.Event) error {
		time.Sleep(20 * time.Millisecond)
		handled = true
		return nil
	})

	if err := svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventJobStatus}); err != nil {
		t.Fatalf("PublishSync failed: %v", err)
	}
	if !handled {
		t.Fatal("PublishSync returned before the handler ran")
	}
}

func TestPublishSyncReportsHandlerErrors(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	t.Cleanup(func() { svc.Close() })

	svc.Subscribe(interfaces.EventJobStatus, func(ctx context.Context, event interfaces.Event) error {
		return errors.New("handler broke")
	})

	if err := svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventJobStatus}); err == nil {
		t.Fatal("expected PublishSync to surface the handler error")
	}
}

func TestSubscribeNilHandlerRejected(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	t.Cleanup(func() { svc.Close() })

	if err := svc.Subscribe(interfaces.EventJobProgress, nil); err == nil {
		t.Fatal("expected error for nil handler")
	}
}

func TestPublishAfterCloseIsNoOp(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	rec := &orderRecorder{}
	svc.Subscribe(interfaces.EventJobProgress, rec.handler)
	svc.Close()

	publishProgress(t, svc, 1)

	if err := svc.Subscribe(interfaces.EventJobProgress, rec.handler); err == nil {
		t.Fatal("expected Subscribe after Close to fail")
	}
	if len(rec.snapshot()) != 0 {
		t.Fatalf("closed service delivered events: %v", rec.snapshot())
	}
}
