package ws

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/argus/internal/models"
)

// blockedSink never completes a write until released, so mailboxes fill up.
type blockedSink struct {
	release chan struct{}

	mu     sync.Mutex
	wrote  []models.ProtocolMessage
	closed bool
}

func newBlockedSink() *blockedSink {
	return &blockedSink{release: make(chan struct{})}
}

func (s *blockedSink) WriteJSON(v interface{}) error {
	<-s.release
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg, ok := v.(models.ProtocolMessage); ok {
		s.wrote = append(s.wrote, msg)
	}
	return nil
}

func (s *blockedSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *blockedSink) written() []models.ProtocolMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ProtocolMessage, len(s.wrote))
	copy(out, s.wrote)
	return out
}

// failingSink errors on every write.
type failingSink struct {
	mu     sync.Mutex
	closed bool
}

func (s *failingSink) WriteJSON(v interface{}) error {
	return errors.New("broken pipe")
}

func (s *failingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *failingSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func progressMsg(jobID string, progress int) models.ProtocolMessage {
	return models.NewMessage(models.MessageTypeProgress, models.ProgressPayload{
		JobID:    jobID,
		Progress: progress,
	})
}

func TestBroadcastNeverBlocksOnSlowSubscriber(t *testing.T) {
	m := NewManager(4, arbor.NewLogger())
	defer m.Close()

	sink := newBlockedSink()
	m.Subscribe("job_1", sink)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Far more messages than the mailbox holds, against a subscriber
		// whose writes never complete.
		for i := 0; i < 100; i++ {
			m.Broadcast("job_1", progressMsg("job_1", i))
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Broadcast blocked on a slow subscriber")
	}
}

func TestFullMailboxDropsOldestMessages(t *testing.T) {
	m := NewManager(4, arbor.NewLogger())
	defer m.Close()

	sink := newBlockedSink()
	sub := m.Subscribe("job_1", sink)

	// The write pump is stuck on message 0; the 4-slot mailbox then holds a
	// sliding window of the most recent enqueues.
	for i := 0; i < 20; i++ {
		sub.Send(progressMsg("job_1", i))
	}

	close(sink.release)

	// The last delivered message must be the newest one: older entries were
	// evicted, never newer ones.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		wrote := sink.written()
		if n := len(wrote); n > 0 {
			if last := wrote[n-1].Payload.(models.ProgressPayload); last.Progress == 19 {
				if n > 5 {
					t.Fatalf("expected at most mailbox+1 deliveries, got %d", n)
				}
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("newest message never delivered, got %v", sink.written())
}

func TestWriteErrorUnsubscribesSilently(t *testing.T) {
	m := NewManager(8, arbor.NewLogger())
	defer m.Close()

	bad := &failingSink{}
	m.Subscribe("job_1", bad)

	good := newBlockedSink()
	close(good.release)
	m.Subscribe("job_1", good)

	m.Broadcast("job_1", progressMsg("job_1", 10))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if m.SubscriberCount("job_1") == 1 && bad.isClosed() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if m.SubscriberCount("job_1") != 1 {
		t.Fatalf("expected dead subscriber removed, count=%d", m.SubscriberCount("job_1"))
	}
	if !bad.isClosed() {
		t.Fatal("expected dead sink to be closed")
	}

	// Other subscribers keep receiving.
	m.Broadcast("job_1", progressMsg("job_1", 20))
	deadline = time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(good.written()) >= 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("healthy subscriber stopped receiving, got %d messages", len(good.written()))
}

func TestBroadcastTargetsOnlyTheJobsSubscribers(t *testing.T) {
	m := NewManager(8, arbor.NewLogger())
	defer m.Close()

	a := newBlockedSink()
	close(a.release)
	b := newBlockedSink()
	close(b.release)

	m.Subscribe("job_a", a)
	m.Subscribe("job_b", b)

	m.Broadcast("job_a", progressMsg("job_a", 50))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(a.written()) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if len(a.written()) != 1 {
		t.Fatalf("expected job_a subscriber to receive 1 message, got %d", len(a.written()))
	}
	if len(b.written()) != 0 {
		t.Fatalf("expected job_b subscriber to receive nothing, got %d", len(b.written()))
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	m := NewManager(8, arbor.NewLogger())
	defer m.Close()

	sink := newBlockedSink()
	close(sink.release)
	sub := m.Subscribe("job_1", sink)

	m.Unsubscribe(sub)
	m.Unsubscribe(sub)
	m.Unsubscribe(nil)

	if got := m.SubscriberCount("job_1"); got != 0 {
		t.Fatalf("expected 0 subscribers, got %d", got)
	}
}

func TestManySubscribersReceiveBroadcast(t *testing.T) {
	m := NewManager(16, arbor.NewLogger())
	defer m.Close()

	sinks := make([]*blockedSink, 10)
	for i := range sinks {
		sinks[i] = newBlockedSink()
		close(sinks[i].release)
		m.Subscribe("job_1", sinks[i])
	}

	m.Broadcast("job_1", progressMsg("job_1", 42))

	deadline := time.Now().Add(5 * time.Second)
	for _, sink := range sinks {
		for time.Now().Before(deadline) {
			if len(sink.written()) == 1 {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		if len(sink.written()) != 1 {
			t.Fatal(fmt.Sprintf("subscriber missed broadcast, got %d messages", len(sink.written())))
		}
	}
}
