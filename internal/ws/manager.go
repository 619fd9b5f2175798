// -----------------------------------------------------------------------
// Connection Manager - per-job subscriber registry with bounded mailboxes
// -----------------------------------------------------------------------

package ws

import (
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/argus/internal/models"
)

// Sink is the transport half of a subscriber. *websocket.Conn satisfies it.
type Sink interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Subscription is one live subscriber of a job's message stream. Each
// subscription owns a bounded outbound mailbox drained by a single write
// pump goroutine, so broadcasting never blocks on a slow socket.
type Subscription struct {
	jobID   string
	sink    Sink
	mailbox chan models.ProtocolMessage
	quit    chan struct{}
	once    sync.Once
	manager *Manager
}

// JobID returns the job this subscription follows.
func (s *Subscription) JobID() string {
	return s.jobID
}

// Send enqueues a message for this subscriber only. A full mailbox drops the
// oldest queued message: progress messages supersede older ones, and the
// next write carries fresher state.
func (s *Subscription) Send(msg models.ProtocolMessage) {
	select {
	case <-s.quit:
		return
	default:
	}

	for {
		select {
		case s.mailbox <- msg:
			return
		default:
			// Mailbox full: evict the oldest entry and retry.
			select {
			case <-s.mailbox:
			default:
			}
		}
	}
}

func (s *Subscription) writePump() {
	for {
		select {
		case <-s.quit:
			return
		case msg := <-s.mailbox:
			if err := s.sink.WriteJSON(msg); err != nil {
				// Dead or erroring connection: drop it silently. Transport
				// failures belong to this subscriber, never to the engine
				// or to other subscribers.
				s.manager.logger.Debug().
					Err(err).
					Str("job_id", s.jobID).
					Msg("Subscriber write failed, unsubscribing")
				s.manager.Unsubscribe(s)
				return
			}
		}
	}
}

func (s *Subscription) stop() {
	s.once.Do(func() {
		close(s.quit)
		s.sink.Close()
	})
}

// Manager maintains the set of live real-time subscribers per job and
// broadcasts protocol messages to them. It is an owned, explicitly
// lifecycled instance: tests construct isolated managers, nothing is global.
type Manager struct {
	mu          sync.RWMutex
	subs        map[string]map[*Subscription]struct{}
	mailboxSize int
	logger      arbor.ILogger
}

// NewManager creates a connection manager. mailboxSize bounds each
// subscriber's outbound queue; values below 1 fall back to 64.
func NewManager(mailboxSize int, logger arbor.ILogger) *Manager {
	if mailboxSize < 1 {
		mailboxSize = 64
	}
	return &Manager{
		subs:        make(map[string]map[*Subscription]struct{}),
		mailboxSize: mailboxSize,
		logger:      logger,
	}
}

// Subscribe registers a sink for a job's message stream and starts its
// write pump.
func (m *Manager) Subscribe(jobID string, sink Sink) *Subscription {
	sub := &Subscription{
		jobID:   jobID,
		sink:    sink,
		mailbox: make(chan models.ProtocolMessage, m.mailboxSize),
		quit:    make(chan struct{}),
		manager: m,
	}

	m.mu.Lock()
	if m.subs[jobID] == nil {
		m.subs[jobID] = make(map[*Subscription]struct{})
	}
	m.subs[jobID][sub] = struct{}{}
	count := len(m.subs[jobID])
	m.mu.Unlock()

	go sub.writePump()

	m.logger.Debug().
		Str("job_id", jobID).
		Int("subscribers", count).
		Msg("Subscriber attached")

	return sub
}

// Unsubscribe detaches a subscription and closes its sink. Safe to call
// more than once.
func (m *Manager) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	m.mu.Lock()
	if set, ok := m.subs[sub.jobID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(m.subs, sub.jobID)
		}
	}
	m.mu.Unlock()

	sub.stop()
}

// Broadcast enqueues a message for every subscriber of a job. It is
// fire-and-forget: a blocked or slow subscriber never backpressures the
// caller.
func (m *Manager) Broadcast(jobID string, msg models.ProtocolMessage) {
	m.mu.RLock()
	targets := make([]*Subscription, 0, len(m.subs[jobID]))
	for sub := range m.subs[jobID] {
		targets = append(targets, sub)
	}
	m.mu.RUnlock()

	for _, sub := range targets {
		sub.Send(msg)
	}
}

// BroadcastAll enqueues a message for every subscriber of every job. Used
// for server-wide signals such as relayed warning logs.
func (m *Manager) BroadcastAll(msg models.ProtocolMessage) {
	m.mu.RLock()
	targets := make([]*Subscription, 0)
	for _, set := range m.subs {
		for sub := range set {
			targets = append(targets, sub)
		}
	}
	m.mu.RUnlock()

	for _, sub := range targets {
		sub.Send(msg)
	}
}

// SubscriberCount returns the number of live subscribers for a job.
func (m *Manager) SubscriberCount(jobID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[jobID])
}

// Close detaches every subscriber.
func (m *Manager) Close() {
	m.mu.Lock()
	var all []*Subscription
	for _, set := range m.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	m.subs = make(map[string]map[*Subscription]struct{})
	m.mu.Unlock()

	for _, sub := range all {
		sub.stop()
	}
}
