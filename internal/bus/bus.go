package bus

import (
	"sync"

	"github.com/segmentio/ksuid"
)

type Topic string

const (
	TopicNew      Topic = "download:new"
	TopicProgress Topic = "download:progress"
	TopicStatus   Topic = "download:status"
	TopicDeleted  Topic = "download:deleted"
	TopicStats    Topic = "download:stats"
)

// Event is one broadcast unit. Payload is one of *domain.Job (new),
// ProgressEvent, StatusEvent, DeletedEvent or *domain.Stats.
type Event struct {
	Topic   Topic `json:"type"`
	Payload any   `json:"payload"`
}

// ProgressEvent is the throttled per-job progress payload. ExternalID is a
// string on the wire: clients cannot carry 64-bit ints losslessly.
type ProgressEvent struct {
	ExternalID      string   `json:"external_id"`
	Progress        float64  `json:"progress"`
	DownloadedBytes int64    `json:"downloaded_bytes"`
	TotalBytes      int64    `json:"total_bytes"`
	Speed           float64  `json:"speed"`
	PendingTime     *float64 `json:"pending_time"`
}

type StatusEvent struct {
	ExternalID string `json:"external_id"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

type DeletedEvent struct {
	ExternalID string `json:"external_id"`
}

// Bus is the process-local broadcaster. Observers get every event published
// after they subscribe and no replay; a slow observer loses events rather
// than stalling the producers.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]chan Event
}

const subscriberBuffer = 256

func New() *Bus {
	return &Bus{subs: make(map[string]chan Event)}
}

// Subscribe registers an observer and returns its session id and channel.
// The channel closes on Unsubscribe.
func (b *Bus) Subscribe() (string, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := ksuid.New().String()
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch
	return id, ch
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish fans the event out to every subscriber without blocking.
func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ev := Event{Topic: topic, Payload: payload}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber buffer full; it reconciles via the list snapshot.
		}
	}
}

func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
