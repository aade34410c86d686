package eventbus

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type EventType string

const (
	TaskCreated     EventType = "task.created"
	TaskClaimed     EventType = "task.claimed"
	ReportSubmitted EventType = "task.report_submitted"
	TaskApproved    EventType = "task.approved"
	TaskRejected    EventType = "task.rejected"
	TaskDelegated   EventType = "task.delegated"
	StatusChanged   EventType = "task.status_changed"
	TaskDeleted     EventType = "task.deleted"
	UserRegistered  EventType = "user.registered"
)

// Event describes a committed lifecycle transition. Meta carries the
// snapshot details the notification layer needs without reaching back into
// the store for fields that may have moved on since the commit.
type Event struct {
	ID        string
	Type      EventType
	TaskID    string
	Actor     string
	Meta      map[string]string
	CreatedAt time.Time
}

type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan *Event
}

func New() *Bus {
	return &Bus{
		subscribers: make(map[string]chan *Event),
	}
}

func (b *Bus) Subscribe(bufSize int) (string, <-chan *Event) {
	id := ulid.Make().String()
	ch := make(chan *Event, bufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Bus) Publish(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// buffer full, drop event for this subscriber
		}
	}
}

func (b *Bus) PublishNew(eventType EventType, taskID, actor string, meta map[string]string) {
	b.Publish(&Event{
		ID:        ulid.Make().String(),
		Type:      eventType,
		TaskID:    taskID,
		Actor:     actor,
		Meta:      meta,
		CreatedAt: time.Now(),
	})
}
