package services

import (
	"errors"
	"sync"

	"github.com/tbourn/persona-chat/internal/domain"
)

// Notification kinds that confirm an intent. Error notifications use the
// domain.ErrorKind of the failure as their kind.
const (
	NoticeProfileCreated = "profile_created"
	NoticeProfileUpdated = "profile_updated"
	NoticeProfileDeleted = "profile_deleted"
	NoticeChatCleared    = "chat_cleared"
)

// Notification levels.
const (
	LevelInfo  = "info"
	LevelError = "error"
)

// Notification is a user-visible message emitted by an Orchestrator.
type Notification struct {
	Kind      string `json:"kind"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	ProfileID string `json:"profile_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Notifier receives notifications. Implementations must not block and must
// be safe for concurrent use.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

type discardNotifier struct{}

func (discardNotifier) Notify(Notification) {}

func errorNotification(err error, profileID string, ts int64) Notification {
	n := Notification{
		Kind:      string(domain.KindOf(err)),
		Level:     LevelError,
		Message:   err.Error(),
		ProfileID: profileID,
		Timestamp: ts,
	}
	var de *domain.Error
	if errors.As(err, &de) && de.Message != "" {
		n.Message = de.Message
	}
	if n.Kind == "" {
		n.Kind = "internal"
	}
	return n
}

// NotificationQueue is a bounded FIFO Notifier. When full, the oldest entry
// is dropped to make room.
type NotificationQueue struct {
	mu      sync.Mutex
	buf     []Notification
	max     int
	dropped uint64
}

// NewNotificationQueue returns a queue holding at most max entries (min 1).
func NewNotificationQueue(max int) *NotificationQueue {
	if max < 1 {
		max = 1
	}
	return &NotificationQueue{max: max}
}

// Notify appends n, evicting the oldest entry when the queue is full.
func (q *NotificationQueue) Notify(n Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) >= q.max {
		copy(q.buf, q.buf[1:])
		q.buf = q.buf[:len(q.buf)-1]
		q.dropped++
	}
	q.buf = append(q.buf, n)
}

// Drain removes and returns every queued notification, oldest first.
func (q *NotificationQueue) Drain() []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.buf
	q.buf = nil
	if out == nil {
		out = []Notification{}
	}
	return out
}

// Len reports the number of queued notifications.
func (q *NotificationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Dropped reports how many notifications were evicted so far.
func (q *NotificationQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
