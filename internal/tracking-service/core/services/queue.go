package services

import (
	"time"

	"ride-tracker/internal/tracking-service/core/domain/model"
)

// MessageQueue is a fixed-capacity circular buffer. When full, Push drops the
// oldest entry. It is not safe for concurrent use; the manager guards it.
type MessageQueue struct {
	buf  []model.QueuedMessage
	head int
	size int
	now  func() time.Time
}

func NewMessageQueue(capacity int) *MessageQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &MessageQueue{
		buf: make([]model.QueuedMessage, capacity),
		now: time.Now,
	}
}

// Push appends payload and reports whether an older message was dropped.
func (q *MessageQueue) Push(payload []byte) bool {
	return q.push(model.QueuedMessage{Payload: payload, QueuedAt: q.now()})
}

func (q *MessageQueue) push(msg model.QueuedMessage) bool {
	tail := (q.head + q.size) % len(q.buf)
	q.buf[tail] = msg
	if q.size < len(q.buf) {
		q.size++
		return false
	}
	q.head = (q.head + 1) % len(q.buf)
	return true
}

// Pop removes the oldest message.
func (q *MessageQueue) Pop() (model.QueuedMessage, bool) {
	if q.size == 0 {
		return model.QueuedMessage{}, false
	}
	msg := q.buf[q.head]
	q.buf[q.head] = model.QueuedMessage{}
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return msg, true
}

// Drain empties the queue and returns its contents oldest first.
func (q *MessageQueue) Drain() []model.QueuedMessage {
	out := make([]model.QueuedMessage, 0, q.size)
	for {
		msg, ok := q.Pop()
		if !ok {
			return out
		}
		out = append(out, msg)
	}
}

// Snapshot copies the contents oldest first without removing them.
func (q *MessageQueue) Snapshot() []model.QueuedMessage {
	out := make([]model.QueuedMessage, 0, q.size)
	for i := 0; i < q.size; i++ {
		out = append(out, q.buf[(q.head+i)%len(q.buf)])
	}
	return out
}

func (q *MessageQueue) Len() int {
	return q.size
}

func (q *MessageQueue) Cap() int {
	return len(q.buf)
}
