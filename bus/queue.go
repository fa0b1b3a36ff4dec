// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package bus

// DefaultMaxMessages is the queue capacity given to new sockets when
// the device does not configure one.
const DefaultMaxMessages = 100

// MessageQueue is a bounded FIFO of delivered messages. It is not safe
// for concurrent use; each socket guards its queue with its own lock.
type MessageQueue struct {
	messages []Message
	capacity int
}

// NewMessageQueue returns an empty queue holding at most capacity
// messages.
func NewMessageQueue(capacity int) *MessageQueue {
	return &MessageQueue{capacity: capacity}
}

// Push appends message, or fails with ErrQueueFull at capacity.
func (q *MessageQueue) Push(message Message) error {
	if len(q.messages) >= q.capacity {
		return errorf(CodeQueueFull, "%d of %d slots used", len(q.messages), q.capacity)
	}
	q.messages = append(q.messages, message)
	return nil
}

// PopFront removes and returns the oldest message.
func (q *MessageQueue) PopFront() (Message, bool) {
	if len(q.messages) == 0 {
		return Message{}, false
	}
	message := q.messages[0]
	q.messages[0] = Message{}
	q.messages = q.messages[1:]
	if len(q.messages) == 0 {
		q.messages = nil
	}
	return message, true
}

// Len returns the number of queued messages.
func (q *MessageQueue) Len() int { return len(q.messages) }

// Capacity returns the maximum number of queued messages.
func (q *MessageQueue) Capacity() int { return q.capacity }

// SetCapacity changes the limit. Messages already queued beyond a
// lowered limit stay queued; pushes fail until the queue drains below
// it.
func (q *MessageQueue) SetCapacity(capacity int) { q.capacity = capacity }

// Room returns how many more messages fit.
func (q *MessageQueue) Room() int { return max(q.capacity-len(q.messages), 0) }

// RemoveFunc deletes the messages for which remove returns true and
// returns them in queue order. The relative order of the rest is kept.
func (q *MessageQueue) RemoveFunc(remove func(*Message) bool) []Message {
	var removed []Message
	kept := q.messages[:0]
	for index := range q.messages {
		if remove(&q.messages[index]) {
			removed = append(removed, q.messages[index])
		} else {
			kept = append(kept, q.messages[index])
		}
	}
	clear(q.messages[len(kept):])
	q.messages = kept
	return removed
}

// Drain empties the queue and returns its contents in order.
func (q *MessageQueue) Drain() []Message {
	messages := q.messages
	q.messages = nil
	return messages
}
