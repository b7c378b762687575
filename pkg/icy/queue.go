package icy

import "bytes"

// Queue is a byte FIFO. Bytes are appended at the tail and removed from the
// head. It is not safe for concurrent use.
type Queue struct {
	buf bytes.Buffer
}

func NewQueue() *Queue {
	return &Queue{}
}

// Put appends p to the tail of the queue.
func (q *Queue) Put(p []byte) {
	q.buf.Write(p)
}

// Get removes and returns up to n bytes from the head of the queue. Fewer
// than n bytes are returned only when the queue holds fewer than n.
func (q *Queue) Get(n int) []byte {
	if n <= 0 {
		return nil
	}
	b := q.buf.Next(n)
	out := make([]byte, len(b))
	copy(out, b)

	if q.buf.Len() == 0 {
		// Lets the buffer reuse its storage from the start.
		q.buf.Reset()
	}

	return out
}

// Peek returns up to n bytes from the head without removing them. The slice
// is only valid until the next call that modifies the queue.
func (q *Queue) Peek(n int) []byte {
	if n <= 0 {
		return nil
	}
	b := q.buf.Bytes()
	if n > len(b) {
		n = len(b)
	}
	return b[:n]
}

// Len returns the number of bytes currently queued.
func (q *Queue) Len() int {
	return q.buf.Len()
}

// Reset discards all queued bytes.
func (q *Queue) Reset() {
	q.buf.Reset()
}
