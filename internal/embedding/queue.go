package embedding

import (
	"time"
)

// Job is a unit of embedding work: compute (and persist, via the Store
// callback wired in by the caller) the embedding for one memory's content.
type Job struct {
	MemoryID  string
	Content   string
	Attempt   int
	Timestamp time.Time
}

// Queue is a bounded, non-blocking job channel. Enqueue never blocks the
// caller — a full queue drops the job and reports false so the caller can
// decide whether to log, retry inline, or give up.
type Queue struct {
	ch     chan *Job
	closed chan struct{}
}

// NewQueue creates a queue with the given channel capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	return &Queue{
		ch:     make(chan *Job, capacity),
		closed: make(chan struct{}),
	}
}

// Enqueue attempts to add a job without blocking. Returns false if the
// queue is full or has been closed.
func (q *Queue) Enqueue(job *Job) bool {
	select {
	case <-q.closed:
		return false
	default:
	}
	select {
	case q.ch <- job:
		return true
	default:
		return false
	}
}

// Requeue re-submits a job after incrementing its attempt counter, waiting
// briefly for room rather than failing immediately on a momentarily full
// queue. Callers should check maxAttempts themselves before calling this.
func (q *Queue) Requeue(job *Job, waitFor time.Duration) bool {
	job.Attempt++
	select {
	case <-q.closed:
		return false
	default:
	}
	select {
	case q.ch <- job:
		return true
	case <-time.After(waitFor):
		return false
	}
}

// Len reports the number of jobs currently buffered.
func (q *Queue) Len() int { return len(q.ch) }

// Close stops accepting new jobs and closes the underlying channel, which
// signals workers ranging over Jobs() to drain and exit.
func (q *Queue) Close() {
	select {
	case <-q.closed:
		return
	default:
		close(q.closed)
		close(q.ch)
	}
}

// Jobs exposes the receive side of the queue for worker range loops.
func (q *Queue) Jobs() <-chan *Job { return q.ch }
