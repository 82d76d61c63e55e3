// Package logstream reads a child process's stdout, reassembles it into
// newline-terminated lines and broadcasts each line to any number of
// subscribers. The producer never blocks on a slow subscriber: the broadcast
// keeps a bounded ring of recent lines, and a subscriber that falls behind is
// told how many lines it skipped instead of stalling the reader.
package logstream

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// DefaultCapacity is the number of recent lines retained for slow subscribers.
const DefaultCapacity = 100

// ErrClosed is returned by Recv once the producer has finished and every
// retained line has been delivered.
var ErrClosed = errors.New("log stream closed")

// Broadcast is a single-producer, multi-subscriber line channel. Subscribers
// hold independent cursors into a shared ring buffer; lines are shared
// read-only and must not be mutated.
type Broadcast struct {
	mu     sync.Mutex
	lines  [][]byte
	next   uint64 // sequence number of the next published line
	closed bool
	wake   chan struct{} // closed and replaced on every publish
}

func NewBroadcast(capacity int) *Broadcast {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Broadcast{
		lines: make([][]byte, capacity),
		wake:  make(chan struct{}),
	}
}

// Publish appends one line to the stream. Only the producing task may call
// Publish, and never after Close.
func (b *Broadcast) Publish(line []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.lines[b.next%uint64(len(b.lines))] = line
	b.next++
	close(b.wake)
	b.wake = make(chan struct{})
}

// Close marks the end of the stream. Subscribers drain any retained lines and
// then receive ErrClosed.
func (b *Broadcast) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.wake)
}

// Subscribe registers a new subscriber positioned at the current end of the
// stream; it only observes lines published after this call.
func (b *Broadcast) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &Subscriber{b: b, cursor: b.next}
}

// Subscriber is an independent read cursor into a Broadcast.
type Subscriber struct {
	b      *Broadcast
	cursor uint64
}

// Recv returns the next line in publication order. If the subscriber fell
// behind the ring, skipped reports how many lines were dropped from its view
// before the returned line; the cursor then continues from the oldest
// retained line. Recv returns ErrClosed after the producer closes and all
// retained lines were delivered, or ctx.Err() if ctx ends first.
func (s *Subscriber) Recv(ctx context.Context) (line []byte, skipped uint64, err error) {
	for {
		s.b.mu.Lock()
		if s.cursor < s.b.next {
			capacity := uint64(len(s.b.lines))
			if s.b.next > capacity {
				if oldest := s.b.next - capacity; s.cursor < oldest {
					skipped = oldest - s.cursor
					s.cursor = oldest
				}
			}
			line = s.b.lines[s.cursor%capacity]
			s.cursor++
			s.b.mu.Unlock()
			return line, skipped, nil
		}
		if s.b.closed {
			s.b.mu.Unlock()
			return nil, 0, ErrClosed
		}
		wake := s.b.wake
		s.b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-wake:
		}
	}
}
