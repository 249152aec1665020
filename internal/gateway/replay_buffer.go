package gateway

import "sync"

// ReplayBuffer is a fixed-size circular buffer of recently published
// messages. It backs since_seq replay for reconnecting clients and the
// recent-signals query. Safe for concurrent use.
type ReplayBuffer struct {
	mu   sync.RWMutex
	buf  []Message
	cap  int
	pos  int // next write position
	full bool
}

// NewReplayBuffer creates a replay buffer with the given capacity.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &ReplayBuffer{
		buf: make([]Message, capacity),
		cap: capacity,
	}
}

// Push appends a message, overwriting the oldest when full. Message data is
// never mutated after encoding, so it is stored without copying.
func (rb *ReplayBuffer) Push(m Message) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.buf[rb.pos] = m
	rb.pos = (rb.pos + 1) % rb.cap
	if rb.pos == 0 && !rb.full {
		rb.full = true
	}
}

// Range returns buffered messages with seq in [fromSeq, toSeq], oldest first.
func (rb *ReplayBuffer) Range(fromSeq, toSeq int64) []Message {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var result []Message
	for i := 0; i < rb.len(); i++ {
		m := rb.buf[rb.index(i)]
		if m.Seq >= fromSeq && m.Seq <= toSeq {
			result = append(result, m)
		}
	}
	return result
}

// Last returns up to n of the newest messages, oldest first.
func (rb *ReplayBuffer) Last(n int) []Message {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	count := rb.len()
	if n <= 0 || n > count {
		n = count
	}
	out := make([]Message, 0, n)
	for i := count - n; i < count; i++ {
		out = append(out, rb.buf[rb.index(i)])
	}
	return out
}

// Len returns the number of messages currently buffered.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.len()
}

func (rb *ReplayBuffer) len() int {
	if rb.full {
		return rb.cap
	}
	return rb.pos
}

// index converts a logical index (0 = oldest) to a physical buffer index.
func (rb *ReplayBuffer) index(logical int) int {
	if rb.full {
		return (rb.pos + logical) % rb.cap
	}
	return logical
}
