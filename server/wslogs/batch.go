package wslogs

import (
	"sync"
	"time"
)

// DefaultMaxMessages caps how many messages one run's batch holds
const DefaultMaxMessages = 200

// Batcher collects the log messages of one run until it is flushed
type Batcher struct {
	messages  []Message
	runID     string
	engine    string
	max       int
	truncated int
	transport *Transport
	mu        sync.Mutex
}

// NewBatcher creates a batcher for a run
func NewBatcher(runID, engine string, max int, transport *Transport) *Batcher {
	if max < 1 {
		max = DefaultMaxMessages
	}
	return &Batcher{
		messages:  make([]Message, 0, 16),
		runID:     runID,
		engine:    engine,
		max:       max,
		transport: transport,
	}
}

// Append adds a log message to the batch, counting it as truncated past the cap
func (b *Batcher) Append(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.messages) >= b.max {
		b.truncated++
		return
	}
	b.messages = append(b.messages, msg)
}

// Flush sends all collected messages as one batch and clears the buffer
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.messages) == 0 {
		return
	}

	b.transport.SendBatch(&Batch{
		Messages:  b.messages,
		RunID:     b.runID,
		Engine:    b.engine,
		Truncated: b.truncated,
		Timestamp: time.Now(),
	})

	// The sent slice now belongs to the batch
	b.messages = make([]Message, 0, 16)
	b.truncated = 0
}

// Count returns the number of messages currently in the batch
func (b *Batcher) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}
