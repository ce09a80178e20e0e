package wslogs

import (
	"sync"

	"go.uber.org/zap/zapcore"

	"github.com/teranos/nexus/logger"
)

// Core is a zap core that captures log entries tagged with a run id and
// holds them per run until the run completes. Tee it onto the global
// logger; entries without a run id are ignored.
type Core struct {
	zapcore.LevelEnabler
	state  *coreState
	fields []zapcore.Field
}

type coreState struct {
	mu        sync.Mutex
	batches   map[string]*Batcher
	transport *Transport
	max       int
}

// NewCore creates a run-log core. level determines which entries are captured.
func NewCore(level zapcore.LevelEnabler, transport *Transport, maxPerRun int) *Core {
	return &Core{
		LevelEnabler: level,
		state: &coreState{
			batches:   make(map[string]*Batcher),
			transport: transport,
			max:       maxPerRun,
		},
	}
}

// With keeps the fields so a run id attached by logger.With is seen on Write
func (c *Core) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &Core{LevelEnabler: c.LevelEnabler, state: c.state, fields: merged}
}

// Check determines if the logger should log at this level (zap interface)
func (c *Core) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

// Write appends the entry to its run's batch
func (c *Core) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if !c.Enabled(entry.Level) {
		return nil
	}

	all := fields
	if len(c.fields) > 0 {
		all = make([]zapcore.Field, 0, len(c.fields)+len(fields))
		all = append(all, c.fields...)
		all = append(all, fields...)
	}

	runID := stringField(all, logger.FieldRunID)
	if runID == "" {
		return nil
	}
	c.batcher(runID, stringField(all, logger.FieldEngine)).Append(FromZapEntry(entry, all))
	return nil
}

func (c *Core) batcher(runID, engine string) *Batcher {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	b, ok := c.state.batches[runID]
	if !ok {
		b = NewBatcher(runID, engine, c.state.max, c.state.transport)
		c.state.batches[runID] = b
	}
	return b
}

// Flush sends a finished run's messages to clients and forgets the run
func (c *Core) Flush(runID string) {
	c.state.mu.Lock()
	b, ok := c.state.batches[runID]
	delete(c.state.batches, runID)
	c.state.mu.Unlock()

	if ok {
		b.Flush()
	}
}

// Pending returns the number of runs with captured, unflushed messages
func (c *Core) Pending() int {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	return len(c.state.batches)
}

// Sync is a no-op; batches are sent explicitly by Flush
func (c *Core) Sync() error {
	return nil
}
