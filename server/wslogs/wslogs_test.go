package wslogs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/teranos/nexus/errors"
	"github.com/teranos/nexus/logger"
)

func receive(t *testing.T, ch chan *Batch) *Batch {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(time.Second):
		t.Fatal("no batch received")
		return nil
	}
}

func TestFromZapEntry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := FromZapEntry(zapcore.Entry{
		Level:      zapcore.WarnLevel,
		Time:       now,
		LoggerName: "runner",
		Message:    "Engine run failed",
	}, []zapcore.Field{
		zap.String(logger.FieldEngine, "beta"),
		zap.Int(logger.FieldCount, 3),
		zap.Bool("retry", true),
		zap.Float64("ratio", 0.5),
		zap.Duration(logger.FieldTimeout, 2*time.Second),
		zap.Error(errors.New("provider returned 502")),
	})

	assert.Equal(t, "warn", msg.Level)
	assert.Equal(t, now, msg.Timestamp)
	assert.Equal(t, "runner", msg.Logger)
	assert.Equal(t, "beta", msg.Fields[logger.FieldEngine])
	assert.Equal(t, int64(3), msg.Fields[logger.FieldCount])
	assert.Equal(t, true, msg.Fields["retry"])
	assert.Equal(t, 0.5, msg.Fields["ratio"])
	assert.Equal(t, "2s", msg.Fields[logger.FieldTimeout])
	assert.Equal(t, "provider returned 502", msg.Fields[logger.FieldError])
}

func TestTransport(t *testing.T) {
	tr := NewTransport()
	fast := make(chan *Batch, 1)
	slow := make(chan *Batch) // never drained
	tr.RegisterClient("fast", fast)
	tr.RegisterClient("slow", slow)
	assert.Equal(t, 2, tr.ClientCount())

	tr.SendBatch(&Batch{RunID: "r1", Messages: []Message{{Message: "hello"}}})
	assert.Equal(t, "r1", receive(t, fast).RunID)
	assert.Equal(t, int64(1), tr.Dropped())

	tr.SendBatch(&Batch{RunID: "empty"})
	assert.Empty(t, fast)

	tr.UnregisterClient("slow")
	assert.Equal(t, 1, tr.ClientCount())
}

func TestBatcherCap(t *testing.T) {
	tr := NewTransport()
	ch := make(chan *Batch, 1)
	tr.RegisterClient("c", ch)

	b := NewBatcher("r1", "alpha", 2, tr)
	for i := 0; i < 5; i++ {
		b.Append(Message{Message: "line"})
	}
	assert.Equal(t, 2, b.Count())

	b.Flush()
	got := receive(t, ch)
	assert.Len(t, got.Messages, 2)
	assert.Equal(t, 3, got.Truncated)
	assert.Equal(t, "alpha", got.Engine)
	assert.Zero(t, b.Count())

	b.Flush()
	assert.Empty(t, ch, "empty batcher sends nothing")
}

func TestCoreCapturesRunLogs(t *testing.T) {
	tr := NewTransport()
	ch := make(chan *Batch, 4)
	tr.RegisterClient("dashboard", ch)

	core := NewCore(zapcore.InfoLevel, tr, 0)
	log := zap.New(core).Sugar()

	runLog := log.With(logger.FieldEngine, "alpha", logger.FieldRunID, "run-1")
	runLog.Infow("Engine run started", logger.FieldTimeout, "30s")
	runLog.Debugw("below level")
	log.Infow("Scheduler tick") // no run id
	log.Infow("Engine run completed", logger.FieldRunID, "run-2")

	assert.Equal(t, 2, core.Pending())

	core.Flush("run-1")
	got := receive(t, ch)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "alpha", got.Engine)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "Engine run started", got.Messages[0].Message)
	assert.Equal(t, "30s", got.Messages[0].Fields[logger.FieldTimeout])
	assert.Equal(t, 1, core.Pending())

	core.Flush("run-2")
	assert.Equal(t, "run-2", receive(t, ch).RunID)
	assert.Zero(t, core.Pending())

	core.Flush("run-unknown")
	assert.Empty(t, ch)
	assert.NoError(t, core.Sync())
}
