package wslogs

import (
	"math"
	"time"

	"go.uber.org/zap/zapcore"
)

// Message represents a log message for WebSocket transport
type Message struct {
	Level     string                 `json:"level"`            // "debug", "info", "warn", "error"
	Timestamp time.Time              `json:"timestamp"`        // When the log was created
	Logger    string                 `json:"logger"`           // Logger name (e.g., "runner")
	Message   string                 `json:"message"`          // Log message
	Fields    map[string]interface{} `json:"fields,omitempty"` // Structured fields
}

// Batch is the log output of a single engine run
type Batch struct {
	Messages  []Message `json:"messages"`
	RunID     string    `json:"run_id"`
	Engine    string    `json:"engine,omitempty"`
	Truncated int       `json:"truncated,omitempty"` // messages dropped past the per-run cap
	Timestamp time.Time `json:"timestamp"`
}

// FromZapEntry converts a zap log entry to our Message format
func FromZapEntry(entry zapcore.Entry, fields []zapcore.Field) Message {
	fieldsMap := make(map[string]interface{}, len(fields))

	for _, f := range fields {
		switch f.Type {
		case zapcore.StringType:
			fieldsMap[f.Key] = f.String
		case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type:
			fieldsMap[f.Key] = f.Integer
		case zapcore.Uint64Type, zapcore.Uint32Type, zapcore.Uint16Type, zapcore.Uint8Type:
			fieldsMap[f.Key] = uint64(f.Integer)
		case zapcore.Float64Type:
			fieldsMap[f.Key] = math.Float64frombits(uint64(f.Integer))
		case zapcore.Float32Type:
			fieldsMap[f.Key] = float64(math.Float32frombits(uint32(f.Integer)))
		case zapcore.BoolType:
			fieldsMap[f.Key] = f.Integer == 1
		case zapcore.DurationType:
			fieldsMap[f.Key] = time.Duration(f.Integer).String()
		case zapcore.TimeType:
			fieldsMap[f.Key] = time.Unix(0, f.Integer).UTC().Format(time.RFC3339Nano)
		case zapcore.ErrorType:
			if err, ok := f.Interface.(error); ok {
				fieldsMap[f.Key] = err.Error()
			}
		case zapcore.StringerType:
			if s, ok := f.Interface.(interface{ String() string }); ok {
				fieldsMap[f.Key] = s.String()
			}
		default:
			fieldsMap[f.Key] = f.Interface
		}
	}

	return Message{
		Level:     entry.Level.String(),
		Timestamp: entry.Time,
		Logger:    entry.LoggerName,
		Message:   entry.Message,
		Fields:    fieldsMap,
	}
}

// stringField returns the value of a string field named key
func stringField(fields []zapcore.Field, key string) string {
	for i := len(fields) - 1; i >= 0; i-- {
		if fields[i].Key == key && fields[i].Type == zapcore.StringType {
			return fields[i].String
		}
	}
	return ""
}
