package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/stupidking717/kerdar-sub000/pkg/log"
)

// LogLevel is the severity of a node log entry.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogEntry is a message emitted by a node through its logger.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     LogLevel       `json:"level"`
	NodeID    string         `json:"nodeId"`
	NodeName  string         `json:"nodeName"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// Hooks receive run events. Both callbacks may be invoked from several
// goroutines when MaxConcurrency is above one.
type Hooks struct {
	// OnProgress fires on every node status change. The payload is the
	// output channels on success and *ErrorInfo on error.
	OnProgress func(nodeID string, status NodeStatus, payload any)
	// OnLog receives node log entries. Defaults to slog.
	OnLog func(entry LogEntry)
}

var slogLevels = map[LogLevel]slog.Level{
	LogDebug: slog.LevelDebug,
	LogInfo:  slog.LevelInfo,
	LogWarn:  slog.LevelWarn,
	LogError: slog.LevelError,
}

// slogEntry is the default OnLog callback.
func slogEntry(entry LogEntry) {
	lvl, ok := slogLevels[entry.Level]
	if !ok {
		lvl = slog.LevelInfo
	}
	attrs := []slog.Attr{log.NodeID(entry.NodeID), log.NodeName(entry.NodeName)}
	if len(entry.Data) > 0 {
		attrs = append(attrs, slog.Any("data", entry.Data))
	}
	slog.LogAttrs(context.Background(), lvl, entry.Message, attrs...)
}

// NodeLogger forwards a node's messages to the run's log callback, tagged
// with the node ID and name. Arguments are alternating key/value pairs.
type NodeLogger struct {
	node *Node
	emit func(LogEntry)
	now  func() time.Time
}

func (l *NodeLogger) Debug(msg string, args ...any) { l.log(LogDebug, msg, args) }
func (l *NodeLogger) Info(msg string, args ...any)  { l.log(LogInfo, msg, args) }
func (l *NodeLogger) Warn(msg string, args ...any)  { l.log(LogWarn, msg, args) }
func (l *NodeLogger) Error(msg string, args ...any) { l.log(LogError, msg, args) }

func (l *NodeLogger) log(level LogLevel, msg string, args []any) {
	if l == nil || l.emit == nil {
		return
	}
	l.emit(LogEntry{
		Timestamp: l.now(),
		Level:     level,
		NodeID:    l.node.ID,
		NodeName:  l.node.DisplayName(),
		Message:   msg,
		Data:      pairs(args),
	})
}

// pairs turns slog-style key/value arguments into a map.
func pairs(args []any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	res := make(map[string]any, len(args)/2+1)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok || i+1 == len(args) {
			res["!BADKEY"] = args[i]
			i--
			continue
		}
		res[key] = args[i+1]
	}
	return res
}
