// Package observability provides structured logging for the praxis engine.
//
// Logging is built on the standard library slog package. All engine
// components receive a *Logger rather than using the process default, so
// tests can capture output and the CLI can route diagnostics away from the
// conversation stream. Sensitive values (API keys, tokens, credentials) are
// redacted before a record is emitted.
package observability

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Logger wraps slog with secret redaction and conversation-scoped context
// attributes.
type Logger struct {
	logger  *slog.Logger
	config  LogConfig
	redacts []*regexp.Regexp
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string

	// Format is "json" or "text". JSON for machine consumption, text for
	// interactive debugging.
	Format string

	// Output defaults to os.Stderr: stdout belongs to the conversation.
	Output io.Writer

	// AddSource includes file and line in records.
	AddSource bool

	// RedactPatterns are additional regexes applied on top of the defaults.
	RedactPatterns []string
}

// ContextKey is the type for context keys the logger extracts.
type ContextKey string

const (
	// SessionIDKey carries the conversation session id.
	SessionIDKey ContextKey = "session_id"

	// ToolUseIDKey carries the tool-use id during tool execution.
	ToolUseIDKey ContextKey = "tool_use_id"

	// TurnKey carries the query-loop turn number.
	TurnKey ContextKey = "turn"
)

// DefaultRedactPatterns covers the credentials praxis handles: Anthropic and
// OpenAI API keys, AWS access keys, bearer tokens, JWTs and generic secrets.
var DefaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey)[\s:=]+["']?([a-zA-Z0-9_\-]{16,})["']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["']?([^\s"']{8,})["']?`,
	`sk-ant-[a-zA-Z0-9_-]{24,}`,
	`sk-[a-zA-Z0-9]{48,}`,
	`AKIA[0-9A-Z]{16}`,
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
	`(?i)(secret|key|token)[\s:=]+["']?([a-fA-F0-9]{32,})["']?`,
}

// NewLogger creates a structured logger. Level defaults to "info", format to
// "json", output to os.Stderr. Invalid redact patterns are skipped.
func NewLogger(config LogConfig) *Logger {
	if config.Output == nil {
		config.Output = os.Stderr
	}
	if config.Level == "" {
		config.Level = "info"
	}
	if config.Format == "" {
		config.Format = "json"
	}

	opts := &slog.HandlerOptions{
		Level:     LogLevelFromString(config.Level),
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(config.Output, opts)
	} else {
		handler = slog.NewTextHandler(config.Output, opts)
	}

	redacts := make([]*regexp.Regexp, 0, len(DefaultRedactPatterns)+len(config.RedactPatterns))
	for _, pattern := range append(append([]string{}, DefaultRedactPatterns...), config.RedactPatterns...) {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}

	return &Logger{
		logger:  slog.New(handler),
		config:  config,
		redacts: redacts,
	}
}

// Discard returns a logger that drops every record. Intended for tests and
// for components constructed without an explicit logger.
func Discard() *Logger {
	return NewLogger(LogConfig{Output: io.Discard})
}

// WithComponent returns a child logger tagged with a component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		logger:  l.logger.With("component", name),
		config:  l.config,
		redacts: l.redacts,
	}
}

// WithFields returns a child logger with the given key-value pairs attached
// to every record.
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{
		logger:  l.logger.With(args...),
		config:  l.config,
		redacts: l.redacts,
	}
}

// Debug logs at debug level with optional key-value pairs.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}

// Info logs at info level with optional key-value pairs.
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}

// Warn logs at warn level with optional key-value pairs.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}

// Error logs at error level with optional key-value pairs. Error values
// among the args are redacted like strings.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	msg = l.redactString(msg)

	redacted := make([]any, len(args))
	for i, arg := range args {
		redacted[i] = l.redactValue(arg)
	}

	attrs := make([]any, 0, len(redacted)+6)
	if sessionID, ok := ctx.Value(SessionIDKey).(string); ok && sessionID != "" {
		attrs = append(attrs, "session_id", sessionID)
	}
	if toolUseID, ok := ctx.Value(ToolUseIDKey).(string); ok && toolUseID != "" {
		attrs = append(attrs, "tool_use_id", toolUseID)
	}
	if turn, ok := ctx.Value(TurnKey).(int); ok && turn > 0 {
		attrs = append(attrs, "turn", turn)
	}
	attrs = append(attrs, redacted...)

	l.logger.Log(ctx, level, msg, attrs...)
}

func (l *Logger) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return l.redactString(val)
	case error:
		return l.redactString(val.Error())
	case []byte:
		return l.redactString(string(val))
	case map[string]any:
		return l.redactMap(val)
	case map[string]string:
		m := make(map[string]any, len(val))
		for k, v := range val {
			m[k] = v
		}
		return l.redactMap(m)
	default:
		if b, err := json.Marshal(v); err == nil && strings.ContainsAny(string(b), "\"{[") {
			if redacted := l.redactString(string(b)); redacted != string(b) {
				return redacted
			}
		}
		return v
	}
}

func (l *Logger) redactString(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

var sensitiveKeys = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"private_key":   true,
	"privatekey":    true,
	"auth":          true,
	"authorization": true,
}

func (l *Logger) redactMap(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		lowerKey := strings.ToLower(strings.ReplaceAll(k, "-", "_"))
		if sensitiveKeys[lowerKey] {
			result[k] = "[REDACTED]"
		} else {
			result[k] = l.redactValue(v)
		}
	}
	return result
}

// WithSessionID attaches a session id to the context for log correlation.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// WithToolUseID attaches a tool-use id to the context for log correlation.
func WithToolUseID(ctx context.Context, toolUseID string) context.Context {
	return context.WithValue(ctx, ToolUseIDKey, toolUseID)
}

// WithTurn attaches the query-loop turn number to the context.
func WithTurn(ctx context.Context, turn int) context.Context {
	return context.WithValue(ctx, TurnKey, turn)
}

// LogLevelFromString converts a level name to a slog.Level, defaulting to
// info for unrecognized values.
func LogLevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
