// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package ine

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxLogValueLength limits the length of log values to prevent log injection
// and excessive log file growth. Values longer than this are truncated.
const MaxLogValueLength = 1024

// Logger interface for pluggable logging support
//
// Implementations should use structured logging with key-value pairs.
// Two implementations are provided:
//   - DefaultLogger: wraps Go's standard log package with a configurable level
//   - NoOpLogger: discards everything (default)
//
// Example custom logger integration:
//
//	type SlogAdapter struct {
//	    logger *slog.Logger
//	}
//
//	func (s *SlogAdapter) Debug(ctx context.Context, msg string, keysAndValues ...any) {
//	    s.logger.DebugContext(ctx, msg, keysAndValues...)
//	}
//	// ... implement Info, Warn, Error
//
//	client, _ := ine.NewClient("10.1.1.10",
//	    ine.Username("admin"),
//	    ine.Password("secret"),
//	    ine.WithLogger(&SlogAdapter{logger: slog.Default()}))
type Logger interface {
	Debug(ctx context.Context, msg string, keysAndValues ...any)
	Info(ctx context.Context, msg string, keysAndValues ...any)
	Warn(ctx context.Context, msg string, keysAndValues ...any)
	Error(ctx context.Context, msg string, keysAndValues ...any)
}

// LogLevel represents the severity threshold for logging
type LogLevel int

const (
	// LogLevelDebug enables all log levels (most verbose)
	LogLevelDebug LogLevel = iota

	// LogLevelInfo enables Info, Warn, and Error logs
	LogLevelInfo

	// LogLevelWarn enables Warn and Error logs
	LogLevelWarn

	// LogLevelError enables only Error logs
	LogLevelError

	// LogLevelNone disables all logging
	LogLevelNone
)

// String returns the string representation of a LogLevel
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	case LogLevelNone:
		return "NONE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", l)
	}
}

// DefaultLogger wraps Go's standard log package with configurable log level
//
// Log output format: [LEVEL] message key1=value1 key2=value2
type DefaultLogger struct {
	level LogLevel
}

// NewDefaultLogger creates a DefaultLogger with the specified log level
func NewDefaultLogger(level LogLevel) *DefaultLogger {
	return &DefaultLogger{level: level}
}

// Debug logs a debug message with structured key-value pairs
func (l *DefaultLogger) Debug(_ context.Context, msg string, keysAndValues ...any) {
	if l.level <= LogLevelDebug {
		l.log(LogLevelDebug, msg, keysAndValues...)
	}
}

// Info logs an informational message with structured key-value pairs
func (l *DefaultLogger) Info(_ context.Context, msg string, keysAndValues ...any) {
	if l.level <= LogLevelInfo {
		l.log(LogLevelInfo, msg, keysAndValues...)
	}
}

// Warn logs a warning message with structured key-value pairs
func (l *DefaultLogger) Warn(_ context.Context, msg string, keysAndValues ...any) {
	if l.level <= LogLevelWarn {
		l.log(LogLevelWarn, msg, keysAndValues...)
	}
}

// Error logs an error message with structured key-value pairs
func (l *DefaultLogger) Error(_ context.Context, msg string, keysAndValues ...any) {
	if l.level <= LogLevelError {
		l.log(LogLevelError, msg, keysAndValues...)
	}
}

// sanitizeLogValue neutralises control characters, ANSI escapes and
// invisible Unicode, and truncates long values. Appliance replies are logged
// verbatim, so a reply must never be able to forge a log line.
func sanitizeLogValue(val any) string {
	str := fmt.Sprintf("%v", val)

	if len(str) > MaxLogValueLength {
		str = str[:MaxLogValueLength] + "...[TRUNCATED]"
	}

	var builder strings.Builder
	builder.Grow(len(str))

	for i := 0; i < len(str); i++ {
		r := rune(str[i])

		if r >= 0x80 {
			decoded, size := utf8.DecodeRuneInString(str[i:])
			if decoded == utf8.RuneError {
				builder.WriteRune('.')
				if size == 0 {
					size = 1
				}
				i += size - 1
				continue
			}

			switch decoded {
			case 0x200B, 0x200C, 0x200D, 0xFEFF:
				// zero-width, dropped
			case 0x202E:
				builder.WriteRune(' ')
			default:
				builder.WriteString(str[i : i+size])
			}
			i += size - 1
			continue
		}

		switch r {
		case '\n', '\r', '\t', 0x0C:
			builder.WriteRune(' ')
		case 0x1B, 0x07, 0x08:
			builder.WriteRune('.')
		default:
			if r < 32 || r == 127 {
				builder.WriteRune('.')
			} else {
				builder.WriteRune(r)
			}
		}
	}

	return builder.String()
}

// log formats and outputs a log message. Keys and values are sanitized,
// the message itself comes from this package and is trusted.
func (l *DefaultLogger) log(level LogLevel, msg string, keysAndValues ...any) {
	if l.level > level {
		return
	}

	var builder strings.Builder
	builder.Grow(len(msg) + 16 + len(keysAndValues)*25)

	builder.WriteString("[")
	builder.WriteString(level.String())
	builder.WriteString("] ")
	builder.WriteString(msg)

	for i := 0; i < len(keysAndValues); i += 2 {
		builder.WriteString(" ")
		builder.WriteString(sanitizeLogValue(keysAndValues[i]))
		if i+1 < len(keysAndValues) {
			builder.WriteString("=")
			builder.WriteString(sanitizeLogValue(keysAndValues[i+1]))
		} else {
			builder.WriteString("=<MISSING>")
		}
	}

	log.Println(builder.String())
}

// NoOpLogger is a no-operation logger that discards all log messages
//
// This is the default logger when no custom logger is configured.
type NoOpLogger struct{}

// Debug discards the log message
func (n *NoOpLogger) Debug(_ context.Context, _ string, _ ...any) {}

// Info discards the log message
func (n *NoOpLogger) Info(_ context.Context, _ string, _ ...any) {}

// Warn discards the log message
func (n *NoOpLogger) Warn(_ context.Context, _ string, _ ...any) {}

// Error discards the log message
func (n *NoOpLogger) Error(_ context.Context, _ string, _ ...any) {}

// MaxCommandSizeForLogging bounds the amount of command text run through the
// redaction patterns. Amend commands for large routing tables stay well below it.
const MaxCommandSizeForLogging = 256 * 1024

// CommandTooLargeMessage replaces oversize commands in logs
const CommandTooLargeMessage = "[COMMAND TOO LARGE FOR LOGGING]"

// defaultRedactionPatterns hide credentials and session tokens in logged
// commands and replies.
var defaultRedactionPatterns = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`--login\s+"[^"]*"`), `--login "[REDACTED]"`},
	{regexp.MustCompile(`--sessionId\s+"[^"]*"`), `--sessionId "[REDACTED]"`},
	{regexp.MustCompile(`--sessionId\s+[^\s"]+`), `--sessionId [REDACTED]`},
}

// redactCommand prepares a command or reply for logging
func redactCommand(s string) string {
	if len(s) > MaxCommandSizeForLogging {
		return CommandTooLargeMessage
	}
	for _, p := range defaultRedactionPatterns {
		s = p.pattern.ReplaceAllString(s, p.replacement)
	}
	return s
}
