package logging

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"scrapekit/internal/logging/types"
)

type LogLevel = types.LogLevel
type LogEntry = types.LogEntry
type LogAdapter = types.LogAdapter
type Logger = types.Logger

const (
	DebugLevel = types.DebugLevel
	InfoLevel  = types.InfoLevel
	WarnLevel  = types.WarnLevel
	ErrorLevel = types.ErrorLevel
	FatalLevel = types.FatalLevel
)

// sink is shared by a logger and every logger derived from it
type sink struct {
	mu       sync.RWMutex
	adapters map[string]types.LogAdapter
	level    LogLevel
}

// MultiLogger fans each entry out to every registered adapter
type MultiLogger struct {
	sink    *sink
	context context.Context
	fields  map[string]interface{}
}

// NewMultiLogger creates a new MultiLogger instance
func NewMultiLogger() *MultiLogger {
	return &MultiLogger{
		sink: &sink{
			adapters: make(map[string]types.LogAdapter),
			level:    InfoLevel,
		},
		context: context.Background(),
		fields:  map[string]interface{}{},
	}
}

func (l *MultiLogger) Debug(message string, fields ...map[string]interface{}) {
	l.Log(DebugLevel, message, fields...)
}

func (l *MultiLogger) Info(message string, fields ...map[string]interface{}) {
	l.Log(InfoLevel, message, fields...)
}

func (l *MultiLogger) Warn(message string, fields ...map[string]interface{}) {
	l.Log(WarnLevel, message, fields...)
}

func (l *MultiLogger) Error(message string, fields ...map[string]interface{}) {
	l.Log(ErrorLevel, message, fields...)
}

// Fatal logs a fatal message and exits
func (l *MultiLogger) Fatal(message string, fields ...map[string]interface{}) {
	l.Log(FatalLevel, message, fields...)
	_ = l.Close()
	os.Exit(1)
}

// Log logs a message at the specified level
func (l *MultiLogger) Log(level LogLevel, message string, fields ...map[string]interface{}) {
	l.sink.mu.RLock()
	defer l.sink.mu.RUnlock()

	if level < l.sink.level {
		return
	}

	entry := &types.LogEntry{
		Level:     level,
		Message:   message,
		Timestamp: time.Now(),
		Context:   l.context,
		Fields:    l.mergeFields(fields...),
	}

	for name, adapter := range l.sink.adapters {
		if err := adapter.Write(entry); err != nil {
			// stderr, never back through the logger
			fmt.Fprintf(os.Stderr, "logging adapter %s error: %v\n", name, err)
		}
	}
}

func (l *MultiLogger) WithContext(ctx context.Context) Logger {
	return &MultiLogger{sink: l.sink, context: ctx, fields: l.copyFields()}
}

func (l *MultiLogger) WithField(key string, value interface{}) Logger {
	fields := l.copyFields()
	fields[key] = value
	return &MultiLogger{sink: l.sink, context: l.context, fields: fields}
}

func (l *MultiLogger) WithFields(fields map[string]interface{}) Logger {
	return &MultiLogger{sink: l.sink, context: l.context, fields: l.mergeFields(fields)}
}

// SetLevel sets the minimum log level for this logger and all derived loggers
func (l *MultiLogger) SetLevel(level LogLevel) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

func (l *MultiLogger) GetLevel() LogLevel {
	l.sink.mu.RLock()
	defer l.sink.mu.RUnlock()
	return l.sink.level
}

func (l *MultiLogger) AddAdapter(adapter types.LogAdapter) error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	name := adapter.Name()
	if _, exists := l.sink.adapters[name]; exists {
		return fmt.Errorf("adapter %s already exists", name)
	}
	l.sink.adapters[name] = adapter
	return nil
}

func (l *MultiLogger) RemoveAdapter(adapterName string) error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	adapter, exists := l.sink.adapters[adapterName]
	if !exists {
		return fmt.Errorf("adapter %s not found", adapterName)
	}
	delete(l.sink.adapters, adapterName)

	if err := adapter.Close(); err != nil {
		return fmt.Errorf("failed to close adapter %s: %w", adapterName, err)
	}
	return nil
}

// Health reports the first unhealthy adapter, if any
func (l *MultiLogger) Health() error {
	l.sink.mu.RLock()
	defer l.sink.mu.RUnlock()

	names := make([]string, 0, len(l.sink.adapters))
	for name := range l.sink.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := l.sink.adapters[name].Health(); err != nil {
			return fmt.Errorf("adapter %s: %w", name, err)
		}
	}
	return nil
}

// Close closes all adapters
func (l *MultiLogger) Close() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	var errs []string
	for name, adapter := range l.sink.adapters {
		if err := adapter.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("adapter %s: %v", name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to close adapters: %s", strings.Join(errs, ", "))
	}
	return nil
}

func (l *MultiLogger) copyFields() map[string]interface{} {
	fields := make(map[string]interface{}, len(l.fields))
	for k, v := range l.fields {
		fields[k] = v
	}
	return fields
}

func (l *MultiLogger) mergeFields(additionalFields ...map[string]interface{}) map[string]interface{} {
	fields := l.copyFields()
	for _, fieldMap := range additionalFields {
		for k, v := range fieldMap {
			fields[k] = v
		}
	}
	return fields
}

// ParseLogLevel parses a string log level into LogLevel
func ParseLogLevel(levelStr string) LogLevel {
	return types.ParseLevel(levelStr)
}
