package logging

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scrapekit/internal/config"
)

type captureAdapter struct {
	name    string
	mu      sync.Mutex
	entries []*LogEntry
	closed  bool
}

func (c *captureAdapter) Write(entry *LogEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
	return nil
}

func (c *captureAdapter) Close() error {
	c.closed = true
	return nil
}

func (c *captureAdapter) Health() error {
	if c.closed {
		return fmt.Errorf("closed")
	}
	return nil
}

func (c *captureAdapter) Name() string { return c.name }

func TestMultiLogger_LevelFiltering(t *testing.T) {
	logger := NewMultiLogger()
	capture := &captureAdapter{name: "capture"}
	require.NoError(t, logger.AddAdapter(capture))

	logger.SetLevel(WarnLevel)
	logger.Info("dropped")
	logger.Warn("kept")
	logger.Error("kept too")

	require.Len(t, capture.entries, 2)
	assert.Equal(t, "kept", capture.entries[0].Message)
	assert.Equal(t, ErrorLevel, capture.entries[1].Level)
}

func TestMultiLogger_DerivedLoggersShareAdaptersAndLevel(t *testing.T) {
	logger := NewMultiLogger()
	capture := &captureAdapter{name: "capture"}
	require.NoError(t, logger.AddAdapter(capture))

	derived := logger.WithField("session", "s1").WithFields(map[string]interface{}{"domain": "example.com"})
	logger.SetLevel(ErrorLevel)
	derived.Warn("filtered by parent level")
	derived.Error("navigation failed", map[string]interface{}{"domain": "override.com"})

	require.Len(t, capture.entries, 1)
	fields := capture.entries[0].Fields
	assert.Equal(t, "s1", fields["session"])
	assert.Equal(t, "override.com", fields["domain"])
}

func TestMultiLogger_AdapterManagement(t *testing.T) {
	logger := NewMultiLogger()
	capture := &captureAdapter{name: "capture"}

	require.NoError(t, logger.AddAdapter(capture))
	assert.Error(t, logger.AddAdapter(capture))
	assert.NoError(t, logger.Health())

	require.NoError(t, logger.RemoveAdapter("capture"))
	assert.True(t, capture.closed)
	assert.Error(t, logger.RemoveAdapter("capture"))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLogLevel("DEBUG"))
	assert.Equal(t, WarnLevel, ParseLogLevel("warning"))
	assert.Equal(t, InfoLevel, ParseLogLevel("bogus"))
}

func TestManager_FallsBackToStdout(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Initialize(config.LoggingConfig{Level: "debug", Format: "text"}))
	assert.Equal(t, DebugLevel, m.GetLogger().GetLevel())
	assert.Len(t, m.logger.sink.adapters, 1)
}

func TestManager_RejectsUnknownAdapter(t *testing.T) {
	m := NewManager()
	err := m.Initialize(config.LoggingConfig{
		Adapters: []config.AdapterConfig{{Name: "x", Type: "syslog", Enabled: true}},
	})
	assert.Error(t, err)
}

func TestManager_SkipsDisabledAdapters(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Initialize(config.LoggingConfig{
		Adapters: []config.AdapterConfig{
			{Name: "bs", Type: "betterstack", Enabled: false},
			{Name: "out", Type: "stdout", Enabled: true, Options: map[string]interface{}{"format": "text"}},
		},
	}))
	_, ok := m.logger.sink.adapters["out"]
	assert.True(t, ok)
	assert.Len(t, m.logger.sink.adapters, 1)
}
