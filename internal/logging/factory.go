package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"scrapekit/internal/config"
	"scrapekit/internal/logging/adapters"
	"scrapekit/internal/logging/types"
)

// AdapterFactory creates logging adapters based on configuration
type AdapterFactory struct{}

func NewAdapterFactory() *AdapterFactory {
	return &AdapterFactory{}
}

// CreateAdapter creates a logging adapter based on the provided configuration
func (f *AdapterFactory) CreateAdapter(adapterConfig config.AdapterConfig) (types.LogAdapter, error) {
	opts := adapterConfig.Options
	switch adapterConfig.Type {
	case "stdout":
		return adapters.NewStdoutAdapter(adapterConfig.Name, adapters.StdoutConfig{
			Format:    getStringOption(opts, "format", "json"),
			Colorized: getBoolOption(opts, "colorized", false),
			Writer:    outputWriter(getStringOption(opts, "output", "stdout")),
		}), nil
	case "file":
		return adapters.NewFileAdapter(adapterConfig.Name, adapters.FileConfig{
			FilePath:   getStringOption(opts, "file_path", ""),
			Format:     getStringOption(opts, "format", "json"),
			MaxSizeMB:  getIntOption(opts, "max_size_mb", 100),
			MaxAgeDays: getIntOption(opts, "max_age_days", 0),
			MaxBackups: getIntOption(opts, "max_backups", 10),
			Compress:   getBoolOption(opts, "compress", false),
			CreateDirs: getBoolOption(opts, "create_dirs", true),
		})
	case "betterstack":
		return adapters.NewBetterstackAdapter(adapterConfig.Name, adapters.BetterstackConfig{
			SourceToken: getStringOption(opts, "source_token", ""),
			Endpoint:    getStringOption(opts, "endpoint", "https://in.logs.betterstack.com"),
			MaxRetries:  getIntOption(opts, "max_retries", 2),
			Timeout:     getDurationOption(opts, "timeout", 10*time.Second),
			UserAgent:   getStringOption(opts, "user_agent", "scrapekit/1.0"),
			Headers:     getMapStringOption(opts, "headers"),
		})
	default:
		return nil, fmt.Errorf("unsupported adapter type: %s", adapterConfig.Type)
	}
}

func getStringOption(options map[string]interface{}, key string, defaultValue string) string {
	if str, ok := options[key].(string); ok {
		return str
	}
	return defaultValue
}

func getIntOption(options map[string]interface{}, key string, defaultValue int) int {
	switch v := options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return defaultValue
}

func getBoolOption(options map[string]interface{}, key string, defaultValue bool) bool {
	if b, ok := options[key].(bool); ok {
		return b
	}
	return defaultValue
}

func getDurationOption(options map[string]interface{}, key string, defaultValue time.Duration) time.Duration {
	if str, ok := options[key].(string); ok {
		if duration, err := time.ParseDuration(str); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getMapStringOption(options map[string]interface{}, key string) map[string]string {
	result := make(map[string]string)
	if mapVal, ok := options[key].(map[string]interface{}); ok {
		for k, v := range mapVal {
			if str, ok := v.(string); ok {
				result[k] = str
			}
		}
	}
	return result
}

// outputWriter maps an output name to a console stream
func outputWriter(name string) io.Writer {
	if name == "stderr" {
		return os.Stderr
	}
	return os.Stdout
}
