package adapters

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"scrapekit/internal/logging/types"
)

// formatEntry renders an entry as a single line in the requested format
func formatEntry(entry *types.LogEntry, format string, colorized bool) ([]byte, error) {
	if strings.EqualFold(format, "text") {
		return []byte(formatText(entry, colorized)), nil
	}
	return formatJSON(entry)
}

func formatJSON(entry *types.LogEntry) ([]byte, error) {
	logData := make(map[string]interface{}, len(entry.Fields)+3)
	for k, v := range entry.Fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		logData[k] = v
	}
	logData["level"] = entry.Level.String()
	logData["message"] = entry.Message
	logData["time"] = entry.Timestamp.Format(time.RFC3339)

	return json.Marshal(logData)
}

func formatText(entry *types.LogEntry, colorized bool) string {
	level := strings.ToUpper(entry.Level.String())
	if colorized {
		level = colorizeLevel(level)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s", entry.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"), level, entry.Message)

	keys := make([]string, 0, len(entry.Fields))
	for k := range entry.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Fields[k])
	}

	return b.String()
}

// colorizeLevel adds ANSI color codes to log levels
func colorizeLevel(level string) string {
	const (
		red    = "\033[31m"
		yellow = "\033[33m"
		blue   = "\033[34m"
		gray   = "\033[90m"
		reset  = "\033[0m"
	)

	switch level {
	case "DEBUG":
		return gray + level + reset
	case "INFO":
		return blue + level + reset
	case "WARN":
		return yellow + level + reset
	case "ERROR", "FATAL":
		return red + level + reset
	default:
		return level
	}
}
