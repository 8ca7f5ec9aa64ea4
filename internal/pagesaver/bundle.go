package pagesaver

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// Source is a loaded document whose subresources can be fetched
type Source interface {
	URL(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	Resource(ctx context.Context, url string) ([]byte, error)
}

// Bundle describes a saved page on disk. It is never mutated after Capture returns.
type Bundle struct {
	Name        string            `json:"name"`
	SourceURL   string            `json:"source_url"`
	Dir         string            `json:"dir"`
	Root        string            `json:"root"`
	ResourceDir string            `json:"resource_dir,omitempty"`
	Resources   map[string]string `json:"resources"`
	Skipped     []string          `json:"skipped,omitempty"`
	Markdown    string            `json:"markdown,omitempty"`
	RemoteURL   string            `json:"remote_url,omitempty"`
	Bytes       int64             `json:"bytes"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Uploader copies a finished bundle to remote storage and returns its public location
type Uploader interface {
	UploadBundle(ctx context.Context, b *Bundle) (string, error)
}

const (
	defaultName   = "webpage"
	maxNameLength = 100
)

var unsafeNameChars = regexp.MustCompile(`[\\/*?:"<>|\x00-\x1f]`)

// SanitizeName makes name safe as a file name: reserved characters become
// underscores and the result is capped at 100 characters.
func SanitizeName(name string) string {
	name = strings.TrimSpace(unsafeNameChars.ReplaceAllString(name, "_"))
	name = strings.Trim(name, ". ")
	if name == "" {
		return ""
	}
	runes := []rune(name)
	if len(runes) > maxNameLength {
		name = strings.TrimSpace(string(runes[:maxNameLength]))
	}
	return name
}
