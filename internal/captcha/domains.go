package captcha

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"scrapekit/internal/logging"
	"scrapekit/internal/logging/types"
)

// DomainRegistry remembers domains that served a challenge. With a path it
// persists them as "domain<TAB>first_seen" lines.
type DomainRegistry struct {
	path    string
	domains map[string]time.Time
	mu      sync.RWMutex
	logger  types.Logger
}

// NewDomainRegistry loads path when it exists; an empty path keeps the registry in memory
func NewDomainRegistry(path string) (*DomainRegistry, error) {
	r := &DomainRegistry{
		path:    path,
		domains: make(map[string]time.Time),
		logger:  logging.GetGlobalLogger().WithField("component", "captcha_domains"),
	}
	if path == "" {
		return r, nil
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func normalize(domain string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "www.")
}

// IsKnown reports whether domain has served a challenge before
func (r *DomainRegistry) IsKnown(domain string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.domains[normalize(domain)]
	return ok
}

// Add records domain and reports whether it was new
func (r *DomainRegistry) Add(domain string) (bool, error) {
	domain = normalize(domain)
	if domain == "" {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.domains[domain]; ok {
		return false, nil
	}
	r.domains[domain] = time.Now().UTC()

	r.logger.Info("Added new captcha domain", map[string]interface{}{
		"domain":      domain,
		"total_count": len(r.domains),
	})
	if r.path == "" {
		return true, nil
	}
	return true, r.save()
}

// Domains returns a copy of the known domains and when each was first seen
func (r *DomainRegistry) Domains() map[string]time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]time.Time, len(r.domains))
	for d, t := range r.domains {
		out[d] = t
	}
	return out
}

func (r *DomainRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.domains)
}

func (r *DomainRegistry) load() error {
	file, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open captcha domains file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "\t", 2)
		firstSeen := time.Now().UTC()
		if len(parts) > 1 {
			if parsed, err := time.Parse(time.RFC3339, parts[1]); err == nil {
				firstSeen = parsed
			}
		}
		r.domains[normalize(parts[0])] = firstSeen
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read captcha domains file: %w", err)
	}

	r.logger.Debug("Loaded captcha domains", map[string]interface{}{
		"count": len(r.domains),
	})
	return nil
}

// save rewrites the file atomically; callers hold the write lock
func (r *DomainRegistry) save() error {
	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create captcha domains dir: %w", err)
		}
	}

	names := make([]string, 0, len(r.domains))
	for d := range r.domains {
		names = append(names, d)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("# Captcha-protected domains (automatically managed)\n")
	b.WriteString("# Format: domain\\tfirst_seen_timestamp\n\n")
	for _, d := range names {
		fmt.Fprintf(&b, "%s\t%s\n", d, r.domains[d].Format(time.RFC3339))
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write captcha domains file: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace captcha domains file: %w", err)
	}
	return nil
}
