package fingerprint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"scrapekit/internal/config"
	"scrapekit/internal/logging"
	"scrapekit/internal/logging/types"
	"scrapekit/pkg/utils"
)

// Store hands out one profile per domain so repeat visits reuse an identity
type Store interface {
	ForDomain(ctx context.Context, domain string) (Profile, error)
	Close() error
}

// NewStore builds the store selected by configuration
func NewStore(cfg config.FingerprintConfig, redisCfg config.RedisConfig, gen *Generator) (Store, error) {
	switch cfg.Store {
	case "", "none":
		return NewEphemeralStore(gen), nil
	case "file":
		return NewFileStore(cfg.StorePath, gen), nil
	case "redis":
		s, err := NewRedisStore(redisCfg, gen)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, utils.NewValidationError(fmt.Sprintf("unknown fingerprint store %q", cfg.Store))
	}
}

func normalizeDomain(domain string) (string, error) {
	domain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "www.")
	if domain == "" {
		return "", utils.NewValidationError("domain is required")
	}
	return domain, nil
}

// EphemeralStore generates a fresh profile for every request and persists nothing
type EphemeralStore struct {
	gen *Generator
}

func NewEphemeralStore(gen *Generator) *EphemeralStore {
	return &EphemeralStore{gen: gen}
}

func (s *EphemeralStore) ForDomain(_ context.Context, domain string) (Profile, error) {
	if _, err := normalizeDomain(domain); err != nil {
		return Profile{}, err
	}
	return s.gen.Generate(), nil
}

func (s *EphemeralStore) Close() error { return nil }

// FileStore keeps domain profiles as a JSON array on local disk
type FileStore struct {
	path   string
	gen    *Generator
	mu     sync.Mutex
	logger types.Logger
}

func NewFileStore(path string, gen *Generator) *FileStore {
	return &FileStore{
		path:   path,
		gen:    gen,
		logger: logging.GetGlobalLogger(),
	}
}

func (s *FileStore) ForDomain(ctx context.Context, domain string) (Profile, error) {
	domain, err := normalizeDomain(domain)
	if err != nil {
		return Profile{}, err
	}
	if err := ctx.Err(); err != nil {
		return Profile{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.load()
	if err != nil {
		return Profile{}, err
	}
	for _, p := range profiles {
		if p.Domain == domain {
			return p.Clone(), nil
		}
	}

	p := s.gen.Generate()
	p.Domain = domain
	p.CreatedAt = time.Now().UTC()
	profiles = append(profiles, p)

	if err := s.save(profiles); err != nil {
		return Profile{}, err
	}

	s.logger.Debug("Stored new fingerprint for domain", map[string]interface{}{
		"domain": domain,
		"path":   s.path,
	})
	return p.Clone(), nil
}

func (s *FileStore) load() ([]Profile, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewIOError("read fingerprint store", err)
	}

	var profiles []Profile
	if len(data) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(data, &profiles); err != nil {
		// corrupt stores are overwritten on the next save
		s.logger.Warn("Fingerprint store is unreadable, starting empty", map[string]interface{}{
			"path":  s.path,
			"error": err.Error(),
		})
		return nil, nil
	}
	return profiles, nil
}

func (s *FileStore) save(profiles []Profile) error {
	data, err := json.MarshalIndent(profiles, "", "  ")
	if err != nil {
		return utils.NewIOError("encode fingerprint store", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return utils.NewIOError("create fingerprint store directory", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return utils.NewIOError("write fingerprint store", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return utils.NewIOError("replace fingerprint store", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
