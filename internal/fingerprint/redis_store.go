package fingerprint

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"scrapekit/internal/config"
	"scrapekit/internal/logging"
	"scrapekit/internal/logging/types"
	"scrapekit/pkg/utils"
)

const redisKeyPrefix = "scrapekit:fingerprint:"

// RedisStore shares domain profiles between processes
type RedisStore struct {
	client *redis.Client
	gen    *Generator
	ttl    time.Duration
	logger types.Logger
}

// NewRedisStore connects using the Redis URL, falling back to localhost
func NewRedisStore(cfg config.RedisConfig, gen *Generator) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, utils.NewValidationError("invalid redis url: " + err.Error())
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	if cfg.Timeout > 0 {
		opts.DialTimeout = cfg.Timeout
		opts.ReadTimeout = cfg.Timeout
		opts.WriteTimeout = cfg.Timeout
	}

	return &RedisStore{
		client: redis.NewClient(opts),
		gen:    gen,
		ttl:    cfg.KeyTTL,
		logger: logging.GetGlobalLogger(),
	}, nil
}

// Ping tests the Redis connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) ForDomain(ctx context.Context, domain string) (Profile, error) {
	domain, err := normalizeDomain(domain)
	if err != nil {
		return Profile{}, err
	}
	key := redisKeyPrefix + domain

	if p, ok, err := s.get(ctx, key); err != nil || ok {
		return p, err
	}

	p := s.gen.Generate()
	p.Domain = domain
	p.CreatedAt = time.Now().UTC()
	data, err := json.Marshal(p)
	if err != nil {
		return Profile{}, utils.NewIOError("encode fingerprint", err)
	}

	stored, err := s.client.SetNX(ctx, key, data, s.ttl).Result()
	if err != nil {
		return Profile{}, utils.NewIOError("store fingerprint in redis", err)
	}
	if !stored {
		// another process won the race, use its profile
		if existing, ok, err := s.get(ctx, key); err != nil || ok {
			return existing, err
		}
	}

	s.logger.Debug("Stored new fingerprint for domain in redis", map[string]interface{}{
		"domain": domain,
	})
	return p, nil
}

func (s *RedisStore) get(ctx context.Context, key string) (Profile, bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, utils.NewIOError("read fingerprint from redis", err)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Warn("Discarding unreadable fingerprint", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return Profile{}, false, nil
	}
	return p, true, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
