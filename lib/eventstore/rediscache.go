package eventstore

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gomodule/redigo/redis"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/notemesh/notemesh/core"
)

// CachedStore layers a Redis read cache over an archive Store. Saves
// write through to both; reads prefer the cache and fall back to the
// archive. Cache failures degrade to the archive and are never surfaced
// to callers.
type CachedStore struct {
	config RedisConfig
	stats  tally.Scope
	logger *zap.SugaredLogger

	pool    *redis.Pool
	archive Store
}

// NewCachedStore creates a new CachedStore over archive.
func NewCachedStore(
	config RedisConfig,
	stats tally.Scope,
	logger *zap.SugaredLogger,
	archive Store) (*CachedStore, error) {

	config = config.applyDefaults()
	if config.Addr == "" {
		return nil, errors.New("invalid config: missing addr")
	}
	stats = stats.Tagged(map[string]string{
		"module": "eventcache",
	})
	s := &CachedStore{
		config: config,
		stats:  stats,
		logger: logger,
		pool: &redis.Pool{
			Dial: func() (redis.Conn, error) {
				return redis.Dial(
					"tcp",
					config.Addr,
					redis.DialConnectTimeout(config.DialTimeout),
					redis.DialReadTimeout(config.ReadTimeout),
					redis.DialWriteTimeout(config.WriteTimeout))
			},
			MaxIdle:     config.MaxIdleConns,
			MaxActive:   config.MaxActiveConns,
			IdleTimeout: config.IdleConnTimeout,
			Wait:        true,
		},
		archive: archive,
	}

	// Ensure we can connect to Redis.
	c, err := s.pool.Dial()
	if err != nil {
		return nil, fmt.Errorf("dial redis: %s", err)
	}
	c.Close()

	return s, nil
}

// Close releases the cache connections. The archive is left open.
func (s *CachedStore) Close() {
	s.pool.Close()
}

func eventKey(id core.EventID) string {
	return "event:" + id.String()
}

// SaveEvent archives e and populates the cache.
func (s *CachedStore) SaveEvent(e *core.Event) error {
	if err := s.archive.SaveEvent(e); err != nil {
		return err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %s", err)
	}

	c := s.pool.Get()
	defer c.Close()

	ttl := int(s.config.EventTTL.Seconds())
	if _, err := c.Do("SETEX", eventKey(e.ID), ttl, b); err != nil {
		s.stats.Counter("cache_errors").Inc(1)
		s.logger.Warnw("Event cache write failed", "event", e.ID, "error", err)
	}
	return nil
}

// GetEvent returns the event with the given id, from cache when possible.
func (s *CachedStore) GetEvent(id core.EventID) (*core.Event, error) {
	c := s.pool.Get()
	defer c.Close()

	b, err := redis.Bytes(c.Do("GET", eventKey(id)))
	if err == nil {
		var e core.Event
		if err := json.Unmarshal(b, &e); err == nil {
			s.stats.Counter("cache_hits").Inc(1)
			return &e, nil
		}
		s.logger.Warnw("Corrupt cache entry", "event", id)
	} else if err != redis.ErrNil {
		s.stats.Counter("cache_errors").Inc(1)
		s.logger.Warnw("Event cache read failed", "event", id, "error", err)
	}
	s.stats.Counter("cache_misses").Inc(1)

	e, err := s.archive.GetEvent(id)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(e); err == nil {
		if _, err := c.Do("SETEX", eventKey(id), int(s.config.EventTTL.Seconds()), b); err != nil {
			s.stats.Counter("cache_errors").Inc(1)
		}
	}
	return e, nil
}

// Exists returns whether id is archived. A cache hit short-circuits the
// archive lookup.
func (s *CachedStore) Exists(id core.EventID) (bool, error) {
	c := s.pool.Get()
	defer c.Close()

	if n, err := redis.Int(c.Do("EXISTS", eventKey(id))); err == nil && n > 0 {
		return true, nil
	}
	return s.archive.Exists(id)
}

// Query queries the archive. Filter queries do not hit the cache since
// only point lookups are cached.
func (s *CachedStore) Query(f *core.Filter) ([]*core.Event, error) {
	return s.archive.Query(f)
}

// PruneExpired prunes the archive. Cache entries expire on their own TTL.
func (s *CachedStore) PruneExpired(now int64) (int, error) {
	return s.archive.PruneExpired(now)
}
