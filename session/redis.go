package session

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/agentuity/design-bridge/logger"
	"github.com/agentuity/design-bridge/resilience"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	defaultSessionTTL = time.Minute
	sessionKeyPrefix  = "design-bridge:session:"
	scanBatch         = 100
)

// RedisRegistry shares sessions between bridge processes through Redis.
// Records expire after the TTL unless the owning process keeps refreshing
// them, so a crashed bridge drops out of listings on its own.
type RedisRegistry struct {
	rdb        redis.UniversalClient
	ownsClient bool
	ttl        time.Duration
	refresh    time.Duration
	logger     logger.Logger
	breaker    *resilience.CircuitBreaker
	retry      resilience.RetryConfig
	hostname   string
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	owned      map[string]*Session
	mu         sync.Mutex
}

var _ Registry = (*RedisRegistry)(nil)

type RedisRegistryOption func(*RedisRegistry)

// WithTTL sets how long a record survives without a refresh
func WithTTL(ttl time.Duration) RedisRegistryOption {
	return func(r *RedisRegistry) {
		r.ttl = ttl
	}
}

// WithRefreshInterval overrides the refresh period, which defaults to a third of the TTL
func WithRefreshInterval(d time.Duration) RedisRegistryOption {
	return func(r *RedisRegistry) {
		r.refresh = d
	}
}

func WithLogger(log logger.Logger) RedisRegistryOption {
	return func(r *RedisRegistry) {
		r.logger = log
	}
}

func WithBreaker(config resilience.BreakerConfig) RedisRegistryOption {
	return func(r *RedisRegistry) {
		r.breaker = resilience.NewCircuitBreaker(config)
	}
}

// NewRedisRegistry uses an existing client. The caller keeps ownership of it.
func NewRedisRegistry(ctx context.Context, rdb redis.UniversalClient, options ...RedisRegistryOption) *RedisRegistry {
	host, _ := os.Hostname()
	r := &RedisRegistry{
		rdb:      rdb,
		ttl:      defaultSessionTTL,
		logger:   logger.NewConsoleLogger(logger.LevelNone),
		breaker:  resilience.NewCircuitBreaker(resilience.DefaultBreakerConfig()),
		retry:    resilience.DefaultRetryConfig(),
		hostname: host,
		owned:    make(map[string]*Session),
	}
	for _, option := range options {
		option(r)
	}
	if r.refresh <= 0 {
		r.refresh = r.ttl / 3
	}
	r.logger = r.logger.WithPrefix("[registry]")
	refreshCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go r.refreshLoop(refreshCtx)
	return r
}

// NewRedisRegistryFromURL dials redisURL (redis://host:port/db) and owns the client
func NewRedisRegistryFromURL(ctx context.Context, redisURL string, options ...RedisRegistryOption) (*RedisRegistry, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parsing redis url")
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, errors.Wrapf(err, "connecting to redis at %s", opts.Addr)
	}
	r := NewRedisRegistry(ctx, rdb, options...)
	r.ownsClient = true
	return r, nil
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func (r *RedisRegistry) do(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.breaker.Execute(ctx, fn)
}

func (r *RedisRegistry) write(ctx context.Context, s *Session) error {
	buf, err := msgpack.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encoding session")
	}
	return r.do(ctx, func(ctx context.Context) error {
		return r.rdb.Set(ctx, sessionKey(s.ID), buf, r.ttl).Err()
	})
}

func (r *RedisRegistry) Register(ctx context.Context, name string, port int) (*Session, error) {
	s := newSession(name, port)
	err := resilience.Retry(ctx, r.retry, func() error {
		return r.write(ctx, s)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "registering session %s", s.Name)
	}
	r.mu.Lock()
	r.owned[s.ID] = s
	r.mu.Unlock()
	r.logger.Debug("registered session %s (%s) on port %d", s.ID, s.Name, s.Port)
	out := *s
	return &out, nil
}

func (r *RedisRegistry) Unregister(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	delete(r.owned, id)
	r.mu.Unlock()
	var removed int64
	err := r.do(ctx, func(ctx context.Context) error {
		n, err := r.rdb.Del(ctx, sessionKey(id)).Result()
		removed = n
		return err
	})
	if err != nil {
		return false, errors.Wrapf(err, "unregistering session %s", id)
	}
	return removed > 0, nil
}

func (r *RedisRegistry) keys(ctx context.Context) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		var batch []string
		var err error
		batch, cursor, err = r.rdb.Scan(ctx, cursor, sessionKeyPrefix+"*", scanBatch).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		if cursor == 0 {
			return keys, nil
		}
	}
}

// List returns every live session. Records left behind by a process on this
// host that no longer exists are deleted instead of being returned.
func (r *RedisRegistry) List(ctx context.Context) ([]Session, error) {
	var values []interface{}
	var keys []string
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		keys, err = r.keys(ctx)
		if err != nil || len(keys) == 0 {
			return err
		}
		values, err = r.rdb.MGet(ctx, keys...).Result()
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "listing sessions")
	}
	out := make([]Session, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // expired between SCAN and MGET
		}
		var s Session
		if err := msgpack.Unmarshal([]byte(raw), &s); err != nil {
			r.logger.Warn("dropping undecodable session record %s: %s", keys[i], err)
			continue
		}
		if r.stale(ctx, s) {
			r.logger.Debug("pruning session %s left by exited pid %d", s.ID, s.PID)
			r.rdb.Del(ctx, keys[i])
			continue
		}
		out = append(out, s)
	}
	sortSessions(out)
	return out, nil
}

func (r *RedisRegistry) stale(ctx context.Context, s Session) bool {
	if s.Host != r.hostname || s.PID <= 0 {
		return false
	}
	exists, err := process.PidExistsWithContext(ctx, int32(s.PID))
	if err != nil {
		return false
	}
	return !exists
}

func (r *RedisRegistry) Get(ctx context.Context, id string) (*Session, error) {
	var raw []byte
	err := r.do(ctx, func(ctx context.Context) error {
		var err error
		raw, err = r.rdb.Get(ctx, sessionKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "getting session %s", id)
	}
	if raw == nil {
		return nil, errors.Wrapf(ErrNotFound, "id %s", id)
	}
	var s Session
	if err := msgpack.Unmarshal(raw, &s); err != nil {
		return nil, errors.Wrapf(err, "decoding session %s", id)
	}
	return &s, nil
}

func (r *RedisRegistry) SetConnected(ctx context.Context, id string, connected bool) error {
	r.mu.Lock()
	if s, ok := r.owned[id]; ok {
		// same lock as refreshOwned so a refresh cannot write back the old flag
		defer r.mu.Unlock()
		s.IsConnected = connected
		return errors.Wrapf(r.write(ctx, s), "updating session %s", id)
	}
	r.mu.Unlock()
	found, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	found.IsConnected = connected
	return errors.Wrapf(r.write(ctx, found), "updating session %s", id)
}

func (r *RedisRegistry) refreshLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshOwned(ctx)
		}
	}
}

func (r *RedisRegistry) refreshOwned(ctx context.Context) {
	// held across the writes so a concurrent Unregister cannot be undone by a stale refresh
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.owned {
		if err := r.write(ctx, s); err != nil {
			r.logger.Warn("refreshing session %s: %s", s.ID, err)
		}
	}
}

// Close stops refreshing. Records still registered expire after the TTL.
func (r *RedisRegistry) Close() error {
	r.cancel()
	r.wg.Wait()
	if r.ownsClient {
		return r.rdb.Close()
	}
	return nil
}
