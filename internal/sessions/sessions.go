package sessions

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/TiredShaman/assessmatefinal/internal/logging"
)

// DefaultPrefix namespaces keys in a shared Redis.
const DefaultPrefix = "assessmate:auth:"

// Store keeps short lived auth state: OAuth state/nonce pairs and refresh sessions.
// Get returns (nil, nil) for missing or expired keys.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, key string) error
	Close() error
}

// taker is implemented by stores that can read and delete a key in one step.
type taker interface {
	take(ctx context.Context, key string) ([]byte, error)
}

// Take reads and deletes key. It is used for single-use values such as OAuth state
// and refresh sessions; of concurrent callers at most one gets the value.
func Take(ctx context.Context, s Store, key string) ([]byte, error) {
	if t, ok := s.(taker); ok {
		return t.take(ctx, key)
	}
	v, err := s.Get(ctx, key)
	if err != nil || v == nil {
		return nil, err
	}
	if err := s.Del(ctx, key); err != nil {
		return nil, err
	}
	return v, nil
}

func debug(impl, op, key string) *logrus.Entry {
	return logging.L().WithFields(logrus.Fields{"impl": impl, "op": op, "key": redactKey(key)})
}

type memItem struct {
	v   []byte
	exp time.Time
}

type memoryStore struct {
	mu   sync.Mutex
	data map[string]memItem
	stop chan struct{}
	once sync.Once
}

// NewMemoryStore returns a process local store with a background sweeper.
func NewMemoryStore() Store {
	logging.L().WithField("impl", "memory").Info("sessions: initialized")
	m := &memoryStore{data: make(map[string]memItem), stop: make(chan struct{})}
	go m.sweep(time.Minute)
	return m
}

func (m *memoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	m.data[key] = memItem{v: append([]byte(nil), value...), exp: time.Now().Add(ttl)}
	m.mu.Unlock()
	debug("memory", "set", key).WithField("ttl", ttl.String()).Debug("sessions")
	return nil
}

func (m *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	item, ok := m.data[key]
	m.mu.Unlock()
	switch {
	case !ok:
		debug("memory", "get", key).WithField("state", "miss").Debug("sessions")
		return nil, nil
	case time.Now().After(item.exp):
		debug("memory", "get", key).WithField("state", "expired").Debug("sessions")
		return nil, nil
	}
	debug("memory", "get", key).WithField("state", "hit").Debug("sessions")
	return item.v, nil
}

func (m *memoryStore) Del(_ context.Context, key string) error {
	m.mu.Lock()
	_, existed := m.data[key]
	delete(m.data, key)
	m.mu.Unlock()
	debug("memory", "del", key).WithField("existed", existed).Debug("sessions")
	return nil
}

func (m *memoryStore) take(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	item, ok := m.data[key]
	delete(m.data, key)
	m.mu.Unlock()
	if !ok || time.Now().After(item.exp) {
		debug("memory", "take", key).WithField("state", "miss").Debug("sessions")
		return nil, nil
	}
	debug("memory", "take", key).WithField("state", "hit").Debug("sessions")
	return item.v, nil
}

func (m *memoryStore) Close() error {
	m.once.Do(func() { close(m.stop) })
	return nil
}

func (m *memoryStore) sweep(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case now := <-t.C:
			removed := 0
			m.mu.Lock()
			for k, it := range m.data {
				if now.After(it.exp) {
					delete(m.data, k)
					removed++
				}
			}
			m.mu.Unlock()
			if removed > 0 {
				logging.L().WithFields(logrus.Fields{"impl": "memory", "removed": removed}).Debug("sessions: swept expired")
			}
		}
	}
}

type redisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore returns a Redis backed store. An unreachable server is not fatal;
// calls retry and reconnect on demand.
func NewRedisStore(addr, password, prefix string) Store {
	if prefix == "" {
		prefix = DefaultPrefix
	} else if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	log := logging.L().WithFields(logrus.Fields{"impl": "redis", "addr": addr, "prefix": prefix})
	cl := redis.NewClient(&redis.Options{
		Addr:            addr,
		Password:        password,
		MaxRetries:      3,
		MinRetryBackoff: 50 * time.Millisecond,
		MaxRetryBackoff: 250 * time.Millisecond,
		DialTimeout:     time.Second,
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cl.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("sessions: redis ping failed, will retry on demand")
	} else {
		log.Info("sessions: initialized")
	}
	return &redisStore{client: cl, prefix: prefix}
}

// retry runs op up to three times with a per-attempt timeout and exponential pause.
// redis.Nil is a result, not a failure, and stops retrying.
func (r *redisStore) retry(ctx context.Context, op func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		actx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = op(actx)
		cancel()
		if err == nil || errors.Is(err, redis.Nil) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < 2 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
			}
		}
	}
	return err
}

func (r *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := r.retry(ctx, func(ctx context.Context) error {
		return r.client.Set(ctx, r.prefix+key, value, ttl).Err()
	})
	debug("redis", "set", r.prefix+key).WithField("took", time.Since(start).String()).Debug("sessions")
	return err
}

func (r *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	var b []byte
	err := r.retry(ctx, func(ctx context.Context) error {
		var err error
		b, err = r.client.Get(ctx, r.prefix+key).Bytes()
		return err
	})
	if errors.Is(err, redis.Nil) {
		debug("redis", "get", r.prefix+key).WithField("state", "miss").Debug("sessions")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	debug("redis", "get", r.prefix+key).WithField("state", "hit").Debug("sessions")
	return b, nil
}

func (r *redisStore) Del(ctx context.Context, key string) error {
	return r.retry(ctx, func(ctx context.Context) error {
		return r.client.Del(ctx, r.prefix+key).Err()
	})
}

// take uses GETDEL so two callers cannot both consume one value.
func (r *redisStore) take(ctx context.Context, key string) ([]byte, error) {
	var b []byte
	err := r.retry(ctx, func(ctx context.Context) error {
		var err error
		b, err = r.client.GetDel(ctx, r.prefix+key).Bytes()
		return err
	})
	if errors.Is(err, redis.Nil) {
		debug("redis", "take", r.prefix+key).WithField("state", "miss").Debug("sessions")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	debug("redis", "take", r.prefix+key).WithField("state", "hit").Debug("sessions")
	return b, nil
}

func (r *redisStore) Close() error { return r.client.Close() }

// redactKey keeps the namespace and the last four characters, e.g. "sess:***a1b2".
func redactKey(key string) string {
	if key == "" {
		return ""
	}
	const keep = 4
	n := len(key)
	if idx := strings.LastIndexByte(key, ':'); idx >= 0 && n > idx+keep {
		return key[:idx+1] + "***" + key[n-keep:]
	}
	if n > keep {
		return "***" + key[n-keep:]
	}
	return "***"
}
