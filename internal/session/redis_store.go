package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "gitlab-copilot:session:"

// RedisStore is an optional durable Store backing sessions in Redis instead
// of the in-process map, for multi-replica deployments where a sweep on one
// instance must be visible to all instances. The caller picks between this
// and MemoryStore; cmd/server uses this type when Redis is enabled and exits
// if it cannot connect, with no fallback to the in-memory map.
//
// Grounded on internal/infra.GoRedisAdapter: Set/Get/Del over a byte-slice
// value, ping-verified at construction.
type RedisStore struct {
	rdb         *redis.Client
	maxSessions int
}

// NewRedisStore connects to addr/db and verifies connectivity with a Ping,
// the same eager-validation shape as infra.NewGoRedisAdapter.
func NewRedisStore(addr, password string, db int, maxSessions int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("session: redis ping failed (%s): %w", addr, err)
	}
	return &RedisStore{rdb: rdb, maxSessions: maxSessions}, nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

type redisSession struct {
	Key              string                     `json:"key"`
	CreatedAt        time.Time                  `json:"createdAt"`
	LastUsed         time.Time                  `json:"lastUsed"`
	LastProvider     Provider                   `json:"lastProvider"`
	ProviderSessions map[Provider]ProviderSession `json:"providerSessions"`
	IssueInfo        IssueInfo                  `json:"issueInfo"`
}

func toWire(s *Session) redisSession {
	return redisSession{
		Key:              s.Key,
		CreatedAt:        s.CreatedAt,
		LastUsed:         s.LastUsed,
		LastProvider:     s.LastProvider,
		ProviderSessions: s.ProviderSessions,
		IssueInfo:        s.IssueInfo,
	}
}

func (w redisSession) toSession() *Session {
	return &Session{
		Key:              w.Key,
		CreatedAt:        w.CreatedAt,
		LastUsed:         w.LastUsed,
		LastProvider:     w.LastProvider,
		ProviderSessions: w.ProviderSessions,
		IssueInfo:        w.IssueInfo,
	}
}

func (s *RedisStore) load(ctx context.Context, key string) (*Session, error) {
	raw, err := s.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: redis get %s: %w", key, err)
	}
	var wire redisSession
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("session: decoding %s: %w", key, err)
	}
	return wire.toSession(), nil
}

func (s *RedisStore) save(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(toWire(sess))
	if err != nil {
		return fmt.Errorf("session: encoding %s: %w", sess.Key, err)
	}
	if err := s.rdb.Set(ctx, redisKeyPrefix+sess.Key, raw, 0).Err(); err != nil {
		return fmt.Errorf("session: redis set %s: %w", sess.Key, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Session, bool) {
	sess, err := s.load(ctx, key)
	if err != nil || sess == nil {
		return nil, false
	}
	sess.LastUsed = time.Now()
	_ = s.save(ctx, sess)
	return sess, true
}

func (s *RedisStore) Peek(ctx context.Context, key string) (*Session, bool) {
	sess, err := s.load(ctx, key)
	if err != nil || sess == nil {
		return nil, false
	}
	return sess, true
}

func (s *RedisStore) Set(ctx context.Context, key string, sessionID string, info IssueInfo, provider Provider) error {
	now := time.Now()
	sess, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	if sess == nil {
		sess = &Session{Key: key, CreatedAt: now, ProviderSessions: make(map[Provider]ProviderSession)}
	}
	if sess.ProviderSessions == nil {
		sess.ProviderSessions = make(map[Provider]ProviderSession)
	}
	sess.ProviderSessions[provider] = ProviderSession{SessionID: sessionID, LastUsed: now}
	sess.LastProvider = provider
	sess.LastUsed = now
	sess.IssueInfo = info
	return s.save(ctx, sess)
}

func (s *RedisStore) GetProviderSession(ctx context.Context, key string, provider Provider) (*ProviderSession, bool) {
	sess, err := s.load(ctx, key)
	if err != nil || sess == nil {
		return nil, false
	}
	ps, ok := sess.ProviderSessions[provider]
	if !ok {
		return nil, false
	}
	return &ps, true
}

func (s *RedisStore) Remove(ctx context.Context, key string, provider Provider) error {
	if provider == "" {
		return s.rdb.Del(ctx, redisKeyPrefix+key).Err()
	}
	sess, err := s.load(ctx, key)
	if err != nil || sess == nil {
		return err
	}
	delete(sess.ProviderSessions, provider)
	if len(sess.ProviderSessions) == 0 {
		return s.rdb.Del(ctx, redisKeyPrefix+key).Err()
	}
	sess.LastProvider = mostRecentProvider(sess.ProviderSessions)
	return s.save(ctx, sess)
}

// CleanExpired scans all session keys. Acceptable for the expected key
// volume (bounded by maxSessions); a production-scale deployment would
// replace this with Redis key-expiry (TTL set on every save) instead of an
// application-level scan, left as a possible follow-up.
func (s *RedisStore) CleanExpired(ctx context.Context, maxIdle time.Duration) (int, int, error) {
	keys, err := s.rdb.Keys(ctx, redisKeyPrefix+"*").Result()
	if err != nil {
		return 0, 0, fmt.Errorf("session: redis keys scan: %w", err)
	}

	now := time.Now()
	expired := 0
	for _, k := range keys {
		raw, err := s.rdb.Get(ctx, k).Bytes()
		if err != nil {
			continue
		}
		var wire redisSession
		if err := json.Unmarshal(raw, &wire); err != nil {
			continue
		}
		sess := wire.toSession()
		if sess.Expired(maxIdle, now) {
			s.rdb.Del(ctx, k)
			expired++
		}
	}
	return expired, len(keys) - expired, nil
}

func (s *RedisStore) Stats(ctx context.Context) Stats {
	keys, err := s.rdb.Keys(ctx, redisKeyPrefix+"*").Result()
	if err != nil {
		return Stats{MaxSessions: s.maxSessions}
	}
	return Stats{Total: len(keys), MaxSessions: s.maxSessions}
}

func (s *RedisStore) ClearAll(ctx context.Context) error {
	keys, err := s.rdb.Keys(ctx, redisKeyPrefix+"*").Result()
	if err != nil {
		return fmt.Errorf("session: redis keys scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}
