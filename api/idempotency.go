/*
idempotency.go - Replay protection for mutating HTTP calls

PURPOSE:
  A client that times out on POST /api/requests cannot tell whether the
  leave was filed. Sending the same Idempotency-Key header again returns
  the first response instead of filing a second request.

  The service layer is already safe against double charging through ledger
  idempotency keys. This layer makes the HTTP response itself repeatable.

PROTOCOL:
  1. No Idempotency-Key header: the call passes straight through.
  2. First call: a provisional entry is stored with SETNX, the handler
     runs, and the final status and body replace the entry for the TTL.
  3. Repeat with the same body: the stored response is replayed.
  4. Repeat with a different body: 409.
  5. Repeat while the first call is still running: 409.
  6. A 5xx response is not stored, so the client can retry.

  Keys are scoped by actor, method and path.

SEE ALSO:
  - server.go: Mounted on the authenticated route group
  - cmd/server/main.go: Picks the redis or in-memory cache
*/
package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// IdempotencyHeader is the request header carrying the client's key.
	IdempotencyHeader = "Idempotency-Key"

	provisionalLockTTL = 60 * time.Second
	maxIdempotencyKey  = 128
)

type idempEntry struct {
	InProgress bool      `json:"in_progress"`
	Code       int       `json:"code"`
	Body       []byte    `json:"body"`
	BodySHA256 string    `json:"body_sha256"`
	CreatedAt  time.Time `json:"created_at"`
}

// IdempotencyCache stores idempotency entries. Reserve must be atomic.
type IdempotencyCache interface {
	Reserve(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Forget(ctx context.Context, key string) error
}

// errCacheMiss is returned by Load when the key does not exist.
var errCacheMiss = errors.New("idempotency entry not found")

// =============================================================================
// REDIS CACHE
// =============================================================================

type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

// OpenRedis connects to addr and checks the connection.
func OpenRedis(addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func (c *RedisCache) Reserve(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, value, ttl).Result()
}

func (c *RedisCache) Load(ctx context.Context, key string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errCacheMiss
	}
	return b, err
}

func (c *RedisCache) Save(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Forget(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// =============================================================================
// IN-MEMORY CACHE (single process, tests)
// =============================================================================

type memoryEntry struct {
	value   []byte
	expires time.Time
}

type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) get(key string) (memoryEntry, bool) {
	e, ok := c.entries[key]
	if ok && c.now().After(e.expires) {
		delete(c.entries, key)
		return memoryEntry{}, false
	}
	return e, ok
}

func (c *MemoryCache) Reserve(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.get(key); ok {
		return false, nil
	}
	c.entries[key] = memoryEntry{value: value, expires: c.now().Add(ttl)}
	return true, nil
}

func (c *MemoryCache) Load(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.get(key)
	if !ok {
		return nil, errCacheMiss
	}
	return e.value, nil
}

func (c *MemoryCache) Save(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{value: value, expires: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Forget(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

type respRecorder struct {
	w    http.ResponseWriter
	buf  *bytes.Buffer
	code int
}

func (r *respRecorder) Header() http.Header { return r.w.Header() }

func (r *respRecorder) Write(b []byte) (int, error) {
	r.buf.Write(b)
	return r.w.Write(b)
}

func (r *respRecorder) WriteHeader(statusCode int) {
	r.code = statusCode
	r.w.WriteHeader(statusCode)
}

// Idempotency replays responses of mutating calls that carry an
// Idempotency-Key header. It must run after Authenticate.
func Idempotency(cache IdempotencyCache, ttl time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			idemKey := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			if idemKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(idemKey) > maxIdempotencyKey {
				writeError(w, http.StatusBadRequest, "idempotency key too long", nil)
				return
			}

			var body []byte
			if r.Body != nil {
				body, _ = io.ReadAll(r.Body)
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			bhash := bodyHash(body)

			actorID := ""
			if actor, ok := ActorFrom(r.Context()); ok {
				actorID = actor.ID
			}
			key := buildKey(actorID, r.Method, r.URL.Path, idemKey)

			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()

			provisional, _ := json.Marshal(idempEntry{InProgress: true, BodySHA256: bhash, CreatedAt: time.Now().UTC()})
			ok, err := cache.Reserve(ctx, key, provisional, provisionalLockTTL)
			if err != nil {
				logger.Error("idempotency cache unavailable", zap.Error(err))
				writeError(w, http.StatusServiceUnavailable, "idempotency store unavailable", nil)
				return
			}
			if !ok {
				replay(ctx, w, cache, key, bhash, logger)
				return
			}

			rec := &respRecorder{w: w, buf: &bytes.Buffer{}, code: http.StatusOK}
			next.ServeHTTP(rec, r)

			saveCtx, saveCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer saveCancel()
			if rec.code >= http.StatusInternalServerError {
				if err := cache.Forget(saveCtx, key); err != nil {
					logger.Warn("idempotency entry not released", zap.String("key", key), zap.Error(err))
				}
				return
			}
			final, _ := json.Marshal(idempEntry{
				Code:       rec.code,
				Body:       rec.buf.Bytes(),
				BodySHA256: bhash,
				CreatedAt:  time.Now().UTC(),
			})
			if err := cache.Save(saveCtx, key, final, ttl); err != nil {
				logger.Warn("idempotency entry not saved", zap.String("key", key), zap.Error(err))
			}
		})
	}
}

func replay(ctx context.Context, w http.ResponseWriter, cache IdempotencyCache, key, bhash string, logger *zap.Logger) {
	raw, err := cache.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, errCacheMiss) {
			logger.Warn("idempotency entry not loaded", zap.String("key", key), zap.Error(err))
		}
		writeError(w, http.StatusConflict, "request is already in progress", nil)
		return
	}
	var cur idempEntry
	if err := json.Unmarshal(raw, &cur); err != nil {
		writeError(w, http.StatusConflict, "request is already in progress", nil)
		return
	}
	if cur.BodySHA256 != "" && cur.BodySHA256 != bhash {
		writeError(w, http.StatusConflict, "idempotency key reused with a different body", nil)
		return
	}
	if cur.InProgress || cur.Code == 0 {
		writeError(w, http.StatusConflict, "request is already in progress", nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(cur.Code)
	_, _ = w.Write(cur.Body)
}

func bodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func buildKey(actorID, method, path, idemKey string) string {
	return "idem:" + actorID + ":" + method + ":" + path + ":" + idemKey
}
