package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultSafetyMargin is how long before the recorded expiry a cached token
// stops being served. Matches the five-minute buffer the identity provider
// documentation recommends.
const DefaultSafetyMargin = 5 * time.Minute

// Cache stores issued credentials keyed by (tenant, resource, assertion
// fingerprint). Concurrent callers sharing a key trigger at most one fetch;
// later callers wait on the first result. Entries past expiry are purged
// lazily on lookup. An optional Redis client adds a second level shared
// across replicas.
type Cache struct {
	margin time.Duration
	log    *zap.SugaredLogger
	rdb    *redis.Client

	group   singleflight.Group
	mu      sync.Mutex
	entries map[string]Credential
}

func NewCache(log *zap.SugaredLogger, rdb *redis.Client, margin time.Duration) *Cache {
	if margin <= 0 {
		margin = DefaultSafetyMargin
	}
	return &Cache{margin: margin, log: log, rdb: rdb, entries: map[string]Credential{}}
}

// Fingerprint hashes a user assertion for use in cache keys so raw tokens
// never become keys in memory dumps or Redis.
func Fingerprint(assertion string) string {
	if assertion == "" {
		return "system"
	}
	sum := sha256.Sum256([]byte(assertion))
	return hex.EncodeToString(sum[:])
}

// CacheKey builds the composite key for a credential.
func CacheKey(tenantID, resource, fingerprint string) string {
	return tenantID + "|" + resource + "|" + fingerprint
}

// GetOrFetch returns a cached credential when it is still comfortably inside
// its validity window, otherwise runs fetch exactly once per key and stores
// the result.
func (c *Cache) GetOrFetch(ctx context.Context, key string, fetch func(context.Context) (Credential, error)) (Credential, error) {
	if cred, ok := c.lookup(key); ok {
		cacheLookups.WithLabelValues("hit").Inc()
		return cred, nil
	}
	cacheLookups.WithLabelValues("miss").Inc()

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// A concurrent caller may have completed the fetch while this one
		// waited on the flight group.
		if cred, ok := c.lookup(key); ok {
			return cred, nil
		}
		if cred, ok := c.lookupRedis(ctx, key); ok {
			c.store(key, cred)
			return cred, nil
		}
		cred, err := fetch(ctx)
		if err != nil {
			return Credential{}, err
		}
		c.store(key, cred)
		c.storeRedis(ctx, key, cred)
		return cred, nil
	})
	if err != nil {
		return Credential{}, err
	}
	return v.(Credential), nil
}

// Flush drops every locally cached credential. Redis entries are left to
// expire on their own TTL.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]Credential{}
}

func (c *Cache) lookup(key string) (Credential, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cred, ok := c.entries[key]
	if !ok {
		return Credential{}, false
	}
	if !c.fresh(cred) {
		delete(c.entries, key)
		return Credential{}, false
	}
	return cred, true
}

func (c *Cache) store(key string, cred Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cred
}

func (c *Cache) fresh(cred Credential) bool {
	return time.Now().Before(cred.ExpiresAt.Add(-c.margin))
}

// redisEntry is the wire form of a second-level cache entry. Strategy and
// coordinates travel with the token so audit attribution survives the hop.
type redisEntry struct {
	Token     string    `json:"token"`
	Strategy  Strategy  `json:"strategy"`
	TenantID  string    `json:"tenant_id"`
	Resource  string    `json:"resource"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (c *Cache) lookupRedis(ctx context.Context, key string) (Credential, bool) {
	if c.rdb == nil {
		return Credential{}, false
	}
	raw, err := c.rdb.Get(ctx, "sentra:tok:"+key).Bytes()
	if err != nil {
		return Credential{}, false
	}
	var e redisEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Credential{}, false
	}
	cred := Credential{Token: e.Token, Strategy: e.Strategy, TenantID: e.TenantID, Resource: e.Resource, ExpiresAt: e.ExpiresAt}
	if !c.fresh(cred) {
		return Credential{}, false
	}
	return cred, true
}

func (c *Cache) storeRedis(ctx context.Context, key string, cred Credential) {
	if c.rdb == nil {
		return
	}
	ttl := time.Until(cred.ExpiresAt.Add(-c.margin))
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(redisEntry{Token: cred.Token, Strategy: cred.Strategy, TenantID: cred.TenantID, Resource: cred.Resource, ExpiresAt: cred.ExpiresAt})
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, "sentra:tok:"+key, raw, ttl).Err(); err != nil {
		c.log.Warnw("redis token cache set", "err", err)
	}
}
