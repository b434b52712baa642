package identity_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sentra/internal/identity"
	"sentra/pkg/logger"
)

func fetchCounter(token string, ttl time.Duration, calls *int32) func(context.Context) (identity.Credential, error) {
	return func(context.Context) (identity.Credential, error) {
		atomic.AddInt32(calls, 1)
		return identity.Credential{
			Token:     token,
			Strategy:  identity.StrategyOBO,
			ExpiresAt: time.Now().Add(ttl),
		}, nil
	}
}

func TestCacheReturnsSameTokenWithinWindow(t *testing.T) {
	c := identity.NewCache(logger.Nop(), nil, time.Minute)
	var calls int32
	key := identity.CacheKey("t1", "https://management.azure.com", identity.Fingerprint("assertion"))

	first, err := c.GetOrFetch(context.Background(), key, fetchCounter("tok-1", time.Hour, &calls))
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.GetOrFetch(context.Background(), key, fetchCounter("tok-2", time.Hour, &calls))
	if err != nil {
		t.Fatal(err)
	}
	if first.Token != second.Token {
		t.Errorf("second lookup returned %q, want cached %q", second.Token, first.Token)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("fetch calls = %d, want exactly 1", n)
	}
}

func TestCacheExpiredTokenRefetched(t *testing.T) {
	c := identity.NewCache(logger.Nop(), nil, time.Minute)
	var calls int32
	key := identity.CacheKey("t1", "res", identity.Fingerprint("a"))

	// Expires inside the safety margin: must never be served.
	if _, err := c.GetOrFetch(context.Background(), key, fetchCounter("stale", 30*time.Second, &calls)); err != nil {
		t.Fatal(err)
	}
	cred, err := c.GetOrFetch(context.Background(), key, fetchCounter("fresh", time.Hour, &calls))
	if err != nil {
		t.Fatal(err)
	}
	if cred.Token != "fresh" {
		t.Errorf("got %q, want refetched token", cred.Token)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("fetch calls = %d, want 2", n)
	}
}

func TestCacheSingleFlightUnderConcurrency(t *testing.T) {
	c := identity.NewCache(logger.Nop(), nil, time.Minute)
	var calls int32
	key := identity.CacheKey("t1", "res", identity.Fingerprint("a"))
	slowFetch := func(ctx context.Context) (identity.Credential, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond)
		return identity.Credential{Token: "shared", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}

	const n = 20
	var wg sync.WaitGroup
	tokens := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cred, err := c.GetOrFetch(context.Background(), key, slowFetch)
			if err != nil {
				t.Error(err)
				return
			}
			tokens[i] = cred.Token
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("fetch calls = %d, want exactly 1 for %d concurrent callers", got, n)
	}
	for i, tok := range tokens {
		if tok != "shared" {
			t.Errorf("caller %d got %q", i, tok)
		}
	}
}

func TestCacheDistinctKeysFetchIndependently(t *testing.T) {
	c := identity.NewCache(logger.Nop(), nil, time.Minute)
	var calls int32
	k1 := identity.CacheKey("t1", "res", identity.Fingerprint("user-a"))
	k2 := identity.CacheKey("t1", "res", identity.Fingerprint("user-b"))

	if _, err := c.GetOrFetch(context.Background(), k1, fetchCounter("a", time.Hour, &calls)); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetOrFetch(context.Background(), k2, fetchCounter("b", time.Hour, &calls)); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("fetch calls = %d, want one per key", n)
	}
}

func TestCacheFetchErrorNotCached(t *testing.T) {
	c := identity.NewCache(logger.Nop(), nil, time.Minute)
	key := identity.CacheKey("t1", "res", identity.Fingerprint("a"))

	boom := errors.New("exchange down")
	if _, err := c.GetOrFetch(context.Background(), key, func(context.Context) (identity.Credential, error) {
		return identity.Credential{}, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want fetch error", err)
	}

	var calls int32
	cred, err := c.GetOrFetch(context.Background(), key, fetchCounter("recovered", time.Hour, &calls))
	if err != nil {
		t.Fatal(err)
	}
	if cred.Token != "recovered" {
		t.Errorf("got %q after failed fetch, want fresh fetch", cred.Token)
	}
}

func TestCacheFlush(t *testing.T) {
	c := identity.NewCache(logger.Nop(), nil, time.Minute)
	var calls int32
	key := identity.CacheKey("t1", "res", identity.Fingerprint("a"))

	if _, err := c.GetOrFetch(context.Background(), key, fetchCounter("one", time.Hour, &calls)); err != nil {
		t.Fatal(err)
	}
	c.Flush()
	if _, err := c.GetOrFetch(context.Background(), key, fetchCounter("two", time.Hour, &calls)); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("fetch calls = %d, want 2 after flush", n)
	}
}
