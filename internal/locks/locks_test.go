package locks

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestLocalLockerSerializesSameKey(t *testing.T) {
	t.Parallel()

	l := NewLocalLocker()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), SessionKey("s1"))
			if err != nil {
				t.Errorf("Lock failed: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxInside)
	}
	if l.Len() != 0 {
		t.Fatalf("expected lock table to drain, has %d entries", l.Len())
	}
}

func TestLocalLockerDifferentKeysDoNotBlock(t *testing.T) {
	t.Parallel()

	l := NewLocalLocker()
	unlockA, err := l.Lock(context.Background(), ContractKey("a"))
	if err != nil {
		t.Fatalf("Lock a failed: %v", err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, ContractKey("b"))
	if err != nil {
		t.Fatalf("Lock b blocked: %v", err)
	}
	unlockB()
}

func TestLocalLockerHonorsContext(t *testing.T) {
	t.Parallel()

	l := NewLocalLocker()
	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "k"); err == nil {
		t.Fatal("expected second Lock to time out")
	}

	unlock()
	unlock() // idempotent
	if l.Len() != 0 {
		t.Fatalf("expected lock table to drain, has %d entries", l.Len())
	}
}

// TestRedisLocker_Integration requires a running Redis and skips otherwise.
func TestRedisLocker_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer func() { _ = client.Close() }()
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	l := NewRedisLocker(client, RedisLockerConfig{Prefix: "test:lock:", TTL: 2 * time.Second}, nil)
	unlock, err := l.Lock(ctx, "integration")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(waitCtx, "integration"); err == nil {
		t.Fatal("expected contended Lock to time out")
	}

	unlock()
	unlock2, err := l.Lock(ctx, "integration")
	if err != nil {
		t.Fatalf("Lock after release failed: %v", err)
	}
	unlock2()
}
