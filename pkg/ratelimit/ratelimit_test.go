package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestKey(t *testing.T) {
	if got := Key("user-1", "signPersonalMessage"); got != "user-1:signPersonalMessage" {
		t.Fatalf("key: got %s", got)
	}
}

func TestInMemoryLimiter(t *testing.T) {
	l := NewInMemory(time.Minute)
	for i := 0; i < 3; i++ {
		d := l.Allow("k", 3)
		if !d.Allowed {
			t.Fatalf("request %d denied under limit", i+1)
		}
	}
	d := l.Allow("k", 3)
	if d.Allowed {
		t.Fatalf("request over limit allowed")
	}
	if d.Count != 4 || d.Remaining != 0 {
		t.Fatalf("decision: %+v", d)
	}
	if other := l.Allow("other", 3); !other.Allowed {
		t.Fatalf("independent key denied")
	}
}

func TestInMemoryLimiterWindowReset(t *testing.T) {
	l := NewInMemory(30 * time.Millisecond)
	if d := l.Allow("k", 1); !d.Allowed {
		t.Fatalf("first request denied")
	}
	if d := l.Allow("k", 1); d.Allowed {
		t.Fatalf("second request in window allowed")
	}
	time.Sleep(40 * time.Millisecond)
	if d := l.Allow("k", 1); !d.Allowed {
		t.Fatalf("request after window reset denied")
	}
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedis(client, time.Minute)
	for i := 0; i < 2; i++ {
		if d := l.Allow("k", 2); !d.Allowed {
			t.Fatalf("request %d denied under limit", i+1)
		}
	}
	d := l.Allow("k", 2)
	if d.Allowed {
		t.Fatalf("request over limit allowed")
	}
	if d.Count != 3 {
		t.Fatalf("count: got %d want 3", d.Count)
	}
	if ttl := mr.TTL("wg:rl:k"); ttl <= 0 {
		t.Fatalf("counter key has no expiry")
	}
}

func TestRedisLimiterWindowExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedis(client, time.Minute)
	if d := l.Allow("k", 1); !d.Allowed {
		t.Fatalf("first request denied")
	}
	if d := l.Allow("k", 1); d.Allowed {
		t.Fatalf("second request in window allowed")
	}
	mr.FastForward(2 * time.Minute)
	if d := l.Allow("k", 1); !d.Allowed {
		t.Fatalf("request after expiry denied")
	}
}

func TestRedisLimiterDegradesToFallback(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := NewRedis(client, time.Minute)
	mr.Close()
	_ = client.Close()

	if d := l.Allow("k", 1); !d.Allowed {
		t.Fatalf("fallback denied first request")
	}
	if d := l.Allow("k", 1); d.Allowed {
		t.Fatalf("fallback did not enforce limit")
	}
}
