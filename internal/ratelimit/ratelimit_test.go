package ratelimit

import (
	"fmt"
	"testing"
	"time"
)

func TestLimiterAllowsBurstThenBlocks(t *testing.T) {
	l := New(3, 5*time.Second)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		d := l.Check("chat:g1:c1", now)
		if !d.Allowed {
			t.Fatalf("event %d should be allowed", i)
		}
	}

	d := l.Check("chat:g1:c1", now.Add(time.Second))
	if d.Allowed {
		t.Fatalf("fourth event inside window should be blocked")
	}
	if d.RetryAfter != 4*time.Second {
		t.Fatalf("expected retry after 4s, got %s", d.RetryAfter)
	}
}

func TestLimiterWindowResets(t *testing.T) {
	l := New(1, 60*time.Second)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if d := l.Check("xp:g1:u1", now); !d.Allowed {
		t.Fatalf("first event should be allowed")
	}
	if d := l.Check("xp:g1:u1", now.Add(59*time.Second)); d.Allowed {
		t.Fatalf("event inside window should be blocked")
	}
	if d := l.Check("xp:g1:u1", now.Add(60*time.Second)); !d.Allowed {
		t.Fatalf("event after window should be allowed")
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l := New(1, time.Minute)
	now := time.Now()

	if d := l.Check("xp:g1:u1", now); !d.Allowed {
		t.Fatalf("first key should be allowed")
	}
	if d := l.Check("xp:g1:u2", now); !d.Allowed {
		t.Fatalf("second key should be allowed")
	}
	if d := l.Check("xp:g1:u1", now); d.Allowed {
		t.Fatalf("repeat on first key should be blocked")
	}
}

func TestLimiterReset(t *testing.T) {
	l := New(1, time.Minute)
	now := time.Now()

	l.Check("xp:g1:u1", now)
	l.Reset("xp:g1:u1")
	if d := l.Check("xp:g1:u1", now); !d.Allowed {
		t.Fatalf("event after reset should be allowed")
	}
}

func TestLimiterEvictsOldKeys(t *testing.T) {
	l := New(1, time.Minute)
	now := time.Now()

	for i := 0; i < defaultCacheSize+10; i++ {
		l.Check(fmt.Sprintf("xp:g1:u%d", i), now)
	}
	// The oldest key was evicted, so it gets a fresh window.
	if d := l.Check("xp:g1:u0", now); !d.Allowed {
		t.Fatalf("evicted key should start a fresh window")
	}
}
