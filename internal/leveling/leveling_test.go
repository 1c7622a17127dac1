package leveling

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"go.uber.org/zap"
)

type memStore struct {
	profiles map[string]*Profile
	counts   map[string]int
}

func newMemStore() *memStore {
	return &memStore{profiles: make(map[string]*Profile), counts: make(map[string]int)}
}

func (s *memStore) IncrementMessageCount(_ context.Context, userID string) error {
	s.counts[userID]++
	return nil
}

func (s *memStore) IncrementActivity(_ context.Context, guildID, userID string, xp int) (*Profile, error) {
	k := guildID + ":" + userID
	p, ok := s.profiles[k]
	if !ok {
		p = &Profile{GuildID: guildID, UserID: userID}
		s.profiles[k] = p
	}
	p.Messages++
	p.XP += xp
	copied := *p
	return &copied, nil
}

func (s *memStore) SetLevel(_ context.Context, guildID, userID string, level int) error {
	p, ok := s.profiles[guildID+":"+userID]
	if !ok {
		return errors.New("no profile")
	}
	p.Level = level
	return nil
}

func (s *memStore) Profile(_ context.Context, guildID, userID string) (*Profile, error) {
	p, ok := s.profiles[guildID+":"+userID]
	if !ok {
		return nil, errors.New("no profile")
	}
	copied := *p
	return &copied, nil
}

func (s *memStore) TopProfiles(_ context.Context, guildID string, limit int) ([]Profile, error) {
	var out []Profile
	for _, p := range s.profiles {
		if p.GuildID == guildID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].XP > out[j].XP })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func newTestService() (*Service, *memStore, *fixedClock) {
	store := newMemStore()
	svc := New(store, time.Minute, 10, 15, zap.NewNop())
	clock := &fixedClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc.SetClock(clock)
	svc.SetRoll(func(int) int { return 0 })
	return svc, store, clock
}

func TestLevelCurve(t *testing.T) {
	cases := []struct {
		xp   int
		want int
	}{
		{0, 0},
		{41, 0},
		{42, 1},
		{83, 1},
		{84, 1},
		{420, 3},
		{4200, 12},
		{10000, 20},
	}
	for _, tc := range cases {
		if got := Level(tc.xp); got != tc.want {
			t.Fatalf("Level(%d) = %d, want %d", tc.xp, got, tc.want)
		}
	}
}

func TestHandleMessageGrantsXPOncePerWindow(t *testing.T) {
	svc, store, clock := newTestService()
	ctx := context.Background()

	res, err := svc.HandleMessage(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res.XPGranted != 10 {
		t.Fatalf("expected 10 xp, got %d", res.XPGranted)
	}

	res, err = svc.HandleMessage(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res.XPGranted != 0 {
		t.Fatalf("second message in window should earn nothing, got %d", res.XPGranted)
	}

	p, _ := store.Profile(ctx, "g1", "u1")
	if p.Messages != 2 {
		t.Fatalf("message count should always increment, got %d", p.Messages)
	}
	if p.XP != 10 {
		t.Fatalf("expected 10 xp total, got %d", p.XP)
	}

	clock.now = clock.now.Add(time.Minute)
	res, err = svc.HandleMessage(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res.XPGranted != 10 {
		t.Fatalf("xp should flow again after the window, got %d", res.XPGranted)
	}
}

func TestHandleMessageXPRange(t *testing.T) {
	svc, _, clock := newTestService()
	svc.SetRoll(func(n int) int {
		if n != 6 {
			t.Fatalf("roll range should be 6, got %d", n)
		}
		return 5
	})
	ctx := context.Background()
	clock.now = clock.now.Add(time.Hour)

	res, err := svc.HandleMessage(ctx, "g1", "u2")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res.XPGranted != 15 {
		t.Fatalf("expected 15 xp, got %d", res.XPGranted)
	}
}

func TestHandleMessageLevelUp(t *testing.T) {
	svc, store, clock := newTestService()
	ctx := context.Background()

	// Four grants of 10 xp, stepping the clock so each one lands.
	for i := 0; i < 4; i++ {
		if _, err := svc.HandleMessage(ctx, "g1", "u1"); err != nil {
			t.Fatalf("handle: %v", err)
		}
		clock.now = clock.now.Add(time.Minute)
	}

	// Fifth grant crosses 42 xp.
	res, err := svc.HandleMessage(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !res.LeveledUp || res.Level != 1 {
		t.Fatalf("expected level up to 1, got %+v", res)
	}

	p, _ := store.Profile(ctx, "g1", "u1")
	if p.Level != 1 {
		t.Fatalf("level should be persisted, got %d", p.Level)
	}

	// More xp at the same level must not announce again.
	clock.now = clock.now.Add(time.Minute)
	res, err = svc.HandleMessage(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res.LeveledUp {
		t.Fatalf("no level was crossed, should not report a level up")
	}
}

func TestCountMessageIgnoresCooldown(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := svc.CountMessage(ctx, "u1"); err != nil {
			t.Fatalf("count: %v", err)
		}
	}
	if got := store.counts["u1"]; got != 3 {
		t.Fatalf("every message should count, got %d", got)
	}
}

func TestRewardsForAreCumulative(t *testing.T) {
	rewards := []RoleReward{
		{Level: 5, RoleID: "r5"},
		{Level: 10, RoleID: "r10"},
		{Level: 20, RoleID: "r20"},
	}
	got := RewardsFor(12, rewards)
	if len(got) != 2 || got[0] != "r5" || got[1] != "r10" {
		t.Fatalf("expected roles r5 and r10, got %v", got)
	}
	if RewardsFor(3, rewards) != nil {
		t.Fatalf("no rewards expected below the first threshold")
	}
}

func TestLeaderboardOrdersByXP(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	_, _ = store.IncrementActivity(ctx, "g1", "low", 10)
	_, _ = store.IncrementActivity(ctx, "g1", "high", 500)
	_, _ = store.IncrementActivity(ctx, "g2", "other", 900)

	top, err := svc.Leaderboard(ctx, "g1", 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(top) != 2 || top[0].UserID != "high" {
		t.Fatalf("unexpected leaderboard: %v", top)
	}
}
