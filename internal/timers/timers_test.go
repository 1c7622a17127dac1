package timers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"go.uber.org/zap"
)

type memStore struct {
	next   int
	timers map[string]Timer
}

func newMemStore() *memStore {
	return &memStore{timers: make(map[string]Timer)}
}

func (s *memStore) InsertTimer(_ context.Context, t Timer) (string, error) {
	s.next++
	id := fmt.Sprintf("t%d", s.next)
	t.ID = id
	s.timers[id] = t
	return id, nil
}

func (s *memStore) DueTimers(_ context.Context, now time.Time) ([]Timer, error) {
	var due []Timer
	for _, t := range s.timers {
		if !t.ExpiresAt.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(due[j].ExpiresAt) })
	return due, nil
}

func (s *memStore) DeleteTimer(_ context.Context, id string) error {
	delete(s.timers, id)
	return nil
}

func (s *memStore) DeleteUserTimers(_ context.Context, guildID, userID string, actions []string) error {
	for id, t := range s.timers {
		if t.GuildID != guildID || t.UserID != userID {
			continue
		}
		if len(actions) == 0 {
			delete(s.timers, id)
			continue
		}
		for _, a := range actions {
			if t.Action == a {
				delete(s.timers, id)
				break
			}
		}
	}
	return nil
}

func (s *memStore) ListUserTimers(_ context.Context, guildID, userID string) ([]Timer, error) {
	var out []Timer
	for _, t := range s.timers {
		if t.GuildID == guildID && t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestTickDispatchesDueTimers(t *testing.T) {
	store := newMemStore()
	q := New(store, 3*time.Second, zap.NewNop())
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	q.SetClock(fixedClock{now: now})

	var fired []string
	q.Handle("REMIND", func(_ context.Context, tm Timer) error {
		fired = append(fired, tm.Message)
		return nil
	})

	ctx := context.Background()
	if _, err := q.Schedule(ctx, Timer{GuildID: "g1", UserID: "u1", Action: "REMIND", Message: "due", ExpiresAt: now.Add(-time.Second)}); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, err := q.Schedule(ctx, Timer{GuildID: "g1", UserID: "u1", Action: "REMIND", Message: "later", ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	q.tick(ctx)

	if len(fired) != 1 || fired[0] != "due" {
		t.Fatalf("expected only the due timer to fire, got %v", fired)
	}
	remaining, _ := q.List(ctx, "g1", "u1")
	if len(remaining) != 1 || remaining[0].Message != "later" {
		t.Fatalf("due timer should be deleted, got %v", remaining)
	}
}

func TestTickDeletesTimerEvenOnHandlerError(t *testing.T) {
	store := newMemStore()
	q := New(store, 3*time.Second, zap.NewNop())
	now := time.Now()
	q.SetClock(fixedClock{now: now})

	calls := 0
	q.Handle("REMIND", func(_ context.Context, _ Timer) error {
		calls++
		return errors.New("boom")
	})

	ctx := context.Background()
	if _, err := q.Schedule(ctx, Timer{GuildID: "g1", UserID: "u1", Action: "REMIND", ExpiresAt: now}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	q.tick(ctx)
	q.tick(ctx)

	if calls != 1 {
		t.Fatalf("handler should run at most once, ran %d times", calls)
	}
}

func TestTickDeletesTimerWithUnknownAction(t *testing.T) {
	store := newMemStore()
	q := New(store, 3*time.Second, zap.NewNop())
	now := time.Now()
	q.SetClock(fixedClock{now: now})

	ctx := context.Background()
	if _, err := q.Schedule(ctx, Timer{GuildID: "g1", UserID: "u1", Action: "OBSOLETE", ExpiresAt: now}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	q.tick(ctx)

	remaining, _ := q.List(ctx, "g1", "u1")
	if len(remaining) != 0 {
		t.Fatalf("unhandled timer should still be removed, got %v", remaining)
	}
}

func TestCancelRemovesSingleTimer(t *testing.T) {
	store := newMemStore()
	q := New(store, 3*time.Second, zap.NewNop())
	now := time.Now()
	ctx := context.Background()

	id, err := q.Schedule(ctx, Timer{GuildID: "g1", UserID: "u1", Action: "REMIND", Message: "first", DM: true, ExpiresAt: now.Add(time.Hour)})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	_, _ = q.Schedule(ctx, Timer{GuildID: "g1", UserID: "u1", Action: "REMIND", Message: "second", ExpiresAt: now.Add(2 * time.Hour)})

	pending, _ := q.List(ctx, "g1", "u1")
	if len(pending) != 2 || !pending[0].DM {
		t.Fatalf("dm flag should survive storage, got %v", pending)
	}

	if err := q.Cancel(ctx, id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	left, _ := q.List(ctx, "g1", "u1")
	if len(left) != 1 || left[0].Message != "second" {
		t.Fatalf("only the cancelled timer should go, got %v", left)
	}
}

func TestCancelForUserFiltersByAction(t *testing.T) {
	store := newMemStore()
	q := New(store, 3*time.Second, zap.NewNop())
	now := time.Now()
	ctx := context.Background()

	_, _ = q.Schedule(ctx, Timer{GuildID: "g1", UserID: "u1", Action: "SET_AFK", ExpiresAt: now.Add(time.Hour)})
	_, _ = q.Schedule(ctx, Timer{GuildID: "g1", UserID: "u1", Action: "REMIND", ExpiresAt: now.Add(time.Hour)})
	_, _ = q.Schedule(ctx, Timer{GuildID: "g1", UserID: "u2", Action: "SET_AFK", ExpiresAt: now.Add(time.Hour)})

	if err := q.CancelForUser(ctx, "g1", "u1", "SET_AFK"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	left, _ := q.List(ctx, "g1", "u1")
	if len(left) != 1 || left[0].Action != "REMIND" {
		t.Fatalf("only SET_AFK timers should be cancelled, got %v", left)
	}
	other, _ := q.List(ctx, "g1", "u2")
	if len(other) != 1 {
		t.Fatalf("other member's timers should be untouched")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	q := New(newMemStore(), time.Millisecond, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}
