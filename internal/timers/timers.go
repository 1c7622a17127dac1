// Package timers is a persistent delayed-action queue. Timers survive
// restarts because they live in storage; a single poll loop claims due
// rows and dispatches them to registered handlers by action name.
package timers

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Timer is one pending action.
type Timer struct {
	ID        string    `bson:"_id,omitempty"`
	GuildID   string    `bson:"guild_id"`
	UserID    string    `bson:"user_id"`
	ChannelID string    `bson:"channel_id,omitempty"`
	Action    string    `bson:"action"`
	Message   string    `bson:"message,omitempty"`
	Payload   []byte    `bson:"payload,omitempty"`
	DM        bool      `bson:"dm,omitempty"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// Handler runs a due timer. The timer is removed afterwards whether or
// not the handler succeeds, so actions fire at most once.
type Handler func(ctx context.Context, t Timer) error

// Store persists timers.
type Store interface {
	InsertTimer(ctx context.Context, t Timer) (string, error)
	DueTimers(ctx context.Context, now time.Time) ([]Timer, error)
	DeleteTimer(ctx context.Context, id string) error
	DeleteUserTimers(ctx context.Context, guildID, userID string, actions []string) error
	ListUserTimers(ctx context.Context, guildID, userID string) ([]Timer, error)
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Queue polls the store and dispatches due timers. Ticks are serialized
// so a slow handler never lets the next poll double-claim a timer.
type Queue struct {
	store    Store
	log      *zap.Logger
	clock    Clock
	interval time.Duration

	mu       sync.Mutex
	handlers map[string]Handler
}

func New(store Store, interval time.Duration, log *zap.Logger) *Queue {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Queue{
		store:    store,
		log:      log,
		clock:    realClock{},
		interval: interval,
		handlers: make(map[string]Handler),
	}
}

// SetClock replaces the time source. Tests only.
func (q *Queue) SetClock(c Clock) { q.clock = c }

// Handle registers the handler for an action name. Register all
// handlers before calling Run.
func (q *Queue) Handle(action string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[action] = h
}

// Schedule stores a timer and returns its id.
func (q *Queue) Schedule(ctx context.Context, t Timer) (string, error) {
	id, err := q.store.InsertTimer(ctx, t)
	if err != nil {
		return "", err
	}
	q.log.Debug("timer scheduled",
		zap.String("id", id),
		zap.String("action", t.Action),
		zap.Time("expires_at", t.ExpiresAt))
	return id, nil
}

// Cancel removes a single timer by id.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	return q.store.DeleteTimer(ctx, id)
}

// CancelForUser removes every pending timer a member owns for the given
// actions. An empty action list matches all of them.
func (q *Queue) CancelForUser(ctx context.Context, guildID, userID string, actions ...string) error {
	return q.store.DeleteUserTimers(ctx, guildID, userID, actions)
}

// List returns a member's pending timers.
func (q *Queue) List(ctx context.Context, guildID, userID string) ([]Timer, error) {
	return q.store.ListUserTimers(ctx, guildID, userID)
}

// Run polls until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.tick(ctx)
		}
	}
}

func (q *Queue) tick(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	due, err := q.store.DueTimers(ctx, q.clock.Now())
	if err != nil {
		q.log.Error("load due timers", zap.Error(err))
		return
	}

	for _, t := range due {
		h, ok := q.handlers[t.Action]
		if !ok {
			q.log.Warn("no handler for timer action",
				zap.String("id", t.ID),
				zap.String("action", t.Action))
		} else if err := h(ctx, t); err != nil {
			q.log.Error("timer handler failed",
				zap.String("id", t.ID),
				zap.String("action", t.Action),
				zap.Error(err))
		}
		if err := q.store.DeleteTimer(ctx, t.ID); err != nil {
			q.log.Error("delete fired timer",
				zap.String("id", t.ID),
				zap.Error(err))
		}
	}
}
