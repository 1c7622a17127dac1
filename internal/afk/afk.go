// Package afk tracks members who have marked themselves away. A record
// lives in storage while the member is AFK and collects every mention
// received in the meantime, so the member gets a summary on return.
package afk

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrConflictingSchedule is returned when a request asks for both a
	// delayed start and a timed end. The two cannot be combined.
	ErrConflictingSchedule = errors.New("afk: delayed start and timed end are mutually exclusive")

	// ErrScheduleTooSoon is returned when a schedule falls under the
	// configured minimum delay.
	ErrScheduleTooSoon = errors.New("afk: schedule below minimum delay")

	// ErrNotFound is returned when no AFK record exists for the member.
	ErrNotFound = errors.New("afk: record not found")
)

// Ping is a single mention received while the member was away.
type Ping struct {
	AuthorID   string    `bson:"author_id"`
	AuthorName string    `bson:"author_name"`
	ChannelID  string    `bson:"channel_id"`
	MessageID  string    `bson:"message_id"`
	Content    string    `bson:"content"`
	At         time.Time `bson:"at"`
}

// Record is one member's AFK state. A global record applies in every
// guild; a guild-scoped one only where it was set. The two are
// alternatives, never layered.
type Record struct {
	GuildID         string    `bson:"guild_id"`
	UserID          string    `bson:"user_id"`
	Message         string    `bson:"message"`
	Global          bool      `bson:"global"`
	Since           time.Time `bson:"since"`
	Pings           []Ping    `bson:"pings,omitempty"`
	Notify          bool      `bson:"notify"`
	OldNick         string    `bson:"old_nick,omitempty"`
	IgnoredChannels []string  `bson:"ignored_channels,omitempty"`
}

// Ignores reports whether the member does not count as away in the
// given channel.
func (r *Record) Ignores(channelID string) bool {
	for _, id := range r.IgnoredChannels {
		if id == channelID {
			return true
		}
	}
	return false
}

// Schedule controls when a request takes effect. Zero values mean the
// member goes AFK immediately and stays until they speak.
type Schedule struct {
	SetAfter   time.Duration
	ClearAfter time.Duration
}

// Store persists AFK records. Find and Delete match either a global
// record for the user or one scoped to the given guild.
type Store interface {
	UpsertAFK(ctx context.Context, rec Record) error
	FindAFK(ctx context.Context, guildID, userID string) (*Record, error)
	AppendPing(ctx context.Context, guildID, userID string, ping Ping) error
	DeleteAFK(ctx context.Context, guildID, userID string) (*Record, error)
	ListAFK(ctx context.Context) ([]Record, error)
}

// Scheduler queues delayed activations and removals.
type Scheduler interface {
	ScheduleActivate(ctx context.Context, rec Record, at time.Time) error
	ScheduleClear(ctx context.Context, guildID, userID string, at time.Time) error
	CancelForUser(ctx context.Context, guildID, userID string) error
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Registry is the AFK service. Lookups hit an in-memory key set so the
// message hot path never touches storage for members who are not away.
type Registry struct {
	store Store
	sched Scheduler
	log   *zap.Logger
	clock Clock

	minDelay time.Duration

	mu     sync.RWMutex
	active map[string]struct{}
}

func New(store Store, sched Scheduler, minDelay time.Duration, log *zap.Logger) *Registry {
	if minDelay <= 0 {
		minDelay = 2 * time.Minute
	}
	return &Registry{
		store:    store,
		sched:    sched,
		log:      log,
		clock:    realClock{},
		minDelay: minDelay,
		active:   make(map[string]struct{}),
	}
}

// SetClock replaces the time source. Tests only.
func (r *Registry) SetClock(c Clock) { r.clock = c }

// Cache keys: global records key on the user alone so they hit in any
// guild.
func recordKey(rec Record) string {
	if rec.Global {
		return "*:" + rec.UserID
	}
	return rec.GuildID + ":" + rec.UserID
}

// Warm loads the active key set from storage. Call once at startup.
func (r *Registry) Warm(ctx context.Context) error {
	recs, err := r.store.ListAFK(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range recs {
		r.active[recordKey(rec)] = struct{}{}
	}
	return nil
}

// Set applies an AFK request. With a SetAfter delay nothing is written
// yet; the record is queued and activates when the timer fires.
func (r *Registry) Set(ctx context.Context, rec Record, sched Schedule) error {
	if sched.SetAfter > 0 && sched.ClearAfter > 0 {
		return ErrConflictingSchedule
	}

	now := r.clock.Now()
	if sched.SetAfter > 0 {
		if sched.SetAfter < r.minDelay {
			return ErrScheduleTooSoon
		}
		return r.sched.ScheduleActivate(ctx, rec, now.Add(sched.SetAfter))
	}

	if sched.ClearAfter > 0 && sched.ClearAfter < r.minDelay {
		return ErrScheduleTooSoon
	}

	if err := r.Activate(ctx, rec); err != nil {
		return err
	}
	if sched.ClearAfter > 0 {
		return r.sched.ScheduleClear(ctx, rec.GuildID, rec.UserID, now.Add(sched.ClearAfter))
	}
	return nil
}

// Activate writes the record and marks the member away. Also invoked by
// the timer handler for delayed starts.
func (r *Registry) Activate(ctx context.Context, rec Record) error {
	if rec.Since.IsZero() {
		rec.Since = r.clock.Now()
	}
	if err := r.store.UpsertAFK(ctx, rec); err != nil {
		return err
	}
	r.mu.Lock()
	r.active[recordKey(rec)] = struct{}{}
	r.mu.Unlock()
	r.log.Info("member marked afk",
		zap.String("guild_id", rec.GuildID),
		zap.String("user_id", rec.UserID),
		zap.Bool("global", rec.Global))
	return nil
}

// IsAFK reports whether the member is currently away in this guild,
// from cache only. A global record matches any guild.
func (r *Registry) IsAFK(guildID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.active["*:"+userID]; ok {
		return true
	}
	_, ok := r.active[guildID+":"+userID]
	return ok
}

// Find returns the record in effect for the member in this guild.
func (r *Registry) Find(ctx context.Context, guildID, userID string) (*Record, error) {
	if !r.IsAFK(guildID, userID) {
		return nil, ErrNotFound
	}
	return r.store.FindAFK(ctx, guildID, userID)
}

// RecordPing appends a mention to the member's record. Mentions from a
// channel the record ignores are dropped without error.
func (r *Registry) RecordPing(ctx context.Context, guildID, userID string, ping Ping) error {
	rec, err := r.Find(ctx, guildID, userID)
	if err != nil {
		return err
	}
	if rec.Ignores(ping.ChannelID) {
		return nil
	}
	if ping.At.IsZero() {
		ping.At = r.clock.Now()
	}
	return r.store.AppendPing(ctx, rec.GuildID, userID, ping)
}

// Clear wakes the member and returns the record they accumulated,
// cancelling any timers still pending for them.
func (r *Registry) Clear(ctx context.Context, guildID, userID string) (*Record, error) {
	rec, err := r.store.DeleteAFK(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	delete(r.active, recordKey(*rec))
	r.mu.Unlock()

	if err := r.sched.CancelForUser(ctx, guildID, userID); err != nil {
		r.log.Warn("cancel pending afk timers",
			zap.String("guild_id", guildID),
			zap.String("user_id", userID),
			zap.Error(err))
	}

	r.log.Info("member returned",
		zap.String("guild_id", guildID),
		zap.String("user_id", userID),
		zap.Int("pings", len(rec.Pings)))
	return rec, nil
}
