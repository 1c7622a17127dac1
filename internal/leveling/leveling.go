// Package leveling grants experience for chat activity and derives a
// level from the accumulated total. XP is rate limited per member so
// flooding a channel does not pay.
package leveling

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"parrot/internal/ratelimit"
)

// Profile is a member's activity counters within one guild.
type Profile struct {
	GuildID  string `bson:"guild_id"`
	UserID   string `bson:"user_id"`
	XP       int    `bson:"xp"`
	Level    int    `bson:"level"`
	Messages int64  `bson:"messages"`
}

// RoleReward grants a role once a member reaches the given level.
type RoleReward struct {
	Level  int    `bson:"level" yaml:"level"`
	RoleID string `bson:"role_id" yaml:"role_id"`
}

// Result describes what a message earned its author.
type Result struct {
	XPGranted int
	Level     int
	LeveledUp bool
}

// Store persists member profiles and the bot-wide message counter.
type Store interface {
	IncrementActivity(ctx context.Context, guildID, userID string, xp int) (*Profile, error)
	IncrementMessageCount(ctx context.Context, userID string) error
	SetLevel(ctx context.Context, guildID, userID string, level int) error
	Profile(ctx context.Context, guildID, userID string) (*Profile, error)
	TopProfiles(ctx context.Context, guildID string, limit int) ([]Profile, error)
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Service hands out XP. Every message bumps the member's message count;
// XP itself is granted at most once per cooldown window.
type Service struct {
	store   Store
	limiter *ratelimit.Limiter
	log     *zap.Logger
	clock   Clock

	minXP int
	maxXP int
	roll  func(n int) int
}

func New(store Store, cooldown time.Duration, minXP, maxXP int, log *zap.Logger) *Service {
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	if minXP <= 0 {
		minXP = 10
	}
	if maxXP < minXP {
		maxXP = minXP
	}
	return &Service{
		store:   store,
		limiter: ratelimit.New(1, cooldown),
		log:     log,
		clock:   realClock{},
		minXP:   minXP,
		maxXP:   maxXP,
		roll:    rand.Intn,
	}
}

// SetClock replaces the time source. Tests only.
func (s *Service) SetClock(c Clock) { s.clock = c }

// SetRoll replaces the XP dice. Tests only.
func (s *Service) SetRoll(roll func(n int) int) { s.roll = roll }

// Level converts a running XP total into a level.
func Level(xp int) int {
	if xp < 42 {
		return 0
	}
	return int(math.Pow(float64(xp/42), 0.55))
}

// CountMessage bumps the member's bot-wide message counter. Runs on
// every message, before any guild gate or cooldown.
func (s *Service) CountMessage(ctx context.Context, userID string) error {
	return s.store.IncrementMessageCount(ctx, userID)
}

// HandleMessage records one message for the member and grants XP when
// the cooldown allows. Returns whether the member crossed a level.
func (s *Service) HandleMessage(ctx context.Context, guildID, userID string) (Result, error) {
	grant := 0
	if d := s.limiter.Check("xp:"+guildID+":"+userID, s.clock.Now()); d.Allowed {
		grant = s.minXP + s.roll(s.maxXP-s.minXP+1)
	}

	profile, err := s.store.IncrementActivity(ctx, guildID, userID, grant)
	if err != nil {
		return Result{}, err
	}

	res := Result{XPGranted: grant, Level: profile.Level}
	if grant == 0 {
		return res, nil
	}

	if next := Level(profile.XP); next > profile.Level {
		if err := s.store.SetLevel(ctx, guildID, userID, next); err != nil {
			return res, err
		}
		res.Level = next
		res.LeveledUp = true
		s.log.Info("member leveled up",
			zap.String("guild_id", guildID),
			zap.String("user_id", userID),
			zap.Int("level", next))
	}
	return res, nil
}

// Profile returns a member's counters.
func (s *Service) Profile(ctx context.Context, guildID, userID string) (*Profile, error) {
	return s.store.Profile(ctx, guildID, userID)
}

// Leaderboard returns the guild's top members by XP.
func (s *Service) Leaderboard(ctx context.Context, guildID string, limit int) ([]Profile, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.store.TopProfiles(ctx, guildID, limit)
}

// RewardsFor returns every role earned at or below level. Rewards are
// cumulative so rejoining members get all of them back at once.
func RewardsFor(level int, rewards []RoleReward) []string {
	var roles []string
	for _, r := range rewards {
		if r.Level <= level {
			roles = append(roles, r.RoleID)
		}
	}
	return roles
}
