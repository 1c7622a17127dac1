// Package guildcfg holds per-guild settings with a read-through cache
// in front of storage. The message hot path reads settings on every
// event, so lookups must not hit the database each time.
package guildcfg

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"parrot/internal/leveling"
)

const cacheSize = 256

// Config is one guild's settings.
type Config struct {
	GuildID           string                `bson:"guild_id"`
	LevelingEnabled   bool                  `bson:"leveling_enabled"`
	AnnounceChannelID string                `bson:"announce_channel_id,omitempty"`
	RoleRewards       []leveling.RoleReward `bson:"role_rewards,omitempty"`
	IgnoredRoleIDs    []string              `bson:"ignored_role_ids,omitempty"`
	IgnoredChannelIDs []string              `bson:"ignored_channel_ids,omitempty"`
	ScamLogChannelID  string                `bson:"scam_log_channel_id,omitempty"`
}

// Default is what a guild gets before anyone configures it.
func Default(guildID string) Config {
	return Config{GuildID: guildID, LevelingEnabled: true}
}

// Store persists guild settings.
type Store interface {
	GuildConfig(ctx context.Context, guildID string) (*Config, error)
	SaveGuildConfig(ctx context.Context, cfg Config) error
}

// Service caches guild settings.
type Service struct {
	store Store

	mu    sync.Mutex
	cache *lru.Cache[string, Config]
}

func New(store Store) *Service {
	cache, _ := lru.New[string, Config](cacheSize)
	return &Service{store: store, cache: cache}
}

// Get returns the guild's settings, loading and caching them on a
// miss. Unconfigured guilds get defaults.
func (s *Service) Get(ctx context.Context, guildID string) (Config, error) {
	if cfg, ok := s.cache.Get(guildID); ok {
		return cfg, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg, ok := s.cache.Get(guildID); ok {
		return cfg, nil
	}

	cfg, err := s.store.GuildConfig(ctx, guildID)
	if err != nil {
		return Config{}, err
	}
	if cfg == nil {
		def := Default(guildID)
		s.cache.Add(guildID, def)
		return def, nil
	}
	s.cache.Add(guildID, *cfg)
	return *cfg, nil
}

// Save writes the settings through to storage and refreshes the cache.
func (s *Service) Save(ctx context.Context, cfg Config) error {
	if err := s.store.SaveGuildConfig(ctx, cfg); err != nil {
		return err
	}
	s.mu.Lock()
	s.cache.Add(cfg.GuildID, cfg)
	s.mu.Unlock()
	return nil
}

// Invalidate drops a guild from the cache.
func (s *Service) Invalidate(guildID string) {
	s.cache.Remove(guildID)
}
