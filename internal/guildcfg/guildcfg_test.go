package guildcfg

import (
	"context"
	"testing"
)

type memStore struct {
	reads   int
	configs map[string]Config
}

func newMemStore() *memStore {
	return &memStore{configs: make(map[string]Config)}
}

func (s *memStore) GuildConfig(_ context.Context, guildID string) (*Config, error) {
	s.reads++
	cfg, ok := s.configs[guildID]
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

func (s *memStore) SaveGuildConfig(_ context.Context, cfg Config) error {
	s.configs[cfg.GuildID] = cfg
	return nil
}

func TestGetCachesReads(t *testing.T) {
	store := newMemStore()
	store.configs["g1"] = Config{GuildID: "g1", AnnounceChannelID: "c1"}
	svc := New(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cfg, err := svc.Get(ctx, "g1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if cfg.AnnounceChannelID != "c1" {
			t.Fatalf("unexpected config: %+v", cfg)
		}
	}
	if store.reads != 1 {
		t.Fatalf("expected one storage read, got %d", store.reads)
	}
}

func TestGetDefaultsUnknownGuild(t *testing.T) {
	svc := New(newMemStore())
	cfg, err := svc.Get(context.Background(), "g9")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !cfg.LevelingEnabled {
		t.Fatalf("defaults should enable leveling")
	}
	if cfg.GuildID != "g9" {
		t.Fatalf("default config should carry the guild id")
	}
}

func TestSaveRefreshesCache(t *testing.T) {
	store := newMemStore()
	svc := New(store)
	ctx := context.Background()

	if _, err := svc.Get(ctx, "g1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := svc.Save(ctx, Config{GuildID: "g1", ScamLogChannelID: "logs"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	cfg, err := svc.Get(ctx, "g1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cfg.ScamLogChannelID != "logs" {
		t.Fatalf("save should refresh the cache, got %+v", cfg)
	}
	if store.reads != 1 {
		t.Fatalf("saved config should come from cache, got %d reads", store.reads)
	}
}

func TestInvalidateForcesReload(t *testing.T) {
	store := newMemStore()
	store.configs["g1"] = Config{GuildID: "g1"}
	svc := New(store)
	ctx := context.Background()

	if _, err := svc.Get(ctx, "g1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	svc.Invalidate("g1")
	if _, err := svc.Get(ctx, "g1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if store.reads != 2 {
		t.Fatalf("invalidate should force a reload, got %d reads", store.reads)
	}
}
