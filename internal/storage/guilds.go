package storage

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"parrot/internal/guildcfg"
)

func (s *Store) GuildConfig(ctx context.Context, guildID string) (*guildcfg.Config, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var cfg guildcfg.Config
	err := s.db.Collection(colGuilds).FindOne(ctx, bson.M{"guild_id": guildID}).Decode(&cfg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Store) SaveGuildConfig(ctx context.Context, cfg guildcfg.Config) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	filter := bson.M{"guild_id": cfg.GuildID}
	update := bson.M{"$set": cfg}
	_, err := s.db.Collection(colGuilds).UpdateOne(ctx, filter, update, mongoUpsert())
	return err
}
