package storage

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"parrot/internal/globalchat"
)

func (s *Store) UpsertChannel(ctx context.Context, ch globalchat.Channel) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	filter := bson.M{"guild_id": ch.GuildID}
	update := bson.M{"$set": ch}
	_, err := s.db.Collection(colGlobalChannels).UpdateOne(ctx, filter, update, mongoUpsert())
	return err
}

func (s *Store) RemoveChannel(ctx context.Context, guildID string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.Collection(colGlobalChannels).DeleteOne(ctx, bson.M{"guild_id": guildID})
	return err
}

func (s *Store) ClearWebhook(ctx context.Context, guildID string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	update := bson.M{"$set": bson.M{"webhook_url": ""}}
	_, err := s.db.Collection(colGlobalChannels).UpdateOne(ctx, bson.M{"guild_id": guildID}, update)
	return err
}

func (s *Store) Channels(ctx context.Context) ([]globalchat.Channel, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	cur, err := s.db.Collection(colGlobalChannels).Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []globalchat.Channel
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) BanUser(ctx context.Context, userID string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	filter := bson.M{"_id": userID}
	update := bson.M{"$setOnInsert": bson.M{"_id": userID}}
	_, err := s.db.Collection(colGlobalBans).UpdateOne(ctx, filter, update, mongoUpsert())
	return err
}

func (s *Store) UnbanUser(ctx context.Context, userID string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.Collection(colGlobalBans).DeleteOne(ctx, bson.M{"_id": userID})
	return err
}

func (s *Store) BannedUsers(ctx context.Context) ([]string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	cur, err := s.db.Collection(colGlobalBans).Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out, nil
}
