package storage

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"parrot/internal/leveling"
)

func (s *Store) IncrementActivity(ctx context.Context, guildID, userID string, xp int) (*leveling.Profile, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	filter := bson.M{"guild_id": guildID, "user_id": userID}
	update := bson.M{"$inc": bson.M{"messages": 1, "xp": xp}}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var profile leveling.Profile
	err := s.db.Collection(colLevels).
		FindOneAndUpdate(ctx, filter, update, opts).
		Decode(&profile)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// The bot-wide counter is keyed by user id alone, one document per
// user across all guilds.
func (s *Store) IncrementMessageCount(ctx context.Context, userID string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	update := bson.M{"$inc": bson.M{"count": 1}}
	_, err := s.db.Collection(colCounters).UpdateOne(ctx, bson.M{"_id": userID}, update, mongoUpsert())
	return err
}

func (s *Store) SetLevel(ctx context.Context, guildID, userID string, level int) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	filter := bson.M{"guild_id": guildID, "user_id": userID}
	update := bson.M{"$set": bson.M{"level": level}}
	_, err := s.db.Collection(colLevels).UpdateOne(ctx, filter, update)
	return err
}

func (s *Store) Profile(ctx context.Context, guildID, userID string) (*leveling.Profile, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var profile leveling.Profile
	err := s.db.Collection(colLevels).
		FindOne(ctx, bson.M{"guild_id": guildID, "user_id": userID}).
		Decode(&profile)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &leveling.Profile{GuildID: guildID, UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *Store) TopProfiles(ctx context.Context, guildID string, limit int) ([]leveling.Profile, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "xp", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.db.Collection(colLevels).Find(ctx, bson.M{"guild_id": guildID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []leveling.Profile
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
