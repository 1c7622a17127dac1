package storage

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"parrot/internal/afk"
)

// A global record answers for any guild; a scoped one only for its own.
func afkScopeFilter(guildID, userID string) bson.M {
	return bson.M{
		"user_id": userID,
		"$or":     []bson.M{{"global": true}, {"guild_id": guildID}},
	}
}

func (s *Store) UpsertAFK(ctx context.Context, rec afk.Record) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	// A global record is unique per user no matter which guild set it;
	// a scoped one is unique per user and guild.
	filter := bson.M{"user_id": rec.UserID, "global": true}
	if !rec.Global {
		filter = bson.M{"guild_id": rec.GuildID, "user_id": rec.UserID, "global": false}
	}
	update := bson.M{"$set": rec}
	opts := mongoUpsert()
	_, err := s.db.Collection(colAFK).UpdateOne(ctx, filter, update, opts)
	return err
}

func (s *Store) FindAFK(ctx context.Context, guildID, userID string) (*afk.Record, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var rec afk.Record
	err := s.db.Collection(colAFK).
		FindOne(ctx, afkScopeFilter(guildID, userID)).
		Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, afk.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) AppendPing(ctx context.Context, guildID, userID string, ping afk.Ping) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	filter := bson.M{"guild_id": guildID, "user_id": userID}
	update := bson.M{"$push": bson.M{"pings": ping}}
	res, err := s.db.Collection(colAFK).UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return afk.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAFK(ctx context.Context, guildID, userID string) (*afk.Record, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var rec afk.Record
	err := s.db.Collection(colAFK).
		FindOneAndDelete(ctx, afkScopeFilter(guildID, userID)).
		Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, afk.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) ListAFK(ctx context.Context) ([]afk.Record, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	cur, err := s.db.Collection(colAFK).Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []afk.Record
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
