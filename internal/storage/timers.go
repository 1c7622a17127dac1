package storage

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"parrot/internal/timers"
)

// timerDoc carries an ObjectID instead of the string id the service
// works with.
type timerDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	GuildID   string             `bson:"guild_id"`
	UserID    string             `bson:"user_id"`
	ChannelID string             `bson:"channel_id,omitempty"`
	Action    string             `bson:"action"`
	Message   string             `bson:"message,omitempty"`
	Payload   []byte             `bson:"payload,omitempty"`
	DM        bool               `bson:"dm,omitempty"`
	ExpiresAt time.Time          `bson:"expires_at"`
}

func (d timerDoc) toTimer() timers.Timer {
	return timers.Timer{
		ID:        d.ID.Hex(),
		GuildID:   d.GuildID,
		UserID:    d.UserID,
		ChannelID: d.ChannelID,
		Action:    d.Action,
		Message:   d.Message,
		Payload:   d.Payload,
		DM:        d.DM,
		ExpiresAt: d.ExpiresAt,
	}
}

func (s *Store) InsertTimer(ctx context.Context, t timers.Timer) (string, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	doc := timerDoc{
		GuildID:   t.GuildID,
		UserID:    t.UserID,
		ChannelID: t.ChannelID,
		Action:    t.Action,
		Message:   t.Message,
		Payload:   t.Payload,
		DM:        t.DM,
		ExpiresAt: t.ExpiresAt,
	}
	res, err := s.db.Collection(colTimers).InsertOne(ctx, doc)
	if err != nil {
		return "", err
	}
	return res.InsertedID.(primitive.ObjectID).Hex(), nil
}

func (s *Store) DueTimers(ctx context.Context, now time.Time) ([]timers.Timer, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	cur, err := s.db.Collection(colTimers).Find(ctx, bson.M{"expires_at": bson.M{"$lte": now}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []timerDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]timers.Timer, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toTimer())
	}
	return out, nil
}

func (s *Store) DeleteTimer(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err = s.db.Collection(colTimers).DeleteOne(ctx, bson.M{"_id": oid})
	return err
}

func (s *Store) DeleteUserTimers(ctx context.Context, guildID, userID string, actions []string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	filter := bson.M{"guild_id": guildID, "user_id": userID}
	if len(actions) > 0 {
		filter["action"] = bson.M{"$in": actions}
	}
	_, err := s.db.Collection(colTimers).DeleteMany(ctx, filter)
	return err
}

func (s *Store) ListUserTimers(ctx context.Context, guildID, userID string) ([]timers.Timer, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	opts := mongoFindSort(bson.D{{Key: "expires_at", Value: 1}})
	cur, err := s.db.Collection(colTimers).Find(ctx, bson.M{"guild_id": guildID, "user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var docs []timerDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]timers.Timer, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toTimer())
	}
	return out, nil
}
