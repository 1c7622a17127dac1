package storage

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"parrot/internal/msglog"
)

// One document per channel, messages embedded as an array. Keeps the
// bulk write to a single UpdateOne model per buffered op.
type channelLogDoc struct {
	ChannelID string         `bson:"_id"`
	GuildID   string         `bson:"guild_id"`
	Messages  []msglog.Entry `bson:"messages"`
}

func (s *Store) BulkWriteMessages(ctx context.Context, ops []msglog.Op) error {
	if len(ops) == 0 {
		return nil
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	models := make([]mongo.WriteModel, 0, len(ops))
	for _, op := range ops {
		switch op.Kind {
		case msglog.OpAppend:
			entry := msglog.Entry{
				MessageID:      op.MessageID,
				AuthorID:       op.AuthorID,
				Content:        op.Content,
				AttachmentURLs: op.AttachmentURLs,
				Embeds:         op.Embeds,
				ReplyToID:      op.ReplyToID,
				JumpURL:        op.JumpURL,
				Type:           op.Type,
				TTS:            op.TTS,
				At:             op.At,
			}
			models = append(models, mongo.NewUpdateOneModel().
				SetFilter(bson.M{"_id": op.ChannelID}).
				SetUpdate(bson.M{
					"$set":  bson.M{"guild_id": op.GuildID},
					"$push": bson.M{"messages": entry},
				}).
				SetUpsert(true))
		case msglog.OpEdit:
			models = append(models, mongo.NewUpdateOneModel().
				SetFilter(bson.M{"_id": op.ChannelID, "messages.message_id": op.MessageID}).
				SetUpdate(bson.M{"$set": bson.M{"messages.$.content": op.Content}}))
		case msglog.OpDelete:
			models = append(models, mongo.NewUpdateOneModel().
				SetFilter(bson.M{"_id": op.ChannelID}).
				SetUpdate(bson.M{"$pull": bson.M{"messages": bson.M{"message_id": op.MessageID}}}))
		}
	}

	_, err := s.db.Collection(colMessages).BulkWrite(ctx, models)
	return err
}

func (s *Store) PruneMessages(ctx context.Context, olderThan time.Time) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	update := bson.M{"$pull": bson.M{"messages": bson.M{"at": bson.M{"$lt": olderThan}}}}
	_, err := s.db.Collection(colMessages).UpdateMany(ctx, bson.M{}, update)
	return err
}

func (s *Store) ChannelMessages(ctx context.Context, channelID string) ([]msglog.Entry, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var doc channelLogDoc
	err := s.db.Collection(colMessages).FindOne(ctx, bson.M{"_id": channelID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.Messages, nil
}
