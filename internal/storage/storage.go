// Package storage is the MongoDB persistence layer. Each service
// defines the narrow interface it needs; this package implements all
// of them against one database handle.
package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	colAFK            = "afk"
	colTimers         = "timers"
	colMessages       = "messages"
	colLevels         = "levels"
	colCounters       = "counters"
	colGlobalChannels = "global_channels"
	colGlobalBans     = "global_bans"
	colGuilds         = "guilds"
)

const opTimeout = 5 * time.Second

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

func New(ctx context.Context, uri, database string) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("storage: connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("storage: ping: %w", err)
	}

	return &Store{client: client, db: client.Database(database)}, nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, opTimeout)
}

func mongoUpsert() *options.UpdateOptions {
	return options.Update().SetUpsert(true)
}

func mongoFindSort(sort interface{}) *options.FindOptions {
	return options.Find().SetSort(sort)
}
