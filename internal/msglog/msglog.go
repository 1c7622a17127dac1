// Package msglog keeps a short-lived record of recent chat. Writes are
// buffered in memory and flushed to storage in batches; anything older
// than the retention window is pruned on the same cadence.
package msglog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// OpKind is the kind of change being recorded.
type OpKind int

const (
	OpAppend OpKind = iota
	OpEdit
	OpDelete
)

// Op is one buffered change to the log. Appends carry the full entry;
// edits only the new content, deletes only the id.
type Op struct {
	Kind           OpKind
	GuildID        string
	ChannelID      string
	MessageID      string
	AuthorID       string
	Content        string
	AttachmentURLs []string
	Embeds         []string
	ReplyToID      string
	JumpURL        string
	Type           int
	TTS            bool
	At             time.Time
}

// Entry is a stored message. Embeds are kept as opaque JSON so the log
// does not depend on any one transport's embed shape.
type Entry struct {
	MessageID      string    `bson:"message_id"`
	AuthorID       string    `bson:"author_id"`
	Content        string    `bson:"content"`
	AttachmentURLs []string  `bson:"attachment_urls,omitempty"`
	Embeds         []string  `bson:"embeds,omitempty"`
	ReplyToID      string    `bson:"reply_to_id,omitempty"`
	JumpURL        string    `bson:"jump_url,omitempty"`
	Type           int       `bson:"type,omitempty"`
	TTS            bool      `bson:"tts,omitempty"`
	At             time.Time `bson:"at"`
}

// Store persists the log.
type Store interface {
	BulkWriteMessages(ctx context.Context, ops []Op) error
	PruneMessages(ctx context.Context, olderThan time.Time) error
	ChannelMessages(ctx context.Context, channelID string) ([]Entry, error)
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Recorder batches log writes. Record never blocks on storage; the
// flush loop drains the buffer in one bulk write per interval.
type Recorder struct {
	store     Store
	log       *zap.Logger
	clock     Clock
	interval  time.Duration
	retention time.Duration

	mu     sync.Mutex
	buffer []Op
}

func New(store Store, interval, retention time.Duration, log *zap.Logger) *Recorder {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if retention <= 0 {
		retention = 12 * time.Hour
	}
	return &Recorder{
		store:     store,
		log:       log,
		clock:     realClock{},
		interval:  interval,
		retention: retention,
	}
}

// SetClock replaces the time source. Tests only.
func (r *Recorder) SetClock(c Clock) { r.clock = c }

// Record buffers one change.
func (r *Recorder) Record(op Op) {
	if op.At.IsZero() {
		op.At = r.clock.Now()
	}
	r.mu.Lock()
	r.buffer = append(r.buffer, op)
	r.mu.Unlock()
}

// Flush writes the buffered ops and prunes expired entries. Failed
// batches go back on the front of the buffer for the next attempt.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.buffer
	r.buffer = nil
	r.mu.Unlock()

	if len(batch) > 0 {
		if err := r.store.BulkWriteMessages(ctx, batch); err != nil {
			r.mu.Lock()
			r.buffer = append(batch, r.buffer...)
			r.mu.Unlock()
			return err
		}
	}

	cutoff := r.clock.Now().Add(-r.retention)
	if err := r.store.PruneMessages(ctx, cutoff); err != nil {
		r.log.Warn("prune message log", zap.Error(err))
	}
	return nil
}

// ChannelMessages returns the retained log for one channel.
func (r *Recorder) ChannelMessages(ctx context.Context, channelID string) ([]Entry, error) {
	return r.store.ChannelMessages(ctx, channelID)
}

// Run flushes on the configured interval until ctx is cancelled, then
// performs one final drain so shutdown loses nothing.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			drain, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := r.Flush(drain); err != nil {
				r.log.Error("final message log flush", zap.Error(err))
			}
			cancel()
			return
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				r.log.Error("flush message log", zap.Error(err))
			}
		}
	}
}
