// Package globalchat bridges one channel per guild into a shared room.
// Messages pass a filter chain, then fan out to every other linked
// guild through its registered webhook.
package globalchat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"parrot/internal/ratelimit"
)

// Content longer than this is cut before fan-out. Discord caps webhook
// bodies at 2000 characters and the author tag needs some room.
const maxContentRunes = 1990

// ErrWebhookGone is returned by a Sender when the webhook was deleted
// on the Discord side. The relay drops the stale registration.
var ErrWebhookGone = errors.New("globalchat: webhook no longer exists")

// Channel is one guild's registration in the shared room.
type Channel struct {
	GuildID      string `bson:"guild_id"`
	ChannelID    string `bson:"channel_id"`
	WebhookURL   string `bson:"webhook_url"`
	IgnoreRoleID string `bson:"ignore_role_id,omitempty"`
}

// Message is an inbound chat message under consideration.
type Message struct {
	GuildID     string
	ChannelID   string
	AuthorID    string
	AuthorName  string
	AvatarURL   string
	Content     string
	MemberRoles []string
}

// Action is what the caller should do with a screened message.
type Action int

const (
	// ActionRelay fans the message out.
	ActionRelay Action = iota
	// ActionSkip leaves the message alone.
	ActionSkip
	// ActionDrop deletes the message with no notice.
	ActionDrop
	// ActionReject deletes the message and tells the author why.
	ActionReject
)

// Verdict is the outcome of screening one message.
type Verdict struct {
	Action Action
	Reason string
}

// WebhookMessage is the payload delivered to a linked guild.
type WebhookMessage struct {
	Username  string
	AvatarURL string
	Content   string
}

// Store persists channel registrations and the ban list.
type Store interface {
	UpsertChannel(ctx context.Context, ch Channel) error
	RemoveChannel(ctx context.Context, guildID string) error
	ClearWebhook(ctx context.Context, guildID string) error
	Channels(ctx context.Context) ([]Channel, error)
	BanUser(ctx context.Context, userID string) error
	UnbanUser(ctx context.Context, userID string) error
	BannedUsers(ctx context.Context) ([]string, error)
}

// Sender delivers webhook messages.
type Sender interface {
	SendWebhook(ctx context.Context, webhookID, token string, msg WebhookMessage) error
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Relay is the global chat service. Registrations and the ban list are
// cached in memory; Refresh reloads both from storage.
type Relay struct {
	store  Store
	sender Sender
	log    *zap.Logger
	clock  Clock

	flood    *ratelimit.Limiter
	maxLines int
	maxEmoji int

	mu       sync.RWMutex
	channels map[string]Channel
	banned   map[string]struct{}
}

// New builds a relay. The sender may be nil at construction time and
// installed later with SetSender once a gateway session exists.
func New(store Store, sender Sender, burst int, window time.Duration, maxLines, maxEmoji int, log *zap.Logger) *Relay {
	if maxLines <= 0 {
		maxLines = 4
	}
	if maxEmoji <= 0 {
		maxEmoji = 10
	}
	return &Relay{
		store:    store,
		sender:   sender,
		log:      log,
		clock:    realClock{},
		flood:    ratelimit.New(burst, window),
		maxLines: maxLines,
		maxEmoji: maxEmoji,
		channels: make(map[string]Channel),
		banned:   make(map[string]struct{}),
	}
}

// SetClock replaces the time source. Tests only.
func (r *Relay) SetClock(c Clock) { r.clock = c }

// SetSender installs the webhook transport.
func (r *Relay) SetSender(s Sender) {
	r.mu.Lock()
	r.sender = s
	r.mu.Unlock()
}

// Refresh reloads registrations and the ban list from storage.
func (r *Relay) Refresh(ctx context.Context) error {
	chans, err := r.store.Channels(ctx)
	if err != nil {
		return err
	}
	banned, err := r.store.BannedUsers(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = make(map[string]Channel, len(chans))
	for _, ch := range chans {
		r.channels[ch.GuildID] = ch
	}
	r.banned = make(map[string]struct{}, len(banned))
	for _, id := range banned {
		r.banned[id] = struct{}{}
	}
	return nil
}

// Join registers a guild's channel in the shared room.
func (r *Relay) Join(ctx context.Context, ch Channel) error {
	if _, _, err := parseWebhookURL(ch.WebhookURL); err != nil {
		return err
	}
	if err := r.store.UpsertChannel(ctx, ch); err != nil {
		return err
	}
	r.mu.Lock()
	r.channels[ch.GuildID] = ch
	r.mu.Unlock()
	r.log.Info("guild joined global chat",
		zap.String("guild_id", ch.GuildID),
		zap.String("channel_id", ch.ChannelID))
	return nil
}

// Leave removes a guild from the shared room.
func (r *Relay) Leave(ctx context.Context, guildID string) error {
	if err := r.store.RemoveChannel(ctx, guildID); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.channels, guildID)
	r.mu.Unlock()
	r.log.Info("guild left global chat", zap.String("guild_id", guildID))
	return nil
}

// ChannelFor returns the guild's registration, if any.
func (r *Relay) ChannelFor(guildID string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[guildID]
	return ch, ok
}

// Ban silences a user across the whole room. Their messages are
// deleted without comment from then on.
func (r *Relay) Ban(ctx context.Context, userID string) error {
	if err := r.store.BanUser(ctx, userID); err != nil {
		return err
	}
	r.mu.Lock()
	r.banned[userID] = struct{}{}
	r.mu.Unlock()
	return nil
}

// Unban lifts a room ban.
func (r *Relay) Unban(ctx context.Context, userID string) error {
	if err := r.store.UnbanUser(ctx, userID); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.banned, userID)
	r.mu.Unlock()
	return nil
}

func (r *Relay) isBanned(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.banned[userID]
	return ok
}

// Screen runs the filter chain over one message. The order is fixed:
// flood control, ignored role, command prefix, links, length,
// profanity, room ban, emoji.
func (r *Relay) Screen(msg Message) Verdict {
	ch, ok := r.ChannelFor(msg.GuildID)
	if !ok || ch.ChannelID != msg.ChannelID {
		return Verdict{Action: ActionSkip}
	}

	if d := r.flood.Check("global:"+msg.ChannelID, r.clock.Now()); !d.Allowed {
		return Verdict{Action: ActionReject, Reason: "the channel is sending too fast, wait a moment"}
	}

	if ch.IgnoreRoleID != "" {
		for _, role := range msg.MemberRoles {
			if role == ch.IgnoreRoleID {
				return Verdict{Action: ActionSkip}
			}
		}
	}

	if isCommand(msg.Content) {
		return Verdict{Action: ActionSkip}
	}

	if hasLink(msg.Content) {
		return Verdict{Action: ActionReject, Reason: "links are not allowed in global chat"}
	}

	if lineCount(msg.Content) > r.maxLines {
		return Verdict{Action: ActionReject, Reason: fmt.Sprintf("messages longer than %d lines are not relayed", r.maxLines)}
	}

	if hasProfanity(msg.Content) {
		return Verdict{Action: ActionReject, Reason: "watch your language"}
	}

	if r.isBanned(msg.AuthorID) {
		return Verdict{Action: ActionDrop}
	}

	if emojiCount(msg.Content) > r.maxEmoji {
		return Verdict{Action: ActionReject, Reason: fmt.Sprintf("keep it under %d emoji", r.maxEmoji)}
	}

	return Verdict{Action: ActionRelay}
}

// FanOut delivers a relayed message through every linked webhook,
// the origin guild's included, and returns how many deliveries
// succeeded. Registrations whose webhook was deleted remotely are
// unlinked on the spot.
func (r *Relay) FanOut(ctx context.Context, msg Message) (int, error) {
	r.mu.RLock()
	sender := r.sender
	targets := make([]Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		if ch.WebhookURL == "" {
			continue
		}
		targets = append(targets, ch)
	}
	r.mu.RUnlock()

	if sender == nil {
		return 0, errors.New("globalchat: no sender installed")
	}

	payload := WebhookMessage{
		Username:  msg.AuthorName,
		AvatarURL: msg.AvatarURL,
		Content:   truncate(msg.Content, maxContentRunes),
	}

	sent := 0
	for _, ch := range targets {
		id, token, err := parseWebhookURL(ch.WebhookURL)
		if err != nil {
			r.log.Warn("bad webhook url", zap.String("guild_id", ch.GuildID), zap.Error(err))
			continue
		}
		err = sender.SendWebhook(ctx, id, token, payload)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, ErrWebhookGone):
			r.dropWebhook(ctx, ch.GuildID)
		default:
			r.log.Warn("webhook delivery failed",
				zap.String("guild_id", ch.GuildID),
				zap.Error(err))
		}
	}
	return sent, nil
}

func (r *Relay) dropWebhook(ctx context.Context, guildID string) {
	if err := r.store.ClearWebhook(ctx, guildID); err != nil {
		r.log.Error("clear stale webhook", zap.String("guild_id", guildID), zap.Error(err))
		return
	}
	r.mu.Lock()
	if ch, ok := r.channels[guildID]; ok {
		ch.WebhookURL = ""
		r.channels[guildID] = ch
	}
	r.mu.Unlock()
	r.log.Info("unlinked stale webhook", zap.String("guild_id", guildID))
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}

func parseWebhookURL(raw string) (id, token string, err error) {
	trimmed := strings.TrimSuffix(raw, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("globalchat: malformed webhook url %q", raw)
	}
	id = parts[len(parts)-2]
	token = parts[len(parts)-1]
	if id == "" || token == "" || !strings.Contains(raw, "/webhooks/") {
		return "", "", fmt.Errorf("globalchat: malformed webhook url %q", raw)
	}
	return id, token, nil
}
