// Package bot wires the services to the Discord gateway: the message
// pipeline, slash commands, and the timer actions that need a session
// to do their work.
package bot

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"parrot/internal/afk"
	"parrot/internal/config"
	"parrot/internal/globalchat"
	"parrot/internal/guildcfg"
	"parrot/internal/leveling"
	"parrot/internal/msglog"
	"parrot/internal/scam"
	"parrot/internal/storage"
	"parrot/internal/timers"
)

// Timer action names. These are persisted, renaming one orphans every
// pending timer that carries it.
const (
	actionSetAFK    = "SET_AFK"
	actionRemoveAFK = "REMOVE_AFK"
	actionRemind    = "REMIND"
)

// How long transient notices stay up before the bot deletes them.
// Global-chat rejections use the shorter window.
const (
	noticeTTL       = 10 * time.Second
	rejectNoticeTTL = 5 * time.Second
)

type Bot struct {
	cfg      config.Config
	logger   *zap.Logger
	store    *storage.Store
	session  *discordgo.Session
	afk      *afk.Registry
	queue    *timers.Queue
	levels   *leveling.Service
	detector *scam.Detector
	recorder *msglog.Recorder
	relay    *globalchat.Relay
	guilds   *guildcfg.Service
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, afkReg *afk.Registry, queue *timers.Queue, levels *leveling.Service, detector *scam.Detector, recorder *msglog.Recorder, relay *globalchat.Relay, guilds *guildcfg.Service) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent

	b := &Bot{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		session:  session,
		afk:      afkReg,
		queue:    queue,
		levels:   levels,
		detector: detector,
		recorder: recorder,
		relay:    relay,
		guilds:   guilds,
	}

	b.registerTimerHandlers()
	relay.SetSender(&webhookSender{session: session})

	return b, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onMessageUpdate)
	b.session.AddHandler(b.onMessageDelete)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	return b.registerCommands()
}

func (b *Bot) Close(ctx context.Context) {
	_ = ctx
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) onReady(session *discordgo.Session, _ *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", session.State.User.Username))
}

// NewAFKScheduler bridges the AFK registry to the timer queue. Records
// ride along as bson payloads so a delayed activation survives a
// restart.
func NewAFKScheduler(queue *timers.Queue) afk.Scheduler {
	return &timerScheduler{queue: queue}
}

type timerScheduler struct {
	queue *timers.Queue
}

func (s *timerScheduler) ScheduleActivate(ctx context.Context, rec afk.Record, at time.Time) error {
	payload, err := bson.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.queue.Schedule(ctx, timers.Timer{
		GuildID:   rec.GuildID,
		UserID:    rec.UserID,
		Action:    actionSetAFK,
		Payload:   payload,
		ExpiresAt: at,
	})
	return err
}

func (s *timerScheduler) ScheduleClear(ctx context.Context, guildID, userID string, at time.Time) error {
	_, err := s.queue.Schedule(ctx, timers.Timer{
		GuildID:   guildID,
		UserID:    userID,
		Action:    actionRemoveAFK,
		ExpiresAt: at,
	})
	return err
}

func (s *timerScheduler) CancelForUser(ctx context.Context, guildID, userID string) error {
	return s.queue.CancelForUser(ctx, guildID, userID, actionSetAFK, actionRemoveAFK)
}

func (b *Bot) registerTimerHandlers() {
	b.queue.Handle(actionSetAFK, func(ctx context.Context, t timers.Timer) error {
		var rec afk.Record
		if err := bson.Unmarshal(t.Payload, &rec); err != nil {
			return err
		}
		if err := b.afk.Activate(ctx, rec); err != nil {
			return err
		}
		b.applyAFKNick(rec.GuildID, rec.UserID)
		return nil
	})

	b.queue.Handle(actionRemoveAFK, func(ctx context.Context, t timers.Timer) error {
		rec, err := b.afk.Clear(ctx, t.GuildID, t.UserID)
		if errors.Is(err, afk.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		b.restoreNick(t.GuildID, t.UserID, rec.OldNick)
		return nil
	})

	b.queue.Handle(actionRemind, func(_ context.Context, t timers.Timer) error {
		if t.DM {
			dm, err := b.session.UserChannelCreate(t.UserID)
			if err != nil {
				return err
			}
			_, err = b.session.ChannelMessageSend(dm.ID, "reminder: "+t.Message)
			return err
		}
		if t.ChannelID == "" {
			return nil
		}
		_, err := b.session.ChannelMessageSend(t.ChannelID, "<@"+t.UserID+"> reminder: "+t.Message)
		return err
	})
}

type webhookSender struct {
	session *discordgo.Session
}

func (s *webhookSender) SendWebhook(_ context.Context, webhookID, token string, msg globalchat.WebhookMessage) error {
	_, err := s.session.WebhookExecute(webhookID, token, false, &discordgo.WebhookParams{
		Username:  msg.Username,
		AvatarURL: msg.AvatarURL,
		Content:   msg.Content,
	})
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Message != nil && rest.Message.Code == discordgo.ErrCodeUnknownWebhook {
		return globalchat.ErrWebhookGone
	}
	return err
}

func (b *Bot) applyAFKNick(guildID, userID string) {
	member, err := b.session.GuildMember(guildID, userID)
	if err != nil {
		return
	}
	nick := member.Nick
	if nick == "" && member.User != nil {
		nick = member.User.Username
	}
	if len(nick) > 26 {
		nick = nick[:26]
	}
	if err := b.session.GuildMemberNickname(guildID, userID, "[AFK] "+nick); err != nil {
		b.logger.Debug("set afk nickname", zap.String("user_id", userID), zap.Error(err))
	}
}

func (b *Bot) restoreNick(guildID, userID, oldNick string) {
	if err := b.session.GuildMemberNickname(guildID, userID, oldNick); err != nil {
		b.logger.Debug("restore nickname", zap.String("user_id", userID), zap.Error(err))
	}
}

// notice sends a short-lived message and removes it after noticeTTL.
func (b *Bot) notice(channelID, content string) {
	b.noticeFor(channelID, content, noticeTTL)
}

func (b *Bot) noticeFor(channelID, content string, ttl time.Duration) {
	msg, err := b.session.ChannelMessageSend(channelID, content)
	if err != nil {
		b.logger.Debug("send notice", zap.String("channel_id", channelID), zap.Error(err))
		return
	}
	go func() {
		time.Sleep(ttl)
		_ = b.session.ChannelMessageDelete(channelID, msg.ID)
	}()
}
