package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"parrot/internal/afk"
	"parrot/internal/globalchat"
	"parrot/internal/guildcfg"
	"parrot/internal/leveling"
	"parrot/internal/msglog"
)

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot {
		return
	}
	if msg.GuildID == "" {
		return
	}

	ctx := context.Background()

	b.screenScam(ctx, session, msg.Message)
	b.handleLeveling(ctx, msg)
	b.recorder.Record(logAppendOp(msg.Message))
	b.handleAFK(ctx, msg)
	b.handleGlobalChat(ctx, session, msg)
}

// logAppendOp flattens a gateway message into a log append.
func logAppendOp(msg *discordgo.Message) msglog.Op {
	op := msglog.Op{
		Kind:      msglog.OpAppend,
		GuildID:   msg.GuildID,
		ChannelID: msg.ChannelID,
		MessageID: msg.ID,
		AuthorID:  msg.Author.ID,
		Content:   msg.Content,
		JumpURL:   "https://discord.com/channels/" + msg.GuildID + "/" + msg.ChannelID + "/" + msg.ID,
		Type:      int(msg.Type),
		TTS:       msg.TTS,
	}
	for _, a := range msg.Attachments {
		if a != nil {
			op.AttachmentURLs = append(op.AttachmentURLs, a.URL)
		}
	}
	for _, e := range msg.Embeds {
		if raw, err := json.Marshal(e); err == nil {
			op.Embeds = append(op.Embeds, string(raw))
		}
	}
	if msg.MessageReference != nil {
		op.ReplyToID = msg.MessageReference.MessageID
	}
	return op
}

func (b *Bot) onMessageUpdate(session *discordgo.Session, msg *discordgo.MessageUpdate) {
	if msg.Author == nil || msg.Author.Bot || msg.GuildID == "" {
		return
	}

	b.recorder.Record(msglog.Op{
		Kind:      msglog.OpEdit,
		GuildID:   msg.GuildID,
		ChannelID: msg.ChannelID,
		MessageID: msg.ID,
		Content:   msg.Content,
	})

	// Edits can smuggle a link past the create-time screen.
	b.screenScam(context.Background(), session, msg.Message)
}

func (b *Bot) onMessageDelete(_ *discordgo.Session, msg *discordgo.MessageDelete) {
	if msg.GuildID == "" {
		return
	}
	b.recorder.Record(msglog.Op{
		Kind:      msglog.OpDelete,
		GuildID:   msg.GuildID,
		ChannelID: msg.ChannelID,
		MessageID: msg.ID,
	})
}

// screenScam warns about flagged links, once per message. The message
// itself stays and the rest of the pipeline still sees it.
func (b *Bot) screenScam(ctx context.Context, session *discordgo.Session, msg *discordgo.Message) {
	verdict, err := b.detector.Check(ctx, msg.Content)
	if err != nil {
		b.logger.Warn("scam check failed", zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	if !verdict.Scam {
		return
	}

	authorID := ""
	if msg.Author != nil {
		authorID = msg.Author.ID
	}
	b.notice(msg.ChannelID, "<@"+authorID+"> careful, that link looks like a scam.")
	b.logger.Info("scam link flagged",
		zap.String("guild_id", msg.GuildID),
		zap.String("user_id", authorID),
		zap.Strings("domains", verdict.Domains))

	cfg, err := b.guilds.Get(ctx, msg.GuildID)
	if err == nil && cfg.ScamLogChannelID != "" {
		report := fmt.Sprintf("flagged a scam link from <@%s> in <#%s>: %v", authorID, msg.ChannelID, verdict.Domains)
		if _, err := session.ChannelMessageSend(cfg.ScamLogChannelID, report); err != nil {
			b.logger.Debug("scam log report", zap.Error(err))
		}
	}
}

func (b *Bot) handleAFK(ctx context.Context, msg *discordgo.MessageCreate) {
	// The author speaking wakes them up, unless the channel is on
	// their ignore list.
	if cur, err := b.afk.Find(ctx, msg.GuildID, msg.Author.ID); err == nil && !cur.Ignores(msg.ChannelID) {
		rec, err := b.afk.Clear(ctx, msg.GuildID, msg.Author.ID)
		if err == nil {
			b.restoreNick(msg.GuildID, msg.Author.ID, rec.OldNick)
			summary := fmt.Sprintf("welcome back <@%s>!", msg.Author.ID)
			if n := len(rec.Pings); n > 0 {
				summary = fmt.Sprintf("welcome back <@%s>! You were pinged %d time(s) while away.", msg.Author.ID, n)
			}
			b.notice(msg.ChannelID, summary)
		} else if !errors.Is(err, afk.ErrNotFound) {
			b.logger.Warn("clear afk", zap.String("user_id", msg.Author.ID), zap.Error(err))
		}
	}

	// Tell people pinging someone who is away.
	for _, mentioned := range msg.Mentions {
		if mentioned == nil || mentioned.ID == msg.Author.ID {
			continue
		}
		if !b.afk.IsAFK(msg.GuildID, mentioned.ID) {
			continue
		}
		rec, err := b.afk.Find(ctx, msg.GuildID, mentioned.ID)
		if err != nil || rec.Ignores(msg.ChannelID) {
			continue
		}
		ping := afk.Ping{
			AuthorID:   msg.Author.ID,
			AuthorName: msg.Author.Username,
			ChannelID:  msg.ChannelID,
			MessageID:  msg.ID,
			Content:    msg.Content,
		}
		if err := b.afk.RecordPing(ctx, msg.GuildID, mentioned.ID, ping); err != nil {
			b.logger.Warn("record afk ping", zap.String("user_id", mentioned.ID), zap.Error(err))
		}
		text := fmt.Sprintf("%s is AFK", mentioned.Username)
		if rec.Message != "" {
			text += ": " + rec.Message
		}
		b.notice(msg.ChannelID, text)
	}
}

// levelingExempt reports whether the member earns no XP here, because
// of either the channel or one of their roles.
func levelingExempt(cfg guildcfg.Config, memberRoles []string, channelID string) bool {
	for _, id := range cfg.IgnoredChannelIDs {
		if id == channelID {
			return true
		}
	}
	for _, id := range cfg.IgnoredRoleIDs {
		for _, role := range memberRoles {
			if role == id {
				return true
			}
		}
	}
	return false
}

// rewardRoles returns the roles owed after an award. Every award
// re-grants all earned rewards, not just level crossings, so a member
// stripped of a reward role gets it back on their next award.
func rewardRoles(res leveling.Result, cfg guildcfg.Config) []string {
	if res.XPGranted == 0 {
		return nil
	}
	return leveling.RewardsFor(res.Level, cfg.RoleRewards)
}

func (b *Bot) handleLeveling(ctx context.Context, msg *discordgo.MessageCreate) {
	// The bot-wide message counter runs before any gate.
	if err := b.levels.CountMessage(ctx, msg.Author.ID); err != nil {
		b.logger.Debug("message counter", zap.String("user_id", msg.Author.ID), zap.Error(err))
	}

	cfg, err := b.guilds.Get(ctx, msg.GuildID)
	if err != nil {
		b.logger.Warn("load guild config", zap.String("guild_id", msg.GuildID), zap.Error(err))
		return
	}
	if !cfg.LevelingEnabled {
		return
	}
	var memberRoles []string
	if msg.Member != nil {
		memberRoles = msg.Member.Roles
	}
	if levelingExempt(cfg, memberRoles, msg.ChannelID) {
		return
	}

	res, err := b.levels.HandleMessage(ctx, msg.GuildID, msg.Author.ID)
	if err != nil {
		b.logger.Warn("leveling", zap.String("user_id", msg.Author.ID), zap.Error(err))
		return
	}

	for _, roleID := range rewardRoles(res, cfg) {
		if err := b.session.GuildMemberRoleAdd(msg.GuildID, msg.Author.ID, roleID); err != nil {
			b.logger.Debug("grant reward role",
				zap.String("role_id", roleID),
				zap.String("user_id", msg.Author.ID),
				zap.Error(err))
		}
	}

	if !res.LeveledUp {
		return
	}
	channelID := cfg.AnnounceChannelID
	if channelID == "" {
		channelID = msg.ChannelID
	}
	text := fmt.Sprintf("<@%s> reached level %d!", msg.Author.ID, res.Level)
	if _, err := b.session.ChannelMessageSend(channelID, text); err != nil {
		b.logger.Debug("level announcement", zap.Error(err))
	}
}

func (b *Bot) handleGlobalChat(ctx context.Context, session *discordgo.Session, msg *discordgo.MessageCreate) {
	in := globalchat.Message{
		GuildID:    msg.GuildID,
		ChannelID:  msg.ChannelID,
		AuthorID:   msg.Author.ID,
		AuthorName: msg.Author.Username,
		AvatarURL:  msg.Author.AvatarURL("64"),
		Content:    msg.Content,
	}
	if msg.Member != nil {
		in.MemberRoles = msg.Member.Roles
	}

	verdict := b.relay.Screen(in)
	switch verdict.Action {
	case globalchat.ActionSkip:
		return
	case globalchat.ActionDrop:
		_ = session.ChannelMessageDelete(msg.ChannelID, msg.ID)
	case globalchat.ActionReject:
		if err := session.ChannelMessageDelete(msg.ChannelID, msg.ID); err != nil {
			b.logger.Debug("delete rejected message", zap.Error(err))
		}
		b.noticeFor(msg.ChannelID, "<@"+msg.Author.ID+"> "+verdict.Reason, rejectNoticeTTL)
	case globalchat.ActionRelay:
		// The webhook copy replaces the original in every channel,
		// the origin included, so drop the original first.
		if err := session.ChannelMessageDelete(msg.ChannelID, msg.ID); err != nil {
			b.logger.Debug("delete relayed original", zap.Error(err))
		}
		sent, err := b.relay.FanOut(ctx, in)
		if err != nil {
			b.logger.Warn("global chat fan-out", zap.Error(err))
			return
		}
		b.logger.Debug("global chat relayed",
			zap.String("guild_id", msg.GuildID),
			zap.Int("deliveries", sent))
	}
}
