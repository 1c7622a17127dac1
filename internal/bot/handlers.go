package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"parrot/internal/afk"
	"parrot/internal/globalchat"
	"parrot/internal/timers"
)

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}

	ctx := context.Background()
	data := interaction.ApplicationCommandData()
	switch data.Name {
	case "afk":
		b.handleAFKCommand(ctx, session, interaction, data.Options)
	case "remind":
		b.handleRemindCommand(ctx, session, interaction, data.Options)
	case "rank":
		b.handleRankCommand(ctx, session, interaction, data.Options)
	case "leaderboard":
		b.handleLeaderboardCommand(ctx, session, interaction)
	case "globalchat":
		b.handleGlobalChatCommand(ctx, session, interaction, data.Options)
	case "leveling":
		b.handleLevelingCommand(ctx, session, interaction, data.Options)
	}
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, text string, ephemeral bool) {
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: text, Flags: flags},
	})
	if err != nil {
		b.logger.Warn("interaction respond", zap.Error(err))
	}
}

func interactionUser(interaction *discordgo.InteractionCreate) *discordgo.User {
	if interaction.Member != nil && interaction.Member.User != nil {
		return interaction.Member.User
	}
	return interaction.User
}

func subOptions(options []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	out := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(options))
	for _, opt := range options {
		out[opt.Name] = opt
	}
	return out
}

func (b *Bot) handleAFKCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if interaction.GuildID == "" || len(options) == 0 {
		b.respond(session, interaction, "this command only works in a server", true)
		return
	}
	user := interactionUser(interaction)
	if user == nil {
		return
	}

	sub := options[0]
	opts := subOptions(sub.Options)

	rec := afk.Record{
		GuildID: interaction.GuildID,
		UserID:  user.ID,
		Notify:  true,
	}
	if m, ok := opts["message"]; ok {
		rec.Message = m.StringValue()
	}
	if c, ok := opts["ignore_channel"]; ok {
		if channel := c.ChannelValue(session); channel != nil {
			rec.IgnoredChannels = append(rec.IgnoredChannels, channel.ID)
		}
	}
	if interaction.Member != nil {
		rec.OldNick = interaction.Member.Nick
	}

	var sched afk.Schedule
	switch sub.Name {
	case "set":
	case "global":
		rec.Global = true
	case "for":
		d, err := time.ParseDuration(opts["duration"].StringValue())
		if err != nil {
			b.respond(session, interaction, "I could not read that duration, try something like 30m or 2h", true)
			return
		}
		sched.ClearAfter = d
	case "after":
		d, err := time.ParseDuration(opts["duration"].StringValue())
		if err != nil {
			b.respond(session, interaction, "I could not read that duration, try something like 30m or 2h", true)
			return
		}
		sched.SetAfter = d
	case "custom":
		if opt, ok := opts["after"]; ok {
			d, err := time.ParseDuration(opt.StringValue())
			if err != nil {
				b.respond(session, interaction, "I could not read that duration, try something like 30m or 2h", true)
				return
			}
			sched.SetAfter = d
		}
		if opt, ok := opts["for"]; ok {
			d, err := time.ParseDuration(opt.StringValue())
			if err != nil {
				b.respond(session, interaction, "I could not read that duration, try something like 30m or 2h", true)
				return
			}
			sched.ClearAfter = d
		}
	default:
		return
	}

	err := b.afk.Set(ctx, rec, sched)
	switch {
	case errors.Is(err, afk.ErrScheduleTooSoon):
		b.respond(session, interaction, fmt.Sprintf("schedules need at least %d seconds", b.cfg.AFK.MinScheduleSeconds), true)
		return
	case errors.Is(err, afk.ErrConflictingSchedule):
		b.respond(session, interaction, "pick either a delay or a duration, not both", true)
		return
	case err != nil:
		b.logger.Warn("set afk", zap.String("user_id", user.ID), zap.Error(err))
		b.respond(session, interaction, "something went wrong, try again later", true)
		return
	}

	if sched.SetAfter > 0 {
		b.respond(session, interaction, fmt.Sprintf("you will go AFK in %s", sched.SetAfter), true)
		return
	}

	b.applyAFKNick(interaction.GuildID, user.ID)
	if sched.ClearAfter > 0 {
		b.respond(session, interaction, fmt.Sprintf("you are AFK for the next %s", sched.ClearAfter), true)
		return
	}
	b.respond(session, interaction, "you are now AFK", true)
}

func (b *Bot) handleRemindCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(options) == 0 {
		return
	}
	user := interactionUser(interaction)
	if user == nil {
		return
	}

	sub := options[0]
	switch sub.Name {
	case "me", "dm":
		opts := subOptions(sub.Options)
		d, err := time.ParseDuration(opts["in"].StringValue())
		if err != nil || d <= 0 {
			b.respond(session, interaction, "I could not read that duration, try something like 15m or 3h", true)
			return
		}
		_, err = b.queue.Schedule(ctx, timers.Timer{
			GuildID:   interaction.GuildID,
			UserID:    user.ID,
			ChannelID: interaction.ChannelID,
			Action:    actionRemind,
			Message:   opts["message"].StringValue(),
			DM:        sub.Name == "dm",
			ExpiresAt: time.Now().Add(d),
		})
		if err != nil {
			b.logger.Warn("schedule reminder", zap.Error(err))
			b.respond(session, interaction, "something went wrong, try again later", true)
			return
		}
		b.respond(session, interaction, fmt.Sprintf("I will remind you in %s", d), true)
	case "list":
		reminders, err := b.pendingReminders(ctx, interaction.GuildID, user.ID)
		if err != nil {
			b.respond(session, interaction, "something went wrong, try again later", true)
			return
		}
		var lines []string
		for i, t := range reminders {
			lines = append(lines, fmt.Sprintf("%d. in %s: %s", i+1, time.Until(t.ExpiresAt).Round(time.Second), t.Message))
		}
		if len(lines) == 0 {
			b.respond(session, interaction, "you have no pending reminders", true)
			return
		}
		b.respond(session, interaction, strings.Join(lines, "\n"), true)
	case "delete":
		opts := subOptions(sub.Options)
		reminders, err := b.pendingReminders(ctx, interaction.GuildID, user.ID)
		if err != nil {
			b.respond(session, interaction, "something went wrong, try again later", true)
			return
		}
		n := int(opts["number"].IntValue())
		if n < 1 || n > len(reminders) {
			b.respond(session, interaction, "no reminder with that number, check /remind list", true)
			return
		}
		if err := b.queue.Cancel(ctx, reminders[n-1].ID); err != nil {
			b.respond(session, interaction, "something went wrong, try again later", true)
			return
		}
		b.respond(session, interaction, "reminder deleted", true)
	}
}

// pendingReminders returns the member's reminder timers in expiry
// order, the same order /remind list numbers them in.
func (b *Bot) pendingReminders(ctx context.Context, guildID, userID string) ([]timers.Timer, error) {
	pending, err := b.queue.List(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}
	var out []timers.Timer
	for _, t := range pending {
		if t.Action == actionRemind {
			out = append(out, t)
		}
	}
	return out, nil
}

func (b *Bot) handleRankCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if interaction.GuildID == "" {
		b.respond(session, interaction, "this command only works in a server", true)
		return
	}
	target := interactionUser(interaction)
	for _, opt := range options {
		if opt.Name == "user" {
			target = opt.UserValue(session)
		}
	}
	if target == nil {
		return
	}

	profile, err := b.levels.Profile(ctx, interaction.GuildID, target.ID)
	if err != nil {
		b.respond(session, interaction, "something went wrong, try again later", true)
		return
	}
	b.respond(session, interaction, fmt.Sprintf("%s is level %d with %d XP over %d messages",
		target.Username, profile.Level, profile.XP, profile.Messages), false)
}

func (b *Bot) handleLeaderboardCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.GuildID == "" {
		b.respond(session, interaction, "this command only works in a server", true)
		return
	}
	top, err := b.levels.Leaderboard(ctx, interaction.GuildID, 10)
	if err != nil {
		b.respond(session, interaction, "something went wrong, try again later", true)
		return
	}
	if len(top) == 0 {
		b.respond(session, interaction, "nobody has earned XP yet", false)
		return
	}
	var lines []string
	for i, p := range top {
		lines = append(lines, fmt.Sprintf("%d. <@%s> — level %d, %d XP", i+1, p.UserID, p.Level, p.XP))
	}
	b.respond(session, interaction, strings.Join(lines, "\n"), false)
}

// toggleID removes id from the list if present, adds it otherwise.
func toggleID(list []string, id string) []string {
	for i, v := range list {
		if v == id {
			return append(list[:i], list[i+1:]...)
		}
	}
	return append(list, id)
}

func hasManageGuild(interaction *discordgo.InteractionCreate) bool {
	return interaction.Member != nil &&
		interaction.Member.Permissions&discordgo.PermissionManageServer != 0
}

func (b *Bot) handleGlobalChatCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if interaction.GuildID == "" || len(options) == 0 {
		b.respond(session, interaction, "this command only works in a server", true)
		return
	}
	if !hasManageGuild(interaction) {
		b.respond(session, interaction, "you need the Manage Server permission for that", true)
		return
	}

	sub := options[0]
	opts := subOptions(sub.Options)
	switch sub.Name {
	case "join":
		channel := opts["channel"].ChannelValue(session)
		if channel == nil {
			b.respond(session, interaction, "I could not resolve that channel", true)
			return
		}
		ch := globalchat.Channel{
			GuildID:    interaction.GuildID,
			ChannelID:  channel.ID,
			WebhookURL: opts["webhook_url"].StringValue(),
		}
		if role, ok := opts["ignore_role"]; ok {
			ch.IgnoreRoleID = role.RoleValue(session, interaction.GuildID).ID
		}
		if err := b.relay.Join(ctx, ch); err != nil {
			b.respond(session, interaction, "that webhook URL does not look right", true)
			return
		}
		b.respond(session, interaction, "<#"+channel.ID+"> is now part of the global chat", false)
	case "leave":
		if err := b.relay.Leave(ctx, interaction.GuildID); err != nil {
			b.respond(session, interaction, "something went wrong, try again later", true)
			return
		}
		b.respond(session, interaction, "this server left the global chat", false)
	case "ban":
		target := opts["user"].UserValue(session)
		if target == nil {
			return
		}
		if err := b.relay.Ban(ctx, target.ID); err != nil {
			b.respond(session, interaction, "something went wrong, try again later", true)
			return
		}
		b.respond(session, interaction, target.Username+" is banned from the global chat", true)
	case "unban":
		target := opts["user"].UserValue(session)
		if target == nil {
			return
		}
		if err := b.relay.Unban(ctx, target.ID); err != nil {
			b.respond(session, interaction, "something went wrong, try again later", true)
			return
		}
		b.respond(session, interaction, target.Username+" may use the global chat again", true)
	}
}

func (b *Bot) handleLevelingCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	if interaction.GuildID == "" {
		b.respond(session, interaction, "this command only works in a server", true)
		return
	}
	if !hasManageGuild(interaction) {
		b.respond(session, interaction, "you need the Manage Server permission for that", true)
		return
	}

	cfg, err := b.guilds.Get(ctx, interaction.GuildID)
	if err != nil {
		b.respond(session, interaction, "something went wrong, try again later", true)
		return
	}

	if len(options) == 0 {
		state := "off"
		if cfg.LevelingEnabled {
			state = "on"
		}
		b.respond(session, interaction, fmt.Sprintf("leveling is %s", state), true)
		return
	}

	for _, opt := range options {
		switch opt.Name {
		case "enabled":
			cfg.LevelingEnabled = opt.StringValue() == "on"
		case "announce_channel":
			if channel := opt.ChannelValue(session); channel != nil {
				cfg.AnnounceChannelID = channel.ID
			}
		case "ignore_channel":
			if channel := opt.ChannelValue(session); channel != nil {
				cfg.IgnoredChannelIDs = toggleID(cfg.IgnoredChannelIDs, channel.ID)
			}
		case "ignore_role":
			if role := opt.RoleValue(session, interaction.GuildID); role != nil {
				cfg.IgnoredRoleIDs = toggleID(cfg.IgnoredRoleIDs, role.ID)
			}
		}
	}

	if err := b.guilds.Save(ctx, cfg); err != nil {
		b.respond(session, interaction, "something went wrong, try again later", true)
		return
	}
	b.respond(session, interaction, "leveling settings updated", true)
}
