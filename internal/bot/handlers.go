package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"sentinel-guard/internal/audit"
	"sentinel-guard/internal/detection"
	"sentinel-guard/internal/guildconfig"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	colorOK    = 0x00FF88
	colorInfo  = 0x5865F2
	colorError = 0xFF4444
)

type commandOptions map[string]*discordgo.ApplicationCommandInteractionDataOption

// subcommand flattens "group sub" paths and collects the leaf options by name.
func subcommand(options []*discordgo.ApplicationCommandInteractionDataOption) (string, commandOptions) {
	var path []string
	for len(options) == 1 && (options[0].Type == discordgo.ApplicationCommandOptionSubCommandGroup ||
		options[0].Type == discordgo.ApplicationCommandOptionSubCommand) {
		path = append(path, options[0].Name)
		options = options[0].Options
	}
	opts := make(commandOptions, len(options))
	for _, opt := range options {
		opts[opt.Name] = opt
	}
	return strings.Join(path, " "), opts
}

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := interaction.ApplicationCommandData()
	if data.Name != commandName {
		return
	}
	if interaction.GuildID == "" {
		b.respondEmbed(session, interaction, commandEmbed("Anti-Spam", "This command only works inside a server.", colorError, nil))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	name, opts := subcommand(data.Options)
	guildID := interaction.GuildID
	switch name {
	case "config":
		b.respondEmbed(session, interaction, configEmbed(b.configs.Get(guildID)))
	case "enable", "disable":
		enabled := name == "enable"
		b.updateSetting(session, interaction, "enabled", enabled, "Protection "+enabledText(enabled))
	case "logchannel":
		channelID := interaction.ChannelID
		if opt := opts["channel"]; opt != nil {
			channelID = opt.ChannelValue(nil).ID
		}
		cfg := b.configs.Get(guildID)
		cfg.Logging.ChannelID = channelID
		cfg.Logging.Enabled = true
		if !b.configs.Save(guildID, cfg) {
			b.respondEmbed(session, interaction, commandEmbed("Logging", "Could not save the log channel.", colorError, nil))
			return
		}
		b.respondEmbed(session, interaction, commandEmbed("Logging", fmt.Sprintf("Moderation actions will be logged in <#%s>.", channelID), colorInfo, nil))
	case "whitelist add", "whitelist remove":
		userID := optionUserID(opts)
		var ok bool
		if name == "whitelist add" {
			ok = b.configs.AddWhitelistUser(guildID, userID)
		} else {
			ok = b.configs.RemoveWhitelistUser(guildID, userID)
		}
		if !ok {
			b.respondEmbed(session, interaction, commandEmbed("Whitelist", "Could not update the whitelist.", colorError, nil))
			return
		}
		b.audit.Log(ctx, audit.LevelInfo, guildID, userID, audit.EventWhitelist, name)
		b.respondEmbed(session, interaction, commandEmbed("Whitelist", fmt.Sprintf("Whitelist updated for <@%s>.", userID), colorOK, nil))
	case "verification":
		opt := opts["enabled"]
		if opt == nil {
			status := enabledText(b.configs.Get(guildID).Verification.Enabled)
			b.respondEmbed(session, interaction, commandEmbed("Captcha Verification", "Verification is currently "+status+".", colorInfo, nil))
			return
		}
		enabled := opt.BoolValue()
		b.updateSetting(session, interaction, "verification.enabled", enabled, "Verification "+enabledText(enabled))
	case "verify":
		user := opts["user"].UserValue(session)
		if user == nil || user.Bot {
			b.respondEmbed(session, interaction, commandEmbed("Verification", "Bots cannot be verified through the captcha system.", colorError, nil))
			return
		}
		b.respondDeferred(session, interaction, func() *discordgo.MessageEmbed {
			return b.startVerification(ctx, guildID, user.ID)
		})
	case "approve":
		userID := optionUserID(opts)
		b.respondDeferred(session, interaction, func() *discordgo.MessageEmbed {
			return b.approve(ctx, guildID, userID)
		})
	case "get":
		path := opts["path"].StringValue()
		value, ok := b.configs.Setting(guildID, path)
		if !ok {
			b.respondEmbed(session, interaction, commandEmbed("Settings", fmt.Sprintf("Unknown setting `%s`.", path), colorError, nil))
			return
		}
		b.respondEmbed(session, interaction, commandEmbed("Settings", fmt.Sprintf("`%s` = `%s`", path, formatValue(value)), colorInfo, nil))
	case "set":
		path := opts["path"].StringValue()
		value := guildconfig.ParseValue(opts["value"].StringValue())
		b.updateSetting(session, interaction, path, value, "Setting updated")
	case "stats":
		hours := int64(24)
		if opt := opts["hours"]; opt != nil {
			hours = opt.IntValue()
		}
		b.respondDeferred(session, interaction, func() *discordgo.MessageEmbed {
			return b.statsEmbed(ctx, guildID, time.Duration(hours)*time.Hour)
		})
	case "lockdown":
		if opt := opts["action"]; opt != nil && opt.StringValue() == "end" {
			if !b.playbook.EndLockdown(ctx, guildID) {
				b.respondEmbed(session, interaction, commandEmbed("Lockdown", "No lockdown is active.", colorInfo, nil))
				return
			}
			b.engine.ResetRaid(guildID)
			b.respondEmbed(session, interaction, commandEmbed("Lockdown", "Lockdown ended; the previous verification setting is restored.", colorOK, nil))
			return
		}
		state := b.playbook.IsLockdown(guildID)
		joins := b.engine.RecentJoins(guildID)
		if !state.Lockdown {
			b.respondEmbed(session, interaction, commandEmbed("Lockdown", fmt.Sprintf("No lockdown is active. Recent joins: %d.", joins), colorInfo, nil))
			return
		}
		b.respondEmbed(session, interaction, commandEmbed("Lockdown", fmt.Sprintf("Lockdown active until <t:%d:t>. Recent joins: %d.", state.Until.Unix(), joins), colorError, nil))
	default:
		b.respondEmbed(session, interaction, commandEmbed("Anti-Spam", "Unknown subcommand.", colorError, nil))
	}
}

func (b *Bot) updateSetting(session *discordgo.Session, interaction *discordgo.InteractionCreate, path string, value any, title string) {
	if !b.configs.UpdateSetting(interaction.GuildID, path, value) {
		b.respondEmbed(session, interaction, commandEmbed("Settings", fmt.Sprintf("Could not set `%s`; check the path and value type.", path), colorError, nil))
		return
	}
	var actorID string
	if interaction.Member != nil && interaction.Member.User != nil {
		actorID = interaction.Member.User.ID
	}
	b.audit.Log(context.Background(), audit.LevelInfo, interaction.GuildID, actorID, audit.EventConfig, fmt.Sprintf("%s = %s", path, formatValue(value)))
	b.respondEmbed(session, interaction, commandEmbed(title, fmt.Sprintf("`%s` = `%s`", path, formatValue(value)), colorOK, nil))
}

func (b *Bot) startVerification(ctx context.Context, guildID, userID string) *discordgo.MessageEmbed {
	b.dispatcher.Dispatch(ctx, detection.Decision{
		ID:        uuid.NewString(),
		Kind:      detection.KindNeedsVerification,
		Trigger:   detection.TriggerCommand,
		GuildID:   guildID,
		UserID:    userID,
		Reasons:   []string{"verification requested by a moderator"},
		Action:    guildconfig.ActionQuarantine,
		CreatedAt: time.Now(),
	})
	if _, pending := b.dispatcher.Verifications().Pending(userID); !pending {
		return commandEmbed("Verification", "Could not send the challenge; the member may have direct messages disabled.", colorError, nil)
	}
	return commandEmbed("Verification Sent", fmt.Sprintf("A captcha challenge was sent to <@%s>.", userID), colorInfo, nil)
}

func (b *Bot) approve(ctx context.Context, guildID, userID string) *discordgo.MessageEmbed {
	if err := b.dispatcher.ManualVerify(ctx, guildID, userID); err != nil {
		b.logger.Warn("manual verification failed", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
		return commandEmbed("Verification", "Could not lift the quarantine. Check the bot's permissions.", colorError, nil)
	}
	return commandEmbed("Verification", fmt.Sprintf("<@%s> is now verified.", userID), colorOK, nil)
}

func (b *Bot) statsEmbed(ctx context.Context, guildID string, window time.Duration) *discordgo.MessageEmbed {
	if b.analytics == nil {
		return commandEmbed("Statistics", "Statistics need an audit database.", colorError, nil)
	}
	report, err := b.analytics.Report(ctx, guildID, time.Now().Add(-window))
	if err != nil {
		b.logger.Warn("stats report failed", zap.String("guild_id", guildID), zap.Error(err))
		return commandEmbed("Statistics", "Could not build the report.", colorError, nil)
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Total", Value: fmt.Sprintf("%d", report.Total), Inline: true},
		{Name: "Warnings", Value: fmt.Sprintf("%d", report.ByLevel[audit.LevelWarn]), Inline: true},
		{Name: "Critical", Value: fmt.Sprintf("%d", report.ByLevel[audit.LevelCrit]), Inline: true},
	}
	if events := countLines(report.ByEvent); events != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "By event", Value: events})
	}
	if len(report.TopUsers) > 0 {
		var lines []string
		for _, user := range report.TopUsers {
			lines = append(lines, fmt.Sprintf("<@%s>: %d", user.UserID, user.Count))
		}
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Most flagged", Value: strings.Join(lines, "\n")})
	}
	return commandEmbed("Statistics", fmt.Sprintf("Last %s", window), colorInfo, fields)
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		b.logger.Warn("interaction respond failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
	}
}

// respondDeferred acknowledges the interaction before running build, then edits the
// reply with its embed. Commands that call the REST API or the database go through here
// so they are not cut off by the interaction deadline.
func (b *Bot) respondDeferred(session *discordgo.Session, interaction *discordgo.InteractionCreate, build func() *discordgo.MessageEmbed) {
	err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	deferred := err == nil
	if !deferred {
		b.logger.Warn("interaction defer failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
	}

	embeds := []*discordgo.MessageEmbed{build()}
	if !deferred {
		return
	}
	if _, err := session.InteractionResponseEdit(interaction.Interaction, &discordgo.WebhookEdit{Embeds: &embeds}); err != nil {
		b.logger.Warn("interaction edit failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
	}
}

func configEmbed(cfg guildconfig.GuildConfig) *discordgo.MessageEmbed {
	status := "DISABLED"
	if cfg.Enabled {
		status = "ACTIVE"
	}
	logChannel := "not set"
	if cfg.Logging.ChannelID != "" {
		logChannel = "<#" + cfg.Logging.ChannelID + ">"
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Protection", Value: status, Inline: true},
		{Name: "Bot Detection", Value: fmt.Sprintf("Action: %s\nMin age: %d days", cfg.BotDetection.Action, cfg.BotDetection.MinAccountAgeDays), Inline: true},
		{Name: "Spam Detection", Value: fmt.Sprintf("Action: %s\nMax messages: %d per %ds", cfg.SpamDetection.Action, cfg.SpamDetection.MaxMessagesPerWindow, cfg.SpamDetection.TimeWindowSeconds), Inline: true},
		{Name: "Raid Protection", Value: fmt.Sprintf("Action: %s\n%d joins per %ds", cfg.RaidProtection.Action, cfg.RaidProtection.MaxJoins, cfg.RaidProtection.TimeWindow), Inline: true},
		{Name: "Verification", Value: fmt.Sprintf("%t (%d min)", cfg.Verification.Enabled, cfg.Verification.TimeoutMinutes), Inline: true},
		{Name: "Log channel", Value: logChannel, Inline: true},
	}
	return commandEmbed("Server Protection Status", "Current configuration", colorOK, fields)
}

func commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}

func optionUserID(opts commandOptions) string {
	opt := opts["user"]
	if opt == nil {
		return ""
	}
	return opt.UserValue(nil).ID
}

func enabledText(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func formatValue(value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return truncate(string(data), 1000)
}

func countLines(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("%s: %d", key, counts[key]))
	}
	return strings.Join(lines, "\n")
}
