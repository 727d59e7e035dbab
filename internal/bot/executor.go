package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"sentinel-guard/internal/dispatch"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	maxMessageLength = 2000
	maxReasonLength  = 512
)

const quarantineChannelDeny = discordgo.PermissionSendMessages | discordgo.PermissionAddReactions

const quarantineVoiceDeny = discordgo.PermissionVoiceConnect | discordgo.PermissionVoiceSpeak

// Executor carries out dispatcher actions through the REST API.
type Executor struct {
	session *discordgo.Session
	logger  *zap.Logger
	roleMu  sync.Mutex
}

var _ dispatch.Executor = (*Executor)(nil)

func NewExecutor(session *discordgo.Session, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{session: session, logger: logger}
}

func (e *Executor) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.session.ChannelMessageDelete(channelID, messageID)
}

// Quarantine strips the member's roles and adds the quarantine role, creating it when missing.
func (e *Executor) Quarantine(ctx context.Context, guildID, userID, roleName, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	role, err := e.quarantineRole(guildID, roleName)
	if err != nil {
		return err
	}
	member, err := e.session.GuildMember(guildID, userID)
	if err != nil {
		return fmt.Errorf("fetch member: %w", err)
	}
	for _, roleID := range member.Roles {
		if roleID == role.ID {
			continue
		}
		if err := e.session.GuildMemberRoleRemove(guildID, userID, roleID); err != nil {
			e.logger.Warn("could not remove role during quarantine", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("role_id", roleID), zap.Error(err))
		}
	}
	if err := e.session.GuildMemberRoleAdd(guildID, userID, role.ID); err != nil {
		return fmt.Errorf("add quarantine role: %w", err)
	}
	e.logger.Info("member quarantined", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("reason", truncate(reason, maxReasonLength)))
	return nil
}

func (e *Executor) RemoveQuarantine(ctx context.Context, guildID, userID, roleName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	role, err := e.findRole(guildID, roleName)
	if err != nil {
		return err
	}
	if role == nil {
		return nil
	}
	return e.session.GuildMemberRoleRemove(guildID, userID, role.ID)
}

func (e *Executor) Kick(ctx context.Context, guildID, userID, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.session.GuildMemberDeleteWithReason(guildID, userID, truncate(reason, maxReasonLength))
}

func (e *Executor) Ban(ctx context.Context, guildID, userID, reason string, deleteMessageDays int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.session.GuildBanCreateWithReason(guildID, userID, truncate(reason, maxReasonLength), deleteMessageDays)
}

func (e *Executor) Timeout(ctx context.Context, guildID, userID string, until time.Time, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.session.GuildMemberTimeout(guildID, userID, &until)
}

func (e *Executor) SendDirectMessage(ctx context.Context, userID, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	channel, err := e.session.UserChannelCreate(userID)
	if err != nil {
		return fmt.Errorf("open dm channel: %w", err)
	}
	_, err = e.session.ChannelMessageSend(channel.ID, truncate(content, maxMessageLength))
	return err
}

func (e *Executor) SendChannelMessage(ctx context.Context, channelID, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := e.session.ChannelMessageSend(channelID, truncate(content, maxMessageLength))
	return err
}

func (e *Executor) quarantineRole(guildID, roleName string) (*discordgo.Role, error) {
	e.roleMu.Lock()
	defer e.roleMu.Unlock()

	role, err := e.findRole(guildID, roleName)
	if err != nil || role != nil {
		return role, err
	}

	perms := int64(discordgo.PermissionViewChannel | discordgo.PermissionReadMessageHistory)
	role, err = e.session.GuildRoleCreate(guildID, &discordgo.RoleParams{Name: roleName, Permissions: &perms})
	if err != nil {
		return nil, fmt.Errorf("create quarantine role: %w", err)
	}

	channels, err := e.session.GuildChannels(guildID)
	if err != nil {
		e.logger.Warn("could not list channels for quarantine overwrites", zap.String("guild_id", guildID), zap.Error(err))
		return role, nil
	}
	for _, channel := range channels {
		var deny int64
		switch channel.Type {
		case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
			deny = quarantineChannelDeny
		case discordgo.ChannelTypeGuildVoice:
			deny = quarantineVoiceDeny
		default:
			continue
		}
		if err := e.session.ChannelPermissionSet(channel.ID, role.ID, discordgo.PermissionOverwriteTypeRole, 0, deny); err != nil {
			e.logger.Debug("skip quarantine overwrite", zap.String("channel_id", channel.ID), zap.Error(err))
		}
	}
	return role, nil
}

func (e *Executor) findRole(guildID, roleName string) (*discordgo.Role, error) {
	roles, err := e.session.GuildRoles(guildID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roleByName(roles, roleName), nil
}

func roleByName(roles []*discordgo.Role, name string) *discordgo.Role {
	for _, role := range roles {
		if role != nil && strings.EqualFold(role.Name, name) {
			return role
		}
	}
	return nil
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
