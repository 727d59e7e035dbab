package bot

import (
	"time"

	"sentinel-guard/internal/detection"

	"github.com/bwmarrin/discordgo"
)

func accountSnapshot(guildID string, member *discordgo.Member) detection.AccountSnapshot {
	user := member.User
	acct := detection.AccountSnapshot{
		GuildID:     guildID,
		UserID:      user.ID,
		Username:    user.Username,
		DisplayName: displayName(member),
		JoinedAt:    member.JoinedAt,
		Avatar:      avatarKind(member),
		Roles:       append([]string(nil), member.Roles...),
	}
	if created, err := discordgo.SnowflakeTimestamp(user.ID); err == nil {
		acct.CreatedAt = created
	}
	return acct
}

func messageSnapshot(msg *discordgo.Message) detection.MessageSnapshot {
	snap := detection.MessageSnapshot{
		GuildID:         msg.GuildID,
		ChannelID:       msg.ChannelID,
		MessageID:       msg.ID,
		Content:         msg.Content,
		Timestamp:       msg.Timestamp,
		Mentions:        len(msg.Mentions),
		RoleMentions:    len(msg.MentionRoles),
		MentionEveryone: msg.MentionEveryone,
	}
	if msg.Author != nil {
		snap.AuthorID = msg.Author.ID
	}
	if msg.Member != nil {
		snap.AuthorRoles = append([]string(nil), msg.Member.Roles...)
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now()
	}
	return snap
}

// avatarKind reports AvatarNone when neither the user nor the guild profile sets an image.
func avatarKind(member *discordgo.Member) detection.Avatar {
	if member.Avatar != "" || (member.User != nil && member.User.Avatar != "") {
		return detection.AvatarCustom
	}
	return detection.AvatarNone
}

func displayName(member *discordgo.Member) string {
	if member.Nick != "" {
		return member.Nick
	}
	return member.User.Username
}
