package bot

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"sentinel-guard/internal/detection"
	"sentinel-guard/internal/guildconfig"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAccountSnapshot(t *testing.T) {
	joined := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	member := &discordgo.Member{
		User:     &discordgo.User{ID: "175928847299117063", Username: "marigold"},
		Nick:     "Mari",
		JoinedAt: joined,
		Roles:    []string{"r1"},
	}

	acct := accountSnapshot("g", member)

	assert.Equal(t, "g", acct.GuildID)
	assert.Equal(t, "175928847299117063", acct.UserID)
	assert.Equal(t, "marigold", acct.Username)
	assert.Equal(t, "Mari", acct.DisplayName)
	assert.Equal(t, joined, acct.JoinedAt)
	assert.Equal(t, detection.AvatarNone, acct.Avatar)
	assert.Equal(t, []string{"r1"}, acct.Roles)
	assert.True(t, acct.CreatedAt.Equal(time.Date(2016, 4, 30, 11, 18, 25, 796_000_000, time.UTC)), "got %s", acct.CreatedAt)
}

func TestAccountSnapshotUnknownCreation(t *testing.T) {
	member := &discordgo.Member{User: &discordgo.User{ID: "not-a-snowflake", Username: "x", Avatar: "abc"}}

	acct := accountSnapshot("g", member)

	assert.True(t, acct.CreatedAt.IsZero())
	assert.Equal(t, "x", acct.DisplayName)
	assert.Equal(t, detection.AvatarCustom, acct.Avatar)
}

func TestAvatarKindUsesGuildProfile(t *testing.T) {
	member := &discordgo.Member{Avatar: "guild-hash", User: &discordgo.User{ID: "1"}}
	assert.Equal(t, detection.AvatarCustom, avatarKind(member))
}

func TestMessageSnapshot(t *testing.T) {
	sent := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	msg := &discordgo.Message{
		ID:              "m",
		ChannelID:       "c",
		GuildID:         "g",
		Content:         "hello @everyone",
		Timestamp:       sent,
		Author:          &discordgo.User{ID: "u"},
		Member:          &discordgo.Member{Roles: []string{"r1", "r2"}},
		Mentions:        []*discordgo.User{{ID: "a"}, {ID: "b"}},
		MentionRoles:    []string{"r3"},
		MentionEveryone: true,
	}

	snap := messageSnapshot(msg)

	assert.Equal(t, detection.MessageSnapshot{
		GuildID:         "g",
		ChannelID:       "c",
		MessageID:       "m",
		AuthorID:        "u",
		AuthorRoles:     []string{"r1", "r2"},
		Content:         "hello @everyone",
		Timestamp:       sent,
		Mentions:        2,
		RoleMentions:    1,
		MentionEveryone: true,
	}, snap)
}

func TestSubcommandFlattensGroups(t *testing.T) {
	options := []*discordgo.ApplicationCommandInteractionDataOption{{
		Type: discordgo.ApplicationCommandOptionSubCommandGroup,
		Name: "whitelist",
		Options: []*discordgo.ApplicationCommandInteractionDataOption{{
			Type: discordgo.ApplicationCommandOptionSubCommand,
			Name: "add",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Value: "42"},
			},
		}},
	}}

	name, opts := subcommand(options)

	assert.Equal(t, "whitelist add", name)
	require.Contains(t, opts, "user")
	assert.Equal(t, "42", optionUserID(opts))
}

func TestSubcommandWithoutOptions(t *testing.T) {
	name, opts := subcommand([]*discordgo.ApplicationCommandInteractionDataOption{
		{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "config"},
	})
	assert.Equal(t, "config", name)
	assert.Empty(t, opts)
	assert.Equal(t, "", optionUserID(opts))
}

func TestCommandDefinitionsCoverHandlers(t *testing.T) {
	defs := commandDefinitions()
	require.Len(t, defs, 1)
	assert.Equal(t, commandName, defs[0].Name)

	var names []string
	for _, opt := range defs[0].Options {
		names = append(names, opt.Name)
	}
	assert.ElementsMatch(t, []string{"config", "enable", "disable", "logchannel", "whitelist", "verification", "verify", "approve", "get", "set", "stats", "lockdown"}, names)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, `["a","b"]`, formatValue([]any{"a", "b"}))
	assert.Equal(t, "true", formatValue(true))
	assert.Equal(t, "bot: 2\nspam: 1", countLines(map[string]int{"spam": 1, "bot": 2}))
	assert.Equal(t, "enabled", enabledText(true))

	long := strings.Repeat("é", 600)
	cut := truncate(long, maxReasonLength)
	assert.Equal(t, maxReasonLength, len([]rune(cut)))
	assert.True(t, strings.HasSuffix(cut, "…"))
	assert.Equal(t, "short", truncate("short", maxReasonLength))
}

func TestRoleByName(t *testing.T) {
	roles := []*discordgo.Role{{ID: "1", Name: "Member"}, nil, {ID: "2", Name: "quarantined"}}
	role := roleByName(roles, "Quarantined")
	require.NotNil(t, role)
	assert.Equal(t, "2", role.ID)
	assert.Nil(t, roleByName(roles, "Muted"))
}

func TestConfigEmbed(t *testing.T) {
	cfg := guildconfig.Default()
	cfg.Logging.ChannelID = "123"

	embed := configEmbed(cfg)

	assert.Equal(t, "Server Protection Status", embed.Title)
	require.Len(t, embed.Fields, 6)
	assert.Equal(t, "ACTIVE", embed.Fields[0].Value)
	assert.Equal(t, "<#123>", embed.Fields[5].Value)
}

type recordedRequest struct {
	method string
	path   string
	body   []byte
}

type recordingTransport struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (r *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
	}
	r.mu.Lock()
	r.requests = append(r.requests, recordedRequest{method: req.Method, path: req.URL.Path, body: body})
	r.mu.Unlock()
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader("{}")),
		Request:    req,
	}, nil
}

func (r *recordingTransport) recorded() []recordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedRequest(nil), r.requests...)
}

func TestRespondDeferredAcknowledgesBeforeWork(t *testing.T) {
	session, err := discordgo.New("Bot test-token")
	require.NoError(t, err)
	transport := &recordingTransport{}
	session.Client = &http.Client{Transport: transport}
	b := &Bot{logger: zap.NewNop(), session: session}
	interaction := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{ID: "i1", AppID: "a1", Token: "tok", GuildID: "g"}}

	var seenBeforeBuild int
	b.respondDeferred(session, interaction, func() *discordgo.MessageEmbed {
		seenBeforeBuild = len(transport.recorded())
		return commandEmbed("Verification Sent", "sent", colorInfo, nil)
	})

	assert.Equal(t, 1, seenBeforeBuild, "the interaction must be acknowledged before the slow work runs")
	requests := transport.recorded()
	require.Len(t, requests, 2)

	assert.Equal(t, http.MethodPost, requests[0].method)
	assert.True(t, strings.HasSuffix(requests[0].path, "/interactions/i1/tok/callback"), requests[0].path)
	var ack struct {
		Type int `json:"type"`
	}
	require.NoError(t, json.Unmarshal(requests[0].body, &ack))
	assert.Equal(t, int(discordgo.InteractionResponseDeferredChannelMessageWithSource), ack.Type)

	assert.Equal(t, http.MethodPatch, requests[1].method)
	assert.True(t, strings.HasSuffix(requests[1].path, "/webhooks/a1/tok/messages/@original"), requests[1].path)
	assert.Contains(t, string(requests[1].body), "Verification Sent")
}
