package bot

import (
	"context"
	"fmt"
	"time"

	"sentinel-guard/internal/analytics"
	"sentinel-guard/internal/audit"
	"sentinel-guard/internal/detection"
	"sentinel-guard/internal/dispatch"
	"sentinel-guard/internal/guildconfig"
	"sentinel-guard/internal/playbook"
	"sentinel-guard/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const eventTimeout = 30 * time.Second

// Deps are the components the gateway handlers drive. Analytics may be nil.
type Deps struct {
	Configs    *guildconfig.Store
	Engine     *detection.Engine
	Dispatcher *dispatch.Dispatcher
	Playbook   *playbook.Engine
	Audit      *audit.Logger
	Analytics  *analytics.Service
}

type Bot struct {
	logger     *zap.Logger
	session    *discordgo.Session
	configs    *guildconfig.Store
	engine     *detection.Engine
	dispatcher *dispatch.Dispatcher
	playbook   *playbook.Engine
	audit      *audit.Logger
	analytics  *analytics.Service
}

// NewSession opens nothing yet; it prepares a gateway session with the intents the bot needs.
func NewSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	return session, nil
}

func New(session *discordgo.Session, deps Deps, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bot{
		logger:     logger,
		session:    session,
		configs:    deps.Configs,
		engine:     deps.Engine,
		dispatcher: deps.Dispatcher,
		playbook:   deps.Playbook,
		audit:      deps.Audit,
		analytics:  deps.Analytics,
	}
	if b.audit != nil {
		b.audit.SetNotifier(b.notifyAudit)
	}
	return b
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onGuildCreate)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onGuildMemberRemove)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}
	if err := b.registerCommands(); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	return nil
}

func (b *Bot) Close() {
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) onGuildCreate(_ *discordgo.Session, event *discordgo.GuildCreate) {
	if event.Guild == nil || event.Guild.Unavailable {
		return
	}
	if !b.configs.Init(event.Guild.ID) {
		b.logger.Warn("could not initialize guild config", zap.String("guild_id", event.Guild.ID))
	}
}

func (b *Bot) onGuildMemberAdd(_ *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.Member == nil || event.Member.User == nil || event.GuildID == "" {
		return
	}
	// Integrations are added by administrators.
	if event.Member.User.Bot {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	acct := accountSnapshot(event.GuildID, event.Member)
	b.logger.Info("member joined", zap.String("guild_id", event.GuildID), zap.String("user_id", acct.UserID))
	for _, decision := range b.engine.OnMemberJoin(ctx, acct) {
		b.dispatcher.Dispatch(ctx, decision)
	}
}

func (b *Bot) onGuildMemberRemove(_ *discordgo.Session, event *discordgo.GuildMemberRemove) {
	if event.Member == nil || event.Member.User == nil {
		return
	}
	userID := event.Member.User.ID
	b.engine.Forget(event.GuildID, userID)
	if challenge, ok := b.dispatcher.Verifications().Pending(userID); ok && challenge.GuildID == event.GuildID {
		b.dispatcher.Verifications().Cancel(userID)
	}
}

func (b *Bot) onMessageCreate(_ *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	if msg.GuildID == "" {
		b.dispatcher.HandleVerificationReply(ctx, msg.Author.ID, msg.Content)
		return
	}

	decision := b.engine.OnMessage(ctx, messageSnapshot(msg.Message))
	if decision.Flagged() {
		b.dispatcher.Dispatch(ctx, decision)
	}
}

// notifyAudit mirrors failed actions to the guild log channel.
func (b *Bot) notifyAudit(_ context.Context, entry storage.AuditLog) {
	if entry.Event != audit.EventActionFailed || entry.GuildID == "" {
		return
	}
	cfg := b.configs.Get(entry.GuildID)
	if !cfg.Logging.Enabled || cfg.Logging.ChannelID == "" {
		return
	}
	content := "Action failed"
	if entry.UserID != "" {
		content += fmt.Sprintf(" for <@%s>", entry.UserID)
	}
	content += ": " + entry.Details
	if _, err := b.session.ChannelMessageSend(cfg.Logging.ChannelID, truncate(content, maxMessageLength)); err != nil {
		b.logger.Warn("send audit notification", zap.String("guild_id", entry.GuildID), zap.Error(err))
	}
}
