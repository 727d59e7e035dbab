// Package dispatch carries out the remediation attached to a decision. Failures end here:
// they are logged and audited but never returned to the detection side.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sentinel-guard/internal/audit"
	"sentinel-guard/internal/cooldown"
	"sentinel-guard/internal/detection"
	"sentinel-guard/internal/guildconfig"
	"sentinel-guard/internal/verification"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Executor performs actions on the chat platform.
type Executor interface {
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	Quarantine(ctx context.Context, guildID, userID, roleName, reason string) error
	RemoveQuarantine(ctx context.Context, guildID, userID, roleName string) error
	Kick(ctx context.Context, guildID, userID, reason string) error
	Ban(ctx context.Context, guildID, userID, reason string, deleteMessageDays int) error
	Timeout(ctx context.Context, guildID, userID string, until time.Time, reason string) error
	SendDirectMessage(ctx context.Context, userID, content string) error
	SendChannelMessage(ctx context.Context, channelID, content string) error
}

type ConfigSource interface {
	Get(guildID string) guildconfig.GuildConfig
}

type Lockdowns interface {
	TriggerLockdown(ctx context.Context, guildID string) bool
}

type Infractions interface {
	IncrementInfraction(ctx context.Context, guildID, userID, category, lastAction string, forgiveAfter time.Duration) (int, error)
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Config struct {
	QuarantineRole       string
	DeleteMessageDays    int
	ActionTimeout        time.Duration
	RatePerSecond        float64
	Burst                int
	InfractionForgiveAge time.Duration
	VerificationAttempts int
}

func (c Config) withDefaults() Config {
	if c.QuarantineRole == "" {
		c.QuarantineRole = "Quarantined"
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = 15 * time.Second
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 5
	}
	if c.Burst <= 0 {
		c.Burst = 5
	}
	if c.DeleteMessageDays < 0 || c.DeleteMessageDays > 7 {
		c.DeleteMessageDays = 1
	}
	return c
}

type Dispatcher struct {
	cfg         Config
	exec        Executor
	configs     ConfigSource
	cooldowns   cooldown.Store
	audit       *audit.Logger
	lockdowns   Lockdowns
	infractions Infractions
	verify      *verification.Manager
	limiters    *xsync.MapOf[string, *rate.Limiter]
	logger      *zap.Logger
	clock       Clock
}

// New wires a dispatcher. lockdowns and infractions may be nil.
func New(cfg Config, exec Executor, configs ConfigSource, cooldowns cooldown.Store, auditLogger *audit.Logger, lockdowns Lockdowns, infractions Infractions, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		cfg:         cfg.withDefaults(),
		exec:        exec,
		configs:     configs,
		cooldowns:   cooldowns,
		audit:       auditLogger,
		lockdowns:   lockdowns,
		infractions: infractions,
		limiters:    xsync.NewMapOf[string, *rate.Limiter](),
		logger:      logger,
		clock:       realClock{},
	}
	d.verify = verification.NewManager(d.cfg.VerificationAttempts, d.verificationExpired)
	return d
}

func (d *Dispatcher) WithClock(clock Clock) {
	d.clock = clock
}

func (d *Dispatcher) Verifications() *verification.Manager {
	return d.verify
}

// Dispatch executes the action attached to decision.
func (d *Dispatcher) Dispatch(ctx context.Context, decision detection.Decision) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.ActionTimeout)
	defer cancel()

	cfg := d.configs.Get(decision.GuildID)
	switch decision.Kind {
	case detection.KindClean:
		if decision.Trigger == detection.TriggerMemberJoin && cfg.Logging.LogJoins {
			d.sendLog(ctx, cfg, decision.GuildID, fmt.Sprintf("Member joined: <@%s>", decision.UserID))
		}
	case detection.KindBot:
		d.remediate(ctx, cfg, decision, decision.Action)
	case detection.KindSpam:
		if decision.MessageID != "" {
			if err := d.call(ctx, decision.GuildID, func(ctx context.Context) error {
				return d.exec.DeleteMessage(ctx, decision.ChannelID, decision.MessageID)
			}); err != nil {
				d.logger.Warn("delete spam message", zap.String("guild_id", decision.GuildID), zap.String("message_id", decision.MessageID), zap.Error(err))
			}
		}
		d.remediate(ctx, cfg, decision, decision.Action)
	case detection.KindRaid:
		d.raid(ctx, cfg, decision)
	case detection.KindNeedsVerification:
		d.startVerification(ctx, cfg, decision)
	default:
		d.logger.Warn("unknown decision kind", zap.String("kind", string(decision.Kind)), zap.String("guild_id", decision.GuildID))
	}
}

func (d *Dispatcher) remediate(ctx context.Context, cfg guildconfig.GuildConfig, decision detection.Decision, action string) {
	reason := reasonText(decision)
	key := cooldown.Key(decision.GuildID, decision.UserID, action)
	acquired, err := d.cooldowns.Acquire(ctx, key)
	if err != nil {
		d.logger.Warn("cooldown unavailable, acting anyway", zap.String("guild_id", decision.GuildID), zap.Error(err))
		acquired = true
	}
	if !acquired {
		actionsCounter.WithLabelValues(action, "cooldown").Inc()
		d.logger.Debug("action suppressed by cooldown", zap.String("guild_id", decision.GuildID), zap.String("user_id", decision.UserID), zap.String("action", action))
		return
	}

	err = d.call(ctx, decision.GuildID, func(ctx context.Context) error {
		return d.execute(ctx, cfg, decision, action, reason)
	})
	if err != nil {
		_ = d.cooldowns.Release(ctx, key)
		actionsCounter.WithLabelValues(action, "error").Inc()
		d.logger.Error("remediation failed",
			zap.String("guild_id", decision.GuildID),
			zap.String("user_id", decision.UserID),
			zap.String("action", action),
			zap.String("decision_id", decision.ID),
			zap.Error(err),
		)
		d.audit.Log(ctx, audit.LevelCrit, decision.GuildID, decision.UserID, audit.EventActionFailed, fmt.Sprintf("%s %s: %v", decision.Kind, action, err))
		return
	}
	actionsCounter.WithLabelValues(action, "ok").Inc()

	details := fmt.Sprintf("%s %s (%d/%d, %.0f%%): %s", decision.Kind, action, decision.Score, decision.MaxScore, decision.Percent, reason)
	if d.infractions != nil {
		count, err := d.infractions.IncrementInfraction(ctx, decision.GuildID, decision.UserID, string(decision.Kind), action, d.cfg.InfractionForgiveAge)
		if err != nil {
			d.logger.Warn("record infraction", zap.String("guild_id", decision.GuildID), zap.String("user_id", decision.UserID), zap.Error(err))
		} else {
			details = fmt.Sprintf("%s [infraction #%d]", details, count)
		}
	}
	d.audit.Log(ctx, audit.LevelWarn, decision.GuildID, decision.UserID, string(decision.Kind), details)

	if shouldLog(cfg.Logging, action) {
		d.sendLog(ctx, cfg, decision.GuildID, fmt.Sprintf("%s: <@%s> %s. %s", titleFor(decision.Kind), decision.UserID, pastTense(action), reason))
	}
}

func (d *Dispatcher) execute(ctx context.Context, cfg guildconfig.GuildConfig, decision detection.Decision, action, reason string) error {
	switch action {
	case guildconfig.ActionQuarantine:
		return d.exec.Quarantine(ctx, decision.GuildID, decision.UserID, d.quarantineRole(cfg), reason)
	case guildconfig.ActionKick:
		return d.exec.Kick(ctx, decision.GuildID, decision.UserID, reason)
	case guildconfig.ActionBan:
		return d.exec.Ban(ctx, decision.GuildID, decision.UserID, reason, d.cfg.DeleteMessageDays)
	case guildconfig.ActionTimeout:
		seconds := cfg.SpamDetection.TimeoutSeconds
		if seconds <= 0 {
			seconds = 300
		}
		until := d.clock.Now().Add(time.Duration(seconds) * time.Second)
		return d.exec.Timeout(ctx, decision.GuildID, decision.UserID, until, reason)
	}
	return fmt.Errorf("unsupported action %q for %s decision", action, decision.Kind)
}

func (d *Dispatcher) raid(ctx context.Context, cfg guildconfig.GuildConfig, decision detection.Decision) {
	reason := reasonText(decision)
	switch decision.Action {
	case guildconfig.ActionLockdown:
		if d.lockdowns == nil {
			d.logger.Warn("lockdown requested but no playbook configured", zap.String("guild_id", decision.GuildID))
			break
		}
		if !d.lockdowns.TriggerLockdown(ctx, decision.GuildID) {
			actionsCounter.WithLabelValues(guildconfig.ActionLockdown, "cooldown").Inc()
			return
		}
		actionsCounter.WithLabelValues(guildconfig.ActionLockdown, "ok").Inc()
	case guildconfig.ActionAlert:
		actionsCounter.WithLabelValues(guildconfig.ActionAlert, "ok").Inc()
	default:
		d.logger.Warn("unsupported raid action", zap.String("guild_id", decision.GuildID), zap.String("action", decision.Action))
	}

	d.audit.Log(ctx, audit.LevelCrit, decision.GuildID, "", string(detection.KindRaid), fmt.Sprintf("%s: %s activated", reason, decision.Action))
	if shouldLog(cfg.Logging, decision.Action) {
		d.sendLog(ctx, cfg, decision.GuildID, fmt.Sprintf("Raid Protection: raid detected (%s), %s activated", reason, decision.Action))
	}
}

func (d *Dispatcher) startVerification(ctx context.Context, cfg guildconfig.GuildConfig, decision detection.Decision) {
	timeout := time.Duration(cfg.Verification.TimeoutMinutes) * time.Minute
	if timeout <= 0 {
		timeout = verification.DefaultTimeout
	}
	challenge := d.verify.Start(decision.GuildID, decision.UserID, timeout)
	prompt := fmt.Sprintf("To verify you're human and gain access to the server, reply with the answer to: %s (verification ID %s). You have %s.",
		challenge.Question(), challenge.ID, timeout)

	if err := d.call(ctx, decision.GuildID, func(ctx context.Context) error {
		return d.exec.SendDirectMessage(ctx, decision.UserID, prompt)
	}); err != nil {
		d.verify.Cancel(decision.UserID)
		actionsCounter.WithLabelValues("verification", "error").Inc()
		d.logger.Warn("could not send verification message", zap.String("guild_id", decision.GuildID), zap.String("user_id", decision.UserID), zap.Error(err))
		return
	}
	d.remediate(ctx, cfg, decision, guildconfig.ActionQuarantine)
}

// HandleVerificationReply processes a direct message from a member. It returns false when
// the member has no pending challenge.
func (d *Dispatcher) HandleVerificationReply(ctx context.Context, userID, text string) bool {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.ActionTimeout)
	defer cancel()

	result := d.verify.Answer(userID, text)
	challenge := result.Challenge
	switch result.Outcome {
	case verification.OutcomeUnknown:
		return false
	case verification.OutcomeInvalid:
		d.reply(ctx, challenge.GuildID, userID, "Please respond with just the number (e.g. 15).")
	case verification.OutcomeRetry:
		d.reply(ctx, challenge.GuildID, userID, fmt.Sprintf("That's not correct. You have %d attempts remaining.", result.AttemptsLeft))
	case verification.OutcomePassed:
		cfg := d.configs.Get(challenge.GuildID)
		err := d.call(ctx, challenge.GuildID, func(ctx context.Context) error {
			return d.exec.RemoveQuarantine(ctx, challenge.GuildID, userID, d.quarantineRole(cfg))
		})
		if err != nil {
			d.logger.Error("remove quarantine", zap.String("guild_id", challenge.GuildID), zap.String("user_id", userID), zap.Error(err))
			d.audit.Log(ctx, audit.LevelCrit, challenge.GuildID, userID, audit.EventActionFailed, fmt.Sprintf("remove quarantine: %v", err))
		} else {
			_ = d.cooldowns.Release(ctx, cooldown.Key(challenge.GuildID, userID, guildconfig.ActionQuarantine))
		}
		d.reply(ctx, challenge.GuildID, userID, "Verification successful! You now have full access to the server.")
		d.audit.Log(ctx, audit.LevelInfo, challenge.GuildID, userID, audit.EventVerification, "passed captcha verification")
		if cfg.Logging.LogDetections {
			d.sendLog(ctx, cfg, challenge.GuildID, fmt.Sprintf("Verification: <@%s> successfully completed captcha verification", userID))
		}
	case verification.OutcomeFailed:
		d.reply(ctx, challenge.GuildID, userID, "Too many incorrect attempts. You will be removed from the server.")
		d.failVerification(ctx, challenge, fmt.Sprintf("failed captcha verification (%d attempts)", challenge.Attempts))
	}
	return true
}

// ManualVerify clears a pending challenge and lifts the quarantine of a member.
func (d *Dispatcher) ManualVerify(ctx context.Context, guildID, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.ActionTimeout)
	defer cancel()

	d.verify.Cancel(userID)
	cfg := d.configs.Get(guildID)
	if err := d.call(ctx, guildID, func(ctx context.Context) error {
		return d.exec.RemoveQuarantine(ctx, guildID, userID, d.quarantineRole(cfg))
	}); err != nil {
		return fmt.Errorf("remove quarantine: %w", err)
	}
	_ = d.cooldowns.Release(ctx, cooldown.Key(guildID, userID, guildconfig.ActionQuarantine))
	d.audit.Log(ctx, audit.LevelInfo, guildID, userID, audit.EventVerification, "manually verified")
	return nil
}

func (d *Dispatcher) verificationExpired(challenge verification.Challenge) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ActionTimeout)
	defer cancel()

	d.reply(ctx, challenge.GuildID, challenge.UserID, "Your verification has expired. Please rejoin the server to try again.")
	d.failVerification(ctx, challenge, "failed to complete verification within time limit")
}

func (d *Dispatcher) failVerification(ctx context.Context, challenge verification.Challenge, reason string) {
	cfg := d.configs.Get(challenge.GuildID)
	err := d.call(ctx, challenge.GuildID, func(ctx context.Context) error {
		return d.exec.Kick(ctx, challenge.GuildID, challenge.UserID, reason)
	})
	if err != nil {
		actionsCounter.WithLabelValues(guildconfig.ActionKick, "error").Inc()
		d.logger.Error("kick after failed verification", zap.String("guild_id", challenge.GuildID), zap.String("user_id", challenge.UserID), zap.Error(err))
		d.audit.Log(ctx, audit.LevelCrit, challenge.GuildID, challenge.UserID, audit.EventActionFailed, fmt.Sprintf("verification kick: %v", err))
		return
	}
	actionsCounter.WithLabelValues(guildconfig.ActionKick, "ok").Inc()
	d.audit.Log(ctx, audit.LevelWarn, challenge.GuildID, challenge.UserID, audit.EventVerification, reason)
	if shouldLog(cfg.Logging, guildconfig.ActionKick) {
		d.sendLog(ctx, cfg, challenge.GuildID, fmt.Sprintf("Verification: <@%s> %s", challenge.UserID, reason))
	}
}

func (d *Dispatcher) reply(ctx context.Context, guildID, userID, content string) {
	if err := d.call(ctx, guildID, func(ctx context.Context) error {
		return d.exec.SendDirectMessage(ctx, userID, content)
	}); err != nil {
		d.logger.Warn("send direct message", zap.String("user_id", userID), zap.Error(err))
	}
}

func (d *Dispatcher) sendLog(ctx context.Context, cfg guildconfig.GuildConfig, guildID, content string) {
	if !cfg.Logging.Enabled || cfg.Logging.ChannelID == "" {
		return
	}
	if err := d.call(ctx, guildID, func(ctx context.Context) error {
		return d.exec.SendChannelMessage(ctx, cfg.Logging.ChannelID, content)
	}); err != nil {
		d.logger.Warn("send log message", zap.String("guild_id", guildID), zap.Error(err))
	}
}

// call waits for the guild's API budget before running fn.
func (d *Dispatcher) call(ctx context.Context, guildID string, fn func(context.Context) error) error {
	limiter, _ := d.limiters.LoadOrCompute(guildID, func() *rate.Limiter {
		return rate.NewLimiter(rate.Limit(d.cfg.RatePerSecond), d.cfg.Burst)
	})
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return fn(ctx)
}

func (d *Dispatcher) quarantineRole(cfg guildconfig.GuildConfig) string {
	if cfg.Verification.QuarantineRole != "" {
		return cfg.Verification.QuarantineRole
	}
	return d.cfg.QuarantineRole
}

func shouldLog(logging guildconfig.Logging, action string) bool {
	switch action {
	case guildconfig.ActionKick:
		return logging.LogKicks
	case guildconfig.ActionBan:
		return logging.LogBans
	case guildconfig.ActionTimeout:
		return logging.LogTimeouts
	}
	return logging.LogDetections
}

func reasonText(decision detection.Decision) string {
	if len(decision.Reasons) == 0 {
		return string(decision.Kind)
	}
	return strings.Join(decision.Reasons, "; ")
}

func titleFor(kind detection.Kind) string {
	switch kind {
	case detection.KindBot:
		return "Bot Detection"
	case detection.KindSpam:
		return "Spam Detection"
	case detection.KindRaid:
		return "Raid Protection"
	case detection.KindNeedsVerification:
		return "Verification"
	}
	return "Moderation"
}

func pastTense(action string) string {
	switch action {
	case guildconfig.ActionQuarantine:
		return "quarantined"
	case guildconfig.ActionKick:
		return "kicked"
	case guildconfig.ActionBan:
		return "banned"
	case guildconfig.ActionTimeout:
		return "timed out"
	}
	return action
}
