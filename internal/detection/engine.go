package detection

import (
	"context"
	"fmt"
	"time"

	"sentinel-guard/internal/guildconfig"
	"sentinel-guard/internal/tracker"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// ConfigSource is the read side of the guild config store.
type ConfigSource interface {
	Snapshot(guildID string) guildconfig.Snapshot
}

// Engine turns platform events into decisions. It owns the rate and raid trackers and
// never fails: bad input degrades to fallback scores.
type Engine struct {
	configs    ConfigSource
	rates      *tracker.RateTracker
	raids      *tracker.RaidTracker
	heuristics *Heuristics
	logger     *zap.Logger
	clock      Clock
}

func NewEngine(configs ConfigSource, rates *tracker.RateTracker, raids *tracker.RaidTracker, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		configs:    configs,
		rates:      rates,
		raids:      raids,
		heuristics: NewHeuristics(logger),
		logger:     logger,
		clock:      realClock{},
	}
}

func (e *Engine) WithClock(clock Clock) {
	e.clock = clock
}

// OnMemberJoin runs the raid check first, then scores the account. It returns a raid
// decision when the join completes a raid, followed by exactly one member decision:
// bot, needs-verification or clean.
func (e *Engine) OnMemberJoin(ctx context.Context, acct AccountSnapshot) []Decision {
	start := time.Now()
	defer func() {
		evaluationDuration.WithLabelValues("member_join").Observe(time.Since(start).Seconds())
	}()

	now := e.clock.Now()
	snap := e.configs.Snapshot(acct.GuildID)
	cfg := snap.Config
	if !cfg.Enabled {
		return []Decision{e.clean(TriggerMemberJoin, acct.GuildID, acct.UserID, now)}
	}

	var decisions []Decision
	if cfg.RaidProtection.Enabled {
		if raid, ok := e.checkRaid(acct.GuildID, cfg.RaidProtection, now); ok {
			decisions = append(decisions, raid)
			// The lockdown forces verification on; the member completing the raid is
			// already held to it.
			if raid.Action == guildconfig.ActionLockdown {
				snap.Config.Verification.Enabled = true
			}
		}
	}

	if ctx.Err() != nil {
		e.logger.Warn("member join evaluation cancelled", zap.String("guild_id", acct.GuildID), zap.String("user_id", acct.UserID))
		return append(decisions, e.clean(TriggerMemberJoin, acct.GuildID, acct.UserID, now))
	}

	member := e.evaluateAccount(acct, snap, now)
	detectionsCounter.WithLabelValues(string(member.Kind)).Inc()
	return append(decisions, member)
}

// OnMessage scores one guild message. Direct messages and disabled guilds are clean.
func (e *Engine) OnMessage(ctx context.Context, msg MessageSnapshot) Decision {
	start := time.Now()
	defer func() {
		evaluationDuration.WithLabelValues("message").Observe(time.Since(start).Seconds())
	}()

	now := e.clock.Now()
	if msg.GuildID == "" {
		return e.clean(TriggerMessage, "", msg.AuthorID, now)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}

	cfg := e.configs.Snapshot(msg.GuildID).Config
	if !cfg.Enabled || !cfg.SpamDetection.Enabled || ctx.Err() != nil {
		return e.clean(TriggerMessage, msg.GuildID, msg.AuthorID, now)
	}

	window := e.rates.Window(msg.GuildID, msg.AuthorID)
	trackedUsersGauge.Set(float64(e.rates.Len()))
	score := e.heuristics.ScoreMessage(msg, window, cfg)
	decision := e.decision(TriggerMessage, msg.GuildID, msg.AuthorID, score, now)
	decision.ChannelID = msg.ChannelID
	decision.MessageID = msg.MessageID

	if !score.Whitelisted && (score.Percent() >= SpamThreshold || score.decisiveHit()) {
		decision.Kind = KindSpam
		decision.Action = cfg.SpamDetection.Action
		e.logger.Warn("spam detected",
			zap.String("guild_id", msg.GuildID),
			zap.String("user_id", msg.AuthorID),
			zap.Int("score", score.Total),
			zap.Int("max_score", score.Max),
			zap.Strings("reasons", decision.Reasons),
		)
	}
	detectionsCounter.WithLabelValues(string(decision.Kind)).Inc()
	return decision
}

// Forget drops the message history of a member that left.
func (e *Engine) Forget(guildID, userID string) {
	e.rates.Forget(guildID, userID)
	trackedUsersGauge.Set(float64(e.rates.Len()))
}

// RecentJoins reports how many joins fall inside the guild's raid window.
func (e *Engine) RecentJoins(guildID string) int {
	cfg := e.configs.Snapshot(guildID).Config.RaidProtection
	return e.raids.Count(guildID, e.clock.Now(), cfg.Window())
}

// ResetRaid clears the join window so the next join starts a fresh count.
func (e *Engine) ResetRaid(guildID string) {
	e.raids.Reset(guildID)
	raidJoinsGauge.WithLabelValues(guildID).Set(0)
}

func (e *Engine) checkRaid(guildID string, cfg guildconfig.RaidProtection, now time.Time) (Decision, bool) {
	count, flagged := e.raids.Check(guildID, now, cfg.Window(), cfg.MaxJoins)
	raidJoinsGauge.WithLabelValues(guildID).Set(float64(count))
	if !flagged {
		return Decision{}, false
	}

	e.logger.Warn("raid detected", zap.String("guild_id", guildID), zap.Int("joins", count), zap.Int("window_seconds", cfg.TimeWindow))
	detectionsCounter.WithLabelValues(string(KindRaid)).Inc()
	return Decision{
		ID:        uuid.NewString(),
		Kind:      KindRaid,
		Trigger:   TriggerMemberJoin,
		GuildID:   guildID,
		Score:     count,
		MaxScore:  cfg.MaxJoins,
		Percent:   100,
		Reasons:   []string{raidReason(count, cfg.TimeWindow)},
		Action:    cfg.Action,
		CreatedAt: now,
	}, true
}

func (e *Engine) evaluateAccount(acct AccountSnapshot, snap guildconfig.Snapshot, now time.Time) Decision {
	cfg := snap.Config
	if !cfg.BotDetection.Enabled {
		return e.afterAccount(e.clean(TriggerMemberJoin, acct.GuildID, acct.UserID, now), cfg)
	}

	score := e.heuristics.ScoreAccount(acct, snap, now)
	decision := e.decision(TriggerMemberJoin, acct.GuildID, acct.UserID, score, now)
	if score.Whitelisted {
		return decision
	}

	e.logger.Info("account analysed",
		zap.String("guild_id", acct.GuildID),
		zap.String("user_id", acct.UserID),
		zap.Float64("percent", score.Percent()),
		zap.Int("score", score.Total),
		zap.Int("max_score", score.Max),
	)
	if score.Percent() >= BotThreshold {
		decision.Kind = KindBot
		decision.Action = cfg.BotDetection.Action
		return decision
	}
	return e.afterAccount(decision, cfg)
}

func (e *Engine) afterAccount(decision Decision, cfg guildconfig.GuildConfig) Decision {
	if cfg.Verification.Enabled {
		decision.Kind = KindNeedsVerification
		decision.Action = guildconfig.ActionQuarantine
	}
	return decision
}

func (e *Engine) decision(trigger, guildID, userID string, score Score, now time.Time) Decision {
	return Decision{
		ID:        uuid.NewString(),
		Kind:      KindClean,
		Trigger:   trigger,
		GuildID:   guildID,
		UserID:    userID,
		Score:     score.Total,
		MaxScore:  score.Max,
		Percent:   score.Percent(),
		Reasons:   score.Reasons(),
		CreatedAt: now,
	}
}

func (e *Engine) clean(trigger, guildID, userID string, now time.Time) Decision {
	return Decision{
		ID:        uuid.NewString(),
		Kind:      KindClean,
		Trigger:   trigger,
		GuildID:   guildID,
		UserID:    userID,
		CreatedAt: now,
	}
}

func raidReason(count, windowSeconds int) string {
	return fmt.Sprintf("%d joins within %ds", count, windowSeconds)
}
