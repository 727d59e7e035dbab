// Package audit records moderation events for later review.
package audit

import (
	"context"
	"time"

	"sentinel-guard/internal/storage"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

// Event names shared by the writers of the audit log.
const (
	EventActionFailed = "action_failed"
	EventVerification = "verification"
	EventLockdown     = "raid_lockdown"
	EventWhitelist    = "whitelist"
	EventConfig       = "config"
)

// Sink persists audit entries.
type Sink interface {
	AddAuditLog(ctx context.Context, log storage.AuditLog) error
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Logger fans an audit entry out to the sink, an optional notifier and zap.
type Logger struct {
	sink   Sink
	logger *zap.Logger
	notify func(context.Context, storage.AuditLog)
	clock  Clock
}

// NewLogger accepts a nil sink when no audit store is configured.
func NewLogger(sink Sink, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{sink: sink, logger: logger, clock: realClock{}}
}

func (l *Logger) WithClock(clock Clock) {
	l.clock = clock
}

// SetNotifier registers a callback run after every entry has been stored.
func (l *Logger) SetNotifier(notify func(context.Context, storage.AuditLog)) {
	l.notify = notify
}

func (l *Logger) Log(ctx context.Context, level, guildID, userID, event, details string) {
	entry := storage.AuditLog{
		GuildID:   guildID,
		UserID:    userID,
		Level:     level,
		Event:     event,
		Details:   details,
		CreatedAt: l.clock.Now(),
	}
	if l.sink != nil {
		if err := l.sink.AddAuditLog(ctx, entry); err != nil {
			l.logger.Warn("store audit log", zap.String("guild_id", guildID), zap.String("event", event), zap.Error(err))
		}
	}
	if l.notify != nil {
		l.notify(ctx, entry)
	}
	if ce := l.logger.Check(zapLevel(level), "audit"); ce != nil {
		ce.Write(
			zap.String("level", level),
			zap.String("guild_id", guildID),
			zap.String("user_id", userID),
			zap.String("event", event),
			zap.String("details", details),
		)
	}
}

func zapLevel(level string) zapcore.Level {
	switch level {
	case LevelCrit:
		return zapcore.ErrorLevel
	case LevelWarn:
		return zapcore.WarnLevel
	}
	return zapcore.InfoLevel
}
