package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sentinel-guard/internal/storage"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type memorySink struct {
	mu   sync.Mutex
	logs []storage.AuditLog
	err  error
}

func (m *memorySink) AddAuditLog(_ context.Context, log storage.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.logs = append(m.logs, log)
	return nil
}

func TestLogFansOut(t *testing.T) {
	sink := &memorySink{}
	core, observed := observer.New(zap.InfoLevel)
	logger := NewLogger(sink, zap.New(core))

	var notified []storage.AuditLog
	logger.SetNotifier(func(_ context.Context, log storage.AuditLog) {
		notified = append(notified, log)
	})

	logger.Log(context.Background(), LevelWarn, "g1", "u1", "spam", "duplicate message")

	if len(sink.logs) != 1 || sink.logs[0].Event != "spam" || sink.logs[0].CreatedAt.IsZero() {
		t.Fatalf("unexpected stored logs: %+v", sink.logs)
	}
	if len(notified) != 1 || notified[0].GuildID != "g1" {
		t.Fatalf("unexpected notifications: %+v", notified)
	}
	if observed.FilterMessage("audit").Len() != 1 {
		t.Fatalf("expected one zap audit entry")
	}
}

func TestLogSurvivesSinkFailure(t *testing.T) {
	sink := &memorySink{err: errors.New("db down")}
	core, observed := observer.New(zap.InfoLevel)
	logger := NewLogger(sink, zap.New(core))

	logger.Log(context.Background(), LevelInfo, "g1", "", "raid", "lockdown")

	if observed.FilterMessage("store audit log").Len() != 1 {
		t.Fatalf("expected sink failure to be logged")
	}
	if observed.FilterMessage("audit").Len() != 1 {
		t.Fatalf("expected audit entry despite sink failure")
	}
}

func TestLogWithoutSink(t *testing.T) {
	logger := NewLogger(nil, nil)
	logger.Log(context.Background(), LevelInfo, "g1", "", "startup", "")
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestLogUsesClockAndLevel(t *testing.T) {
	sink := &memorySink{}
	core, observed := observer.New(zap.DebugLevel)
	logger := NewLogger(sink, zap.New(core))
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	logger.WithClock(fixedClock{now: now})

	logger.Log(context.Background(), LevelCrit, "g1", "u1", EventActionFailed, "kick: forbidden")
	logger.Log(context.Background(), LevelInfo, "g1", "u1", EventVerification, "passed")

	if !sink.logs[0].CreatedAt.Equal(now) {
		t.Fatalf("expected created at %s, got %s", now, sink.logs[0].CreatedAt)
	}
	entries := observed.FilterMessage("audit").All()
	if len(entries) != 2 {
		t.Fatalf("expected two audit entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.ErrorLevel || entries[1].Level != zapcore.InfoLevel {
		t.Fatalf("unexpected levels: %s, %s", entries[0].Level, entries[1].Level)
	}
}
