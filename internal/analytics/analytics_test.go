package analytics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"sentinel-guard/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	logs []storage.AuditLog
	err  error
}

func (f fakeReader) ListAuditLogs(_ context.Context, guildID string, since time.Time) ([]storage.AuditLog, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []storage.AuditLog
	for _, log := range f.logs {
		if log.GuildID == guildID && !log.CreatedAt.Before(since) {
			out = append(out, log)
		}
	}
	return out, nil
}

func TestReportAggregates(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	reader := fakeReader{logs: []storage.AuditLog{
		{GuildID: "g", UserID: "a", Level: "WARN", Event: "spam", CreatedAt: now},
		{GuildID: "g", UserID: "a", Level: "WARN", Event: "spam", CreatedAt: now},
		{GuildID: "g", UserID: "b", Level: "WARN", Event: "bot", CreatedAt: now},
		{GuildID: "g", Level: "CRIT", Event: "raid", CreatedAt: now},
		{GuildID: "g", UserID: "c", Level: "WARN", Event: "bot", CreatedAt: now.Add(-48 * time.Hour)},
		{GuildID: "other", UserID: "a", Level: "WARN", Event: "spam", CreatedAt: now},
	}}

	report, err := New(reader).Report(context.Background(), "g", now.Add(-time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 4, report.Total)
	assert.Equal(t, map[string]int{"WARN": 3, "CRIT": 1}, report.ByLevel)
	assert.Equal(t, map[string]int{"spam": 2, "bot": 1, "raid": 1}, report.ByEvent)
	assert.Equal(t, []UserCount{{UserID: "a", Count: 2}, {UserID: "b", Count: 1}}, report.TopUsers)
}

func TestReportTruncatesTopUsers(t *testing.T) {
	now := time.Now()
	var logs []storage.AuditLog
	for i := 0; i < 8; i++ {
		logs = append(logs, storage.AuditLog{GuildID: "g", UserID: fmt.Sprintf("u%d", i), Level: "WARN", Event: "spam", CreatedAt: now})
	}

	report, err := New(fakeReader{logs: logs}).Report(context.Background(), "g", now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, report.TopUsers, 5)
	assert.Equal(t, "u0", report.TopUsers[0].UserID)
}

func TestReportErrors(t *testing.T) {
	_, err := New(nil).Report(context.Background(), "g", time.Now())
	assert.ErrorIs(t, err, ErrUnavailable)

	boom := errors.New("boom")
	_, err = New(fakeReader{err: boom}).Report(context.Background(), "g", time.Now())
	assert.ErrorIs(t, err, boom)
}
