package analytics

import (
	"context"
	"errors"
	"sort"
	"time"

	"sentinel-guard/internal/storage"
)

// ErrUnavailable is returned when no audit store is configured.
var ErrUnavailable = errors.New("audit store not configured")

type AuditReader interface {
	ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]storage.AuditLog, error)
}

type Service struct {
	store AuditReader
}

// New accepts a nil store; Report then fails with ErrUnavailable.
func New(store AuditReader) *Service {
	return &Service{store: store}
}

type UserCount struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
}

type Report struct {
	GuildID  string         `json:"guild_id"`
	Since    time.Time      `json:"since"`
	Total    int            `json:"total"`
	ByLevel  map[string]int `json:"by_level"`
	ByEvent  map[string]int `json:"by_event"`
	TopUsers []UserCount    `json:"top_users"`
}

const topUsers = 5

func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	if s.store == nil {
		return Report{}, ErrUnavailable
	}
	logs, err := s.store.ListAuditLogs(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		GuildID:  guildID,
		Since:    since,
		ByLevel:  make(map[string]int),
		ByEvent:  make(map[string]int),
		TopUsers: []UserCount{},
	}
	perUser := make(map[string]int)
	for _, log := range logs {
		report.Total++
		report.ByLevel[log.Level]++
		report.ByEvent[log.Event]++
		if log.UserID != "" {
			perUser[log.UserID]++
		}
	}

	for userID, count := range perUser {
		report.TopUsers = append(report.TopUsers, UserCount{UserID: userID, Count: count})
	}
	sort.Slice(report.TopUsers, func(i, j int) bool {
		if report.TopUsers[i].Count != report.TopUsers[j].Count {
			return report.TopUsers[i].Count > report.TopUsers[j].Count
		}
		return report.TopUsers[i].UserID < report.TopUsers[j].UserID
	})
	if len(report.TopUsers) > topUsers {
		report.TopUsers = report.TopUsers[:topUsers]
	}
	return report, nil
}
