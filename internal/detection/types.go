package detection

import (
	"time"
)

type Avatar int

const (
	AvatarNone Avatar = iota
	AvatarDefault
	AvatarCustom
)

// AccountSnapshot is a member as seen at one moment. Zero timestamps mean unknown.
type AccountSnapshot struct {
	GuildID     string
	UserID      string
	Username    string
	DisplayName string
	CreatedAt   time.Time
	JoinedAt    time.Time
	Avatar      Avatar
	Roles       []string
}

// MessageSnapshot is one message as seen at one moment. An empty GuildID means a direct message.
type MessageSnapshot struct {
	GuildID         string
	ChannelID       string
	MessageID       string
	AuthorID        string
	AuthorRoles     []string
	Content         string
	Timestamp       time.Time
	Mentions        int
	RoleMentions    int
	MentionEveryone bool
}

type Kind string

const (
	KindBot               Kind = "bot"
	KindSpam              Kind = "spam"
	KindRaid              Kind = "raid"
	KindNeedsVerification Kind = "needs-verification"
	KindClean             Kind = "clean"
)

// CheckResult is the outcome of one weighted check. Reason is empty when Score is zero.
// A decisive check flags on its own whenever it scores.
type CheckResult struct {
	Name     string
	Score    int
	Max      int
	Reason   string
	Decisive bool
}

type Score struct {
	Checks      []CheckResult
	Total       int
	Max         int
	Whitelisted bool
}

func (s *Score) add(result CheckResult) {
	s.Checks = append(s.Checks, result)
	s.Total += result.Score
	s.Max += result.Max
}

func (s Score) Percent() float64 {
	if s.Max == 0 {
		return 0
	}
	return 100 * float64(s.Total) / float64(s.Max)
}

func (s Score) Reasons() []string {
	var reasons []string
	for _, check := range s.Checks {
		if check.Reason != "" {
			reasons = append(reasons, check.Reason)
		}
	}
	return reasons
}

func (s Score) decisiveHit() bool {
	for _, check := range s.Checks {
		if check.Decisive && check.Score > 0 {
			return true
		}
	}
	return false
}

const (
	TriggerMemberJoin = "member_join"
	TriggerMessage    = "message"
	TriggerCommand    = "command"
)

// Decision is the classification handed to the dispatcher.
type Decision struct {
	ID        string
	Kind      Kind
	Trigger   string
	GuildID   string
	UserID    string
	ChannelID string
	MessageID string
	Score     int
	MaxScore  int
	Percent   float64
	Reasons   []string
	Action    string
	CreatedAt time.Time
}

func (d Decision) Flagged() bool {
	return d.Kind != KindClean
}
