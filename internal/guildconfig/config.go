// Package guildconfig holds the per-guild moderation settings and the file-backed store
// that persists them as one JSON document per guild.
package guildconfig

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	ActionQuarantine = "quarantine"
	ActionKick       = "kick"
	ActionBan        = "ban"
	ActionTimeout    = "timeout"
	ActionLockdown   = "lockdown"
	ActionAlert      = "alert"
)

type GuildConfig struct {
	Enabled        bool           `json:"enabled"`
	BotDetection   BotDetection   `json:"bot_detection"`
	SpamDetection  SpamDetection  `json:"spam_detection"`
	RaidProtection RaidProtection `json:"raid_protection"`
	Verification   Verification   `json:"verification"`
	Logging        Logging        `json:"logging"`
	Whitelist      Whitelist      `json:"whitelist"`
}

type BotDetection struct {
	Enabled               bool     `json:"enabled"`
	MinAccountAgeDays     int      `json:"min_account_age_days"`
	CheckProfilePicture   bool     `json:"check_profile_picture"`
	CheckUsernamePatterns bool     `json:"check_username_patterns"`
	SuspiciousPatterns    []string `json:"suspicious_patterns"`
	BotTerms              []string `json:"bot_terms"`
	Action                string   `json:"action"`
}

type SpamDetection struct {
	Enabled               bool     `json:"enabled"`
	MaxMessagesPerWindow  int      `json:"max_messages_per_window"`
	TimeWindowSeconds     int      `json:"time_window_seconds"`
	MaxDuplicateMessages  int      `json:"max_duplicate_messages"`
	CheckMentionSpam      bool     `json:"check_mention_spam"`
	MaxMentionsPerMessage int      `json:"max_mentions_per_message"`
	CheckLinkSpam         bool     `json:"check_link_spam"`
	SpamKeywords          []string `json:"spam_keywords"`
	SuspiciousDomains     []string `json:"suspicious_domains"`
	AllowedDomains        []string `json:"allowed_domains"`
	TimeoutSeconds        int      `json:"timeout_seconds"`
	Action                string   `json:"action"`
}

type RaidProtection struct {
	Enabled    bool   `json:"enabled"`
	MaxJoins   int    `json:"max_joins"`
	TimeWindow int    `json:"time_window"`
	Action     string `json:"action"`
}

type Verification struct {
	Enabled                 bool   `json:"enabled"`
	RequireForNewAccounts   bool   `json:"require_for_new_accounts"`
	NewAccountThresholdDays int    `json:"new_account_threshold_days"`
	TimeoutMinutes          int    `json:"verification_timeout_minutes"`
	QuarantineRole          string `json:"quarantine_role"`
}

type Logging struct {
	Enabled       bool   `json:"enabled"`
	ChannelID     string `json:"channel_id"`
	LogJoins      bool   `json:"log_joins"`
	LogKicks      bool   `json:"log_kicks"`
	LogBans       bool   `json:"log_bans"`
	LogTimeouts   bool   `json:"log_timeouts"`
	LogDetections bool   `json:"log_detections"`
}

type Whitelist struct {
	Users []string `json:"users"`
	Roles []string `json:"roles"`
}

func Default() GuildConfig {
	return GuildConfig{
		Enabled: true,
		BotDetection: BotDetection{
			Enabled:               true,
			MinAccountAgeDays:     7,
			CheckProfilePicture:   true,
			CheckUsernamePatterns: true,
			SuspiciousPatterns: []string{
				`^[a-z]+\d{4,}$`,
				`^.{1,3}$`,
				`discord\.gg`,
				`bit\.ly`,
			},
			BotTerms: []string{"bot", "auto", "spam", "promo", "ad"},
			Action:   ActionQuarantine,
		},
		SpamDetection: SpamDetection{
			Enabled:               true,
			MaxMessagesPerWindow:  5,
			TimeWindowSeconds:     10,
			MaxDuplicateMessages:  3,
			CheckMentionSpam:      true,
			MaxMentionsPerMessage: 5,
			CheckLinkSpam:         true,
			SpamKeywords: []string{
				"free nitro", "discord nitro free", "free discord",
				"click here", "limited time", "act now",
				"congratulations", "you have won", "claim now",
			},
			SuspiciousDomains: []string{
				"discord.gg",
				"bit.ly", "tinyurl.com", "ow.ly",
				"free-discord-nitro", "discord-nitro",
				"steam-gift", "free-csgo", "free-game",
			},
			AllowedDomains: []string{},
			TimeoutSeconds: 300,
			Action:         ActionTimeout,
		},
		RaidProtection: RaidProtection{
			Enabled:    true,
			MaxJoins:   10,
			TimeWindow: 60,
			Action:     ActionLockdown,
		},
		Verification: Verification{
			Enabled:                 false,
			RequireForNewAccounts:   true,
			NewAccountThresholdDays: 7,
			TimeoutMinutes:          5,
		},
		Logging: Logging{
			Enabled:       true,
			LogJoins:      true,
			LogKicks:      true,
			LogBans:       true,
			LogTimeouts:   true,
			LogDetections: true,
		},
		Whitelist: Whitelist{
			Users: []string{},
			Roles: []string{},
		},
	}
}

func (s SpamDetection) Window() time.Duration {
	return time.Duration(s.TimeWindowSeconds) * time.Second
}

func (r RaidProtection) Window() time.Duration {
	return time.Duration(r.TimeWindow) * time.Second
}

// IsWhitelisted reports whether the user ID or any of the held roles is whitelisted.
func (c GuildConfig) IsWhitelisted(userID string, roles []string) bool {
	for _, id := range c.Whitelist.Users {
		if id == userID {
			return true
		}
	}
	for _, allowed := range c.Whitelist.Roles {
		for _, role := range roles {
			if role == allowed {
				return true
			}
		}
	}
	return false
}

// Clone returns a copy that shares no slices with c.
func (c GuildConfig) Clone() GuildConfig {
	out := c
	out.BotDetection.SuspiciousPatterns = cloneStrings(c.BotDetection.SuspiciousPatterns)
	out.BotDetection.BotTerms = cloneStrings(c.BotDetection.BotTerms)
	out.SpamDetection.SpamKeywords = cloneStrings(c.SpamDetection.SpamKeywords)
	out.SpamDetection.SuspiciousDomains = cloneStrings(c.SpamDetection.SuspiciousDomains)
	out.SpamDetection.AllowedDomains = cloneStrings(c.SpamDetection.AllowedDomains)
	out.Whitelist.Users = cloneStrings(c.Whitelist.Users)
	out.Whitelist.Roles = cloneStrings(c.Whitelist.Roles)
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// Merge deep-merges override over defaults into a new tree. Keys present in both are
// merged recursively when both values are objects; otherwise the override value wins.
// Neither input is modified.
func Merge(defaults, override map[string]any) map[string]any {
	merged := cloneTree(defaults)
	for key, value := range override {
		base, baseIsMap := merged[key].(map[string]any)
		next, nextIsMap := value.(map[string]any)
		if baseIsMap && nextIsMap {
			merged[key] = Merge(base, next)
			continue
		}
		merged[key] = cloneValue(value)
	}
	return merged
}

func cloneTree(tree map[string]any) map[string]any {
	out := make(map[string]any, len(tree))
	for key, value := range tree {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return cloneTree(v)
	case []any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = cloneValue(v[i])
		}
		return out
	default:
		return v
	}
}

// toTree converts any JSON-encodable value into its generic JSON form.
func toTree(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func configTree(cfg GuildConfig) (map[string]any, error) {
	tree, err := toTree(cfg)
	if err != nil {
		return nil, err
	}
	out, ok := tree.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("config encoded as %T", tree)
	}
	return out, nil
}

func decodeTree(tree map[string]any) (GuildConfig, error) {
	raw, err := json.Marshal(tree)
	if err != nil {
		return GuildConfig{}, err
	}
	var cfg GuildConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return GuildConfig{}, err
	}
	return cfg, nil
}

// ParseValue decodes a setting typed by a human: JSON when it parses, the raw string otherwise.
func ParseValue(raw string) any {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return raw
	}
	return value
}
