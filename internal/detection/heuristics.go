package detection

import (
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"sentinel-guard/internal/guildconfig"
	"sentinel-guard/internal/tracker"
	"sentinel-guard/internal/utils"

	"go.uber.org/zap"
)

const (
	BotThreshold  = 60.0
	SpamThreshold = 70.0

	maxAgeScore      = 3
	maxAvatarScore   = 2
	maxUsernameScore = 3
	maxJoinScore     = 2

	maxRateScore      = 3
	maxDuplicateScore = 3
	maxMentionScore   = 2
	maxLinkScore      = 2
	maxContentScore   = 2

	everyoneMentionWeight = 10
	manyLinks             = 3
	capsMinLength         = 10
	capsRatio             = 0.7
)

// Heuristics runs the weighted account and message checks. A check that panics is logged
// and contributes zero.
type Heuristics struct {
	logger *zap.Logger
}

func NewHeuristics(logger *zap.Logger) *Heuristics {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Heuristics{logger: logger}
}

func (h *Heuristics) ScoreAccount(acct AccountSnapshot, snap guildconfig.Snapshot, now time.Time) Score {
	cfg := snap.Config
	if cfg.IsWhitelisted(acct.UserID, acct.Roles) {
		return Score{Whitelisted: true}
	}

	var score Score
	score.add(h.run("account_age", maxAgeScore, false, func() (int, string) {
		return checkAccountAge(acct, cfg.BotDetection.MinAccountAgeDays, now)
	}))
	if cfg.BotDetection.CheckProfilePicture {
		score.add(h.run("avatar", maxAvatarScore, false, func() (int, string) {
			return checkAvatar(acct.Avatar)
		}))
	}
	if cfg.BotDetection.CheckUsernamePatterns {
		score.add(h.run("username", maxUsernameScore, false, func() (int, string) {
			return checkUsername(acct, snap.Patterns, cfg.BotDetection.BotTerms)
		}))
	}
	score.add(h.run("join_behavior", maxJoinScore, false, func() (int, string) {
		return checkJoinBehavior(acct)
	}))
	return score
}

// ScoreMessage records the message in window and scores it.
func (h *Heuristics) ScoreMessage(msg MessageSnapshot, window *tracker.RateWindow, cfg guildconfig.GuildConfig) Score {
	if cfg.IsWhitelisted(msg.AuthorID, msg.AuthorRoles) {
		return Score{Whitelisted: true}
	}
	spam := cfg.SpamDetection

	var score Score
	score.add(h.run("rate", maxRateScore, true, func() (int, string) {
		return checkRate(window.Hit(msg.Timestamp, spam.Window()), spam)
	}))
	score.add(h.run("duplicate", maxDuplicateScore, true, func() (int, string) {
		return checkDuplicate(window, msg.Content, spam.MaxDuplicateMessages)
	}))
	if spam.CheckMentionSpam {
		score.add(h.run("mentions", maxMentionScore, false, func() (int, string) {
			return checkMentions(msg, spam.MaxMentionsPerMessage)
		}))
	}
	if spam.CheckLinkSpam {
		score.add(h.run("links", maxLinkScore, false, func() (int, string) {
			return checkLinks(msg.Content, spam.AllowedDomains, spam.SuspiciousDomains)
		}))
	}
	score.add(h.run("content", maxContentScore, false, func() (int, string) {
		return checkContent(msg.Content, spam.SpamKeywords)
	}))
	return score
}

func (h *Heuristics) run(name string, max int, decisive bool, check func() (int, string)) (result CheckResult) {
	result = CheckResult{Name: name, Max: max, Decisive: decisive}
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("heuristic check failed", zap.String("check", name), zap.Any("panic", r))
			result.Score = 0
			result.Reason = ""
		}
	}()

	score, reason := check()
	if score > max {
		score = max
	}
	if score <= 0 {
		return result
	}
	result.Score = score
	result.Reason = reason
	return result
}

func checkAccountAge(acct AccountSnapshot, minAgeDays int, now time.Time) (int, string) {
	if acct.CreatedAt.IsZero() {
		return 2, "no account creation date available"
	}
	age := now.Sub(acct.CreatedAt)
	days := int(age / (24 * time.Hour))
	switch {
	case days < 1:
		return 3, fmt.Sprintf("very new account (created %s ago)", age.Round(time.Second))
	case days < 3:
		return 2, fmt.Sprintf("new account (%d days old)", days)
	case days < minAgeDays:
		return 1, fmt.Sprintf("relatively new account (%d days old)", days)
	}
	return 0, ""
}

func checkAvatar(avatar Avatar) (int, string) {
	switch avatar {
	case AvatarNone:
		return 2, "no profile picture"
	case AvatarDefault:
		return 1, "using the default avatar"
	}
	return 0, ""
}

func checkUsername(acct AccountSnapshot, patterns []guildconfig.CompiledPattern, botTerms []string) (int, string) {
	username := strings.ToLower(acct.Username)
	display := strings.ToLower(acct.DisplayName)

	if hit, ok := guildconfig.MatchAny(patterns, username, display); ok {
		return 3, fmt.Sprintf("username matches suspicious pattern %q", hit.Source)
	}

	score := 0
	var reasons []string
	if utf8.RuneCountInString(username) <= 2 {
		score++
		reasons = append(reasons, "very short username")
	}
	if allDigits(username) {
		score += 2
		reasons = append(reasons, "username is only numbers")
	}
	if LooksRandom(username) {
		score += 2
		reasons = append(reasons, "username appears random")
	}
	if term, ok := utils.ContainsAny(username, botTerms); ok {
		score++
		reasons = append(reasons, fmt.Sprintf("username contains bot-like term %q", term))
	}
	return min(score, maxUsernameScore), strings.Join(reasons, "; ")
}

func checkJoinBehavior(acct AccountSnapshot) (int, string) {
	if acct.CreatedAt.IsZero() || acct.JoinedAt.IsZero() {
		return 0, ""
	}
	gap := acct.JoinedAt.Sub(acct.CreatedAt)
	switch {
	case gap < 5*time.Minute:
		return 2, "joined very quickly after account creation"
	case gap < time.Hour:
		return 1, "joined shortly after account creation"
	}
	return 0, ""
}

func checkRate(count int, spam guildconfig.SpamDetection) (int, string) {
	if count <= spam.MaxMessagesPerWindow {
		return 0, ""
	}
	excess := count - spam.MaxMessagesPerWindow
	reason := fmt.Sprintf("message rate exceeded (%d messages in %ds)", count, spam.TimeWindowSeconds)
	switch {
	case excess >= 5:
		return 3, "severe " + reason
	case excess >= 3:
		return 2, reason
	}
	return 1, reason
}

func checkDuplicate(window *tracker.RateWindow, content string, maxDuplicates int) (int, string) {
	normalized := utils.NormalizeContent(content)
	if normalized == "" {
		return 0, ""
	}
	count := window.Duplicate(normalized)
	if count <= maxDuplicates {
		return 0, ""
	}
	if count >= maxDuplicates+3 {
		return 3, fmt.Sprintf("excessive duplicate messages (sent %d times)", count)
	}
	return 2, fmt.Sprintf("duplicate message (sent %d times)", count)
}

func checkMentions(msg MessageSnapshot, maxMentions int) (int, string) {
	total := msg.Mentions + msg.RoleMentions
	if msg.MentionEveryone {
		total += everyoneMentionWeight
	}
	if total <= maxMentions {
		return 0, ""
	}
	if total >= maxMentions+5 {
		return 2, fmt.Sprintf("excessive mentions (%d)", total)
	}
	return 1, fmt.Sprintf("high mention count (%d)", total)
}

func checkLinks(content string, allowed, suspicious []string) (int, string) {
	urls := utils.ExtractURLs(strings.ToLower(content))
	if len(urls) == 0 {
		return 0, ""
	}

	score := 0
	var reasons []string
	if len(urls) > manyLinks {
		score++
		reasons = append(reasons, fmt.Sprintf("multiple links (%d urls)", len(urls)))
	}
	for _, raw := range urls {
		normalized, host, err := utils.NormalizeURL(raw)
		if err != nil {
			continue
		}
		if ok, hit := utils.DomainMatch(normalized, host, allowed, suspicious); !ok && hit != "" {
			score += 2
			reasons = append(reasons, fmt.Sprintf("suspicious domain %s", hit))
			break
		}
	}
	return min(score, maxLinkScore), strings.Join(reasons, "; ")
}

func checkContent(content string, keywords []string) (int, string) {
	if strings.TrimSpace(content) == "" {
		return 0, ""
	}
	score := 0
	var reasons []string
	if utf8.RuneCountInString(content) > capsMinLength && utils.UpperRatio(content) > capsRatio {
		score++
		reasons = append(reasons, "excessive capital letters")
	}
	if keyword, ok := utils.ContainsAny(utils.FoldText(content), keywords); ok {
		score++
		reasons = append(reasons, fmt.Sprintf("spam keyword %q", keyword))
	}
	return min(score, maxContentScore), strings.Join(reasons, "; ")
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

const (
	vowels     = "aeiou"
	consonants = "bcdfghjklmnpqrstvwxyz"
)

// LooksRandom flags strings of four or more characters that have no vowels, are more than
// 80% consonants, or use fewer than 40% distinct characters.
func LooksRandom(text string) bool {
	text = strings.ToLower(text)
	length := utf8.RuneCountInString(text)
	if length < 4 {
		return false
	}

	vowelCount, consonantCount := 0, 0
	distinct := make(map[rune]struct{}, length)
	for _, r := range text {
		distinct[r] = struct{}{}
		switch {
		case strings.ContainsRune(vowels, r):
			vowelCount++
		case strings.ContainsRune(consonants, r):
			consonantCount++
		}
	}

	if vowelCount == 0 {
		return true
	}
	if float64(consonantCount) > float64(length)*0.8 {
		return true
	}
	return float64(len(distinct)) < float64(length)*0.4
}
