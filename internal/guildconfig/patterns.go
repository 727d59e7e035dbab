package guildconfig

import (
	"regexp"

	"go.uber.org/zap"
)

// CompiledPattern is a suspicious username pattern that compiled successfully.
type CompiledPattern struct {
	Source string
	Re     *regexp.Regexp
}

// CompilePatterns compiles every pattern case-insensitively. Invalid patterns are logged
// and left out.
func CompilePatterns(patterns []string, logger *zap.Logger) []CompiledPattern {
	compiled := make([]CompiledPattern, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			logger.Warn("invalid username pattern", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		compiled = append(compiled, CompiledPattern{Source: pattern, Re: re})
	}
	return compiled
}

// MatchAny returns the first pattern matching any of the given names.
func MatchAny(patterns []CompiledPattern, names ...string) (CompiledPattern, bool) {
	for _, pattern := range patterns {
		for _, name := range names {
			if name != "" && pattern.Re.MatchString(name) {
				return pattern, true
			}
		}
	}
	return CompiledPattern{}, false
}
