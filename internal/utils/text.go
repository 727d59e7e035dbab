package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeContent is the key used for duplicate-message counting: trimmed, NFC-composed and
// lower-cased, so visually identical messages collapse onto one entry.
func NormalizeContent(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ""
	}
	return strings.ToLower(norm.NFC.String(trimmed))
}

// FoldText lower-cases and strips combining marks, so "Frée Nítro" matches "free nitro".
func FoldText(content string) string {
	// the transformer is stateful and must not be shared between goroutines
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, content)
	if err != nil {
		folded = content
	}
	return strings.ToLower(folded)
}

// ContainsAny returns the first keyword contained in content.
func ContainsAny(content string, keywords []string) (string, bool) {
	for _, keyword := range keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword == "" {
			continue
		}
		if strings.Contains(content, keyword) {
			return keyword, true
		}
	}
	return "", false
}

// UpperRatio is the share of upper-case letters among all runes of content.
func UpperRatio(content string) float64 {
	total := utf8.RuneCountInString(content)
	if total == 0 {
		return 0
	}
	upper := 0
	for _, r := range content {
		if unicode.IsUpper(r) {
			upper++
		}
	}
	return float64(upper) / float64(total)
}
