package event

import "strings"

// Wildcard matches every topic.
const Wildcard = "*"

// Matches reports whether topic satisfies pattern. Patterns are an exact
// topic, the global wildcard "*", or a prefix followed by "*".
func Matches(pattern, topic string) bool {
	switch {
	case pattern == topic:
		return true
	case pattern == Wildcard:
		return true
	case strings.HasSuffix(pattern, Wildcard):
		return strings.HasPrefix(topic, strings.TrimSuffix(pattern, Wildcard))
	}
	return false
}

// MatchesAny reports whether topic satisfies at least one pattern.
func MatchesAny(patterns []string, topic string) bool {
	for _, p := range patterns {
		if Matches(p, topic) {
			return true
		}
	}
	return false
}

// IsPrefixPattern reports whether pattern is of the form "prefix*".
func IsPrefixPattern(pattern string) bool {
	return len(pattern) > 1 && strings.HasSuffix(pattern, Wildcard)
}
