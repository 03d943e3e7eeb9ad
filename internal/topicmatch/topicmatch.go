// Package topicmatch tests a concrete MQTT-style topic against a
// pattern with single-level (+) and multi-level (#) wildcards.
// The matcher is pure and total: every (topic, pattern)
// pair produces an answer, never an error.
package topicmatch

import "strings"

// Match reports whether topic matches pattern. Both are split on '/';
// a '+' token matches exactly one level of any value, a '#' token
// matches all remaining levels and is only meaningful as the final
// token, and empty levels (adjacent slashes) match literally.
func Match(pattern, topic string) bool {
	patternTokens := strings.Split(pattern, "/")
	topicTokens := strings.Split(topic, "/")

	for i, p := range patternTokens {
		if p == "#" {
			return true
		}
		if i >= len(topicTokens) {
			return false
		}
		if p == "+" {
			continue
		}
		if p != topicTokens[i] {
			return false
		}
	}
	return len(patternTokens) == len(topicTokens)
}

// FirstMatch returns the index of the first pattern in patterns that
// matches topic, or -1 if none does. Patterns are scanned in the order
// given; the first match wins.
func FirstMatch(patterns []string, topic string) int {
	for i, p := range patterns {
		if Match(p, topic) {
			return i
		}
	}
	return -1
}
