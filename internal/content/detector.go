package content

import (
	"regexp"
	"strings"
)

// Meta-confusion: the model answering about the conversation instead
// of speaking as the persona ("what tweet are you referring to?").
// These leak the machinery and must never be published.
var confusionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bwhat (tweet|post|message)\b.*\?`),
	regexp.MustCompile(`(?i)\bwhich (tweet|post|message)\b`),
	regexp.MustCompile(`(?i)\bwhat context\b`),
	regexp.MustCompile(`(?i)\bwhat are you referring to\b`),
	regexp.MustCompile(`(?i)\bi (don'?t|do not) see (a|any|the) (tweet|post|message)\b`),
	regexp.MustCompile(`(?i)\bas an ai\b`),
	regexp.MustCompile(`(?i)\bi('m| am) (an ai|a language model|an assistant)\b`),
	regexp.MustCompile(`(?i)\bcould you (please )?(provide|share|clarify)\b.*\b(tweet|post|context)\b`),
	regexp.MustCompile(`(?i)\byou (haven'?t|didn'?t) (provided?|shared?|included?)\b`),
	regexp.MustCompile(`(?i)\bno (tweet|post|message) (was|is) (provided|included|attached)\b`),
}

// IsMetaConfused reports whether generated text broke character and
// is talking about the prompt instead of as the persona.
func IsMetaConfused(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}
	for _, pattern := range confusionPatterns {
		if pattern.MatchString(trimmed) {
			return true
		}
	}
	return false
}
