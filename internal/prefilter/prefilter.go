// Package prefilter is the stateless first stage of the escalation pipeline:
// a deterministic keyword/pattern matcher over message text and captions.
// It makes no external calls and holds no state, so re-running it over the
// same batch always yields the same routing.
package prefilter

import (
	"regexp"
	"strings"

	"github.com/innonkaduri/kidsafe-peek-sub001/internal/models"
)

// Routing priorities.
const (
	PriorityImmediate = "immediate"
	PriorityBatch     = "batch"
)

// Match is the pre-filter verdict for one message.
type Match struct {
	MessageID       int64
	Suspicious      bool
	MatchedKeywords []string
	MatchedPatterns []string
	RiskCodes       []string
	Priority        string
}

// Keyword lists per risk code. Matching is case-insensitive substring search
// over text plus caption.
var keywordsByCode = map[string][]string{
	models.RiskCodeGrooming: {
		"our secret", "don't tell your", "dont tell your", "just between us",
		"you're so mature", "youre so mature", "mature for your age",
		"nobody understands you like", "special friend",
	},
	models.RiskCodeSecrecy: {
		"delete this chat", "delete our chat", "clear the history",
		"don't show anyone", "dont show anyone", "keep this private",
		"use this app instead",
	},
	models.RiskCodeMeetup: {
		"meet up", "meet irl", "in person", "come over", "pick you up",
		"where do you live", "what school do you", "home alone",
	},
	models.RiskCodeSexualContent: {
		"sexy", "nudes", "naked", "undress", "body pic",
	},
	models.RiskCodeExplicitImages: {
		"send a pic", "send pics", "send me a photo", "send photo",
		"turn on your camera", "video call just us", "show me your",
	},
	models.RiskCodeExtortion: {
		"or else", "i will share", "i'll share your", "ill share your",
		"everyone will see", "pay me", "send money", "gift card",
	},
	models.RiskCodeIsolation: {
		"they don't get you", "they dont get you", "your parents don't",
		"your parents dont", "no one else would understand", "only i understand",
		"don't need them", "dont need them",
	},
}

// Patterns that indicate personal-information exchange regardless of keywords.
var patterns = map[string]*regexp.Regexp{
	"phone_number":   regexp.MustCompile(`\+?\d[\d\s().-]{7,}\d`),
	"street_address": regexp.MustCompile(`(?i)\b\d{1,5}\s+\w+(\s\w+)?\s+(st|street|ave|avenue|rd|road|blvd|lane|ln|dr|drive)\b`),
	"social_handle":  regexp.MustCompile(`(?i)(^|\s)@[a-z0-9_.]{3,}`),
}

// Evaluate runs the pre-filter over one message's combined text and caption.
// Any keyword or pattern match routes the message as immediate; a clean
// message is batch priority.
func Evaluate(messageID int64, text, caption string) Match {
	m := Match{MessageID: messageID, Priority: PriorityBatch}

	haystack := strings.ToLower(text)
	if caption != "" {
		haystack += "\n" + strings.ToLower(caption)
	}
	if strings.TrimSpace(haystack) == "" {
		return m
	}

	codes := make(map[string]bool)
	for code, words := range keywordsByCode {
		for _, word := range words {
			if strings.Contains(haystack, word) {
				m.MatchedKeywords = append(m.MatchedKeywords, word)
				codes[code] = true
			}
		}
	}

	for name, re := range patterns {
		if re.MatchString(haystack) {
			m.MatchedPatterns = append(m.MatchedPatterns, name)
			codes[models.RiskCodePersonalInfo] = true
		}
	}

	for code := range codes {
		m.RiskCodes = append(m.RiskCodes, code)
	}

	if len(m.MatchedKeywords) > 0 || len(m.MatchedPatterns) > 0 {
		m.Suspicious = true
		m.Priority = PriorityImmediate
	}
	return m
}

// EvaluateBatch runs Evaluate over a slice of messages, preserving order.
func EvaluateBatch(msgs []*models.Message, texts map[int64]string) []Match {
	matches := make([]Match, 0, len(msgs))
	for _, msg := range msgs {
		caption := ""
		if msg.Caption != nil {
			caption = *msg.Caption
		}
		matches = append(matches, Evaluate(msg.ID, texts[msg.ID], caption))
	}
	return matches
}
