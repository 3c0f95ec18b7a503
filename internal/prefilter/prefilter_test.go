package prefilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innonkaduri/kidsafe-peek-sub001/internal/models"
)

func TestEvaluateCleanMessageIsBatch(t *testing.T) {
	cases := []string{
		"see you at practice tomorrow",
		"lol that meme is so funny",
		"did you finish the math homework",
		"",
		"   ",
	}
	for _, text := range cases {
		m := Evaluate(1, text, "")
		assert.False(t, m.Suspicious, "text %q", text)
		assert.Equal(t, PriorityBatch, m.Priority, "text %q", text)
		assert.Empty(t, m.RiskCodes, "text %q", text)
	}
}

func TestEvaluateKeywordMatches(t *testing.T) {
	tests := []struct {
		name string
		text string
		code string
	}{
		{"grooming phrase", "this is our secret, ok?", models.RiskCodeGrooming},
		{"grooming maturity", "you're so mature for 13", models.RiskCodeGrooming},
		{"secrecy", "you should delete this chat after reading", models.RiskCodeSecrecy},
		{"meetup", "want to meet up this weekend?", models.RiskCodeMeetup},
		{"meetup probing", "where do you live exactly", models.RiskCodeMeetup},
		{"explicit images", "send a pic of yourself", models.RiskCodeExplicitImages},
		{"extortion", "pay me or everyone will see", models.RiskCodeExtortion},
		{"isolation", "your parents don't understand you like i do", models.RiskCodeIsolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Evaluate(7, tt.text, "")
			require.True(t, m.Suspicious)
			assert.Equal(t, PriorityImmediate, m.Priority)
			assert.Contains(t, m.RiskCodes, tt.code)
			assert.NotEmpty(t, m.MatchedKeywords)
		})
	}
}

func TestEvaluateMatchingIsCaseInsensitive(t *testing.T) {
	m := Evaluate(3, "THIS IS OUR SECRET", "")
	require.True(t, m.Suspicious)
	assert.Contains(t, m.RiskCodes, models.RiskCodeGrooming)
}

func TestEvaluatePatternMatches(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		pattern string
	}{
		{"phone number", "call me at +1 555 123 4567", "phone_number"},
		{"street address", "i live at 42 Maple Street", "street_address"},
		{"social handle", "add me @cool_kid_2012", "social_handle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Evaluate(9, tt.text, "")
			require.True(t, m.Suspicious)
			assert.Contains(t, m.MatchedPatterns, tt.pattern)
			assert.Contains(t, m.RiskCodes, models.RiskCodePersonalInfo)
			assert.Equal(t, PriorityImmediate, m.Priority)
		})
	}
}

func TestEvaluateScansCaptionToo(t *testing.T) {
	m := Evaluate(4, "", "send a pic of yourself")
	require.True(t, m.Suspicious)
	assert.Contains(t, m.RiskCodes, models.RiskCodeExplicitImages)
}

func TestEvaluateBatchPreservesOrder(t *testing.T) {
	caption := "our secret"
	msgs := []*models.Message{
		{ID: 10},
		{ID: 11, Caption: &caption},
		{ID: 12},
	}
	texts := map[int64]string{
		10: "hey what's up",
		11: "",
		12: "want to meet up?",
	}

	matches := EvaluateBatch(msgs, texts)
	require.Len(t, matches, 3)

	assert.Equal(t, int64(10), matches[0].MessageID)
	assert.Equal(t, PriorityBatch, matches[0].Priority)

	assert.Equal(t, int64(11), matches[1].MessageID)
	assert.Equal(t, PriorityImmediate, matches[1].Priority)
	assert.Contains(t, matches[1].RiskCodes, models.RiskCodeGrooming)

	assert.Equal(t, int64(12), matches[2].MessageID)
	assert.Equal(t, PriorityImmediate, matches[2].Priority)
}
