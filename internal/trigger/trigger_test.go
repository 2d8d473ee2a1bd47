package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var defaultPhrases = []string{"let me take a look", "let me check", "i'll look into", "checking that for you"}

func TestDetect_MatchesLatestRepresentativeMessage(t *testing.T) {
	history := []Message{
		{Role: "customer", Content: "my account is locked"},
		{Role: "representative", Content: "Let me take a look at that for you."},
	}
	v := Detect(history, defaultPhrases, false)
	assert.True(t, v.Triggered)
	assert.Equal(t, "let me take a look", v.MatchedPhrase)
	assert.False(t, v.Forced)
}

func TestDetect_IsCaseInsensitive(t *testing.T) {
	history := []Message{{Role: "representative", Content: "CHECKING THAT FOR YOU now"}}
	v := Detect(history, defaultPhrases, false)
	assert.True(t, v.Triggered)
}

func TestDetect_IgnoresOlderRepresentativeMatch(t *testing.T) {
	history := []Message{
		{Role: "representative", Content: "Let me check on this."},
		{Role: "customer", Content: "thanks"},
		{Role: "representative", Content: "still looking into other things"},
	}
	v := Detect(history, defaultPhrases, false)
	assert.False(t, v.Triggered, "only the latest representative message should be scanned")
}

func TestDetect_NoRepresentativeMessageYieldsNoTrigger(t *testing.T) {
	history := []Message{{Role: "customer", Content: "let me check with someone"}}
	v := Detect(history, defaultPhrases, false)
	assert.False(t, v.Triggered)
}

func TestDetect_EmptyHistoryYieldsNoTrigger(t *testing.T) {
	v := Detect(nil, defaultPhrases, false)
	assert.False(t, v.Triggered)
}

func TestDetect_ForceBypassesPhraseMatching(t *testing.T) {
	history := []Message{{Role: "representative", Content: "totally unrelated text"}}
	v := Detect(history, defaultPhrases, true)
	assert.True(t, v.Triggered)
	assert.True(t, v.Forced)
	assert.Empty(t, v.MatchedPhrase)
}

func TestDetect_BlankPhrasesAreSkipped(t *testing.T) {
	history := []Message{{Role: "representative", Content: "hello there"}}
	v := Detect(history, []string{"  ", ""}, false)
	assert.False(t, v.Triggered)
}
