package delegate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/tool"
)

func testAnalyzer() *KeywordAnalyzer {
	return NewKeywordAnalyzer([]Profile{
		{AgentID: "toby", Aliases: []string{"tobias"}, Keywords: []string{"weather", "forecast"}},
		{AgentID: "sheets", Keywords: []string{"spreadsheet", "calendar"}},
	})
}

func TestAnalyze_ExplicitAskPhrasing(t *testing.T) {
	intent := testAnalyzer().Analyze("Ask Toby to check the weather in Paris")
	require.NotNil(t, intent)
	assert.Equal(t, "toby", intent.TargetAgentID)
	assert.Equal(t, tool.DelegateToolName, intent.ToolName)
	assert.GreaterOrEqual(t, intent.Confidence, 0.8)
}

func TestAnalyze_NameMentionBeatsKeywords(t *testing.T) {
	a := testAnalyzer()

	// "weather" alone scores the keyword cluster for toby; an explicit name
	// mention must never score below it.
	keyword := a.Analyze("what is the weather like tomorrow")
	require.NotNil(t, keyword)
	assert.Equal(t, "toby", keyword.TargetAgentID)

	mention := a.Analyze("toby should know about paris")
	require.NotNil(t, mention)
	assert.Equal(t, "toby", mention.TargetAgentID)
	assert.GreaterOrEqual(t, mention.Confidence, keyword.Confidence)
}

func TestAnalyze_AliasMatches(t *testing.T) {
	intent := testAnalyzer().Analyze("have tobias look into this")
	require.NotNil(t, intent)
	assert.Equal(t, "toby", intent.TargetAgentID)
	assert.GreaterOrEqual(t, intent.Confidence, 0.8)
}

func TestAnalyze_KeywordClusterScoresStepwise(t *testing.T) {
	a := testAnalyzer()

	one := a.Analyze("any forecast for tomorrow?")
	require.NotNil(t, one)

	two := a.Analyze("weather forecast for tomorrow?")
	require.NotNil(t, two)
	assert.Greater(t, two.Confidence, one.Confidence)
	assert.Less(t, two.Confidence, 0.8)
}

func TestAnalyze_NoSignal(t *testing.T) {
	assert.Nil(t, testAnalyzer().Analyze("tell me a joke"))
}

func TestAnalyze_NoSubstringFalsePositives(t *testing.T) {
	// "october" contains "tob" but not the word "toby".
	assert.Nil(t, testAnalyzer().Analyze("see you in october"))
}
