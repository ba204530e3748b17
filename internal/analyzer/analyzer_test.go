package analyzer

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convolens/internal/config"
	"convolens/internal/types"
)

// fakeProvider replays scripted responses and records the prompts it saw.
type fakeProvider struct {
	responses []string
	err       error
	prompts   []string
}

func (f *fakeProvider) Complete(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	i := len(f.prompts) - 1
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i], nil
}

func testAnalysisConfig() config.AnalysisConfig {
	return config.AnalysisConfig{
		LLMProvider:     config.ProviderAnthropic,
		TimeoutSeconds:  5,
		InputCostPer1K:  0.003,
		OutputCostPer1K: 0.015,
	}
}

func testCorpus(n int) *types.CompressedCorpus {
	cc := &types.CompressedCorpus{SourceCount: n, MessageCount: n * 3, Budget: 48000}
	for i := 0; i < n; i++ {
		cc.Excerpts = append(cc.Excerpts, types.Excerpt{
			ID:   "c" + string(rune('0'+i)),
			Link: "https://support.example.com/c",
			Body: "customer: checkout fails",
		})
	}
	return cc
}

const validResponse = `{"insights": [
	{"category": "complaint", "title": "Slow dashboard", "description": "d",
	 "impact": {"customer_count": 1, "percentage": 20, "severity": "low"},
	 "priority": 3.0, "recommendation": "r"},
	{"category": "bug", "title": "Checkout broken", "description": "d",
	 "impact": {"customer_count": 3, "percentage": 60, "severity": "high"},
	 "customers": [{"email": "a@x.com", "conversation_id": "c0", "link": "l", "issue": "cannot pay"}],
	 "priority": 9.0, "recommendation": "r"},
	{"category": "bug", "title": "Login flaky", "description": "d",
	 "impact": {"customer_count": 2, "percentage": 40, "severity": "medium"},
	 "priority": 9.0, "recommendation": "r"}
]}`

func TestAnalyzeOrdersInsightsByPriorityThenReach(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{responses: []string{validResponse}}
	a := NewWithProvider(p, testAnalysisConfig())

	res, err := a.Analyze(context.Background(), "what are the top issues?", testCorpus(5))
	require.NoError(t, err)
	require.Len(t, res.Insights, 3)
	assert.Equal(t, "Checkout broken", res.Insights[0].Title)
	assert.Equal(t, "Login flaky", res.Insights[1].Title)
	assert.Equal(t, "Slow dashboard", res.Insights[2].Title)
	assert.Equal(t, 5, res.Summary.ConversationCount)
	assert.Len(t, p.prompts, 1)
	assert.Positive(t, res.Usage.EstimatedTokens)
	assert.Positive(t, res.Usage.EstimatedCost)
}

func TestAnalyzeDiscardsOutOfBoundsCustomerCounts(t *testing.T) {
	t.Parallel()

	response := `{"insights": [
		{"category": "bug", "title": "Inflated", "description": "d",
		 "impact": {"customer_count": 50, "percentage": 100, "severity": "high"},
		 "priority": 9.0},
		{"category": "bug", "title": "Plausible", "description": "d",
		 "impact": {"customer_count": 2, "percentage": 40, "severity": "high"},
		 "customers": [
			{"email": "a@x.com", "conversation_id": "c0", "link": "l", "issue": "i"},
			{"email": "b@x.com", "conversation_id": "c1", "link": "l", "issue": "i"},
			{"email": "c@x.com", "conversation_id": "c2", "link": "l", "issue": "i"}
		 ],
		 "priority": 5.0}
	]}`
	p := &fakeProvider{responses: []string{response}}
	a := NewWithProvider(p, testAnalysisConfig())

	res, err := a.Analyze(context.Background(), "top issues", testCorpus(5))
	require.NoError(t, err)
	require.Len(t, res.Insights, 1)
	assert.Equal(t, "Plausible", res.Insights[0].Title)
	// Customer list never exceeds the claimed count.
	assert.Len(t, res.Insights[0].Customers, 2)
}

func TestAnalyzeMapsUnknownCategoryToOther(t *testing.T) {
	t.Parallel()

	response := `{"insights": [{"category": "rant", "title": "T", "description": "d",
		"impact": {"customer_count": 1, "percentage": 20, "severity": "low"}, "priority": 1.0}]}`
	p := &fakeProvider{responses: []string{response}}
	a := NewWithProvider(p, testAnalysisConfig())

	res, err := a.Analyze(context.Background(), "q", testCorpus(5))
	require.NoError(t, err)
	require.Len(t, res.Insights, 1)
	assert.Equal(t, types.CategoryOther, res.Insights[0].Category)
}

func TestAnalyzeRetriesOnceWithCorrectivePrompt(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{responses: []string{"sure, here are some thoughts in prose", validResponse}}
	a := NewWithProvider(p, testAnalysisConfig())

	res, err := a.Analyze(context.Background(), "top issues", testCorpus(5))
	require.NoError(t, err)
	assert.Len(t, res.Insights, 3)
	require.Len(t, p.prompts, 2)
	assert.Contains(t, p.prompts[1], "valid JSON")
	assert.Contains(t, p.prompts[1], p.prompts[0])
}

func TestAnalyzeUnstructuredAfterRetry(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{responses: []string{"prose", "still prose"}}
	a := NewWithProvider(p, testAnalysisConfig())

	_, err := a.Analyze(context.Background(), "top issues", testCorpus(5))
	assert.ErrorIs(t, err, ErrUnstructured)
	assert.Len(t, p.prompts, 2)
}

func TestAnalyzeEmptyCorpusSkipsModelCall(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{responses: []string{validResponse}}
	a := NewWithProvider(p, testAnalysisConfig())

	res, err := a.Analyze(context.Background(), "top issues", testCorpus(0))
	require.NoError(t, err)
	assert.Empty(t, res.Insights)
	assert.NotNil(t, res.Insights)
	assert.Empty(t, p.prompts)
	assert.Zero(t, res.Usage.EstimatedTokens)
}

func TestExtractJSONHandlesMarkdownFences(t *testing.T) {
	t.Parallel()

	fenced := "Here you go:\n```json\n" + `{"insights": []}` + "\n```\nHope that helps!"
	insights, err := parseInsights(fenced, 5)
	require.NoError(t, err)
	assert.Empty(t, insights)

	embedded := `Some preamble {"insights": []} trailing text`
	insights, err = parseInsights(embedded, 5)
	require.NoError(t, err)
	assert.Empty(t, insights)
}

func TestBuildPromptContainsCorpusAndSchema(t *testing.T) {
	t.Parallel()

	cc := testCorpus(3)
	prompt := BuildPrompt("what broke this week?", cc)
	assert.Contains(t, prompt, "what broke this week?")
	assert.Contains(t, prompt, "checkout fails")
	assert.Contains(t, prompt, `"insights"`)
	assert.True(t, strings.Contains(prompt, "ONLY a valid JSON object"))
}
