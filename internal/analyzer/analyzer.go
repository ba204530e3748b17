package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"convolens/internal/analyzer/providers"
	"convolens/internal/config"
	"convolens/internal/types"
)

// ErrUnstructured is returned when the model failed to produce a valid
// structured response even after one corrective retry.
var ErrUnstructured = errors.New("model returned unstructured response")

// Provider defines the interface for LLM providers
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Analyzer extracts structured insights from a compressed corpus via a single
// model call per query.
type Analyzer struct {
	provider Provider
	timeout  time.Duration
	inRate   float64 // USD per 1K input tokens
	outRate  float64 // USD per 1K output tokens
}

// New creates an analyzer with the appropriate provider based on config
func New(cfg config.AnalysisConfig) (*Analyzer, error) {
	var provider Provider

	switch cfg.LLMProvider {
	case config.ProviderAnthropic:
		provider = providers.NewAnthropicProvider(cfg.APIKey, cfg.Model, cfg.MaxTokens)
	case config.ProviderGemini:
		p, err := providers.NewGeminiProvider(cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		provider = p
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.LLMProvider)
	}

	return NewWithProvider(provider, cfg), nil
}

// NewWithProvider creates an analyzer around an explicit provider.
func NewWithProvider(provider Provider, cfg config.AnalysisConfig) *Analyzer {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Analyzer{
		provider: provider,
		timeout:  timeout,
		inRate:   cfg.InputCostPer1K,
		outRate:  cfg.OutputCostPer1K,
	}
}

// Analyze sends the query and compressed corpus to the model and returns a
// validated, deterministically ordered result. On a schema-invalid response
// it retries once with an explicit corrective instruction.
func (a *Analyzer) Analyze(ctx context.Context, query string, cc *types.CompressedCorpus) (*types.AnalysisResult, error) {
	started := time.Now()

	// An empty corpus is a valid zero-result outcome; no model call needed.
	if cc.SourceCount == 0 {
		return &types.AnalysisResult{
			Insights: []types.Insight{},
			Summary: types.AnalysisSummary{
				AnalyzedAt: time.Now(),
			},
			Usage: types.Usage{Elapsed: time.Since(started)},
		}, nil
	}

	prompt := BuildPrompt(query, cc)

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	raw, err := a.provider.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("model call failed: %w", err)
	}

	insights, parseErr := parseInsights(raw, cc.SourceCount)
	promptRunes := utf8.RuneCountInString(prompt)
	responseRunes := utf8.RuneCountInString(raw)

	if parseErr != nil {
		log.Printf("[analyzer] response failed schema validation, retrying with corrective prompt: %v", parseErr)

		corrective := CorrectivePrompt(prompt)
		raw, err = a.provider.Complete(ctx, corrective)
		if err != nil {
			return nil, fmt.Errorf("corrective model call failed: %w", err)
		}
		promptRunes += utf8.RuneCountInString(corrective)
		responseRunes += utf8.RuneCountInString(raw)

		insights, parseErr = parseInsights(raw, cc.SourceCount)
		if parseErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnstructured, parseErr)
		}
	}

	orderInsights(insights)

	inTokens := promptRunes / 4
	outTokens := responseRunes / 4

	return &types.AnalysisResult{
		Insights: insights,
		Summary: types.AnalysisSummary{
			ConversationCount: cc.SourceCount,
			MessageCount:      cc.MessageCount,
			AnalyzedAt:        time.Now(),
		},
		Usage: types.Usage{
			Elapsed:         time.Since(started),
			EstimatedTokens: inTokens + outTokens,
			EstimatedCost:   float64(inTokens)/1000*a.inRate + float64(outTokens)/1000*a.outRate,
		},
	}, nil
}
