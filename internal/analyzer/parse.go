package analyzer

import (
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"sort"

	"convolens/internal/types"
)

// responsePayload is the expected JSON structure from any LLM provider.
type responsePayload struct {
	Insights []insightPayload `json:"insights"`
}

type insightPayload struct {
	Category       string              `json:"category"`
	Title          string              `json:"title"`
	Description    string              `json:"description"`
	Impact         types.Impact        `json:"impact"`
	Customers      []types.CustomerRef `json:"customers"`
	Priority       float64             `json:"priority"`
	Recommendation string              `json:"recommendation"`
}

// parseInsights extracts and validates insights from a raw model response.
// totalConversations bounds the customer-count invariant; insights violating
// it are discarded rather than surfaced.
func parseInsights(raw string, totalConversations int) ([]types.Insight, error) {
	jsonText := extractJSON(raw)

	var payload responsePayload
	if err := json.Unmarshal([]byte(jsonText), &payload); err != nil {
		return nil, fmt.Errorf("parse response JSON: %w (response was: %.300s)", err, raw)
	}

	insights := make([]types.Insight, 0, len(payload.Insights))
	for _, p := range payload.Insights {
		category := types.Category(p.Category)
		if !category.Valid() {
			category = types.CategoryOther
		}

		if p.Impact.CustomerCount < 0 || p.Impact.CustomerCount > totalConversations {
			log.Printf("[analyzer] discarding insight %q: customer_count %d out of bounds (corpus has %d conversations)",
				p.Title, p.Impact.CustomerCount, totalConversations)
			continue
		}

		customers := p.Customers
		if len(customers) > p.Impact.CustomerCount {
			customers = customers[:p.Impact.CustomerCount]
		}

		insights = append(insights, types.Insight{
			Category:       category,
			Title:          p.Title,
			Description:    p.Description,
			Impact:         p.Impact,
			Customers:      customers,
			Priority:       p.Priority,
			Recommendation: p.Recommendation,
		})
	}

	return insights, nil
}

// orderInsights sorts by priority descending, ties broken by customer count
// descending; the stable sort preserves discovery order beyond that.
func orderInsights(insights []types.Insight) {
	sort.SliceStable(insights, func(i, j int) bool {
		if insights[i].Priority != insights[j].Priority {
			return insights[i].Priority > insights[j].Priority
		}
		return insights[i].Impact.CustomerCount > insights[j].Impact.CustomerCount
	})
}

// extractJSON attempts to extract JSON from the model's response, handling
// markdown code blocks.
func extractJSON(text string) string {
	re := regexp.MustCompile(`(?s)` + "```" + `(?:json)?\s*\n?(\{.*?\})\s*\n?` + "```")
	matches := re.FindStringSubmatch(text)
	if len(matches) > 1 {
		return matches[1]
	}

	re = regexp.MustCompile(`(?s)(\{.*\})`)
	matches = re.FindStringSubmatch(text)
	if len(matches) > 1 {
		return matches[1]
	}

	return text
}
