package analyzer

import (
	"fmt"
	"strings"

	"convolens/internal/compress"
	"convolens/internal/types"
)

// BuildPrompt constructs the LLM prompt for extracting insights from a
// compressed corpus.
func BuildPrompt(query string, cc *types.CompressedCorpus) string {
	var sb strings.Builder

	sb.WriteString("You are analyzing customer support conversations to answer a question.\n\n")

	sb.WriteString("## Question\n")
	sb.WriteString(query)
	sb.WriteString("\n\n## Conversations\n\n")
	sb.WriteString(compress.Render(cc))

	sb.WriteString("\n## Task\n\n")
	sb.WriteString("Extract the distinct insights that answer the question. For each insight provide:\n")
	sb.WriteString("1. category: one of \"bug\", \"feature-request\", \"complaint\", \"praise\", \"question\", \"other\"\n")
	sb.WriteString("2. title and description\n")
	sb.WriteString(fmt.Sprintf("3. impact: customer_count (never more than the %d conversations above), percentage, severity (\"low\", \"medium\", \"high\", \"critical\")\n", cc.SourceCount))
	sb.WriteString("4. customers: affected customers with email, conversation_id, link, and a one-line issue summary (at most customer_count entries)\n")
	sb.WriteString("5. priority: a numeric score, higher means more urgent\n")
	sb.WriteString("6. recommendation: one concrete suggested action\n\n")

	sb.WriteString("IMPORTANT: Respond with ONLY a valid JSON object. No markdown, no code blocks, no explanation - just the raw JSON starting with { and ending with }.\n\n")
	sb.WriteString("Example structure:\n")
	sb.WriteString(`{"insights": [{"category": "bug", "title": "...", "description": "...", "impact": {"customer_count": 3, "percentage": 12.5, "severity": "high"}, "customers": [{"email": "a@b.com", "conversation_id": "...", "link": "...", "issue": "..."}], "priority": 8.5, "recommendation": "..."}]}`)
	sb.WriteString("\n")

	return sb.String()
}

// CorrectivePrompt wraps the original prompt with an explicit instruction to
// return schema-valid JSON. Used for the single retry after an unparseable
// response.
func CorrectivePrompt(original string) string {
	var sb strings.Builder
	sb.WriteString(original)
	sb.WriteString("\n\nYour previous response was not valid JSON matching the schema. ")
	sb.WriteString("Return ONLY a valid JSON object matching the schema above, with no surrounding text.\n")
	return sb.String()
}
