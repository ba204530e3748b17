package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"convolens/internal/types"
)

// Render produces a plain-text report for an analysis result, suitable for a
// terminal.
func Render(query string, res *types.AnalysisResult) string {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Question: %s\n", query))
	buf.WriteString(fmt.Sprintf("Analyzed %d conversations (%d messages) at %s\n\n",
		res.Summary.ConversationCount, res.Summary.MessageCount,
		res.Summary.AnalyzedAt.Format("Jan 2 15:04")))

	if len(res.Insights) == 0 {
		buf.WriteString("No insights found for this question in the selected timeframe.\n")
	}

	for i, in := range res.Insights {
		buf.WriteString(fmt.Sprintf("%d. [%s] %s (priority %.1f, severity %s)\n",
			i+1, in.Category, in.Title, in.Priority, in.Impact.Severity))
		buf.WriteString(fmt.Sprintf("   %s\n", in.Description))
		buf.WriteString(fmt.Sprintf("   Affects %d customers (%.1f%% of corpus)\n",
			in.Impact.CustomerCount, in.Impact.Percentage))
		for _, c := range in.Customers {
			issue := c.Issue
			if issue != "" {
				issue = ": " + issue
			}
			buf.WriteString(fmt.Sprintf("   - %s%s\n     %s\n", c.Email, issue, c.Link))
		}
		if in.Recommendation != "" {
			buf.WriteString(fmt.Sprintf("   Recommendation: %s\n", in.Recommendation))
		}
		buf.WriteString("\n")
	}

	buf.WriteString(strings.Repeat("-", 40) + "\n")
	buf.WriteString(fmt.Sprintf("Completed in %s, ~%d tokens, est. $%.4f\n",
		res.Usage.Elapsed.Round(time.Millisecond), res.Usage.EstimatedTokens, res.Usage.EstimatedCost))

	return buf.String()
}
