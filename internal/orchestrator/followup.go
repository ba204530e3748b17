package orchestrator

import "strings"

// followUpCues are the phrases that mark a query as referring to the previous
// result set. Detection is deliberately an isolated pure function so the
// heuristic can be replaced without touching the state machine.
var followUpCues = []string{
	"tell me more",
	"more about",
	"more detail",
	"drill into",
	"dig deeper",
	"go deeper",
	"expand on",
	"what about",
	"of those",
	"among those",
	"from those",
}

// IsFollowUp reports whether the query reads as a follow-up to the previous
// one. An explicit timeframe elsewhere in the query overrides this upstream.
func IsFollowUp(query string) bool {
	q := strings.ToLower(query)
	for _, cue := range followUpCues {
		if strings.Contains(q, cue) {
			return true
		}
	}
	return false
}
