package compress

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"convolens/internal/types"
)

// ErrBudgetUnreachable is returned when even maximal compression cannot fit
// the budget: the floor is the corpus header plus every conversation's
// id/link line, which never gets dropped.
var ErrBudgetUnreachable = errors.New("compression budget unreachable")

// Compressor reduces a corpus to a bounded rendered size while keeping every
// conversation referenceable. All logic is pure and deterministic.
type Compressor struct {
	excerptLen int
}

// New creates a compressor. excerptLen bounds the compressed middle of each
// conversation, in runes.
func New(excerptLen int) *Compressor {
	if excerptLen <= 0 {
		excerptLen = 240
	}
	return &Compressor{excerptLen: excerptLen}
}

// Compress derives a size-bounded representation of corpus. If the raw corpus
// already fits it is passed through untouched (Compressed=false). Otherwise
// three stages apply in order until the budget is met: duplicate message
// bodies are dropped, conversation middles are excerpted, and finally the
// lowest-signal conversations are dropped bodily, with their id/link retained
// in the omission metadata.
func (c *Compressor) Compress(corpus *types.Corpus, budget int) (*types.CompressedCorpus, error) {
	if budget <= 0 {
		return nil, fmt.Errorf("%w: budget must be positive", ErrBudgetUnreachable)
	}

	messageCount := 0
	for _, conv := range corpus.Conversations {
		messageCount += len(conv.Messages)
	}

	cc := &types.CompressedCorpus{
		Budget:       budget,
		SourceCount:  len(corpus.Conversations),
		MessageCount: messageCount,
	}
	for _, conv := range corpus.Conversations {
		cc.Excerpts = append(cc.Excerpts, verbatimExcerpt(conv))
	}

	if cc.Size = renderedSize(cc); cc.Size <= budget {
		return cc, nil
	}
	cc.Compressed = true

	// Stage 1: drop exact-duplicate message bodies within each conversation.
	for i, conv := range corpus.Conversations {
		cc.Excerpts[i] = dedupedExcerpt(conv)
	}
	if cc.Size = renderedSize(cc); cc.Size <= budget {
		return cc, nil
	}

	// Stage 2: excerpt each conversation. First and last messages stay
	// verbatim (opening issue and resolution), the middle is compressed.
	for i, conv := range corpus.Conversations {
		cc.Excerpts[i] = c.excerpted(conv)
	}
	if cc.Size = renderedSize(cc); cc.Size <= budget {
		return cc, nil
	}

	// Stage 3: drop lowest-signal conversations (shortest bodies first)
	// until the rendered text fits. Dropped conversations keep their id and
	// link in the omission list.
	if err := dropToFit(cc, budget); err != nil {
		return nil, err
	}
	return cc, nil
}

// Fit re-bounds an already-compressed corpus. With an unchanged budget it is
// a no-op; with a tighter budget only the drop stage applies, since bodies
// are already excerpts and must not be compressed twice.
func (c *Compressor) Fit(cc *types.CompressedCorpus, budget int) (*types.CompressedCorpus, error) {
	if budget == cc.Budget && cc.Size <= budget {
		return cc, nil
	}

	out := &types.CompressedCorpus{
		Excerpts:     append([]types.Excerpt(nil), cc.Excerpts...),
		Dropped:      append([]types.DroppedConversation(nil), cc.Dropped...),
		Budget:       budget,
		Compressed:   cc.Compressed,
		SourceCount:  cc.SourceCount,
		MessageCount: cc.MessageCount,
	}
	if out.Size = renderedSize(out); out.Size <= budget {
		return out, nil
	}
	out.Compressed = true
	if err := dropToFit(out, budget); err != nil {
		return nil, err
	}
	return out, nil
}

// Render produces the prompt text for a compressed corpus. Size bookkeeping
// and budget checks are all in terms of this rendering.
func Render(cc *types.CompressedCorpus) string {
	var sb strings.Builder

	shown := len(cc.Excerpts)
	sb.WriteString(fmt.Sprintf("Support conversations (%d of %d shown):\n\n", shown, cc.SourceCount))

	for _, ex := range cc.Excerpts {
		sb.WriteString(fmt.Sprintf("### Conversation %s\n", ex.ID))
		sb.WriteString(fmt.Sprintf("Customer: %s\n", ex.CustomerEmail))
		if ex.Subject != "" {
			sb.WriteString(fmt.Sprintf("Subject: %s\n", ex.Subject))
		}
		sb.WriteString(fmt.Sprintf("Link: %s\n", ex.Link))
		sb.WriteString(fmt.Sprintf("Messages (%d):\n", ex.MessageCount))
		sb.WriteString(ex.Body)
		sb.WriteString("\n\n")
	}

	if len(cc.Dropped) > 0 {
		sb.WriteString("Omitted conversations (content excluded to fit budget):\n")
		for _, d := range cc.Dropped {
			sb.WriteString(fmt.Sprintf("- %s %s\n", d.ID, d.Link))
		}
	}

	return sb.String()
}

func renderedSize(cc *types.CompressedCorpus) int {
	return utf8.RuneCountInString(Render(cc))
}

func verbatimExcerpt(conv types.Conversation) types.Excerpt {
	lines := make([]string, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		lines = append(lines, m.Role+": "+m.Text)
	}
	return types.Excerpt{
		ID:            conv.ID,
		Link:          conv.Link,
		CustomerEmail: conv.CustomerEmail,
		Subject:       conv.Subject,
		Body:          strings.Join(lines, "\n"),
		MessageCount:  len(conv.Messages),
	}
}

func dedupedExcerpt(conv types.Conversation) types.Excerpt {
	seen := make(map[string]bool, len(conv.Messages))
	lines := make([]string, 0, len(conv.Messages))
	kept := 0
	for _, m := range conv.Messages {
		if seen[m.Text] {
			continue
		}
		seen[m.Text] = true
		lines = append(lines, m.Role+": "+m.Text)
		kept++
	}
	ex := verbatimExcerpt(conv)
	ex.Body = strings.Join(lines, "\n")
	ex.MessageCount = kept
	ex.Truncated = kept < len(conv.Messages)
	return ex
}

func (c *Compressor) excerpted(conv types.Conversation) types.Excerpt {
	ex := dedupedExcerpt(conv)
	msgs := dedupedMessages(conv)
	if len(msgs) <= 2 {
		return ex
	}

	first := msgs[0]
	last := msgs[len(msgs)-1]

	var middle strings.Builder
	for i, m := range msgs[1 : len(msgs)-1] {
		if i > 0 {
			middle.WriteString(" / ")
		}
		middle.WriteString(m.Text)
	}
	compressed := truncateRunes(middle.String(), c.excerptLen)

	var body strings.Builder
	body.WriteString(first.Role + ": " + first.Text + "\n")
	body.WriteString(fmt.Sprintf("[%d messages compressed] %s\n", len(msgs)-2, compressed))
	body.WriteString(last.Role + ": " + last.Text)

	ex.Body = body.String()
	ex.Truncated = true
	return ex
}

func dedupedMessages(conv types.Conversation) []types.Message {
	seen := make(map[string]bool, len(conv.Messages))
	out := make([]types.Message, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		if seen[m.Text] {
			continue
		}
		seen[m.Text] = true
		out = append(out, m)
	}
	return out
}

// dropToFit removes the shortest-bodied excerpts one at a time until the
// rendering fits the budget. Fails once nothing is left to drop.
func dropToFit(cc *types.CompressedCorpus, budget int) error {
	for renderedSize(cc) > budget {
		if len(cc.Excerpts) == 0 {
			return fmt.Errorf("%w: %d conversation references alone exceed budget %d",
				ErrBudgetUnreachable, cc.SourceCount, budget)
		}

		victim := 0
		for i := 1; i < len(cc.Excerpts); i++ {
			if utf8.RuneCountInString(cc.Excerpts[i].Body) < utf8.RuneCountInString(cc.Excerpts[victim].Body) {
				victim = i
			}
		}

		dropped := cc.Excerpts[victim]
		cc.Excerpts = append(cc.Excerpts[:victim], cc.Excerpts[victim+1:]...)
		cc.Dropped = append(cc.Dropped, types.DroppedConversation{ID: dropped.ID, Link: dropped.Link})
	}

	sort.Slice(cc.Dropped, func(i, j int) bool { return cc.Dropped[i].ID < cc.Dropped[j].ID })
	cc.Size = renderedSize(cc)
	return nil
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= 3 {
		return strings.Repeat(".", max)
	}
	runes := []rune(s)
	return string(runes[:max-3]) + "..."
}
