package compress

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convolens/internal/types"
)

func conversation(id string, bodies ...string) types.Conversation {
	msgs := make([]types.Message, len(bodies))
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, b := range bodies {
		role := "customer"
		if i%2 == 1 {
			role = "agent"
		}
		msgs[i] = types.Message{Role: role, Text: b, Timestamp: base.Add(time.Duration(i) * time.Minute)}
	}
	return types.Conversation{
		ID:            id,
		Subject:       "Subject " + id,
		CustomerEmail: id + "@example.com",
		Messages:      msgs,
		CreatedAt:     base,
		UpdatedAt:     base,
		Link:          "https://support.example.com/conversations/" + id,
	}
}

func corpusOf(convs ...types.Conversation) *types.Corpus {
	return &types.Corpus{Conversations: convs, Source: "rest"}
}

func TestCompressPassthroughWhenWithinBudget(t *testing.T) {
	t.Parallel()

	c := New(240)
	corpus := corpusOf(
		conversation("c1", "checkout is broken", "looking into it", "fixed now"),
		conversation("c2", "love the new dashboard"),
	)

	cc, err := c.Compress(corpus, 100000)
	require.NoError(t, err)
	assert.False(t, cc.Compressed)
	assert.Len(t, cc.Excerpts, 2)
	assert.Empty(t, cc.Dropped)
	assert.LessOrEqual(t, cc.Size, 100000)
	assert.Contains(t, Render(cc), "checkout is broken")
}

func TestCompressDropsDuplicateMessageBodies(t *testing.T) {
	t.Parallel()

	c := New(240)
	dup := "same automated reply" + strings.Repeat(" with boilerplate padding", 8)
	corpus := corpusOf(conversation("c1", "it broke", dup, dup, dup, "resolved"))

	full, err := c.Compress(corpus, 1000000)
	require.NoError(t, err)

	cc, err := c.Compress(corpus, full.Size-1)
	require.NoError(t, err)
	assert.True(t, cc.Compressed)
	assert.Less(t, cc.Size, full.Size)
	assert.Equal(t, 1, strings.Count(Render(cc), "same automated reply"))
}

func TestCompressExcerptKeepsFirstAndLastVerbatim(t *testing.T) {
	t.Parallel()

	c := New(40)
	middle := strings.Repeat("back and forth detail ", 40)
	corpus := corpusOf(conversation("c1", "opening issue report", middle, middle+"x", "closing resolution"))

	full, err := c.Compress(corpus, 1000000)
	require.NoError(t, err)

	cc, err := c.Compress(corpus, full.Size/2)
	require.NoError(t, err)
	require.Len(t, cc.Excerpts, 1)
	assert.True(t, cc.Excerpts[0].Truncated)
	assert.Contains(t, cc.Excerpts[0].Body, "opening issue report")
	assert.Contains(t, cc.Excerpts[0].Body, "closing resolution")
	assert.LessOrEqual(t, cc.Size, full.Size/2)
}

func TestCompressDropsConversationsButKeepsReferences(t *testing.T) {
	t.Parallel()

	c := New(60)
	convs := make([]types.Conversation, 100)
	for i := range convs {
		convs[i] = conversation(fmt.Sprintf("c%03d", i),
			"the export fails with a timeout every single time I try it",
			"thanks for the report, we are investigating the export pipeline",
			"this is now resolved in the latest release, sorry for the trouble")
	}
	corpus := corpusOf(convs...)

	full, err := c.Compress(corpus, 10000000)
	require.NoError(t, err)

	budget := full.Size * 2 / 5 // roughly 40 conversations' worth
	cc, err := c.Compress(corpus, budget)
	require.NoError(t, err)

	assert.LessOrEqual(t, cc.Size, budget)
	assert.NotEmpty(t, cc.Dropped)
	assert.Equal(t, 100, len(cc.Excerpts)+len(cc.Dropped))

	// Every conversation is referenceable from either the body or the
	// omission metadata, never absent from both.
	seen := make(map[string]bool)
	for _, ex := range cc.Excerpts {
		assert.NotEmpty(t, ex.Link)
		seen[ex.ID] = true
	}
	for _, d := range cc.Dropped {
		assert.NotEmpty(t, d.Link)
		assert.False(t, seen[d.ID], "conversation %s both kept and dropped", d.ID)
		seen[d.ID] = true
	}
	assert.Len(t, seen, 100)
}

func TestCompressIsIdempotentViaFit(t *testing.T) {
	t.Parallel()

	c := New(60)
	convs := make([]types.Conversation, 30)
	for i := range convs {
		convs[i] = conversation(fmt.Sprintf("c%02d", i),
			strings.Repeat("padding text ", 30), "ok", "done")
	}
	corpus := corpusOf(convs...)

	cc, err := c.Compress(corpus, 4000)
	require.NoError(t, err)

	again, err := c.Fit(cc, 4000)
	require.NoError(t, err)
	assert.Equal(t, cc, again)
}

func TestFitWithTighterBudgetOnlyDrops(t *testing.T) {
	t.Parallel()

	c := New(60)
	convs := make([]types.Conversation, 20)
	for i := range convs {
		convs[i] = conversation(fmt.Sprintf("c%02d", i), strings.Repeat("words ", 50), "ack", "done")
	}

	cc, err := c.Compress(corpusOf(convs...), 8000)
	require.NoError(t, err)

	tighter, err := c.Fit(cc, cc.Size/2)
	require.NoError(t, err)
	assert.LessOrEqual(t, tighter.Size, cc.Size/2)
	assert.Equal(t, 20, len(tighter.Excerpts)+len(tighter.Dropped))
	assert.Greater(t, len(tighter.Dropped), len(cc.Dropped))
}

func TestCompressUnreachableBudget(t *testing.T) {
	t.Parallel()

	c := New(240)
	corpus := corpusOf(conversation("c1", strings.Repeat("oversized ", 100)))

	_, err := c.Compress(corpus, 10)
	assert.ErrorIs(t, err, ErrBudgetUnreachable)
}

func TestCompressEmptyCorpus(t *testing.T) {
	t.Parallel()

	c := New(240)
	cc, err := c.Compress(corpusOf(), 1000)
	require.NoError(t, err)
	assert.False(t, cc.Compressed)
	assert.Zero(t, cc.SourceCount)
	assert.Empty(t, cc.Excerpts)
}
