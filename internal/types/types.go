package types

import "time"

// Interval is a half-open [Start, End) time range.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// IsZero reports whether the interval is unset.
func (iv Interval) IsZero() bool {
	return iv.Start.IsZero() && iv.End.IsZero()
}

// Contains reports whether t falls inside the interval.
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// Message is a single message inside a support conversation.
type Message struct {
	Role      string    `json:"role"` // "customer" or "agent"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation represents a support conversation as fetched from a backend.
// Immutable once fetched within a request.
type Conversation struct {
	ID            string    `json:"id"`
	Subject       string    `json:"subject"`
	CustomerEmail string    `json:"customer_email"`
	Messages      []Message `json:"messages"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	Link          string    `json:"link"`
}

// Filter selects conversations from a source. Built once per query.
type Filter struct {
	Interval Interval
	MaxCount int    // 0 means no cap
	Search   string // optional free-text constraint
}

// Corpus is the ordered conversation set retrieved for one query, plus
// provenance about how it was fetched.
type Corpus struct {
	Conversations []Conversation
	Source        string // "rest" or "stream"
	FetchDuration time.Duration
	FellBack      bool
	Compressed    bool
}

// Excerpt is one conversation's contribution to a compressed corpus. Body may
// be shortened or absent, but ID and Link always survive.
type Excerpt struct {
	ID            string
	Link          string
	CustomerEmail string
	Subject       string
	Body          string
	MessageCount  int
	Truncated     bool
}

// DroppedConversation records a conversation whose body was excluded from the
// prompt to meet the budget.
type DroppedConversation struct {
	ID   string
	Link string
}

// CompressedCorpus is a size-bounded representation of a Corpus. It is always
// derived from a raw Corpus, never from another CompressedCorpus.
type CompressedCorpus struct {
	Excerpts     []Excerpt
	Dropped      []DroppedConversation
	Budget       int
	Size         int // runes of rendered text
	Compressed   bool
	SourceCount  int // conversations in the source corpus
	MessageCount int // messages in the source corpus
}

// Category classifies an insight.
type Category string

const (
	CategoryBug            Category = "bug"
	CategoryFeatureRequest Category = "feature-request"
	CategoryComplaint      Category = "complaint"
	CategoryPraise         Category = "praise"
	CategoryQuestion       Category = "question"
	CategoryOther          Category = "other"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryBug, CategoryFeatureRequest, CategoryComplaint,
		CategoryPraise, CategoryQuestion, CategoryOther:
		return true
	}
	return false
}

// CustomerRef points an insight back at an affected customer's conversation.
type CustomerRef struct {
	Email          string `json:"email"`
	ConversationID string `json:"conversation_id"`
	Link           string `json:"link"`
	Issue          string `json:"issue"`
}

// Impact quantifies how widespread an insight is.
type Impact struct {
	CustomerCount int     `json:"customer_count"`
	Percentage    float64 `json:"percentage"`
	Severity      string  `json:"severity"` // "low", "medium", "high", "critical"
}

// Insight is one categorized finding extracted from a corpus.
type Insight struct {
	Category       Category      `json:"category"`
	Title          string        `json:"title"`
	Description    string        `json:"description"`
	Impact         Impact        `json:"impact"`
	Customers      []CustomerRef `json:"customers"`
	Priority       float64       `json:"priority"`
	Recommendation string        `json:"recommendation"`
}

// AnalysisSummary describes the corpus an analysis covered.
type AnalysisSummary struct {
	ConversationCount int       `json:"conversation_count"`
	MessageCount      int       `json:"message_count"`
	AnalyzedAt        time.Time `json:"analyzed_at"`
}

// Usage carries timing and cost metadata for one analysis call.
type Usage struct {
	Elapsed         time.Duration `json:"elapsed"`
	EstimatedTokens int           `json:"estimated_tokens"`
	EstimatedCost   float64       `json:"estimated_cost_usd"`
}

// AnalysisResult is the immutable output of one successful analysis. Insights
// are ordered by priority descending, ties broken by customer count.
type AnalysisResult struct {
	Insights []Insight       `json:"insights"`
	Summary  AnalysisSummary `json:"summary"`
	Usage    Usage           `json:"usage"`
}

// Fingerprint identifies a retrieved corpus without retaining its content.
type Fingerprint struct {
	Count int    `json:"count"`
	Hash  string `json:"hash"`
}

// SessionState is the per-session context retained between queries. The
// orchestrator is its sole mutator.
type SessionState struct {
	SessionID        string            `json:"session_id"`
	LastQuery        string            `json:"last_query"`
	LastInterval     Interval          `json:"last_interval"`
	Fingerprint      Fingerprint       `json:"fingerprint"`
	HasConversations bool              `json:"has_conversations"`
	LastCompressed   *CompressedCorpus `json:"last_compressed,omitempty"`
	UpdatedAt        time.Time         `json:"updated_at"`
}
