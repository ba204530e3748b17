package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"convolens/internal/analyzer"
	"convolens/internal/compress"
	"convolens/internal/session"
	"convolens/internal/source"
	"convolens/internal/timeframe"
	"convolens/internal/types"
)

// Stage names one state of the query pipeline.
type Stage string

const (
	StageResolvingTimeframe Stage = "resolving_timeframe"
	StageSelectingSource    Stage = "selecting_source"
	StageFetching           Stage = "fetching"
	StageCompressing        Stage = "compressing"
	StageAnalyzing          Stage = "analyzing"
	StageUpdatingSession    Stage = "updating_session"
	StageDone               Stage = "done"
	StageFailed             Stage = "failed"
)

// Error kinds carried by Failure events.
const (
	KindSourcesExhausted  = "all_sources_exhausted"
	KindBudgetUnreachable = "compression_budget_unreachable"
	KindUnstructured      = "unstructured_response"
	KindModelError        = "model_error"
	KindSessionStore      = "session_store_error"
	KindCanceled          = "canceled"
	KindInternal          = "internal"
)

// Failure is the structured payload of a terminal failed event. It carries
// enough context for the caller to decide on retry or display; raw transport
// errors stay in Detail, never as a stack trace.
type Failure struct {
	Stage     Stage  `json:"stage"`
	Kind      string `json:"kind"`
	SessionID string `json:"session_id"`
	Hint      string `json:"hint"`
	Detail    string `json:"detail,omitempty"`
}

// Event is one progress notification. Exactly one event is emitted per state
// transition, in order, terminating in either a Done event carrying the
// result or a Failed event carrying the failure.
type Event struct {
	Stage   Stage                 `json:"stage"`
	Message string                `json:"message"`
	Percent int                   `json:"percent"`
	Result  *types.AnalysisResult `json:"result,omitempty"`
	Failure *Failure              `json:"failure,omitempty"`
}

// Request is one query against the corpus.
type Request struct {
	SessionID string
	Query     string
}

// Orchestrator drives one query through resolve -> select -> fetch ->
// compress -> analyze -> update session, streaming progress along the way.
type Orchestrator struct {
	resolver   *timeframe.Resolver
	selector   *source.Selector
	compressor *compress.Compressor
	analyzer   *analyzer.Analyzer
	sessions   session.Store

	budget   int
	maxConvs int
	now      func() time.Time
}

// New wires an orchestrator. budget is the compression budget in runes;
// maxConvs caps how many conversations a fetch may return.
func New(resolver *timeframe.Resolver, selector *source.Selector, compressor *compress.Compressor,
	an *analyzer.Analyzer, sessions session.Store, budget, maxConvs int) *Orchestrator {
	return &Orchestrator{
		resolver:   resolver,
		selector:   selector,
		compressor: compressor,
		analyzer:   an,
		sessions:   sessions,
		budget:     budget,
		maxConvs:   maxConvs,
		now:        time.Now,
	}
}

// Ask runs the query pipeline and returns its ordered event stream. The
// channel is closed after the terminal event. Canceling ctx stops the
// pipeline at the next state boundary and leaves the session untouched.
func (o *Orchestrator) Ask(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		o.run(ctx, req, events)
	}()
	return events
}

func (o *Orchestrator) run(ctx context.Context, req Request, events chan<- Event) {
	emit := func(ev Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}
	fail := func(stage Stage, err error) {
		f := o.classify(stage, req.SessionID, err)
		log.Printf("[orchestrator] session %s failed at %s: %s (%s)", req.SessionID, stage, f.Kind, f.Detail)
		emit(Event{Stage: StageFailed, Message: f.Hint, Failure: f})
	}

	now := o.now()

	emit(Event{Stage: StageResolvingTimeframe, Message: "Resolving timeframe", Percent: 5})
	interval, err := o.resolver.Resolve(req.Query, now)
	if err != nil {
		// Ambiguity is recovered locally with the default window; the
		// pipeline never blocks purely on timeframe ambiguity.
		if !errors.Is(err, timeframe.ErrAmbiguous) {
			fail(StageResolvingTimeframe, err)
			return
		}
		interval = o.resolver.DefaultWindow(now)
		log.Printf("[orchestrator] session %s: ambiguous timeframe, using default window", req.SessionID)
	}

	prior, err := o.sessions.Get(ctx, req.SessionID)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		fail(StageResolvingTimeframe, err)
		return
	}

	// A follow-up reuses the previous corpus for a narrower pass - unless
	// the query names a new explicit timeframe, which takes priority.
	followUp := prior != nil && prior.HasConversations && prior.LastCompressed != nil &&
		IsFollowUp(req.Query) && !timeframe.Explicit(req.Query)

	var (
		cc          *types.CompressedCorpus
		fingerprint types.Fingerprint
	)

	if followUp {
		cc = prior.LastCompressed
		fingerprint = prior.Fingerprint
		interval = prior.LastInterval
		log.Printf("[orchestrator] session %s: follow-up query, reusing %d prior conversations",
			req.SessionID, fingerprint.Count)
	} else {
		emit(Event{Stage: StageSelectingSource, Message: "Selecting conversation source", Percent: 15})
		filter := types.Filter{Interval: interval, MaxCount: o.maxConvs}

		emit(Event{Stage: StageFetching, Message: "Fetching conversations", Percent: 30})
		corpus, err := o.selector.Select(ctx, filter)
		if err != nil {
			fail(StageFetching, err)
			return
		}
		log.Printf("[orchestrator] session %s: fetched %d conversations from %s (fallback=%t) in %s",
			req.SessionID, len(corpus.Conversations), corpus.Source, corpus.FellBack, corpus.FetchDuration)

		emit(Event{Stage: StageCompressing, Message: "Compressing corpus", Percent: 55})
		cc, err = o.compressor.Compress(corpus, o.budget)
		if err != nil {
			fail(StageCompressing, err)
			return
		}
		corpus.Compressed = cc.Compressed
		fingerprint = session.FingerprintOf(corpus.Conversations)
	}

	if ctx.Err() != nil {
		fail(StageAnalyzing, ctx.Err())
		return
	}

	emit(Event{Stage: StageAnalyzing, Message: "Analyzing conversations", Percent: 70})
	result, err := o.analyzer.Analyze(ctx, req.Query, cc)
	if err != nil {
		fail(StageAnalyzing, err)
		return
	}

	if ctx.Err() != nil {
		// Canceled after analysis: no partial session update.
		fail(StageUpdatingSession, ctx.Err())
		return
	}

	emit(Event{Stage: StageUpdatingSession, Message: "Updating session", Percent: 90})
	state := &types.SessionState{
		SessionID:        req.SessionID,
		LastQuery:        req.Query,
		LastInterval:     interval,
		Fingerprint:      fingerprint,
		HasConversations: fingerprint.Count > 0,
		LastCompressed:   cc,
		UpdatedAt:        o.now(),
	}
	if err := o.sessions.Update(ctx, state); err != nil {
		fail(StageUpdatingSession, err)
		return
	}

	emit(Event{Stage: StageDone, Message: "Analysis complete", Percent: 100, Result: result})
}

// classify maps a stage error onto the failure taxonomy with an action hint.
func (o *Orchestrator) classify(stage Stage, sessionID string, err error) *Failure {
	f := &Failure{Stage: stage, SessionID: sessionID, Detail: err.Error()}

	switch {
	case errors.Is(err, context.Canceled):
		f.Kind = KindCanceled
		f.Hint = "query canceled"
	case errors.Is(err, source.ErrExhausted):
		f.Kind = KindSourcesExhausted
		f.Hint = "check source connectivity and credentials, then retry"
	case errors.Is(err, compress.ErrBudgetUnreachable):
		f.Kind = KindBudgetUnreachable
		f.Hint = "narrow the timeframe or lower the conversation cap"
	case errors.Is(err, analyzer.ErrUnstructured):
		f.Kind = KindUnstructured
		f.Hint = "retry the query"
	case stage == StageAnalyzing:
		f.Kind = KindModelError
		f.Hint = "retry the query"
	case stage == StageUpdatingSession:
		f.Kind = KindSessionStore
		f.Hint = fmt.Sprintf("session %s state was not updated; retry", sessionID)
	default:
		f.Kind = KindInternal
		f.Hint = "retry"
	}

	return f
}
