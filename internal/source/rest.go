package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"convolens/internal/types"
)

// RestSource fetches conversations from a paged request/response API.
type RestSource struct {
	baseURL        string
	apiKey         string
	pageSize       int
	maxConcurrency int
	timeout        time.Duration
	client         *http.Client
}

// NewRestSource creates a REST-backed conversation source.
func NewRestSource(baseURL, apiKey string, pageSize, maxConcurrency int, timeout time.Duration) *RestSource {
	if pageSize <= 0 {
		pageSize = 50
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RestSource{
		baseURL:        baseURL,
		apiKey:         apiKey,
		pageSize:       pageSize,
		maxConcurrency: maxConcurrency,
		timeout:        timeout,
		client:         &http.Client{Timeout: timeout},
	}
}

// Name returns the provenance name recorded on fetched corpora.
func (r *RestSource) Name() string { return NameRest }

// pageResponse is one page of the backend's conversation listing.
type pageResponse struct {
	Conversations []types.Conversation `json:"conversations"`
	Page          int                  `json:"page"`
	TotalPages    int                  `json:"total_pages"`
}

// Fetch retrieves every page matching the filter, assembling pages fetched
// concurrently into a single newest-first corpus before returning it.
func (r *RestSource) Fetch(ctx context.Context, filter types.Filter) (*types.Corpus, error) {
	started := time.Now()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	first, err := r.fetchPage(ctx, filter, 1)
	if err != nil {
		return nil, err
	}

	pages := make([][]types.Conversation, first.TotalPages)
	if first.TotalPages > 0 {
		pages[0] = first.Conversations
	}

	if first.TotalPages > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.maxConcurrency)
		for p := 2; p <= first.TotalPages; p++ {
			g.Go(func() error {
				resp, err := r.fetchPage(gctx, filter, p)
				if err != nil {
					return err
				}
				pages[p-1] = resp.Conversations
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	var all []types.Conversation
	for _, page := range pages {
		all = append(all, page...)
	}

	// Newest-first, so MaxCount truncation keeps the most recent
	// conversations. Both sources apply the same policy.
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if filter.MaxCount > 0 && len(all) > filter.MaxCount {
		all = all[:filter.MaxCount]
	}

	return &types.Corpus{
		Conversations: all,
		Source:        NameRest,
		FetchDuration: time.Since(started),
	}, nil
}

func (r *RestSource) fetchPage(ctx context.Context, filter types.Filter, page int) (*pageResponse, error) {
	q := url.Values{}
	q.Set("since", filter.Interval.Start.UTC().Format(time.RFC3339))
	q.Set("until", filter.Interval.End.UTC().Format(time.RFC3339))
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(r.pageSize))
	if filter.Search != "" {
		q.Set("q", filter.Search)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/conversations?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build conversations request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: page %d returned status %d", ErrUnavailable, page, resp.StatusCode)
	}

	var pr pageResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("%w: malformed page %d: %v", ErrUnavailable, page, err)
	}

	return &pr, nil
}

// classifyTransportError folds network failures into the source error
// taxonomy: deadlines become ErrTimeout, everything else ErrUnavailable.
// Caller cancellation passes through untouched so it is never retried or
// treated as a source outage.
func classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
