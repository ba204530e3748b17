package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"convolens/internal/types"
)

// pagedBackend serves a fixed conversation set split into pages, oldest first,
// so newest-first ordering has to come from the client.
func pagedBackend(t *testing.T, convs []types.Conversation, pageSize int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/conversations", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("since"))
		assert.NotEmpty(t, r.URL.Query().Get("until"))

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page < 1 {
			page = 1
		}

		total := (len(convs) + pageSize - 1) / pageSize
		start := (page - 1) * pageSize
		end := start + pageSize
		if start > len(convs) {
			start = len(convs)
		}
		if end > len(convs) {
			end = len(convs)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"conversations": convs[start:end],
			"page":          page,
			"total_pages":   total,
		})
	}))
}

func restFilter() types.Filter {
	return types.Filter{Interval: types.Interval{
		Start: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC),
	}}
}

func TestRestFetchAssemblesPagesNewestFirst(t *testing.T) {
	t.Parallel()

	convs := make([]types.Conversation, 12)
	for i := range convs {
		convs[i] = types.Conversation{
			ID:        fmt.Sprintf("c%02d", i),
			CreatedAt: time.Date(2026, 3, 1, i, 0, 0, 0, time.UTC),
		}
	}
	srv := pagedBackend(t, convs, 5)
	defer srv.Close()

	r := NewRestSource(srv.URL, "key", 5, 4, 5*time.Second)
	corpus, err := r.Fetch(context.Background(), restFilter())
	require.NoError(t, err)

	require.Len(t, corpus.Conversations, 12)
	assert.Equal(t, NameRest, corpus.Source)
	assert.Equal(t, "c11", corpus.Conversations[0].ID)
	assert.Equal(t, "c00", corpus.Conversations[11].ID)
	for i := 1; i < len(corpus.Conversations); i++ {
		assert.False(t, corpus.Conversations[i].CreatedAt.After(corpus.Conversations[i-1].CreatedAt))
	}
}

func TestRestFetchTruncatesToMaxCount(t *testing.T) {
	t.Parallel()

	convs := make([]types.Conversation, 10)
	for i := range convs {
		convs[i] = types.Conversation{
			ID:        fmt.Sprintf("c%02d", i),
			CreatedAt: time.Date(2026, 3, 1, i, 0, 0, 0, time.UTC),
		}
	}
	srv := pagedBackend(t, convs, 4)
	defer srv.Close()

	r := NewRestSource(srv.URL, "key", 4, 2, 5*time.Second)
	filter := restFilter()
	filter.MaxCount = 3

	corpus, err := r.Fetch(context.Background(), filter)
	require.NoError(t, err)
	require.Len(t, corpus.Conversations, 3)
	// The cap keeps the newest conversations.
	assert.Equal(t, "c09", corpus.Conversations[0].ID)
	assert.Equal(t, "c07", corpus.Conversations[2].ID)
}

func TestRestFetchSendsAuthAndSearch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))
		assert.Equal(t, "refund", r.URL.Query().Get("q"))
		json.NewEncoder(w).Encode(map[string]any{"conversations": []types.Conversation{}, "page": 1, "total_pages": 1})
	}))
	defer srv.Close()

	r := NewRestSource(srv.URL, "sekrit", 50, 4, 5*time.Second)
	filter := restFilter()
	filter.Search = "refund"

	_, err := r.Fetch(context.Background(), filter)
	require.NoError(t, err)
}

func TestRestFetchNonOKStatusIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	r := NewRestSource(srv.URL, "", 50, 4, 5*time.Second)
	_, err := r.Fetch(context.Background(), restFilter())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "401")
}

func TestRestFetchSlowBackendIsTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	r := NewRestSource(srv.URL, "", 50, 4, 50*time.Millisecond)
	_, err := r.Fetch(context.Background(), restFilter())
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRestFetchMalformedBodyIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>not json</html>")
	}))
	defer srv.Close()

	r := NewRestSource(srv.URL, "", 50, 4, 5*time.Second)
	_, err := r.Fetch(context.Background(), restFilter())
	assert.ErrorIs(t, err, ErrUnavailable)
}
