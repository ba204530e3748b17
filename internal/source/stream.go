package source

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"convolens/internal/types"
)

// StreamSource fetches conversations over a long-lived websocket connection.
// The connection is shared across requests; queries are correlated to
// responses by request id. The backing cache may be slightly stale relative
// to the REST listing, which the fetch contract allows.
type StreamSource struct {
	url     string
	apiKey  string
	timeout time.Duration

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[int64]chan streamReply
	nextID  int64
}

type streamQuery struct {
	ID     int64     `json:"id"`
	Since  time.Time `json:"since"`
	Until  time.Time `json:"until"`
	Max    int       `json:"max,omitempty"`
	Search string    `json:"search,omitempty"`
}

type streamReply struct {
	ID            int64                `json:"id"`
	Conversations []types.Conversation `json:"conversations"`
	Error         string               `json:"error,omitempty"`
}

// NewStreamSource creates a stream-backed conversation source. The connection
// is not established until Connect (or EnsureConnected) is called.
func NewStreamSource(url, apiKey string, timeout time.Duration) *StreamSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &StreamSource{
		url:     url,
		apiKey:  apiKey,
		timeout: timeout,
		pending: make(map[int64]chan streamReply),
	}
}

// Name returns the provenance name recorded on fetched corpora.
func (s *StreamSource) Name() string { return NameStream }

// Connect dials the backend and starts the read loop. Replaces any existing
// connection.
func (s *StreamSource) Connect(ctx context.Context) error {
	header := http.Header{}
	if s.apiKey != "" {
		header.Set("Authorization", "Bearer "+s.apiKey)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, header)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrUnavailable, s.url, err)
	}

	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
	s.mu.Unlock()

	go s.readLoop(conn)
	return nil
}

// EnsureConnected pings the current connection and redials if it is dead or
// was never established. Called by the keepalive job between queries.
func (s *StreamSource) EnsureConnected(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(s.timeout)
		if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err == nil {
			return nil
		}
		s.teardown(conn, fmt.Errorf("%w: ping failed", ErrUnavailable))
	}
	return s.Connect(ctx)
}

// Close shuts down the connection and fails any in-flight queries.
func (s *StreamSource) Close() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		s.teardown(conn, fmt.Errorf("%w: connection closed", ErrUnavailable))
	}
}

// Fetch sends a query frame over the connection and waits for the matching
// response. A dead connection surfaces as ErrUnavailable, a missing response
// as ErrTimeout.
func (s *StreamSource) Fetch(ctx context.Context, filter types.Filter) (*types.Corpus, error) {
	started := time.Now()

	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: stream connection not established", ErrUnavailable)
	}
	s.nextID++
	id := s.nextID
	ch := make(chan streamReply, 1)
	s.pending[id] = ch
	s.mu.Unlock()

	query := streamQuery{
		ID:     id,
		Since:  filter.Interval.Start.UTC(),
		Until:  filter.Interval.End.UTC(),
		Max:    filter.MaxCount,
		Search: filter.Search,
	}

	s.mu.Lock()
	err := conn.WriteJSON(query)
	s.mu.Unlock()
	if err != nil {
		s.forget(id)
		s.teardown(conn, fmt.Errorf("%w: write failed", ErrUnavailable))
		return nil, fmt.Errorf("%w: write query: %v", ErrUnavailable, err)
	}

	select {
	case <-ctx.Done():
		s.forget(id)
		return nil, classifyTransportError(ctx.Err())
	case <-time.After(s.timeout):
		s.forget(id)
		return nil, fmt.Errorf("%w: no response within %s", ErrTimeout, s.timeout)
	case reply := <-ch:
		if reply.Error != "" {
			return nil, fmt.Errorf("%w: backend error: %s", ErrUnavailable, reply.Error)
		}

		all := reply.Conversations
		// Same truncation policy as the REST source: newest-first, cap at
		// MaxCount, so a fallback never changes result shape.
		sort.SliceStable(all, func(i, j int) bool {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		})
		if filter.MaxCount > 0 && len(all) > filter.MaxCount {
			all = all[:filter.MaxCount]
		}

		return &types.Corpus{
			Conversations: all,
			Source:        NameStream,
			FetchDuration: time.Since(started),
		}, nil
	}
}

func (s *StreamSource) readLoop(conn *websocket.Conn) {
	for {
		var reply streamReply
		if err := conn.ReadJSON(&reply); err != nil {
			s.teardown(conn, fmt.Errorf("%w: read failed: %v", ErrUnavailable, err))
			return
		}

		s.mu.Lock()
		ch, ok := s.pending[reply.ID]
		if ok {
			delete(s.pending, reply.ID)
		}
		s.mu.Unlock()

		if ok {
			ch <- reply
		}
	}
}

// teardown drops the connection if it is still current and fails every
// pending query so callers see ErrUnavailable instead of hanging.
func (s *StreamSource) teardown(conn *websocket.Conn, cause error) {
	conn.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn {
		return
	}
	s.conn = nil
	for id, ch := range s.pending {
		delete(s.pending, id)
		ch <- streamReply{ID: id, Error: cause.Error()}
	}
}

func (s *StreamSource) forget(id int64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}
