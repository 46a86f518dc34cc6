package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"fedipull/features/rules"
	"fedipull/features/sidekiq"
	"fedipull/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRuleRepo struct {
	rows []rules.ListRow
	mark rules.ChangeMark
}

func (f *fakeRuleRepo) EligibleLists(ctx context.Context) ([]rules.ListRow, error) {
	return f.rows, nil
}

func (f *fakeRuleRepo) LastChanged(ctx context.Context) (rules.ChangeMark, error) {
	return f.mark, nil
}

type fakeBlockRepo struct {
	domains []string
}

func (f *fakeBlockRepo) SuspendedDomains(ctx context.Context) ([]string, error) {
	return f.domains, nil
}

type recordingQueue struct {
	mu   sync.Mutex
	uris []string
}

func (q *recordingQueue) EnqueueFetch(ctx context.Context, uri string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.uris = append(q.uris, uri)
	return nil
}

func (q *recordingQueue) all() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.uris...)
}

func testConfig(firehoseURL string) *config.Config {
	return &config.Config{
		Firehose: config.FirehoseConfig{
			URL:            firehoseURL,
			LocalDomain:    "local.test",
			ReconnectDelay: 20 * time.Millisecond,
		},
		Cache: config.CacheConfig{
			BlocksInterval: time.Hour,
			ListsInterval:  time.Hour,
			NotifyChannel:  "lists_changed",
			CompileWorkers: 2,
		},
		Dispatch: config.DispatchConfig{
			Workers:   1,
			QueueSize: 64,
		},
	}
}

// firehose serves the given SSE lines once, then holds the connection open
// until the client disconnects.
func firehose(t *testing.T, lines []string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n", line)
		}
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
}

func update(t *testing.T, post map[string]any) []string {
	t.Helper()
	payload, err := json.Marshal(post)
	require.NoError(t, err)
	return []string{"event: update", "data: " + string(payload), ""}
}

func TestEngineEndToEnd(t *testing.T) {
	var lines []string
	// Scenario C: malformed payload must not stop the pipeline.
	lines = append(lines, "event: update", "data: {not json", "")
	// Scenario A: blocked origin domain, no enqueue.
	lines = append(lines, update(t, map[string]any{
		"uri":     "https://bad.example/@x/1",
		"content": "<p>love my new cat</p>",
	})...)
	// No uri: dropped.
	lines = append(lines, update(t, map[string]any{
		"content": "<p>love my new cat</p>",
	})...)
	// No matching list term.
	lines = append(lines, update(t, map[string]any{
		"uri":     "https://good.example/@y/2",
		"content": "<p>gardening updates</p>",
	})...)
	// Scenario B: matches include group [["cat"]].
	lines = append(lines, update(t, map[string]any{
		"uri":     "https://good.example/@z/3",
		"content": "<p>love my new cat</p>",
	})...)

	server := firehose(t, lines)
	defer server.Close()

	queue := &recordingQueue{}
	engine := New(testConfig(server.URL),
		&fakeRuleRepo{
			rows: []rules.ListRow{{ID: 1, IncludeKeywords: [][]string{{"cat"}}}},
			mark: rules.ChangeMark{UpdatedAt: time.Now()},
		},
		&fakeBlockRepo{domains: []string{"bad.example"}},
		queue,
	)

	require.NoError(t, engine.Start(context.Background()))

	require.Eventually(t, func() bool {
		return len(queue.all()) == 1
	}, 5*time.Second, 10*time.Millisecond, "exactly the matching post should be enqueued")

	// Give trailing events a moment; nothing further may be enqueued.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"https://good.example/@z/3"}, queue.all())

	status := engine.Status()
	assert.True(t, status.Running)
	assert.Equal(t, uint64(1), status.Generation)
	assert.Equal(t, 1, status.Lists)
	assert.Equal(t, 1, status.BlockedDomains)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, engine.Shutdown(shutdownCtx))

	assert.False(t, engine.Status().Running)
	assert.NoError(t, engine.Err())
}

func TestEngineEnqueuesThroughSidekiq(t *testing.T) {
	mr := miniredis.RunT(t)

	lines := update(t, map[string]any{
		"uri":     "https://good.example/@z/3",
		"content": "<p>love my new cat</p>",
	})
	server := firehose(t, lines)
	defer server.Close()

	queueCfg := &config.QueueConfig{
		Addr:         mr.Addr(),
		QueueName:    "default",
		JobClass:     "ActivityPub::FetchStatusWorker",
		SidekiqQueue: "pull",
	}
	queue, err := sidekiq.NewClient(context.Background(), queueCfg)
	require.NoError(t, err)
	defer queue.Close()

	engine := New(testConfig(server.URL),
		&fakeRuleRepo{
			rows: []rules.ListRow{{ID: 1, IncludeKeywords: [][]string{{"cat"}}}},
			mark: rules.ChangeMark{UpdatedAt: time.Now()},
		},
		&fakeBlockRepo{},
		queue,
	)

	require.NoError(t, engine.Start(context.Background()))

	require.Eventually(t, func() bool {
		entries, err := mr.List("queue:default")
		return err == nil && len(entries) == 1
	}, 5*time.Second, 10*time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, engine.Shutdown(shutdownCtx))

	entries, err := mr.List("queue:default")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0], "https://good.example/@z/3")
	assert.Contains(t, entries[0], "ActivityPub::FetchStatusWorker")
}

func TestEngineStopsWhenParentContextCancelled(t *testing.T) {
	server := firehose(t, nil)
	defer server.Close()

	engine := New(testConfig(server.URL),
		&fakeRuleRepo{mark: rules.ChangeMark{UpdatedAt: time.Now()}},
		&fakeBlockRepo{},
		&recordingQueue{},
	)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, engine.Start(ctx))

	cancel()

	select {
	case <-engine.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not observe parent cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	require.NoError(t, engine.Shutdown(shutdownCtx))
}
