package dictionary

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/internal/sequence"
	apperrors "github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Sequence-Mining-Platform/pkg/resilience"
)

func TestBuild(t *testing.T) {
	probs := cache.Probabilities{
		sequence.New(3):    0.5,
		sequence.New(1, 2): 0.5,
		sequence.New(2):    0.9,
		sequence.New(1):    0.5,
		sequence.New(4):    0,
		sequence.New(5):    0.01,
	}

	entries := Build(probs, 0.05)

	assert.Equal(t, []Entry{
		{Sequence: []int32{2}, Probability: 0.9},
		{Sequence: []int32{1, 2}, Probability: 0.5},
		{Sequence: []int32{1}, Probability: 0.5},
		{Sequence: []int32{3}, Probability: 0.5},
	}, entries)

	assert.Len(t, Build(probs, 0), 5, "zero-probability generators are never listed")
	assert.Empty(t, Build(nil, 0))
}

func TestFilter(t *testing.T) {
	entries := []Entry{
		{Sequence: []int32{1}, Probability: 0.9},
		{Sequence: []int32{2}, Probability: 0.6},
		{Sequence: []int32{3}, Probability: 0.2},
	}
	assert.Len(t, Filter(entries, 0.5, 0), 2)
	assert.Len(t, Filter(entries, 0, 1), 1)
	assert.Len(t, Filter(entries, 0, 0), 3)
}

type fakeKV struct {
	mu    sync.Mutex
	data  map[string][]byte
	err   error
	calls int
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string][]byte)}
}

func (f *fakeKV) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.data[key]
	if !ok {
		return nil, goredis.Nil
	}
	return v, nil
}

func (f *fakeKV) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.data[key] = value
	return nil
}

func (f *fakeKV) FlushByPattern(_ context.Context, _ string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	n := int64(len(f.data))
	f.data = make(map[string][]byte)
	return n, nil
}

func sampleSnapshot(id string) *Snapshot {
	return &Snapshot{
		ID:           id,
		RunID:        "run-" + id,
		Transactions: 10,
		Iterations:   3,
		AverageCost:  1.25,
		Converged:    true,
		Entries: []Entry{
			{Sequence: []int32{1, 2}, Probability: 0.8},
			{Sequence: []int32{3}, Probability: 0.4},
		},
	}
}

func TestCache_GetOrLoad(t *testing.T) {
	kv := newFakeKV()
	c := NewCache(kv, time.Minute, nil)
	ctx := context.Background()
	loads := 0
	load := func(context.Context) (*Snapshot, error) {
		loads++
		return sampleSnapshot("a"), nil
	}

	snap, hit, err := c.GetOrLoad(ctx, LatestKey, load)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "a", snap.ID)

	snap, hit, err = c.GetOrLoad(ctx, LatestKey, load)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, sampleSnapshot("a").Entries, snap.Entries)
	assert.Equal(t, 1, loads)

	require.NoError(t, c.Invalidate(ctx))
	_, hit, err = c.GetOrLoad(ctx, LatestKey, load)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, loads)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(2), misses)
}

func TestCache_ColdReadCountsOneMiss(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	c := NewCache(newFakeKV(), time.Minute, m)

	_, hit, err := c.GetOrLoad(context.Background(), LatestKey, func(context.Context) (*Snapshot, error) {
		return sampleSnapshot("a"), nil
	})
	require.NoError(t, err)
	assert.False(t, hit)

	hits, misses := c.Stats()
	assert.Equal(t, int64(0), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMissesTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CacheHitsTotal))
}

func TestCache_LoadErrorIsReturned(t *testing.T) {
	c := NewCache(newFakeKV(), time.Minute, nil)
	_, _, err := c.GetOrLoad(context.Background(), LatestKey, func(context.Context) (*Snapshot, error) {
		return nil, apperrors.ErrNotFound
	})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCache_ConcurrentMissesShareOneLoad(t *testing.T) {
	c := NewCache(newFakeKV(), time.Minute, nil)
	var loads atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) (*Snapshot, error) {
		loads.Add(1)
		<-release
		return sampleSnapshot("a"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.GetOrLoad(context.Background(), LatestKey, load)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, loads.Load(), int32(8))
	assert.GreaterOrEqual(t, loads.Load(), int32(1))
}

func TestCache_BreakerBypassesFailingRedis(t *testing.T) {
	kv := newFakeKV()
	kv.err = errors.New("connection refused")
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	c := NewCache(kv, time.Minute, m)
	loads := 0

	for i := 0; i < 5; i++ {
		snap, hit, err := c.GetOrLoad(context.Background(), LatestKey, func(context.Context) (*Snapshot, error) {
			loads++
			return sampleSnapshot("a"), nil
		})
		require.NoError(t, err)
		assert.False(t, hit)
		assert.Equal(t, "a", snap.ID)
	}

	assert.Equal(t, 5, loads)
	assert.Equal(t, 3, kv.calls, "breaker opens after three failures")
	assert.Equal(t, float64(resilience.StateOpen), testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("dictionary-redis")))
	assert.Error(t, c.Invalidate(context.Background()))
}

type fakeWriter struct {
	events   []kafka.Event
	batches  int
	failures int
}

func (f *fakeWriter) Publish(_ context.Context, e kafka.Event) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("leader not available")
	}
	f.events = append(f.events, e)
	return nil
}

func (f *fakeWriter) PublishBatch(_ context.Context, events []kafka.Event) error {
	f.batches++
	f.events = append(f.events, events...)
	return nil
}

func TestPublisher_Publish(t *testing.T) {
	w := &fakeWriter{failures: 1}
	p := NewPublisher(w, 1)
	snap := sampleSnapshot("s1")

	require.NoError(t, p.Publish(context.Background(), snap))

	require.Len(t, w.events, 3)
	assert.Equal(t, 2, w.batches)
	for _, e := range w.events {
		assert.Equal(t, "s1", e.Key)
	}
	assert.Equal(t, "dictionary.snapshot", w.events[0].Type)
	assert.Equal(t, "dictionary.entry", w.events[2].Type)
	header, ok := w.events[0].Value.(SnapshotEvent)
	require.True(t, ok)
	assert.Equal(t, 2, header.Entries)
	entry, ok := w.events[2].Value.(EntryEvent)
	require.True(t, ok)
	assert.Equal(t, 1, entry.Rank)
	assert.Equal(t, []int32{3}, entry.Sequence)
}

type fakeReader struct {
	snaps map[string]*Snapshot
	order []string
	calls int
}

func (f *fakeReader) LatestSnapshot(context.Context) (*Snapshot, error) {
	f.calls++
	if len(f.order) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return f.snaps[f.order[0]], nil
}

func (f *fakeReader) GetSnapshot(_ context.Context, id string) (*Snapshot, error) {
	f.calls++
	s, ok := f.snaps[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return s, nil
}

func (f *fakeReader) ListSnapshots(_ context.Context, limit int) ([]Snapshot, error) {
	f.calls++
	var out []Snapshot
	for _, id := range f.order {
		if len(out) == limit {
			break
		}
		out = append(out, *f.snaps[id])
	}
	return out, nil
}

func newTestServer(reader Reader, c *Cache) *httptest.Server {
	mux := http.NewServeMux()
	NewHandler(reader, c).Register(mux)
	return httptest.NewServer(mux)
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp
}

func TestHandler_Latest(t *testing.T) {
	reader := &fakeReader{
		snaps: map[string]*Snapshot{"b": sampleSnapshot("b"), "a": sampleSnapshot("a")},
		order: []string{"b", "a"},
	}
	srv := newTestServer(reader, NewCache(newFakeKV(), time.Minute, nil))
	defer srv.Close()

	var snap Snapshot
	resp := getJSON(t, srv.URL+"/api/v1/dictionary?min=0.5", &snap)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	assert.Equal(t, "b", snap.ID)
	assert.Len(t, snap.Entries, 1)

	resp = getJSON(t, srv.URL+"/api/v1/dictionary", &snap)
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	assert.Len(t, snap.Entries, 2, "filtering never modifies the cached snapshot")
	assert.Equal(t, 1, reader.calls)
}

func TestHandler_Errors(t *testing.T) {
	srv := newTestServer(&fakeReader{snaps: map[string]*Snapshot{}}, nil)
	defer srv.Close()

	var body map[string]string
	resp := getJSON(t, srv.URL+"/api/v1/dictionary", &body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body["error"], "not found")

	resp = getJSON(t, srv.URL+"/api/v1/dictionary?min=2", &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = getJSON(t, srv.URL+"/api/v1/dictionary/snapshots/missing", &body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = getJSON(t, srv.URL+"/api/v1/dictionary/snapshots?limit=-1", &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_GetAndList(t *testing.T) {
	reader := &fakeReader{
		snaps: map[string]*Snapshot{"b": sampleSnapshot("b"), "a": sampleSnapshot("a")},
		order: []string{"b", "a"},
	}
	srv := newTestServer(reader, nil)
	defer srv.Close()

	var snap Snapshot
	resp := getJSON(t, srv.URL+"/api/v1/dictionary/snapshots/a?limit=1", &snap)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "a", snap.ID)
	assert.Len(t, snap.Entries, 1)

	var list struct {
		Snapshots []Snapshot `json:"snapshots"`
	}
	resp = getJSON(t, srv.URL+"/api/v1/dictionary/snapshots?limit=1", &list)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, list.Snapshots, 1)
	assert.Equal(t, "b", list.Snapshots[0].ID)
	assert.Empty(t, list.Snapshots[0].Entries, "listings omit entries")
	assert.Len(t, reader.snaps["b"].Entries, 2, "listing must not modify stored snapshots")
}
