package resources

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/soaringjerry/Malasakit/internal/models"
	"github.com/soaringjerry/Malasakit/internal/record"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memBacking struct {
	mu   sync.Mutex
	data map[string][]byte
	at   map[string]time.Time
}

func newMemBacking() *memBacking {
	return &memBacking{data: map[string][]byte{}, at: map[string]time.Time{}}
}

func (m *memBacking) GetResource(name string) ([]byte, time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[name]
	return d, m.at[name], ok
}

func (m *memBacking) PutResource(name string, data []byte, fetchedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[name] = data
	m.at[name] = fetchedAt
	return nil
}

type stubFetcher struct {
	mu      sync.Mutex
	calls   map[string]int
	payload map[string]string
	err     error
	gate    chan struct{}
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		calls: map[string]int{},
		payload: map[string]string{
			models.ResourceQuestions:     `[{"id":2,"kind":"quantitative","order":2,"active":true},{"id":1,"kind":"quantitative","order":1,"active":true},{"id":3,"kind":"qualitative","order":3,"active":false}]`,
			models.ResourceComments:      `[{"id":10,"question_id":3,"language":"en","message":"more clinics"}]`,
			models.ResourceLocations:     `{"provinces":[{"name":"Batangas","cities":[{"name":"Lipa","barangays":["Poblacion"]}]}]}`,
			models.ResourcePeerResponses: `{"respondents":1,"questions":[]}`,
		},
	}
}

func (f *stubFetcher) FetchResource(ctx context.Context, name string) ([]byte, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	if f.err != nil {
		return nil, f.err
	}
	return []byte(f.payload[name]), nil
}

func (f *stubFetcher) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, f Fetcher, log *zap.Logger) (*Cache, *memBacking, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	b := newMemBacking()
	return New(b, f, log, WithClock(clk.now)), b, clk
}

func TestQuestionsFetchedOnceWhileFresh(t *testing.T) {
	f := newStubFetcher()
	c, _, clk := newTestCache(t, f, nil)
	ctx := context.Background()

	qs, err := c.Questions(ctx)
	require.NoError(t, err)
	require.Len(t, qs, 2, "inactive question filtered")
	assert.Equal(t, int64(1), qs[0].ID)
	assert.Equal(t, int64(2), qs[1].ID)

	clk.advance(11 * time.Hour)
	_, err = c.Questions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.count(models.ResourceQuestions))
}

func TestStaleAccessTriggersExactlyOneRefresh(t *testing.T) {
	f := newStubFetcher()
	c, _, clk := newTestCache(t, f, nil)
	ctx := context.Background()

	_, err := c.Comments(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, f.count(models.ResourceComments))

	clk.advance(12*time.Hour + time.Minute)
	assert.True(t, c.Stale(models.ResourceComments))

	f.gate = make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cs, err := c.Comments(ctx)
			assert.NoError(t, err)
			assert.Len(t, cs, 1)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	assert.Equal(t, 2, f.count(models.ResourceComments))
	assert.False(t, c.Stale(models.ResourceComments))
}

func TestRefreshFailureServesStaleCopyWithWarning(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := newStubFetcher()
	c, _, clk := newTestCache(t, f, zap.New(core))
	ctx := context.Background()

	loc, err := c.Locations(ctx)
	require.NoError(t, err)
	require.Len(t, loc.Provinces, 1)

	clk.advance(13 * time.Hour)
	f.err = errors.New("connection refused")

	loc, err = c.Locations(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Batangas", loc.Provinces[0].Name)
	assert.Equal(t, 1, logs.FilterMessage("serving stale resource").Len())
	assert.True(t, c.Stale(models.ResourceLocations), "still stale after failed refresh")
}

func TestRefreshFailureWithoutCopyIsNetworkError(t *testing.T) {
	f := newStubFetcher()
	f.err = errors.New("offline")
	c, _, _ := newTestCache(t, f, nil)

	_, err := c.Questions(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, record.ErrNetwork)
}

func TestInvalidateForcesRefetch(t *testing.T) {
	f := newStubFetcher()
	c, _, _ := newTestCache(t, f, nil)
	ctx := context.Background()

	_, err := c.Questions(ctx)
	require.NoError(t, err)
	c.Invalidate(models.ResourceQuestions)
	assert.True(t, c.Stale(models.ResourceQuestions))

	_, err = c.Questions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, f.count(models.ResourceQuestions))
	assert.False(t, c.Stale(models.ResourceQuestions))
}

func TestManualRefreshReloadsEverything(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	f := newStubFetcher()
	c, b, _ := newTestCache(t, f, zap.New(core))

	c.Refresh(context.Background())
	for _, name := range Names {
		assert.Equal(t, 1, f.count(name), name)
		_, _, ok := b.GetResource(name)
		assert.True(t, ok, name)
	}
	loaded := logs.FilterMessage("loaded resource").All()
	var names []string
	for _, e := range loaded {
		names = append(names, e.ContextMap()["resource"].(string))
	}
	assert.Contains(t, names, models.ResourceLocations)
	assert.Contains(t, names, models.ResourceComments)
}

func TestSupersededRefreshIsDiscarded(t *testing.T) {
	b := newMemBacking()
	clk := &clock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	slow := &sequencedFetcher{release: make(chan struct{}), entered: make(chan struct{})}
	c := New(b, slow, nil, WithClock(clk.now))
	ctx := context.Background()

	done := make(chan []byte)
	go func() {
		data, _ := c.Get(ctx, models.ResourceComments)
		done <- data
	}()
	<-slow.entered

	c.Invalidate(models.ResourceComments)
	fresh, err := c.Get(ctx, models.ResourceComments)
	require.NoError(t, err)
	assert.JSONEq(t, `["second"]`, string(fresh))

	close(slow.release)
	old := <-done
	assert.JSONEq(t, `["second"]`, string(old), "late caller sees the newer payload")

	stored, _, _ := b.GetResource(models.ResourceComments)
	assert.JSONEq(t, `["second"]`, string(stored))
}

// sequencedFetcher blocks its first call until released and answers later calls immediately.
type sequencedFetcher struct {
	n       int32
	release chan struct{}
	entered chan struct{}
}

func (s *sequencedFetcher) FetchResource(ctx context.Context, name string) ([]byte, error) {
	if atomic.AddInt32(&s.n, 1) == 1 {
		close(s.entered)
		<-s.release
		return []byte(`["first"]`), nil
	}
	return []byte(`["second"]`), nil
}

type countingRefresher struct{ n atomic.Int32 }

func (r *countingRefresher) Refresh(ctx context.Context) { r.n.Add(1) }

func TestSchedulerRefreshesUntilCancelled(t *testing.T) {
	r := &countingRefresher{}
	s := NewScheduler(r, 5*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	require.Eventually(t, func() bool { return r.n.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	s.Wait()
}
