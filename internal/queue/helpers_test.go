package queue_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/callcoach/internal/queue"
	"github.com/kiranshivaraju/callcoach/internal/skills"
	"github.com/kiranshivaraju/callcoach/internal/store"
	"github.com/kiranshivaraju/callcoach/pkg/models"
	"github.com/stretchr/testify/require"
)

var longTranscript = strings.Repeat("Rep: What does your reporting process look like today? Prospect: Manual. ", 3)

// --- mocks ---

type mockCache struct {
	mu         sync.Mutex
	results    map[uuid.UUID]*models.ResultCacheEntry
	setErr     error
	published  []string
	getResults int
}

func newMockCache() *mockCache {
	return &mockCache{results: map[uuid.UUID]*models.ResultCacheEntry{}}
}

func (c *mockCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *mockCache) Get(_ context.Context, _ string) ([]byte, bool, error)          { return nil, false, nil }
func (c *mockCache) Delete(_ context.Context, _ string) error                       { return nil }
func (c *mockCache) Ping(_ context.Context) error                                   { return nil }
func (c *mockCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

func (c *mockCache) SetResult(_ context.Context, entry *models.ResultCacheEntry, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	cp := *entry
	c.results[entry.SessionID] = &cp
	return nil
}

func (c *mockCache) GetResult(_ context.Context, sessionID uuid.UUID) (*models.ResultCacheEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getResults++
	entry, ok := c.results[sessionID]
	return entry, ok, nil
}

func (c *mockCache) Publish(_ context.Context, channel string, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, channel)
	return nil
}

func (c *mockCache) Subscribe(ctx context.Context, _ string, _ func(string)) error {
	<-ctx.Done()
	return nil
}

func (c *mockCache) cached(id uuid.UUID) (*models.ResultCacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.results[id]
	return e, ok
}

func (c *mockCache) forget(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.results, id)
}

type countingWaker struct {
	mu    sync.Mutex
	count int
}

func (w *countingWaker) Wake() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.count++
}

func (w *countingWaker) wakes() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// --- fixture ---

type env struct {
	store    *store.SQLiteStore
	cache    *mockCache
	waker    *countingWaker
	service  *queue.Service
	org      *models.Organization
	scenario *models.Scenario
	userID   uuid.UUID
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	now := time.Now().UTC()
	org := &models.Organization{ID: uuid.New(), Name: "Acme Sales", Industry: "SaaS", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.CreateOrganization(ctx, org))
	sc := &models.Scenario{ID: uuid.New(), OrgID: org.ID, Name: "Skeptical CFO", Persona: "CFO", CreatedAt: now}
	require.NoError(t, s.CreateScenario(ctx, sc))

	e := &env{
		store:    s,
		cache:    newMockCache(),
		waker:    &countingWaker{},
		org:      org,
		scenario: sc,
		userID:   uuid.New(),
	}
	e.service = queue.NewService(s, e.cache, e.waker, nil, nil)
	return e
}

func (e *env) session(t *testing.T, transcript string, withScenario bool) *models.Session {
	t.Helper()
	sess := &models.Session{
		ID:         uuid.New(),
		OrgID:      e.org.ID,
		UserID:     e.userID,
		Transcript: transcript,
		CreatedAt:  time.Now().UTC(),
	}
	if withScenario {
		id := e.scenario.ID
		sess.ScenarioID = &id
	}
	require.NoError(t, e.store.CreateSession(context.Background(), sess))
	return sess
}

func (e *env) processor(provider models.AnalysisProvider) *queue.Processor {
	return queue.NewProcessor(queue.ProcessorConfig{
		Store:            e.store,
		Provider:         provider,
		Cache:            e.cache,
		Gate:             skills.NewGate(e.store, skills.NewStoreAggregator(e.store), nil),
		InferenceTimeout: time.Second,
	})
}

// runOnce claims the next job as workerID and processes it.
func (e *env) runOnce(t *testing.T, p *queue.Processor, workerID string) (*models.AnalysisJob, error) {
	t.Helper()
	job, err := e.store.ClaimNextJob(context.Background(), workerID, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job, "expected a pending job")
	return job, p.Process(context.Background(), job, workerID)
}

func (e *env) getSession(t *testing.T, id uuid.UUID) *models.Session {
	t.Helper()
	sess, err := e.store.GetSession(context.Background(), id, e.org.ID)
	require.NoError(t, err)
	return sess
}

func (e *env) getJob(t *testing.T, id uuid.UUID) *models.AnalysisJob {
	t.Helper()
	job, err := e.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return job
}
