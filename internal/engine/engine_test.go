// File: internal/engine/engine_test.go
package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/knowledgepa3/warden/api/schemas"
	"github.com/knowledgepa3/warden/internal/config"
)

type mockStore struct {
	mu      sync.Mutex
	results []*Result
	err     error
}

func (m *mockStore) PersistResult(_ context.Context, result *Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, result)
	return m.err
}

func (m *mockStore) persisted() []*Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Result, len(m.results))
	copy(out, m.results)
	return out
}

func newTestEngine(t *testing.T, store Store) *RunEngine {
	t.Helper()
	executor, err := NewExecutor(&mockBackend{}, &mockApprover{verdict: true}, zap.NewNop())
	require.NoError(t, err)
	eng, err := New(config.NewDefaultConfig(), zap.NewNop(), store, executor)
	require.NoError(t, err)
	return eng
}

func TestNewValidatesDependencies(t *testing.T) {
	t.Parallel()

	executor, err := NewExecutor(&mockBackend{}, &mockApprover{}, zap.NewNop())
	require.NoError(t, err)
	cfg := config.NewDefaultConfig()

	_, err = New(nil, zap.NewNop(), &mockStore{}, executor)
	assert.Error(t, err)
	_, err = New(cfg, nil, &mockStore{}, executor)
	assert.Error(t, err)
	_, err = New(cfg, zap.NewNop(), nil, executor)
	assert.Error(t, err)
	_, err = New(cfg, zap.NewNop(), &mockStore{}, nil)
	assert.Error(t, err)
}

func TestRunEngineProcessesAndPersists(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &mockStore{}
	eng := newTestEngine(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runChan := make(chan RunRequest, 4)
	done := make(chan *Result, 4)

	eng.Start(ctx, runChan)

	profile := schemas.BalancedProfile()
	profile.Appetite.AllowedDomains = []string{"*.example.com"}
	for i := 0; i < 3; i++ {
		runChan <- RunRequest{
			Pack:      observationPack(),
			Profile:   &profile,
			TargetURL: "https://shop.example.com",
			Done:      done,
		}
	}
	close(runChan)
	eng.Stop()

	for i := 0; i < 3; i++ {
		select {
		case result := <-done:
			require.NotNil(t, result)
			assert.Equal(t, schemas.StatusCompleted, result.Status)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for run results")
		}
	}
	assert.Len(t, store.persisted(), 3)
}

func TestRunEngineIsolatesConcurrentRuns(t *testing.T) {
	defer goleak.VerifyNone(t)

	backend := &mockBackend{}
	executor, err := NewExecutor(backend, &mockApprover{verdict: true}, zap.NewNop())
	require.NoError(t, err)
	eng, err := New(config.NewDefaultConfig(), zap.NewNop(), &mockStore{}, executor)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runChan := make(chan RunRequest, 2)
	done := make(chan *Result, 2)
	eng.Start(ctx, runChan)

	profile := schemas.BalancedProfile()
	profile.Appetite.AllowedDomains = []string{"*.example.com"}
	targets := []string{"https://a.example.com/one", "https://b.example.com/two"}
	for _, target := range targets {
		runChan <- RunRequest{
			Pack:      observationPack(),
			Profile:   &profile,
			TargetURL: target,
			Done:      done,
		}
	}
	close(runChan)
	eng.Stop()

	for i := 0; i < len(targets); i++ {
		select {
		case result := <-done:
			require.NotNil(t, result)
			assert.Equal(t, schemas.StatusCompleted, result.Status)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for run results")
		}
	}

	// Each run drove its own session, and each session saw exactly its own
	// navigation; pages never interleave across workers.
	require.Equal(t, len(targets), backend.sessionCount())
	seen := make(map[string]int)
	for _, session := range backend.sessions {
		var navs []string
		for _, call := range session.recorded() {
			if strings.HasPrefix(call, "navigate:") {
				navs = append(navs, strings.TrimPrefix(call, "navigate:"))
			}
		}
		require.Len(t, navs, 1)
		seen[navs[0]]++
	}
	for _, target := range targets {
		assert.Equal(t, 1, seen[target], "target %s", target)
	}
}

func TestRunEngineDiscardsIncompleteRequests(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &mockStore{}
	eng := newTestEngine(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runChan := make(chan RunRequest, 1)
	eng.Start(ctx, runChan)

	runChan <- RunRequest{TargetURL: "https://shop.example.com"} // no pack, no profile
	close(runChan)
	eng.Stop()

	assert.Empty(t, store.persisted())
}

func TestRunEngineRepliesNilOnRejectedInput(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &mockStore{}
	eng := newTestEngine(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runChan := make(chan RunRequest, 1)
	done := make(chan *Result, 1)
	eng.Start(ctx, runChan)

	profile := schemas.BalancedProfile()
	runChan <- RunRequest{
		Pack:      observationPack(),
		Profile:   &profile,
		TargetURL: "not-a-url",
		Done:      done,
	}
	close(runChan)
	eng.Stop()

	select {
	case result := <-done:
		assert.Nil(t, result)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reply")
	}
	assert.Empty(t, store.persisted())
}

func TestRunEngineStartIsNotReentrant(t *testing.T) {
	defer goleak.VerifyNone(t)

	eng := newTestEngine(t, &mockStore{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runChan := make(chan RunRequest)
	eng.Start(ctx, runChan)
	// Second Start must be a no-op, not a second pool.
	eng.Start(ctx, runChan)

	close(runChan)
	eng.Stop()
}
