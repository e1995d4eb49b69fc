package review

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/reconcile-cli/internal/filter"
	"github.com/sells-group/reconcile-cli/internal/model"
	"github.com/sells-group/reconcile-cli/internal/store"
	"github.com/sells-group/reconcile-cli/internal/store/mocks"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "review.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

type fakeFinalizer struct {
	calls int
	err   error
}

func (f *fakeFinalizer) Finalize(_ context.Context, sess *model.ReviewSession, actor string) (*model.FinalizeResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if n := sess.PendingCount(); n > 0 {
		return nil, &model.PendingReviewsError{Count: n}
	}
	sess.Finalized = true
	return &model.FinalizeResult{SessionID: sess.ID, CleanedRef: sess.SourceRef + "@cleaned/" + sess.ID}, nil
}

func findCell(t *testing.T, sess *model.ReviewSession, key string) model.ChangeRecord {
	t.Helper()
	for _, c := range sess.Changes {
		if c.CellKey() == key {
			return c
		}
	}
	t.Fatalf("cell %s not found", key)
	return model.ChangeRecord{}
}

func TestManager_DecideSaveReload(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	m := NewManager(st, nil, Options{})

	sess, err := m.CreateSession(ctx, "contacts.csv", suggestions())
	require.NoError(t, err)
	bob := findCell(t, sess, "3:email")

	rec, err := m.Override(ctx, sess.ID, bob.ID, "bob@example.com", "domain typo", "alice")
	require.NoError(t, err)
	assert.Equal(t, model.StatusOverridden, rec.Status)

	n, err := m.Save(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = m.Save(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "nothing left to save")

	m.Evict(sess.ID)
	reloaded, err := m.Session(ctx, sess.ID)
	require.NoError(t, err)
	got := findCell(t, reloaded, "3:email")
	assert.Equal(t, model.StatusOverridden, got.Status)
	assert.Equal(t, "bob@example.com", *got.OverrideValue)
	assert.Equal(t, "domain typo", got.Reason)
	assert.Equal(t, "alice", got.DecidedBy)
}

func TestManager_UnsavedDecisionsAreStaged(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newTestStore(t), nil, Options{})

	sess, err := m.CreateSession(ctx, "contacts.csv", suggestions())
	require.NoError(t, err)

	n, err := m.BulkAccept(ctx, sess.ID, filter.Set{}, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err := m.Pending(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, pending)

	m.Evict(sess.ID)
	pending, err = m.Pending(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, pending, "unsaved decisions are discarded with the cache")
}

func TestManager_ReturnedSessionIsACopy(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newTestStore(t), nil, Options{})

	sess, err := m.CreateSession(ctx, "contacts.csv", suggestions())
	require.NoError(t, err)

	view, err := m.Session(ctx, sess.ID)
	require.NoError(t, err)
	view.Changes[0].Status = model.StatusRejected
	view.Finalized = true

	again, err := m.Session(ctx, sess.ID)
	require.NoError(t, err)
	assert.NotEqual(t, model.StatusRejected, again.Changes[0].Status)
	assert.False(t, again.Finalized)
}

func TestManager_Changes(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newTestStore(t), nil, Options{})
	sess, err := m.CreateSession(ctx, "contacts.csv", suggestions())
	require.NoError(t, err)

	got, err := m.Changes(ctx, sess.ID, filter.Set{Categories: []model.Category{model.CategoryEmail}})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestManager_NotFound(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newTestStore(t), nil, Options{})

	_, err := m.Accept(ctx, "missing", "c1", "alice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNotFound))

	sess, err := m.CreateSession(ctx, "contacts.csv", suggestions())
	require.NoError(t, err)
	_, err = m.Reject(ctx, sess.ID, "missing", "alice")
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestManager_Finalize(t *testing.T) {
	ctx := context.Background()
	fin := &fakeFinalizer{}
	m := NewManager(newTestStore(t), fin, Options{})

	sess, err := m.CreateSession(ctx, "contacts.csv", suggestions())
	require.NoError(t, err)

	_, err = m.Finalize(ctx, sess.ID, "alice")
	var pending *model.PendingReviewsError
	require.True(t, errors.As(err, &pending))
	assert.Equal(t, 2, pending.Count)

	_, err = m.BulkAccept(ctx, sess.ID, filter.Set{}, "alice")
	require.NoError(t, err)

	res, err := m.Finalize(ctx, sess.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "contacts.csv@cleaned/"+sess.ID, res.CleanedRef)

	_, err = m.Accept(ctx, sess.ID, sess.Changes[0].ID, "alice")
	assert.True(t, errors.Is(err, model.ErrSessionFinalized))
}

func TestManager_FinalizeWithoutFinalizer(t *testing.T) {
	m := NewManager(mocks.NewMockStore(t), nil, Options{})
	_, err := m.Finalize(context.Background(), "s", "alice")
	require.Error(t, err)
}

func TestManager_FinalizedElsewhereEvicts(t *testing.T) {
	ctx := context.Background()
	st := mocks.NewMockStore(t)
	st.On("GetSession", mock.Anything, "sess-1").Return(func(context.Context, string) (*model.ReviewSession, error) {
		return fixtureSession(), nil
	}).Twice()

	fin := &fakeFinalizer{err: fmt.Errorf("commit: %w", model.ErrSessionFinalized)}
	m := NewManager(st, fin, Options{})

	_, err := m.Finalize(ctx, "sess-1", "alice")
	assert.True(t, errors.Is(err, model.ErrSessionFinalized))

	// The stale controller was dropped, so the session is loaded again.
	_, err = m.Pending(ctx, "sess-1")
	require.NoError(t, err)
	st.AssertNumberOfCalls(t, "GetSession", 2)
}

func TestManager_WaiterSkipsEvictedEntry(t *testing.T) {
	ctx := context.Background()
	st := mocks.NewMockStore(t)
	st.On("GetSession", mock.Anything, "sess-1").Return(func(context.Context, string) (*model.ReviewSession, error) {
		return fixtureSession(), nil
	})
	m := NewManager(st, nil, Options{})

	var first, second *Controller
	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- m.Do(ctx, "sess-1", func(c *Controller) error {
			first = c
			close(held)
			<-release
			m.forget("sess-1")
			return nil
		})
	}()
	<-held

	waiter := make(chan error, 1)
	go func() {
		waiter <- m.Do(ctx, "sess-1", func(c *Controller) error {
			second = c
			return nil
		})
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	require.NoError(t, <-done)
	require.NoError(t, <-waiter)

	assert.NotSame(t, first, second, "evicted controller must not be reused")

	var third *Controller
	require.NoError(t, m.Do(ctx, "sess-1", func(c *Controller) error {
		third = c
		return nil
	}))
	assert.Same(t, second, third, "one live controller per session")
	st.AssertNumberOfCalls(t, "GetSession", 2)
}

func TestManager_EvictWaitsForInFlight(t *testing.T) {
	ctx := context.Background()
	st := mocks.NewMockStore(t)
	st.On("GetSession", mock.Anything, "sess-1").Return(func(context.Context, string) (*model.ReviewSession, error) {
		return fixtureSession(), nil
	})
	m := NewManager(st, nil, Options{})

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- m.Do(ctx, "sess-1", func(*Controller) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	evicted := make(chan struct{})
	go func() {
		m.Evict("sess-1")
		close(evicted)
	}()

	select {
	case <-evicted:
		t.Fatal("Evict returned while an operation held the session")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-done)
	<-evicted

	m.mu.Lock()
	_, cached := m.sessions["sess-1"]
	m.mu.Unlock()
	assert.False(t, cached)
}

func TestManager_SaveFinalizedElsewhere(t *testing.T) {
	ctx := context.Background()
	st := mocks.NewMockStore(t)
	st.On("GetSession", mock.Anything, "sess-1").Return(fixtureSession(), nil).Once()
	st.On("SaveDecisions", mock.Anything, "sess-1", mock.MatchedBy(func(c []model.ChangeRecord) bool {
		return len(c) == 1 && c[0].ID == "c3"
	})).Return(model.ErrSessionFinalized).Once()

	m := NewManager(st, nil, Options{})
	_, err := m.Accept(ctx, "sess-1", "c3", "alice")
	require.NoError(t, err)

	_, err = m.Save(ctx, "sess-1")
	assert.True(t, errors.Is(err, model.ErrSessionFinalized))

	m.mu.Lock()
	_, cached := m.sessions["sess-1"]
	m.mu.Unlock()
	assert.False(t, cached)
}

func TestManager_CreateSessionStoreError(t *testing.T) {
	st := mocks.NewMockStore(t)
	st.On("CreateSession", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	m := NewManager(st, nil, Options{})
	_, err := m.CreateSession(context.Background(), "contacts.csv", suggestions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestManager_ConcurrentDecisions(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newTestStore(t), nil, Options{})

	var in []model.Suggestion
	for i := 0; i < 50; i++ {
		in = append(in, model.Suggestion{RowIndex: i, Column: "email", Category: model.CategoryEmail, SuggestedValue: "x@y.z", Confidence: 0.5})
	}
	sess, err := m.CreateSession(ctx, "big.csv", in)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, c := range sess.Changes {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := m.Accept(ctx, sess.ID, id, "alice")
			assert.NoError(t, err)
		}(c.ID)
	}
	wg.Wait()

	pending, err := m.Pending(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, pending)

	n, err := m.Save(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, n)
}
