package review

import (
	"context"
	"errors"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/reconcile-cli/internal/filter"
	"github.com/sells-group/reconcile-cli/internal/model"
	"github.com/sells-group/reconcile-cli/internal/store"
)

// Finalizer commits a fully reviewed session.
type Finalizer interface {
	Finalize(ctx context.Context, sess *model.ReviewSession, actor string) (*model.FinalizeResult, error)
}

// Options configures a Manager.
type Options struct {
	Engine              *filter.Engine
	AutoAcceptThreshold float64
}

// Manager caches one Controller per session and serializes every operation
// on a session behind that session's mutex.
type Manager struct {
	store     store.Store
	finalizer Finalizer
	engine    *filter.Engine
	threshold float64

	mu       sync.Mutex
	sessions map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	ctrl *Controller
}

// NewManager creates a Manager over st. fin may be nil for read and decide
// only use.
func NewManager(st store.Store, fin Finalizer, opts Options) *Manager {
	if opts.Engine == nil {
		opts.Engine = filter.NewEngine(nil)
	}
	if opts.AutoAcceptThreshold <= 0 {
		opts.AutoAcceptThreshold = DefaultAutoAcceptThreshold
	}
	return &Manager{
		store:     st,
		finalizer: fin,
		engine:    opts.Engine,
		threshold: opts.AutoAcceptThreshold,
		sessions:  make(map[string]*entry),
	}
}

// Engine returns the filter engine shared by every session.
func (m *Manager) Engine() *filter.Engine {
	return m.engine
}

// CreateSession builds a session from suggestions and persists it.
func (m *Manager) CreateSession(ctx context.Context, sourceRef string, suggestions []model.Suggestion) (*model.ReviewSession, error) {
	sess, err := NewSession(sourceRef, suggestions, m.threshold)
	if err != nil {
		return nil, err
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, eris.Wrap(err, "review: create session")
	}
	sessionsCreated.Inc()

	zap.L().Info("review session created",
		zap.String("session_id", sess.ID),
		zap.String("source_ref", sourceRef),
		zap.Int("changes", len(sess.Changes)),
		zap.Int("pending", sess.PendingCount()),
	)
	return cloneSession(sess), nil
}

// Do runs fn with the session's controller while holding its lock. The
// session is loaded from the store on first use.
func (m *Manager) Do(ctx context.Context, sessionID string, fn func(*Controller) error) error {
	e := m.lock(sessionID)
	defer e.mu.Unlock()

	if e.ctrl == nil {
		sess, err := m.store.GetSession(ctx, sessionID)
		if err != nil {
			m.drop(sessionID, e)
			return eris.Wrapf(err, "review: load session %s", sessionID)
		}
		e.ctrl = NewController(sess, m.engine)
	}
	return fn(e.ctrl)
}

func (m *Manager) entry(sessionID string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		e = &entry{}
		m.sessions[sessionID] = e
	}
	return e
}

// lock returns the session's current entry with its mutex held. An entry
// evicted while the caller waited on it is skipped, so at most one
// controller per session is ever live.
func (m *Manager) lock(sessionID string) *entry {
	for {
		e := m.entry(sessionID)
		e.mu.Lock()
		m.mu.Lock()
		current := m.sessions[sessionID] == e
		m.mu.Unlock()
		if current {
			return e
		}
		e.mu.Unlock()
	}
}

func (m *Manager) drop(sessionID string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[sessionID] == e {
		delete(m.sessions, sessionID)
	}
}

// Evict discards the cached controller so the next call reloads from the
// store. It waits for an in-flight operation on the session. Unsaved
// decisions are lost.
func (m *Manager) Evict(sessionID string) {
	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	m.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	m.drop(sessionID, e)
	e.mu.Unlock()
}

// forget drops the session's entry. The caller holds the entry's mutex.
func (m *Manager) forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// Session returns a copy of the session including unsaved decisions.
func (m *Manager) Session(ctx context.Context, sessionID string) (*model.ReviewSession, error) {
	var out *model.ReviewSession
	err := m.Do(ctx, sessionID, func(c *Controller) error {
		out = cloneSession(c.Session())
		return nil
	})
	return out, err
}

// Changes returns the session's records passing set.
func (m *Manager) Changes(ctx context.Context, sessionID string, set filter.Set) ([]model.ChangeRecord, error) {
	var out []model.ChangeRecord
	err := m.Do(ctx, sessionID, func(c *Controller) error {
		matched := c.Changes(set)
		out = make([]model.ChangeRecord, len(matched))
		copy(out, matched)
		return nil
	})
	return out, err
}

// Pending returns the live needs_review count.
func (m *Manager) Pending(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := m.Do(ctx, sessionID, func(c *Controller) error {
		n = c.Pending()
		return nil
	})
	return n, err
}

// Accept accepts one record and returns its new state.
func (m *Manager) Accept(ctx context.Context, sessionID, changeID, actor string) (model.ChangeRecord, error) {
	return m.decideOne(ctx, sessionID, changeID, func(c *Controller) error {
		return c.Accept(changeID, actor)
	})
}

// Reject rejects one record and returns its new state.
func (m *Manager) Reject(ctx context.Context, sessionID, changeID, actor string) (model.ChangeRecord, error) {
	return m.decideOne(ctx, sessionID, changeID, func(c *Controller) error {
		return c.Reject(changeID, actor)
	})
}

// Override overrides one record and returns its new state.
func (m *Manager) Override(ctx context.Context, sessionID, changeID, value, reason, actor string) (model.ChangeRecord, error) {
	return m.decideOne(ctx, sessionID, changeID, func(c *Controller) error {
		return c.Override(changeID, value, reason, actor)
	})
}

func (m *Manager) decideOne(ctx context.Context, sessionID, changeID string, fn func(*Controller) error) (model.ChangeRecord, error) {
	var rec model.ChangeRecord
	err := m.Do(ctx, sessionID, func(c *Controller) error {
		if err := fn(c); err != nil {
			return err
		}
		var err error
		rec, err = c.Get(changeID)
		return err
	})
	return rec, err
}

// BulkAccept accepts every needs_review record passing set.
func (m *Manager) BulkAccept(ctx context.Context, sessionID string, set filter.Set, actor string) (int, error) {
	return m.bulk(ctx, sessionID, "accept", func(c *Controller) (int, error) {
		return c.BulkAccept(set, actor)
	})
}

// BulkReject rejects every needs_review record passing set.
func (m *Manager) BulkReject(ctx context.Context, sessionID string, set filter.Set, actor string) (int, error) {
	return m.bulk(ctx, sessionID, "reject", func(c *Controller) (int, error) {
		return c.BulkReject(set, actor)
	})
}

func (m *Manager) bulk(ctx context.Context, sessionID, op string, fn func(*Controller) (int, error)) (int, error) {
	var n int
	err := m.Do(ctx, sessionID, func(c *Controller) error {
		var err error
		n, err = fn(c)
		return err
	})
	if err == nil {
		zap.L().Info("bulk decision applied",
			zap.String("session_id", sessionID),
			zap.String("op", op),
			zap.Int("changed", n),
		)
	}
	return n, err
}

// Save persists the staged decisions and returns how many records were
// written.
func (m *Manager) Save(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := m.Do(ctx, sessionID, func(c *Controller) error {
		dirty := c.Dirty()
		if len(dirty) == 0 {
			return nil
		}
		if err := m.store.SaveDecisions(ctx, sessionID, dirty); err != nil {
			if errors.Is(err, model.ErrSessionFinalized) {
				defer m.forget(sessionID)
			}
			return eris.Wrapf(err, "review: save decisions for %s", sessionID)
		}
		ids := make([]string, len(dirty))
		for i := range dirty {
			ids[i] = dirty[i].ID
		}
		c.MarkClean(ids...)
		n = len(dirty)
		return nil
	})
	if err == nil && n > 0 {
		zap.L().Info("decisions saved", zap.String("session_id", sessionID), zap.Int("records", n))
	}
	return n, err
}

// Finalize commits the session through the configured Finalizer. Concurrent
// calls for one session run one at a time.
func (m *Manager) Finalize(ctx context.Context, sessionID, actor string) (*model.FinalizeResult, error) {
	if m.finalizer == nil {
		return nil, eris.New("review: no finalizer configured")
	}
	var res *model.FinalizeResult
	err := m.Do(ctx, sessionID, func(c *Controller) error {
		var err error
		res, err = m.finalizer.Finalize(ctx, c.Session(), actor)
		if err != nil {
			if errors.Is(err, model.ErrSessionFinalized) {
				defer m.forget(sessionID)
			}
			return err
		}
		c.MarkClean()
		return nil
	})
	return res, err
}

func cloneSession(s *model.ReviewSession) *model.ReviewSession {
	out := *s
	out.Changes = make([]model.ChangeRecord, len(s.Changes))
	copy(out.Changes, s.Changes)
	return &out
}
