// Package review implements the decision state machine over a review
// session and the service that caches, persists and finalizes sessions.
package review

import (
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/reconcile-cli/internal/filter"
	"github.com/sells-group/reconcile-cli/internal/model"
)

// Controller applies reviewer decisions to one session in memory. Decided
// records are tracked as dirty until the caller persists them and calls
// MarkClean. A Controller is not safe for concurrent use; Manager
// serializes access per session.
type Controller struct {
	session *model.ReviewSession
	index   map[string]int
	dirty   map[string]struct{}
	engine  *filter.Engine
	now     func() time.Time
}

// NewController wraps sess. A nil engine uses the default category mapping.
func NewController(sess *model.ReviewSession, engine *filter.Engine) *Controller {
	if engine == nil {
		engine = filter.NewEngine(nil)
	}
	model.SortChanges(sess.Changes)
	idx := make(map[string]int, len(sess.Changes))
	for i := range sess.Changes {
		idx[sess.Changes[i].ID] = i
	}
	return &Controller{
		session: sess,
		index:   idx,
		dirty:   make(map[string]struct{}),
		engine:  engine,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Session returns the wrapped session.
func (c *Controller) Session() *model.ReviewSession {
	return c.session
}

// Engine returns the filter engine used for bulk operations.
func (c *Controller) Engine() *filter.Engine {
	return c.engine
}

// Get returns a copy of one record.
func (c *Controller) Get(changeID string) (model.ChangeRecord, error) {
	i, ok := c.index[changeID]
	if !ok {
		return model.ChangeRecord{}, eris.Wrapf(model.ErrNotFound, "change %s", changeID)
	}
	return c.session.Changes[i], nil
}

// Changes evaluates set over the session's records.
func (c *Controller) Changes(set filter.Set) []model.ChangeRecord {
	return c.engine.Evaluate(c.session.Changes, set)
}

// Pending returns the live count of records still in needs_review.
func (c *Controller) Pending() int {
	return c.session.PendingCount()
}

// Accept marks a record accepted and clears any override.
func (c *Controller) Accept(changeID, actor string) error {
	rec, err := c.lookup(changeID)
	if err != nil {
		return err
	}
	c.decide(rec, model.StatusAccepted, nil, "", actor)
	return nil
}

// Reject marks a record rejected and clears any override.
func (c *Controller) Reject(changeID, actor string) error {
	rec, err := c.lookup(changeID)
	if err != nil {
		return err
	}
	c.decide(rec, model.StatusRejected, nil, "", actor)
	return nil
}

// Override replaces the suggestion with a reviewer-supplied value. The value
// must contain a non-whitespace character.
func (c *Controller) Override(changeID, value, reason, actor string) error {
	rec, err := c.lookup(changeID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(value) == "" {
		return eris.Wrapf(model.ErrInvalidOverride, "change %s", changeID)
	}
	c.decide(rec, model.StatusOverridden, &value, reason, actor)
	return nil
}

// BulkAccept accepts every needs_review record passing set and returns the
// number of records changed.
func (c *Controller) BulkAccept(set filter.Set, actor string) (int, error) {
	return c.bulk(set, model.StatusAccepted, actor)
}

// BulkReject rejects every needs_review record passing set and returns the
// number of records changed.
func (c *Controller) BulkReject(set filter.Set, actor string) (int, error) {
	return c.bulk(set, model.StatusRejected, actor)
}

func (c *Controller) bulk(set filter.Set, to model.Status, actor string) (int, error) {
	if c.session.Finalized {
		return 0, eris.Wrapf(model.ErrSessionFinalized, "session %s", c.session.ID)
	}
	n := 0
	for i := range c.session.Changes {
		rec := &c.session.Changes[i]
		if rec.Status != model.StatusNeedsReview || !c.engine.Matches(rec, set) {
			continue
		}
		c.decide(rec, to, nil, "", actor)
		n++
	}
	return n, nil
}

func (c *Controller) lookup(changeID string) (*model.ChangeRecord, error) {
	if c.session.Finalized {
		return nil, eris.Wrapf(model.ErrSessionFinalized, "session %s", c.session.ID)
	}
	i, ok := c.index[changeID]
	if !ok {
		return nil, eris.Wrapf(model.ErrNotFound, "change %s", changeID)
	}
	return &c.session.Changes[i], nil
}

// decide applies a transition. Repeating the current decision is a no-op and
// leaves the decider and timestamp untouched.
func (c *Controller) decide(rec *model.ChangeRecord, to model.Status, override *string, reason, actor string) {
	if rec.Status == to && sameValue(rec.OverrideValue, override) && rec.Reason == reason {
		return
	}
	now := c.now()
	rec.Status = to
	rec.OverrideValue = override
	rec.Reason = reason
	rec.DecidedBy = actor
	rec.DecidedAt = &now
	c.dirty[rec.ID] = struct{}{}
	c.session.UpdatedAt = now

	action, _ := model.ActionFor(to)
	decisionsTotal.WithLabelValues(string(action)).Inc()
}

func sameValue(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Dirty returns copies of the records decided since the last MarkClean, in
// session order.
func (c *Controller) Dirty() []model.ChangeRecord {
	if len(c.dirty) == 0 {
		return nil
	}
	idx := make([]int, 0, len(c.dirty))
	for id := range c.dirty {
		idx = append(idx, c.index[id])
	}
	sort.Ints(idx)
	out := make([]model.ChangeRecord, len(idx))
	for i, j := range idx {
		out[i] = c.session.Changes[j]
	}
	return out
}

// MarkClean forgets the given records, or every dirty record when ids is empty.
func (c *Controller) MarkClean(ids ...string) {
	if len(ids) == 0 {
		c.dirty = make(map[string]struct{})
		return
	}
	for _, id := range ids {
		delete(c.dirty, id)
	}
}
