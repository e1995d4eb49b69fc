package snapshot

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/reconcile-cli/internal/model"
)

// DefaultPageSize is the number of rows ReadAll requests per page.
const DefaultPageSize = 500

// Provider serves stored snapshots a page at a time.
type Provider interface {
	GetSnapshotPage(ctx context.Context, ref string, offset, limit int) (*model.SnapshotPage, error)
}

// ReadAll pages through ref and materializes it. Cancellation is checked
// between pages.
func ReadAll(ctx context.Context, p Provider, ref string, pageSize int) (*model.Snapshot, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	snap := &model.Snapshot{Ref: ref}
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrapf(err, "snapshot: read %s", ref)
		}

		page, err := p.GetSnapshotPage(ctx, ref, offset, pageSize)
		if err != nil {
			return nil, eris.Wrapf(err, "snapshot: read %s at offset %d", ref, offset)
		}
		if offset == 0 {
			snap.Columns = page.Columns
			snap.Rows = make([]model.Row, 0, page.Total)
		}
		snap.Rows = append(snap.Rows, page.Rows...)
		offset += len(page.Rows)

		if len(page.Rows) == 0 || offset >= page.Total {
			return snap, nil
		}
	}
}

// MemoryProvider is a Provider over in-memory snapshots.
type MemoryProvider struct {
	mu    sync.RWMutex
	snaps map[string]*model.Snapshot
}

// NewMemoryProvider returns a provider holding snaps keyed by Ref.
func NewMemoryProvider(snaps ...*model.Snapshot) *MemoryProvider {
	p := &MemoryProvider{snaps: make(map[string]*model.Snapshot, len(snaps))}
	for _, s := range snaps {
		p.Put(s)
	}
	return p
}

// Put stores or replaces a snapshot.
func (p *MemoryProvider) Put(s *model.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps[s.Ref] = s
}

// Get returns the snapshot stored under ref.
func (p *MemoryProvider) Get(ref string) (*model.Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.snaps[ref]
	return s, ok
}

// GetSnapshotPage implements Provider.
func (p *MemoryProvider) GetSnapshotPage(_ context.Context, ref string, offset, limit int) (*model.SnapshotPage, error) {
	s, ok := p.Get(ref)
	if !ok {
		return nil, eris.Wrapf(model.ErrNotFound, "snapshot %s", ref)
	}

	total := len(s.Rows)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return &model.SnapshotPage{
		Ref:     ref,
		Columns: s.Columns,
		Offset:  offset,
		Limit:   end - offset,
		Total:   total,
		Rows:    s.Rows[offset:end],
	}, nil
}
