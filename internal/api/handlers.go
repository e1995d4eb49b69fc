package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/reconcile-cli/internal/compare"
	"github.com/sells-group/reconcile-cli/internal/filter"
	"github.com/sells-group/reconcile-cli/internal/model"
	"github.com/sells-group/reconcile-cli/internal/monitoring"
	"github.com/sells-group/reconcile-cli/internal/store"
)

type createSessionRequest struct {
	SourceRef   string             `json:"source_ref" validate:"required"`
	Suggestions []model.Suggestion `json:"suggestions" validate:"required,min=1,dive"`
}

type overrideRequest struct {
	Value  string `json:"value"`
	Reason string `json:"reason" validate:"max=1024"`
}

type bulkResponse struct {
	Changed int `json:"changed"`
	Pending int `json:"pending"`
}

type saveResponse struct {
	Saved int `json:"saved"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) overview(w http.ResponseWriter, r *http.Request) {
	ov, err := s.collector.Collect(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.SessionFilter{SourceRef: q.Get("source_ref")}
	if raw := q.Get("finalized"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, &badRequest{err: eris.Errorf("invalid finalized %q", raw)})
			return
		}
		f.Finalized = &b
	}
	var err error
	if f.Limit, err = intParam(q.Get("limit"), 0); err != nil {
		writeError(w, r, err)
		return
	}
	if f.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		writeError(w, r, err)
		return
	}

	sessions, err := s.store.ListSessions(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []store.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	for i := range req.Suggestions {
		if err := req.Suggestions[i].Validate(); err != nil {
			writeError(w, r, &badRequest{err: err})
			return
		}
	}

	sess, err := s.manager.CreateSession(r.Context(), req.SourceRef, req.Suggestions)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Session(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) sessionStats(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Session(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, monitoring.ForSession(sess))
}

func (s *Server) listChanges(w http.ResponseWriter, r *http.Request) {
	set := filter.ParseQuery(r.URL.Query())
	changes, err := s.manager.Changes(r.Context(), chi.URLParam(r, "sessionID"), set)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, changes)
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request) {
	rec, err := s.manager.Accept(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "changeID"), s.reviewer(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	rec, err := s.manager.Reject(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "changeID"), s.reviewer(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) override(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := s.manager.Override(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "changeID"),
		req.Value, req.Reason, s.reviewer(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) bulkAccept(w http.ResponseWriter, r *http.Request) {
	s.bulk(w, r, s.manager.BulkAccept)
}

func (s *Server) bulkReject(w http.ResponseWriter, r *http.Request) {
	s.bulk(w, r, s.manager.BulkReject)
}

type bulkFunc func(ctx context.Context, sessionID string, set filter.Set, actor string) (int, error)

// bulk reads the filter from the JSON body when one is sent and from the
// query string otherwise.
func (s *Server) bulk(w http.ResponseWriter, r *http.Request, fn bulkFunc) {
	sessionID := chi.URLParam(r, "sessionID")

	set, err := bulkFilter(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	n, err := fn(r.Context(), sessionID, set, s.reviewer(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	pending, err := s.manager.Pending(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bulkResponse{Changed: n, Pending: pending})
}

// bulkFilter parses strictly: a predicate that a view would silently drop
// is a 400 here.
func bulkFilter(w http.ResponseWriter, r *http.Request) (filter.Set, error) {
	if r.Body == nil || r.ContentLength == 0 {
		return queryFilter(r)
	}
	var body filter.Set
	if err := decodeJSON(w, r, &body); err != nil {
		var br *badRequest
		if errors.As(err, &br) && errors.Is(br.err, io.EOF) {
			return queryFilter(r)
		}
		return filter.Set{}, err
	}
	set, err := body.Canonical()
	if err != nil {
		return filter.Set{}, &badRequest{err: err}
	}
	return set, nil
}

func queryFilter(r *http.Request) (filter.Set, error) {
	set, err := filter.ParseQueryStrict(r.URL.Query())
	if err != nil {
		return filter.Set{}, &badRequest{err: err}
	}
	return set, nil
}

func (s *Server) save(w http.ResponseWriter, r *http.Request) {
	n, err := s.manager.Save(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saveResponse{Saved: n})
}

func (s *Server) finalize(w http.ResponseWriter, r *http.Request) {
	res, err := s.manager.Finalize(r.Context(), chi.URLParam(r, "sessionID"), s.reviewer(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) changelog(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	// Resolves unknown sessions to 404 before reading the log.
	if _, err := s.manager.Session(r.Context(), sessionID); err != nil {
		writeError(w, r, err)
		return
	}
	entries, err := s.store.ListChangelog(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.ChangelogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.store.ListSnapshots(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if snaps == nil {
		snaps = []model.SnapshotInfo{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) snapshotRows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ref := q.Get("ref")
	if ref == "" {
		writeError(w, r, &badRequest{err: eris.New("ref is required")})
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := intParam(q.Get("limit"), s.opts.PageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit = min(max(limit, 1), maxPageSize)

	page, err := s.store.GetSnapshotPage(r.Context(), ref, offset, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// compare diffs two snapshots. With a session, the original defaults to the
// session source, the cleaned side to its finalized output, and category
// restriction uses the session's records.
func (s *Server) compare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	original, cleaned := q.Get("original"), q.Get("cleaned")
	opts := compare.Options{Engine: s.manager.Engine()}

	if id := q.Get("session"); id != "" {
		sess, err := s.manager.Session(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if original == "" {
			original = sess.SourceRef
		}
		if cleaned == "" {
			cleaned = sess.CleanedRef
		}
		opts.Changes = sess.Changes
	}
	if original == "" || cleaned == "" {
		writeError(w, r, &badRequest{err: eris.New("original and cleaned refs are required")})
		return
	}

	if set := filter.ParseQuery(q); set.HasCategories() {
		opts.Filter = &set
	}

	res, err := compare.Refs(r.Context(), s.store, original, cleaned, s.opts.PageSize, opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &badRequest{err: eris.Errorf("invalid integer %q", raw)}
	}
	return n, nil
}
