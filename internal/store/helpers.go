package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/reconcile-cli/internal/model"
)

func errMissing(what string) error {
	return eris.Errorf("store: finalize commit missing %s", what)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(model.ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

// isUniqueViolation reports whether err is a unique-constraint failure from
// either driver.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) && pgErr.SQLState() == "23505" {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}

func encodeRow(row model.Row) ([]byte, error) {
	if row == nil {
		row = model.Row{}
	}
	b, err := json.Marshal(row)
	return b, eris.Wrap(err, "store: marshal row")
}

func decodeRow(b []byte) (model.Row, error) {
	row := model.Row{}
	if len(b) == 0 {
		return row, nil
	}
	err := json.Unmarshal(b, &row)
	return row, eris.Wrap(err, "store: unmarshal row")
}

// nullable converts an optional pointer to a driver value (nil or the value).
func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// pageBounds clamps offset and limit against total rows.
func pageBounds(offset, limit, total int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	if limit <= 0 || offset+limit > total {
		limit = total - offset
	}
	return offset, limit
}
