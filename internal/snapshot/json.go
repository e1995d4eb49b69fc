package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/reconcile-cli/internal/model"
)

// ReadJSON parses a JSON array of flat objects. Columns are the union of
// object keys in first-seen order. Scalars are rendered as their JSON text
// (strings unquoted), null as missing, nested values as compact JSON.
func ReadJSON(ctx context.Context, r io.Reader, ref string) (*model.Snapshot, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, eris.Wrap(err, "json: read opening token")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, eris.Errorf("json: expected '[', got %v", tok)
	}

	snap := &model.Snapshot{Ref: ref, Columns: []string{}}
	known := make(map[string]bool)

	for dec.More() {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "json: context cancelled")
		}
		keys, row, err := decodeObject(dec)
		if err != nil {
			return nil, eris.Wrapf(err, "json: decode row %d", len(snap.Rows))
		}
		for _, k := range keys {
			if !known[k] {
				known[k] = true
				snap.Columns = append(snap.Columns, k)
			}
		}
		snap.Rows = append(snap.Rows, row)
	}

	if _, err := dec.Token(); err != nil {
		return nil, eris.Wrap(err, "json: read closing token")
	}
	return snap, nil
}

// decodeObject reads one object token by token so key order survives.
func decodeObject(dec *json.Decoder) ([]string, model.Row, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, eris.Errorf("expected object, got %v", tok)
	}

	var keys []string
	row := model.Row{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, eris.Errorf("expected object key, got %v", tok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, nil, err
		}
		keys = append(keys, key)
		if v := scalarText(raw); v != "" {
			row[key] = v
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	return keys, row, nil
}

func scalarText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	switch {
	case len(raw) == 0, string(raw) == "null":
		return ""
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	case raw[0] == '{' || raw[0] == '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err == nil {
			return buf.String()
		}
	}
	return strings.TrimSpace(string(raw))
}

// WriteJSON writes snap as an array of objects. Missing cells are written as
// empty strings so every object carries every column.
func WriteJSON(w io.Writer, snap *model.Snapshot) error {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, row := range snap.Rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString("\n  {")
		for j, col := range snap.Columns {
			if j > 0 {
				buf.WriteString(", ")
			}
			k, _ := json.Marshal(col)
			v, _ := json.Marshal(row[col])
			buf.Write(k)
			buf.WriteString(": ")
			buf.Write(v)
		}
		buf.WriteByte('}')
	}
	if len(snap.Rows) > 0 {
		buf.WriteByte('\n')
	}
	buf.WriteString("]\n")

	if _, err := w.Write(buf.Bytes()); err != nil {
		return eris.Wrap(err, "json: write")
	}
	return nil
}
