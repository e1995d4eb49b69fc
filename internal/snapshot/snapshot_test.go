package snapshot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/reconcile-cli/internal/model"
)

func contacts() *model.Snapshot {
	return &model.Snapshot{
		Ref:     "contacts.csv",
		Columns: []string{"name", "email", "phone"},
		Rows: []model.Row{
			{"name": "Bob", "email": "BOB[at]x", "phone": "555 0100"},
			{"name": "Ann, Jr.", "email": "ann@x.com"},
			{"name": "Cy", "email": "cy@x.com", "phone": "+1-555-0102"},
		},
	}
}

func TestParseAndDetectFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"data/contacts.csv", FormatCSV, false},
		{"https://x.example/leads.XLSX?sig=1", FormatXLSX, false},
		{"ftp://h/p/rows.json", FormatJSON, false},
		{"export.tsv", FormatTSV, false},
		{"notes.txt", "", true},
		{"noext", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := DetectFormat(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	f, err := ParseFormat(" JSON ")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)
}

func TestNormalizeHeader(t *testing.T) {
	got := normalizeHeader([]string{"\ufeffemail", " name ", "", "email", "email", "email_2"})
	assert.Equal(t, []string{"email", "name", "column_3", "email_2", "email_3", "email_2_2"}, got)
}

func TestReadCSV(t *testing.T) {
	in := "name,email,phone\nBob,BOB[at]x,555 0100\n\"Ann, Jr.\",ann@x.com\nCy,cy@x.com,+1-555-0102,extra\n"
	snap, err := ReadCSV(context.Background(), strings.NewReader(in), "contacts.csv", CSVOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "email", "phone"}, snap.Columns)
	require.Len(t, snap.Rows, 3)
	assert.Equal(t, "Ann, Jr.", snap.Rows[1]["name"])
	_, hasPhone := snap.Rows[1]["phone"]
	assert.False(t, hasPhone)
	assert.Equal(t, "+1-555-0102", snap.Rows[2]["phone"])
}

func TestReadCSV_Errors(t *testing.T) {
	_, err := ReadCSV(context.Background(), strings.NewReader(""), "empty", CSVOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing header")

	_, err = ReadCSV(context.Background(), strings.NewReader("a,b\n\"unterminated\n"), "bad", CSVOptions{})
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ReadCSV(ctx, strings.NewReader("a\n1\n"), "x", CSVOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestReadCSV_Delimiter(t *testing.T) {
	snap, err := ReadCSV(context.Background(), strings.NewReader("a;b\n1;2\n"), "x", CSVOptions{Delimiter: ';'})
	require.NoError(t, err)
	assert.Equal(t, model.Row{"a": "1", "b": "2"}, snap.Rows[0])
}

func TestCSVRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, contacts()))
	assert.True(t, strings.HasPrefix(buf.String(), "name,email,phone\n"))

	got, err := ReadCSV(context.Background(), &buf, "contacts.csv", CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, contacts(), got)
}

func TestReadJSON(t *testing.T) {
	in := `[
		{"name": "Bob", "email": "bob@x.com", "age": 41, "vip": true},
		{"name": "Ann", "phone": null, "tags": ["a", "b"], "meta": {"k": 1}}
	]`
	snap, err := ReadJSON(context.Background(), strings.NewReader(in), "people.json")
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "email", "age", "vip", "phone", "tags", "meta"}, snap.Columns)
	assert.Equal(t, model.Row{"name": "Bob", "email": "bob@x.com", "age": "41", "vip": "true"}, snap.Rows[0])
	assert.Equal(t, model.Row{"name": "Ann", "tags": `["a","b"]`, "meta": `{"k":1}`}, snap.Rows[1])
}

func TestReadJSON_Errors(t *testing.T) {
	for name, in := range map[string]string{
		"not array":     `{"a": 1}`,
		"not object":    `[1, 2]`,
		"truncated":     `[{"a": 1}`,
		"empty input":   ``,
		"bad key value": `[{"a": }]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ReadJSON(context.Background(), strings.NewReader(in), "x")
			require.Error(t, err)
		})
	}
}

func TestJSONRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, contacts()))

	got, err := ReadJSON(context.Background(), &buf, "contacts.csv")
	require.NoError(t, err)
	assert.Equal(t, contacts(), got)

	buf.Reset()
	require.NoError(t, WriteJSON(&buf, &model.Snapshot{Columns: []string{"a"}}))
	assert.Equal(t, "[]\n", buf.String())
}

func TestXLSXRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, contacts(), ""))

	got, err := ReadXLSX(context.Background(), bytes.NewReader(buf.Bytes()), "contacts.csv", XLSXOptions{})
	require.NoError(t, err)
	assert.Equal(t, contacts().Columns, got.Columns)
	require.Len(t, got.Rows, 3)
	assert.Equal(t, "BOB[at]x", got.Rows[0]["email"])
	assert.Equal(t, "Ann, Jr.", got.Rows[1]["name"])
	assert.Empty(t, got.Rows[1]["phone"])

	_, err = ReadXLSX(context.Background(), bytes.NewReader(buf.Bytes()), "x", XLSXOptions{SheetName: "missing"})
	require.Error(t, err)
	_, err = ReadXLSX(context.Background(), bytes.NewReader(buf.Bytes()), "x", XLSXOptions{SheetIndex: 3})
	require.Error(t, err)
	_, err = ReadXLSX(context.Background(), strings.NewReader("not a zip"), "x", XLSXOptions{})
	require.Error(t, err)
}

type fakeSource map[string]string

func (f fakeSource) Open(_ context.Context, uri string) (io.ReadCloser, error) {
	body, ok := f[uri]
	if !ok {
		return nil, model.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func TestLoader_Load(t *testing.T) {
	l := NewLoader(fakeSource{
		"https://x.example/contacts.csv": "email\nbob@x.com\n",
		"https://x.example/rows":         `[{"email": "ann@x.com"}]`,
		"https://x.example/people.tsv":   "id\temail\n1\ta@x.com\n",
	})
	ctx := context.Background()

	snap, err := l.Load(ctx, "https://x.example/contacts.csv", "", "")
	require.NoError(t, err)
	assert.Equal(t, "contacts.csv", snap.Ref)
	assert.Equal(t, "bob@x.com", snap.Rows[0]["email"])

	snap, err = l.Load(ctx, "https://x.example/rows", "crm-export", FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "crm-export", snap.Ref)
	assert.Equal(t, "ann@x.com", snap.Rows[0]["email"])

	snap, err = l.Load(ctx, "https://x.example/people.tsv", "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "email"}, snap.Columns)
	assert.Equal(t, []model.Row{{"id": "1", "email": "a@x.com"}}, snap.Rows)

	snap, err = l.Load(ctx, "https://x.example/people.tsv", "", FormatTSV)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "email"}, snap.Columns)

	_, err = l.Load(ctx, "https://x.example/rows", "", "")
	require.Error(t, err, "format cannot be inferred without an extension")

	_, err = l.Load(ctx, "https://x.example/missing.csv", "", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestLoader_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.csv")
	require.NoError(t, os.WriteFile(path, []byte("name\nBob\n"), 0o644))

	snap, err := NewLoader(nil).Load(context.Background(), path, "", "")
	require.NoError(t, err)
	assert.Equal(t, "people.csv", snap.Ref)
	assert.Equal(t, []model.Row{{"name": "Bob"}}, snap.Rows)
}

func TestExport(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"out.csv", "out.tsv", "out.json", "out.xlsx"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, Export(contacts(), path))

			snap, err := NewLoader(nil).Load(context.Background(), path, "contacts.csv", "")
			require.NoError(t, err)
			assert.Equal(t, contacts().Columns, snap.Columns)
			assert.Len(t, snap.Rows, 3)
		})
	}

	require.Error(t, Export(contacts(), filepath.Join(dir, "out.parquet")))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 4, "no temp files left behind")
}

func TestReadAll(t *testing.T) {
	p := NewMemoryProvider(contacts())
	ctx := context.Background()

	for _, size := range []int{1, 2, 3, 10, 0} {
		snap, err := ReadAll(ctx, p, "contacts.csv", size)
		require.NoError(t, err)
		assert.Equal(t, contacts(), snap)
	}

	_, err := ReadAll(ctx, p, "missing", 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNotFound))

	empty := &model.Snapshot{Ref: "empty", Columns: []string{"a"}}
	p.Put(empty)
	snap, err := ReadAll(ctx, p, "empty", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, snap.Columns)
	assert.Empty(t, snap.Rows)
}

type countingProvider struct {
	Provider
	cancel context.CancelFunc
	calls  int
}

func (c *countingProvider) GetSnapshotPage(ctx context.Context, ref string, offset, limit int) (*model.SnapshotPage, error) {
	c.calls++
	c.cancel()
	return c.Provider.GetSnapshotPage(ctx, ref, offset, limit)
}

func TestReadAll_CancelledBetweenPages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &countingProvider{Provider: NewMemoryProvider(contacts()), cancel: cancel}

	_, err := ReadAll(ctx, p, "contacts.csv", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, p.calls)
}

func TestMemoryProvider_Page(t *testing.T) {
	p := NewMemoryProvider(contacts())
	page, err := p.GetSnapshotPage(context.Background(), "contacts.csv", 2, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Offset)
	assert.Equal(t, 1, page.Limit)
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Rows, 1)

	page, err = p.GetSnapshotPage(context.Background(), "contacts.csv", 9, 5)
	require.NoError(t, err)
	assert.Empty(t, page.Rows)
}
