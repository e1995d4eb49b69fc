package snapshot

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/reconcile-cli/internal/fetcher"
	"github.com/sells-group/reconcile-cli/internal/model"
)

// Source opens a snapshot location for reading.
type Source interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// Loader reads snapshots from files, HTTP(S) and FTP.
type Loader struct {
	source Source
	csv    CSVOptions
	xlsx   XLSXOptions
}

// NewLoader returns a Loader backed by src. A nil src uses a default
// fetcher.Opener.
func NewLoader(src Source) *Loader {
	if src == nil {
		src = fetcher.NewOpener(fetcher.Options{})
	}
	return &Loader{source: src}
}

// WithCSV sets the CSV reader options.
func (l *Loader) WithCSV(opts CSVOptions) *Loader {
	l.csv = opts
	return l
}

// WithXLSX sets the worksheet selection.
func (l *Loader) WithXLSX(opts XLSXOptions) *Loader {
	l.xlsx = opts
	return l
}

// Load reads uri into a snapshot named ref. An empty format is inferred from
// the URI's extension; an empty ref defaults to the URI's base name.
func (l *Loader) Load(ctx context.Context, uri, ref string, format Format) (*model.Snapshot, error) {
	if format == "" {
		f, err := DetectFormat(uri)
		if err != nil {
			return nil, err
		}
		format = f
	}
	if ref == "" {
		ref = fetcher.BaseName(uri)
	}

	rc, err := l.source.Open(ctx, uri)
	if err != nil {
		return nil, eris.Wrapf(err, "snapshot: open %s", uri)
	}
	defer rc.Close() //nolint:errcheck

	snap, err := Read(ctx, rc, ref, format, l.csv, l.xlsx)
	if err != nil {
		return nil, eris.Wrapf(err, "snapshot: load %s", uri)
	}

	zap.L().Info("snapshot loaded",
		zap.String("uri", uri),
		zap.String("ref", ref),
		zap.String("format", string(format)),
		zap.Int("columns", len(snap.Columns)),
		zap.Int("rows", len(snap.Rows)),
	)
	return snap, nil
}

// Read decodes r in the given format.
func Read(ctx context.Context, r io.Reader, ref string, format Format, csvOpts CSVOptions, xlsxOpts XLSXOptions) (*model.Snapshot, error) {
	switch format {
	case FormatCSV:
		return ReadCSV(ctx, r, ref, csvOpts)
	case FormatTSV:
		if csvOpts.Delimiter == 0 {
			csvOpts.Delimiter = '\t'
		}
		return ReadCSV(ctx, r, ref, csvOpts)
	case FormatXLSX:
		return ReadXLSX(ctx, r, ref, xlsxOpts)
	case FormatJSON:
		return ReadJSON(ctx, r, ref)
	default:
		return nil, eris.Errorf("snapshot: unsupported format %q", format)
	}
}

// Write encodes snap in the given format.
func Write(w io.Writer, snap *model.Snapshot, format Format) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, snap)
	case FormatTSV:
		return writeDelimited(w, snap, '\t')
	case FormatXLSX:
		return WriteXLSX(w, snap, "")
	case FormatJSON:
		return WriteJSON(w, snap)
	default:
		return eris.Errorf("snapshot: unsupported format %q", format)
	}
}

// Export writes snap to path, choosing the format from its extension. The
// file is written to a temporary sibling and renamed into place.
func Export(snap *model.Snapshot, path string) error {
	format, err := DetectFormat(path)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := Write(&buf, snap, format); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*")
	if err != nil {
		return eris.Wrap(err, "snapshot: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return eris.Wrap(err, "snapshot: write temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "snapshot: close temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "snapshot: rename to %s", path)
	}
	return nil
}
