package snapshot

import (
	"context"
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/reconcile-cli/internal/model"
)

// CSVOptions configures the CSV reader.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // 0 = none
	LazyQuotes bool
}

// streamCSV reads records and sends them on a channel. Both channels are
// closed when processing completes; at most one error is sent.
func streamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		reader.Comment = opts.Comment
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// ReadCSV parses a CSV stream whose first record is the header.
func ReadCSV(ctx context.Context, r io.Reader, ref string, opts CSVOptions) (*model.Snapshot, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rowCh, errCh := streamCSV(ctx, r, opts)

	snap := &model.Snapshot{Ref: ref}
	for record := range rowCh {
		if snap.Columns == nil {
			snap.Columns = normalizeHeader(record)
			continue
		}
		snap.Rows = append(snap.Rows, rowFromValues(snap.Columns, record))
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	if snap.Columns == nil {
		return nil, eris.New("csv: missing header row")
	}
	return snap, nil
}

// WriteCSV writes the header followed by every row in column order.
func WriteCSV(w io.Writer, snap *model.Snapshot) error {
	return writeDelimited(w, snap, ',')
}

func writeDelimited(w io.Writer, snap *model.Snapshot, comma rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = comma
	if err := cw.Write(snap.Columns); err != nil {
		return eris.Wrap(err, "csv: write header")
	}
	record := make([]string, len(snap.Columns))
	for _, row := range snap.Rows {
		for i, col := range snap.Columns {
			record[i] = row[col]
		}
		if err := cw.Write(record); err != nil {
			return eris.Wrap(err, "csv: write row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "csv: flush")
}
