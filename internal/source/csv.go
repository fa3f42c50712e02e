package source

import (
	"context"
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming CSV reader.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
}

// StreamCSV reads records from r and sends them to the returned row channel.
// Both channels are closed when reading completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
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

// LoadCSV reads points from a CSV stream with a header row.
func LoadCSV(ctx context.Context, r io.Reader, opts Options) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rowCh, errCh := StreamCSV(ctx, r, CSVOptions{LazyQuotes: true})
	res, err := collectRows(rowCh, errCh, opts.withDefaults())
	if err != nil {
		return nil, eris.Wrap(err, "source: load csv")
	}
	return res, nil
}
