package source

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// StreamXLSX reads the named sheet (or the first one) and sends its rows to
// the returned channel. Both channels are closed when reading completes.
func StreamXLSX(ctx context.Context, path, sheet string) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		f, err := xlsx.OpenFile(path)
		if err != nil {
			errCh <- eris.Wrap(err, "xlsx: open file")
			return
		}

		s, err := getSheet(f, sheet)
		if err != nil {
			errCh <- err
			return
		}

		for _, row := range s.Rows {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "xlsx: context cancelled")
				return
			}
			select {
			case rowCh <- rowToStrings(row):
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "xlsx: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// LoadXLSX reads points from a spreadsheet whose first row is the header.
func LoadXLSX(ctx context.Context, path string, opts Options) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts = opts.withDefaults()
	rowCh, errCh := StreamXLSX(ctx, path, opts.Sheet)
	res, err := collectRows(rowCh, errCh, opts)
	if err != nil {
		return nil, eris.Wrap(err, "source: load xlsx")
	}
	return res, nil
}

func getSheet(f *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name != "" {
		sheet, ok := f.Sheet[name]
		if !ok {
			return nil, eris.Errorf("xlsx: sheet %q not found", name)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("xlsx: workbook has no sheets")
	}
	return f.Sheets[0], nil
}

func rowToStrings(row *xlsx.Row) []string {
	if row == nil {
		return nil
	}
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
