// Package sheet writes acquired samples to an xlsx workbook.
package sheet

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/skgsergio/visalog/lib/acquire"
	"github.com/xuri/excelize/v2"
)

// Layout of the header region. Samples start at FirstDataRow.
const (
	SheetName    = "Sheet1"
	FirstDataRow = 7

	titleRange      = "A1:F1"
	startLabelCell  = "A3"
	startValueRange = "B3:D3"
	measLabelCell   = "A5"
	timeLabelRange  = "B5:D5"

	valueFormat = "0.000"
)

// FileName returns "<model>-<date>_<time>.xlsx" with the colons of the time
// replaced so the name is valid on every filesystem.
func FileName(model string, t time.Time) string {
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, strings.TrimSpace(model))
	if safe == "" {
		safe = "instrument"
	}
	return fmt.Sprintf("%s-%s_%s.xlsx", safe, t.Format("2006-01-02"), t.Format("15_04_05.000000"))
}

// Workbook collects samples for an xlsx file. Rows are kept in memory and
// the whole sheet is streamed to disk on every save, so appending a row
// costs the same no matter how many came before. It implements
// acquire.Sink.
type Workbook struct {
	path     string
	autosave int
	pending  int
	closed   bool

	identity string
	started  time.Time
	header   bool
	samples  []acquire.Sample
}

// Option configures a Workbook.
type Option func(*Workbook)

// WithAutosave saves the file every n rows so a crash loses at most n
// samples. Zero disables it.
func WithAutosave(n int) Option { return func(w *Workbook) { w.autosave = n } }

// Create prepares a workbook saved to path on Close.
func Create(path string, opts ...Option) (*Workbook, error) {
	if path == "" {
		return nil, fmt.Errorf("empty workbook path")
	}
	w := &Workbook{path: path}
	for _, opt := range opts {
		opt(w)
	}
	if w.autosave < 0 {
		return nil, fmt.Errorf("negative autosave interval %d", w.autosave)
	}
	return w, nil
}

// Path returns where the workbook is saved.
func (w *Workbook) Path() string { return w.path }

// WriteHeader sets the title and the start time, written as date and time
// of day with microseconds.
func (w *Workbook) WriteHeader(identity string, started time.Time) error {
	if w.closed {
		return fmt.Errorf("workbook %s is closed", w.path)
	}
	w.identity = strings.TrimRight(identity, "\r\n")
	w.started = started
	w.header = true
	return nil
}

// WriteSample appends the value to column A and the timestamp to the
// merged B:D cells of the next row.
func (w *Workbook) WriteSample(s acquire.Sample) error {
	if w.closed {
		return fmt.Errorf("workbook %s is closed", w.path)
	}

	w.samples = append(w.samples, s)
	w.pending++
	if w.autosave > 0 && w.pending >= w.autosave {
		return w.save()
	}
	return nil
}

// Rows returns how many samples were written.
func (w *Workbook) Rows() int { return len(w.samples) }

// Close saves the workbook. Calling Close more than once is a no-op.
func (w *Workbook) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.save()
}

func (w *Workbook) save() error {
	f := excelize.NewFile()
	defer f.Close()

	if err := w.render(f); err != nil {
		return fmt.Errorf("rendering %s: %w", w.path, err)
	}
	// SaveAs does not create parent directories.
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", w.path, err)
	}
	if err := f.SaveAs(w.path); err != nil {
		return fmt.Errorf("saving %s: %w", w.path, err)
	}
	w.pending = 0
	return nil
}

// render streams the header and every sample into f. Rows go out in
// ascending order as the stream writer requires.
func (w *Workbook) render(f *excelize.File) error {
	numFmt := valueFormat
	numStyle, err := f.NewStyle(&excelize.Style{
		Alignment:    &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		CustomNumFmt: &numFmt,
	})
	if err != nil {
		return err
	}
	centerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return err
	}
	titleStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return err
	}

	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return err
	}
	if err := sw.SetColWidth(1, 2, 16); err != nil {
		return err
	}

	if w.header {
		if err := mergedRow(sw, titleRange, w.identity, titleStyle); err != nil {
			return err
		}
		if err := labelRow(sw, startLabelCell, "Date and Time", startValueRange,
			w.started.Format("2006-01-02_15:04:05.000000"), centerStyle); err != nil {
			return err
		}
		if err := labelRow(sw, measLabelCell, "Measurement", timeLabelRange, "Time", centerStyle); err != nil {
			return err
		}
	}

	for i, s := range w.samples {
		row := FirstDataRow + i
		cell := fmt.Sprintf("A%d", row)
		if err := sw.SetRow(cell, []any{
			excelize.Cell{StyleID: numStyle, Value: s.Value},
			excelize.Cell{StyleID: centerStyle, Value: s.Timestamp()},
			excelize.Cell{StyleID: centerStyle},
			excelize.Cell{StyleID: centerStyle},
		}); err != nil {
			return fmt.Errorf("writing row %d: %w", row, err)
		}
		if err := sw.MergeCell(fmt.Sprintf("B%d", row), fmt.Sprintf("D%d", row)); err != nil {
			return fmt.Errorf("merging row %d: %w", row, err)
		}
	}
	return sw.Flush()
}

// mergedRow writes value into the first cell of rng and styles the whole
// range, which must lie on one row.
func mergedRow(sw *excelize.StreamWriter, rng string, value any, style int) error {
	first, last, _ := strings.Cut(rng, ":")
	cells, err := styledRange(first, last, value, style)
	if err != nil {
		return err
	}
	if err := sw.SetRow(first, cells); err != nil {
		return fmt.Errorf("writing %s: %w", rng, err)
	}
	if err := sw.MergeCell(first, last); err != nil {
		return fmt.Errorf("merging %s: %w", rng, err)
	}
	return nil
}

// labelRow writes a label cell followed by a merged value range on the
// same row.
func labelRow(sw *excelize.StreamWriter, labelCell, label, rng string, value any, style int) error {
	first, last, _ := strings.Cut(rng, ":")
	cells, err := styledRange(first, last, value, style)
	if err != nil {
		return err
	}
	row := append([]any{excelize.Cell{StyleID: style, Value: label}}, cells...)
	if err := sw.SetRow(labelCell, row); err != nil {
		return fmt.Errorf("writing %s: %w", labelCell, err)
	}
	if err := sw.MergeCell(first, last); err != nil {
		return fmt.Errorf("merging %s: %w", rng, err)
	}
	return nil
}

func styledRange(first, last string, value any, style int) ([]any, error) {
	c1, _, err := excelize.CellNameToCoordinates(first)
	if err != nil {
		return nil, err
	}
	c2, _, err := excelize.CellNameToCoordinates(last)
	if err != nil {
		return nil, err
	}
	cells := make([]any, 0, c2-c1+1)
	cells = append(cells, excelize.Cell{StyleID: style, Value: value})
	for c := c1 + 1; c <= c2; c++ {
		cells = append(cells, excelize.Cell{StyleID: style})
	}
	return cells, nil
}
