package report

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xuri/excelize/v2"

	"paragon/pkg/ocr"
	"paragon/pkg/pipeline"
)

const sheet = "Receipts"

var headers = []string{"File", "Page", "Receipt", "Amount", "Tier", "Line", "Attempts", "Error"}

type xlsxRow struct {
	doc int
	r   pipeline.RegionReport
}

// XLSX accumulates one row per receipt across documents and writes a workbook with
// a totals row. Call Document before each run to label its rows.
type XLSX struct {
	mu      sync.Mutex
	sources []string
	totals  []pipeline.Totals
	rows    []xlsxRow
}

func NewXLSX() *XLSX { return &XLSX{} }

// Document starts a new source; following reports are attributed to name.
func (x *XLSX) Document(name string) {
	x.mu.Lock()
	x.sources = append(x.sources, name)
	x.totals = append(x.totals, pipeline.Totals{})
	x.mu.Unlock()
}

func (x *XLSX) RegionDone(r pipeline.RegionReport) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if len(x.sources) == 0 {
		x.sources = []string{""}
		x.totals = []pipeline.Totals{{}}
	}
	doc := len(x.sources) - 1
	x.rows = append(x.rows, xlsxRow{doc: doc, r: r})
	x.totals[doc] = r.Totals
}

func (x *XLSX) PageDone(pipeline.PageReport) {}

// Totals sums the final totals of every document.
func (x *XLSX) Totals() pipeline.Totals {
	x.mu.Lock()
	defer x.mu.Unlock()
	var sum pipeline.Totals
	for _, t := range x.totals {
		sum.Expected += t.Expected
		sum.Receipts += t.Receipts
		sum.Found += t.Found
		sum.Missing += t.Missing
		sum.GrandTotal += t.GrandTotal
	}
	return sum
}

// Build renders the workbook. Rows keep document order, then page, then receipt.
func (x *XLSX) Build() (*excelize.File, error) {
	totals := x.Totals()
	x.mu.Lock()
	rows := append([]xlsxRow(nil), x.rows...)
	sources := append([]string(nil), x.sources...)
	x.mu.Unlock()
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.doc != b.doc {
			return a.doc < b.doc
		}
		if a.r.Page != b.r.Page {
			return a.r.Page < b.r.Page
		}
		return a.r.Index < b.r.Index
	})

	f := excelize.NewFile()
	if _, err := f.NewSheet(sheet); err != nil {
		return nil, err
	}
	idx, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(idx)
	_ = f.DeleteSheet("Sheet1")

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	row := 2
	write := func(col int, v any) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
	for _, xr := range rows {
		r := xr.r
		write(1, sources[xr.doc])
		write(2, r.Page)
		write(3, r.Index)
		if r.Found {
			write(4, r.Amount.Float64())
			write(5, r.Tier.String())
			write(6, r.Line)
		}
		write(7, r.Attempts)
		if r.Err != nil {
			write(8, r.Err.Error())
		}
		row++
	}

	write(1, "TOTAL")
	write(3, fmt.Sprintf("%d/%d", totals.Found, totals.Receipts))
	write(4, totals.GrandTotal.Float64())
	write(8, fmt.Sprintf("%d missing", totals.Missing))

	if style, err := f.NewStyle(&excelize.Style{NumFmt: 4}); err == nil {
		_ = f.SetColStyle(sheet, "D", style)
	}
	_ = f.SetColWidth(sheet, "A", "A", 28)
	_ = f.SetColWidth(sheet, "B", "C", 9)
	_ = f.SetColWidth(sheet, "D", "E", 12)
	_ = f.SetColWidth(sheet, "F", "F", 40)
	_ = f.SetColWidth(sheet, "H", "H", 36)
	return f, nil
}

// Save writes the workbook to path.
func (x *XLSX) Save(path string) error {
	f, err := x.Build()
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

// Total is the grand total over all documents.
func (x *XLSX) Total() ocr.Amount { return x.Totals().GrandTotal }
