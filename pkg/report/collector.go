package report

import (
	"sort"
	"sync"

	"paragon/pkg/ocr"
	"paragon/pkg/pipeline"
)

// RegionResult is the JSON form of one receipt.
type RegionResult struct {
	Index  int     `json:"index"`
	Amount *string `json:"amount"`
	Tier   string  `json:"tier,omitempty"`
	Line   string  `json:"line,omitempty"`
	Text   string  `json:"text,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// PageResult is the JSON form of one page.
type PageResult struct {
	Page     int            `json:"page"`
	Strategy string         `json:"strategy"`
	Total    string         `json:"total"`
	Regions  []RegionResult `json:"regions"`
}

// TotalsResult is the JSON form of the run totals.
type TotalsResult struct {
	Receipts   int    `json:"receipts"`
	Found      int    `json:"found"`
	Missing    int    `json:"missing"`
	GrandTotal string `json:"grand_total"`
}

// Result is the full document outcome.
type Result struct {
	RunID     string       `json:"run_id"`
	Cancelled bool         `json:"cancelled,omitempty"`
	Pages     []PageResult `json:"pages"`
	Totals    TotalsResult `json:"totals"`
}

// Collector keeps every page report in memory.
type Collector struct {
	mu    sync.Mutex
	pages []pipeline.PageReport
}

func NewCollector() *Collector { return &Collector{} }

func (c *Collector) RegionDone(pipeline.RegionReport) {}

func (c *Collector) PageDone(p pipeline.PageReport) {
	c.mu.Lock()
	c.pages = append(c.pages, p)
	c.mu.Unlock()
}

// Result assembles the collected pages, ordered by page number, with the summary totals.
func (c *Collector) Result(sum pipeline.Summary) Result {
	c.mu.Lock()
	pages := append([]pipeline.PageReport(nil), c.pages...)
	c.mu.Unlock()
	sort.Slice(pages, func(i, j int) bool { return pages[i].Page < pages[j].Page })

	res := Result{
		RunID:     sum.RunID,
		Cancelled: sum.Cancelled,
		Pages:     make([]PageResult, 0, len(pages)),
		Totals:    totalsResult(sum.Totals),
	}
	for _, p := range pages {
		pr := PageResult{
			Page:     p.Page,
			Strategy: string(p.Strategy),
			Total:    p.PageTotal.String(),
			Regions:  make([]RegionResult, 0, len(p.Regions)),
		}
		for _, r := range p.Regions {
			pr.Regions = append(pr.Regions, regionResult(r))
		}
		res.Pages = append(res.Pages, pr)
	}
	return res
}

func regionResult(r pipeline.RegionReport) RegionResult {
	out := RegionResult{Index: r.Index, Text: ocr.Snippet(r.Text, 400)}
	if r.Found {
		a := r.Amount.String()
		out.Amount = &a
		out.Tier = r.Tier.String()
		out.Line = r.Line
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}

func totalsResult(t pipeline.Totals) TotalsResult {
	return TotalsResult{
		Receipts:   t.Receipts,
		Found:      t.Found,
		Missing:    t.Missing,
		GrandTotal: t.GrandTotal.String(),
	}
}
