// Package report holds pipeline sinks: a zap progress log, an XLSX workbook and an
// in-memory collector used to build API responses.
package report

import (
	"go.uber.org/zap"

	"paragon/pkg/ocr"
	"paragon/pkg/pipeline"
)

// LogSink writes one line per receipt and a running summary per page.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSink{log: log}
}

func (s *LogSink) RegionDone(r pipeline.RegionReport) {
	fields := []zap.Field{
		zap.String("run_id", r.RunID),
		zap.Int("page", r.Page),
		zap.Int("receipt", r.Index),
		zap.Int("done", r.Totals.Receipts),
		zap.Int("expected", r.Totals.Expected),
	}
	if !r.Found {
		s.log.Warn("suma missing", append(fields, zap.String("text", ocr.Snippet(r.Text, 80)), zap.Error(r.Err))...)
		return
	}
	s.log.Info("suma", append(fields,
		zap.String("amount", r.Amount.String()),
		zap.String("tier", r.Tier.String()),
		zap.String("running_total", r.Totals.GrandTotal.String()),
	)...)
}

func (s *LogSink) PageDone(p pipeline.PageReport) {
	s.log.Info("page done",
		zap.String("run_id", p.RunID),
		zap.Int("page", p.Page),
		zap.Int("pages_total", p.PagesTotal),
		zap.String("strategy", string(p.Strategy)),
		zap.Int("receipts", len(p.Regions)),
		zap.Int("missing", p.Missing),
		zap.String("page_total", p.PageTotal.String()),
		zap.String("grand_total", p.Totals.GrandTotal.String()),
	)
}
