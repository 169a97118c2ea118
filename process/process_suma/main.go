package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"paragon/pkg/config"
	"paragon/pkg/metrics"
	"paragon/pkg/ocr"
	"paragon/pkg/ocr/tesseract"
	"paragon/pkg/pdfpage"
	"paragon/pkg/pipeline"
	"paragon/pkg/report"
)

// processor runs documents one after another on a shared recognition pool.
type processor struct {
	cfg     *config.Config
	rec     ocr.Recognizer
	log     *zap.Logger
	metrics *metrics.Recorder
	xlsx    *report.XLSX
	doneDir string
	open    func(path string) (pdfpage.File, error)
}

// Main: scans a directory (or explicit files) of receipt scans, prints the SUMA total
// of each document and optionally watches the directory for new files.
func main() {
	dirFlag := flag.String("dir", "", "directory to scan for PDFs and images (default INBOX_DIR)")
	watch := flag.Bool("watch", false, "Watch directory for new files")
	xlsxPath := flag.String("xlsx", "", "write a per-receipt workbook to this path")
	workers := flag.Int("workers", 0, "recognition engines (default OCR_WORKERS)")
	scale := flag.Float64("scale", 0, "render scale relative to 72 dpi (default RENDER_SCALE)")
	doneDir := flag.String("done-dir", "", "move fully processed files here")
	verbose := flag.Bool("verbose", false, "Verbose per-receipt logging")
	flag.Parse()

	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	cfg := config.Load()
	if *workers > 0 {
		cfg.OCR.Workers = *workers
	}
	if *scale > 0 {
		cfg.Render.Scale = *scale
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	dir := *dirFlag
	if dir == "" {
		dir = cfg.Server.InboxDir
	}
	files := flag.Args()
	if len(files) == 0 && dir != "" {
		files = listFiles(dir)
	}
	if len(files) == 0 && !*watch {
		fmt.Fprintln(os.Stderr, "usage: process_suma [flags] [file ...]  (or --dir / INBOX_DIR)")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec := metrics.NewRecorder()
	done := rec.Start("workers:init")
	pool, err := tesseract.StartPool(ctx, cfg.OCR.Workers, cfg.OCR.Languages, logger)
	done()
	if err != nil {
		logger.Fatal("start ocr pool", zap.Error(err))
	}

	p := &processor{cfg: cfg, rec: pool, log: logger, metrics: rec, doneDir: *doneDir}
	p.open = func(path string) (pdfpage.File, error) {
		return pdfpage.OpenFile(path, pdfpage.WithPdftoppm(cfg.Render.Pdftoppm), pdfpage.WithLogger(logger))
	}
	if *xlsxPath != "" {
		p.xlsx = report.NewXLSX()
	}

	logger.Info("scanning", zap.Int("files", len(files)), zap.Int("workers", pool.Size()), zap.String("mode", pool.Mode()))
	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		p.processFile(ctx, f)
	}

	if *watch && dir != "" && ctx.Err() == nil {
		if err := p.watchDirectory(ctx, dir); err != nil {
			logger.Error("watch failed", zap.Error(err))
		}
	}

	done = rec.Start("workers:terminate")
	pool.Shutdown()
	done()

	if p.xlsx != nil {
		if err := p.xlsx.Save(*xlsxPath); err != nil {
			logger.Error("save workbook", zap.Error(err))
		} else {
			t := p.xlsx.Totals()
			fmt.Printf("workbook %s: %d receipts, %d missing, total %s\n", *xlsxPath, t.Receipts, t.Missing, t.GrandTotal)
		}
	}
	for _, line := range rec.SummaryLines() {
		fmt.Println(line)
	}
}

// processFile runs one document and prints its summary line. Files are moved to
// doneDir only when every page was processed.
func (p *processor) processFile(ctx context.Context, path string) (pipeline.Summary, error) {
	log := p.log.With(zap.String("file", filepath.Base(path)))
	doc, err := p.open(path)
	if err != nil {
		log.Error("open failed", zap.Error(err))
		return pipeline.Summary{}, err
	}
	defer doc.Close()

	sinks := []pipeline.Sink{report.NewLogSink(log)}
	if p.xlsx != nil {
		p.xlsx.Document(filepath.Base(path))
		sinks = append(sinks, p.xlsx)
	}
	opts := append(p.cfg.PipelineOptions(),
		pipeline.WithSink(pipeline.MultiSink(sinks...)),
		pipeline.WithLogger(log),
		pipeline.WithMetrics(p.metrics))
	sum, err := pipeline.New(p.rec, opts...).Run(ctx, doc)

	fmt.Printf("%s: SUMA total %s (%d receipts, %d missing, %d/%d pages, %s)\n",
		filepath.Base(path), sum.Totals.GrandTotal, sum.Totals.Receipts, sum.Totals.Missing,
		sum.PagesDone, sum.PagesTotal, sum.Duration.Round(time.Millisecond))
	if err != nil {
		log.Error("run failed", zap.Error(err))
		return sum, err
	}
	if sum.Cancelled || p.doneDir == "" {
		return sum, nil
	}
	if err := moveToProcessed(path, p.doneDir); err != nil {
		log.Warn("failed to move processed file", zap.Error(err))
	}
	return sum, nil
}

func listFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !isSupportedExt(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out
}

func isSupportedExt(name string) bool {
	// ignore our own outputs and partial downloads
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".part") {
		return false
	}
	return pdfpage.IsPDF(name) || pdfpage.IsImage(name)
}

// watchDirectory processes files created in dir once they stop changing for 300ms.
// It returns when ctx is cancelled.
func (p *processor) watchDirectory(ctx context.Context, dir string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	p.log.Info("watching (debounced)", zap.String("dir", dir))

	fileCh := make(chan string, 256)
	go debounce(ctx, w, fileCh, 250*time.Millisecond, 300*time.Millisecond, p.log)
	for name := range fileCh {
		p.processFile(ctx, name)
	}
	return nil
}

// debounce relays created or written files to out once they were quiet for stable.
// out is closed when ctx ends or the watcher stops.
func debounce(ctx context.Context, w *fsnotify.Watcher, out chan<- string, tick, stable time.Duration, log *zap.Logger) {
	defer close(out)
	pending := map[string]time.Time{}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 && isSupportedExt(filepath.Base(ev.Name)) {
				pending[ev.Name] = time.Now()
			}
		case <-ticker.C:
			now := time.Now()
			for name, t := range pending {
				if now.Sub(t) > stable {
					delete(pending, name)
					select {
					case out <- name:
					case <-ctx.Done():
						return
					}
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Warn("watch error", zap.Error(err))
		}
	}
}

// moveToProcessed moves src into dir, falling back to copy+remove across devices.
func moveToProcessed(src, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	dst := filepath.Join(dir, filepath.Base(src))
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	return copyRemove(src, dst)
}

func copyRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
