package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"os/signal"

	"go.uber.org/zap"

	"paragon/pkg/calibrate"
	"paragon/pkg/config"
	"paragon/pkg/metrics"
	"paragon/pkg/ocr/tesseract"
	"paragon/pkg/pdfpage"
	"paragon/pkg/pipeline"
	"paragon/pkg/region"
)

// Scans strip offsets on up to four receipts of one page and prints the suggested
// SUMA_STRIP_TOP_PX.
func main() {
	in := flag.String("file", "", "sample PDF or image")
	page := flag.Int("page", 1, "sample page number")
	flag.Parse()
	if *in == "" {
		log.Fatalf("-file required")
	}
	if err := config.LoadDotEnv(); err != nil {
		log.Printf("warning: %v", err)
	}
	cfg := config.Load()
	logger, err := cfg.Log.NewLogger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	doc, err := pdfpage.OpenFile(*in, pdfpage.WithPdftoppm(cfg.Render.Pdftoppm), pdfpage.WithLogger(logger))
	if err != nil {
		logger.Fatal("open", zap.Error(err))
	}
	defer doc.Close()

	rec := metrics.NewRecorder()
	done := rec.Start("calib:render")
	img, err := doc.Rasterize(ctx, *page, cfg.Render.Scale)
	done()
	if err != nil {
		logger.Fatal("rasterize", zap.Error(err))
	}
	var hints []image.Rectangle
	if pc, ok := doc.(pipeline.PlacementCapturer); ok {
		hints, _ = pc.CapturePlacements(ctx, *page, cfg.Render.Scale)
	}
	regions, strategy := region.Locate(img, hints)
	logger.Info("calibrating", zap.Int("regions", len(regions)), zap.String("strategy", string(strategy)))

	pool, err := tesseract.StartPool(ctx, 1, cfg.OCR.Languages, logger)
	if err != nil {
		logger.Fatal("start ocr pool", zap.Error(err))
	}
	defer pool.Shutdown()

	c := calibrate.New(pool,
		calibrate.WithGeometry(cfg.Strip),
		calibrate.WithPreprocess(cfg.Render.Preprocess),
		calibrate.WithLogger(logger),
		calibrate.WithMetrics(rec))
	res, err := c.Calibrate(ctx, img, regions)
	if err != nil {
		logger.Fatal("calibrate", zap.Error(err))
	}
	for _, cand := range res.Candidates {
		fmt.Printf("receipt #%d: best y=%d (base %dpx), score=%d %q\n", cand.Receipt, cand.Y, cand.TopBasePx, cand.Score, cand.Text)
	}
	fmt.Printf("SUMA_STRIP_TOP_PX=%d\n", res.SuggestedTop)
	for _, line := range rec.SummaryLines() {
		fmt.Println(line)
	}
}
