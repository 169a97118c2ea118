package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"paragon/pkg/config"
	"paragon/pkg/imgproc"
	"paragon/pkg/pdfpage"
	"paragon/pkg/pipeline"
	"paragon/pkg/region"
)

// Writes the intermediate images of one page: the rendered page, every located
// region, its SUMA strip before and after binarization and the binarized full crop.
func main() {
	in := flag.String("file", "", "PDF or image to inspect")
	page := flag.Int("page", 1, "page number")
	out := flag.String("out", "debug", "output directory")
	flag.Parse()
	if *in == "" {
		log.Fatalf("-file required")
	}
	if err := config.LoadDotEnv(); err != nil {
		log.Printf("warning: %v", err)
	}
	cfg := config.Load()

	doc, err := pdfpage.OpenFile(*in, pdfpage.WithPdftoppm(cfg.Render.Pdftoppm))
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer doc.Close()

	ctx := context.Background()
	img, err := doc.Rasterize(ctx, *page, cfg.Render.Scale)
	if err != nil {
		log.Fatalf("rasterize: %v", err)
	}
	var hints []image.Rectangle
	if pc, ok := doc.(pipeline.PlacementCapturer); ok {
		if hints, err = pc.CapturePlacements(ctx, *page, cfg.Render.Scale); err != nil {
			log.Printf("placements: %v", err)
		}
	}
	regions, strategy := region.Locate(img, hints)
	fmt.Printf("page %d: %dx%d, %d hints, %d regions via %s\n",
		*page, img.Bounds().Dx(), img.Bounds().Dy(), len(hints), len(regions), strategy)

	if err := os.MkdirAll(*out, 0o755); err != nil {
		log.Fatalf("mkdir: %v", err)
	}
	save(*out, "page.png", img)
	for i, r := range regions {
		receipt := imaging.Crop(img, r)
		strip, sr := imgproc.StripCrop(receipt, cfg.Strip)
		full, fr := imgproc.FullReceiptCrop(receipt)
		fmt.Printf("  #%d region=%v strip=%v trim=%v\n", i+1, r, sr, fr)
		save(*out, fmt.Sprintf("region_%02d.png", i+1), receipt)
		save(*out, fmt.Sprintf("strip_%02d.png", i+1), strip)
		save(*out, fmt.Sprintf("strip_%02d.bin.png", i+1), imgproc.Preprocess(strip, cfg.Render.Preprocess))
		save(*out, fmt.Sprintf("full_%02d.bin.png", i+1), imgproc.Preprocess(full, cfg.Render.Preprocess))
	}
}

func save(dir, name string, img image.Image) {
	if err := imaging.Save(img, filepath.Join(dir, name)); err != nil {
		log.Fatalf("save %s: %v", name, err)
	}
}
