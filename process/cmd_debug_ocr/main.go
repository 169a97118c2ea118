package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"paragon/pkg/config"
	"paragon/pkg/imgproc"
	"paragon/pkg/ocr"
	"paragon/pkg/ocr/tesseract"
)

// Prints the SUMA extraction of recognized text. With -image the image is
// preprocessed and recognized first; otherwise text is read from -text or stdin.
func main() {
	textFile := flag.String("text", "", "text file to extract from (default stdin)")
	imageFile := flag.String("image", "", "image to preprocess and OCR instead of reading text")
	profile := flag.String("profile", "fallback", "recognition profile for -image: strip or fallback")
	raw := flag.Bool("raw", false, "skip preprocessing for -image")
	flag.Parse()

	var text string
	switch {
	case *imageFile != "":
		t, err := recognizeImage(*imageFile, *profile, *raw)
		if err != nil {
			log.Fatalf("ocr error: %v", err)
		}
		text = t
		fmt.Printf("--- text ---\n%s\n------------\n", text)
	case *textFile != "":
		b, err := os.ReadFile(*textFile)
		if err != nil {
			log.Fatalf("read: %v", err)
		}
		text = string(b)
	default:
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			log.Fatalf("read stdin: %v", err)
		}
		text = string(b)
	}

	e, err := ocr.ExtractAmount(text)
	if err != nil {
		fmt.Printf("no amount: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("amount=%s tier=%s line=%q\n", e.Amount, e.Tier, e.Line)
}

func recognizeImage(path, profile string, raw bool) (string, error) {
	if err := config.LoadDotEnv(); err != nil {
		log.Printf("warning: %v", err)
	}
	cfg := config.Load()
	p := ocr.FallbackProfile
	if profile == ocr.StripProfile.Name {
		p = ocr.StripProfile
	}
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	in := img
	if !raw {
		in = imgproc.Preprocess(img, cfg.Render.Preprocess)
	}
	ctx := context.Background()
	pool, err := tesseract.StartPool(ctx, 1, cfg.OCR.Languages, zap.NewNop())
	if err != nil {
		return "", err
	}
	defer pool.Shutdown()
	return pool.Submit(ctx, in, p)
}
