// Package pdfpage opens receipt scans as pipeline documents: PDFs rendered with
// pdftoppm and plain image files.
package pdfpage

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// PDF is an open PDF file. It implements pipeline.Document and
// pipeline.PlacementCapturer.
type PDF struct {
	path   string
	file   *os.File
	reader *pdf.Reader
	runner Runner
	bin    string
	logger *zap.Logger
}

// Option configures a PDF.
type Option func(*PDF)

// WithRunner replaces the command runner used for pdftoppm.
func WithRunner(r Runner) Option { return func(p *PDF) { p.runner = r } }

// WithPdftoppm sets the pdftoppm binary name or path.
func WithPdftoppm(bin string) Option {
	return func(p *PDF) {
		if bin != "" {
			p.bin = bin
		}
	}
}

func WithLogger(l *zap.Logger) Option { return func(p *PDF) { p.logger = l } }

// Open parses the PDF structure at path. The caller must Close it.
func Open(path string, opts ...Option) (*PDF, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	p := &PDF{path: path, file: f, reader: r, bin: "pdftoppm", logger: zap.NewNop()}
	for _, o := range opts {
		o(p)
	}
	if p.runner == nil {
		p.runner = ExecRunner{Logger: p.logger}
	}
	return p, nil
}

func (p *PDF) Close() error { return p.file.Close() }

func (p *PDF) NumPages() int { return p.reader.NumPage() }

// Rasterize renders one page at 72*scale dpi.
func (p *PDF) Rasterize(ctx context.Context, page int, scale float64) (image.Image, error) {
	return rasterize(ctx, p.runner, p.bin, p.path, page, dpiFor(scale))
}

func dpiFor(scale float64) int {
	if scale <= 0 {
		scale = 1
	}
	return int(72*scale + 0.5)
}

// rasterize runs `pdftoppm -r dpi -f n -l n -png -singlefile in prefix` and decodes
// prefix.png.
func rasterize(ctx context.Context, runner Runner, bin, path string, page, dpi int) (image.Image, error) {
	tmpDir, err := os.MkdirTemp("", "paragon-pp-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	prefix := filepath.Join(tmpDir, "page")
	n := strconv.Itoa(page)
	_, errb, err := runner.Run(ctx, bin, "-r", strconv.Itoa(dpi), "-f", n, "-l", n, "-png", "-singlefile", path, prefix)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm page %d: %w: %s", page, err, strings.TrimSpace(string(errb)))
	}
	img, err := imaging.Open(prefix + ".png")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("pdftoppm produced no image for page %d", page)
		}
		return nil, fmt.Errorf("decode page %d: %w", page, err)
	}
	return img, nil
}

// Images is a document whose pages are image files, e.g. phone scans. It has no
// placement hints; scale is ignored because the files are already rasters.
type Images struct {
	paths []string
}

// OpenImages returns a document over paths in the given order.
func OpenImages(paths ...string) *Images {
	return &Images{paths: append([]string(nil), paths...)}
}

func (d *Images) NumPages() int { return len(d.paths) }

func (d *Images) Close() error { return nil }

func (d *Images) Rasterize(_ context.Context, page int, _ float64) (image.Image, error) {
	if page < 1 || page > len(d.paths) {
		return nil, fmt.Errorf("page %d out of range 1..%d", page, len(d.paths))
	}
	img, err := imaging.Open(d.paths[page-1], imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", d.paths[page-1], err)
	}
	return img, nil
}

// IsPDF reports whether name has a .pdf extension.
func IsPDF(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}

// IsImage reports whether name is an image format this package can open.
func IsImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".gif":
		return true
	}
	return false
}

// File is a document opened from disk.
type File interface {
	NumPages() int
	Rasterize(ctx context.Context, page int, scale float64) (image.Image, error)
	Close() error
}

// ErrUnsupported is returned by OpenFile for extensions it cannot read.
var ErrUnsupported = errors.New("unsupported file type")

// OpenFile opens path as a PDF or a one-page image document by extension.
func OpenFile(path string, opts ...Option) (File, error) {
	switch {
	case IsPDF(path):
		return Open(path, opts...)
	case IsImage(path):
		return OpenImages(path), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(path))
}
