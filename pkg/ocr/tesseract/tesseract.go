// Package tesseract adapts gosseract clients to the ocr.Engine interface.
package tesseract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
	"go.uber.org/zap"

	"paragon/pkg/ocr"
)

// initVariables are applied to every client before its first recognition.
var initVariables = map[string]string{
	"preserve_interword_spaces": "1",
	"load_system_dawg":          "0",
	"load_freq_dawg":            "0",
	"user_defined_dpi":          "300",
	"classify_bln_numeric_mode": "1",
}

var errNotInitialized = errors.New("tesseract engine not initialized")

// Engine owns one gosseract client.
type Engine struct {
	client *gosseract.Client
}

// New returns an engine; Init must be called before use.
func New() *Engine { return &Engine{} }

// Factory is an ocr.EngineFactory producing tesseract engines.
func Factory() ocr.Engine { return New() }

// Version reports the linked libtesseract version.
func Version() string { return gosseract.Version() }

func (e *Engine) Init(languages string) error {
	c := gosseract.NewClient()
	langs := strings.FieldsFunc(languages, func(r rune) bool { return r == '+' || r == ',' })
	if len(langs) > 0 {
		if err := c.SetLanguage(langs...); err != nil {
			_ = c.Close()
			return fmt.Errorf("set language %q: %w", languages, err)
		}
	}
	for k, v := range initVariables {
		if err := c.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			_ = c.Close()
			return fmt.Errorf("set %s: %w", k, err)
		}
	}
	if err := warmUp(c); err != nil {
		_ = c.Close()
		return fmt.Errorf("load language model %q: %w", languages, err)
	}
	e.client = c
	return nil
}

// warmUp runs one recognition so gosseract performs its deferred TessBaseAPI
// initialization now. Missing traineddata surfaces here instead of on the first job.
func warmUp(c *gosseract.Client) error {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.New(32, 32, color.White), imaging.PNG); err != nil {
		return err
	}
	if err := c.SetImageFromBytes(buf.Bytes()); err != nil {
		return err
	}
	_, err := c.Text()
	return err
}

// profileVariables are the tesseract variables that carry a profile. The
// page-segmentation mode goes through a variable too, since gosseract only
// re-applies variables when it re-initializes the API.
func profileVariables(p ocr.Profile) map[string]string {
	return map[string]string{
		"tessedit_pageseg_mode":   strconv.Itoa(p.PageSegMode),
		"tessedit_char_whitelist": p.Whitelist,
	}
}

func (e *Engine) Configure(p ocr.Profile) error {
	if e.client == nil {
		return errNotInitialized
	}
	if err := e.client.SetPageSegMode(gosseract.PageSegMode(p.PageSegMode)); err != nil {
		return fmt.Errorf("set psm %d: %w", p.PageSegMode, err)
	}
	for k, v := range profileVariables(p) {
		if err := e.client.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return fmt.Errorf("set %s: %w", k, err)
		}
	}
	return nil
}

// Recognize encodes img as PNG and returns the recognized text.
func (e *Engine) Recognize(ctx context.Context, img image.Image) (string, error) {
	if e.client == nil {
		return "", errNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}
	if err := e.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := e.client.Text()
	if err != nil {
		return "", err
	}
	return text, nil
}

func (e *Engine) Close() error {
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}

// StartPool creates n tesseract engines and loads languages into each of them.
func StartPool(ctx context.Context, n int, languages string, log *zap.Logger) (*ocr.Pool, error) {
	pool := ocr.NewPool(n, Factory, ocr.WithLogger(log))
	if err := pool.Init(ctx, languages); err != nil {
		return nil, err
	}
	log.Debug("tesseract", zap.String("version", Version()))
	return pool, nil
}
