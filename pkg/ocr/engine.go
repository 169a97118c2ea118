package ocr

import (
	"context"
	"image"
)

// Page segmentation modes used by the profiles (Tesseract numbering).
const (
	PSMSingleBlock = 6
	PSMSingleLine  = 7
)

// Profile is a named set of recognition parameters.
type Profile struct {
	Name        string
	PageSegMode int
	Whitelist   string
}

var (
	// StripProfile reads the single SUMA line with a narrow charset.
	StripProfile = Profile{Name: "strip", PageSegMode: PSMSingleLine, Whitelist: "PLN0123456789,. :SUMA"}
	// FallbackProfile reads a whole receipt as a block. It is the default profile.
	FallbackProfile = Profile{Name: "fallback", PageSegMode: PSMSingleBlock, Whitelist: "SUMADOZAPLATYPLN0123456789,. :"}
)

// Engine is one recognition engine instance. An instance is not safe for concurrent
// use; the Pool guarantees one job at a time per instance.
type Engine interface {
	// Init loads the language models, e.g. "eng+pol".
	Init(languages string) error
	// Configure applies a profile to every following Recognize call.
	Configure(p Profile) error
	Recognize(ctx context.Context, img image.Image) (string, error)
	Close() error
}

// EngineFactory creates an uninitialized engine for one pool slot.
type EngineFactory func() Engine

// Recognizer is what callers of the pool depend on.
type Recognizer interface {
	Submit(ctx context.Context, img image.Image, p Profile) (string, error)
}
