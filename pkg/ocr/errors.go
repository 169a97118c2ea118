package ocr

import "errors"

// ErrNoAmount is returned when no line of the recognized text yields a SUMA amount.
var ErrNoAmount = errors.New("no amount detected")

// ErrRecognition wraps engine failures surfaced by the pool.
var ErrRecognition = errors.New("recognition failed")

// ErrPoolClosed is returned by Submit after Shutdown.
var ErrPoolClosed = errors.New("recognition pool closed")
