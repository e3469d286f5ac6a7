package tone

import (
	"context"
	"errors"
)

// ErrNoInputDevice is returned by an Input that has no usable capture device.
var ErrNoInputDevice = errors.New("no audio input device")

// Format describes the capture stream the detector asks for. Capture is always mono.
type Format struct {
	SampleRate int
	BlockSize  int
}

// Input opens capture streams. The detector owns the returned stream for one cycle.
type Input interface {
	Open(f Format) (Stream, error)
}

// Stream delivers fixed-size blocks of samples in [-1, 1].
type Stream interface {
	// Run calls fn for every captured block until ctx ends, fn returns false,
	// or the device faults. The block is only valid during the call.
	Run(ctx context.Context, fn func(block []float32) bool) error
	Close() error
}
