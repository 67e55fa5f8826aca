// Package detector wraps object-detection backends behind a single interface
// and applies the per-frame failure policy.
package detector

import (
	"context"
	"fmt"
	"image"

	"github.com/pkg/errors"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/pkg/types"
)

// Detector finds objects in a decoded image.
// Implementations are created once and shared; Detect is never called concurrently.
type Detector interface {
	Name() string
	Detect(ctx context.Context, img image.Image) (types.Batch, error)
	Close() error
}

// DetectorFunc adapts a plain function to Detector
type DetectorFunc func(ctx context.Context, img image.Image) (types.Batch, error)

// Name implements Detector
func (f DetectorFunc) Name() string { return "func" }

// Detect implements Detector
func (f DetectorFunc) Detect(ctx context.Context, img image.Image) (types.Batch, error) {
	return f(ctx, img)
}

// Close implements Detector
func (f DetectorFunc) Close() error { return nil }

// ErrUnusable marks a detector that can never succeed again (model failed to
// load, backend gone). It terminates the session regardless of policy.
var ErrUnusable = errors.New("detector unusable")

// InferenceError is a failed detection on one frame
type InferenceError struct {
	Detector string
	Seq      uint64
	Err      error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed (detector=%s frame=%d): %v", e.Detector, e.Seq, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// IsUnusable reports whether err means the detector is permanently broken
func IsUnusable(err error) bool {
	return errors.Is(err, ErrUnusable)
}
