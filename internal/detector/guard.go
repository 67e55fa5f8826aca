package detector

import (
	"context"
	"image"
	"runtime/debug"
	"time"

	"github.com/pkg/errors"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/pkg/types"
)

// Outcome describes what happened to one inference call
type Outcome struct {
	Batch    types.Batch
	Duration time.Duration
	Err      error // non-nil when the inference failed, even if skipped
	Skipped  bool  // failure degraded to an empty batch
}

// Guard runs a Detector under the failure policy and postprocessing chain
type Guard struct {
	det    Detector
	policy config.FailurePolicy
	post   Postprocessor
	log    *logger.Logger
}

// NewGuard wraps det. A nil post keeps the detector output as is.
func NewGuard(det Detector, policy config.FailurePolicy, post Postprocessor, log *logger.Logger) *Guard {
	if policy == "" {
		policy = config.PolicySkip
	}
	if post == nil {
		post = func(b types.Batch) types.Batch { return b }
	}
	if log == nil {
		log = logger.Default()
	}
	return &Guard{det: det, policy: policy, post: post, log: log}
}

// Detector returns the wrapped detector
func (g *Guard) Detector() Detector { return g.det }

// Policy returns the configured failure policy
func (g *Guard) Policy() config.FailurePolicy { return g.policy }

// Run detects objects in img for frame seq.
// The returned error is non-nil only when the session must terminate, which
// includes a failure caused by ctx being cancelled.
func (g *Guard) Run(ctx context.Context, seq uint64, img image.Image) (Outcome, error) {
	start := time.Now()
	batch, err := g.call(ctx, img)
	out := Outcome{Duration: time.Since(start)}

	if err != nil && ctx.Err() != nil {
		// Cancelled by shutdown, not a model failure
		return out, ctx.Err()
	}
	if err != nil {
		infErr := &InferenceError{Detector: g.det.Name(), Seq: seq, Err: err}
		out.Err = infErr
		if IsUnusable(err) || g.policy == config.PolicyFatal {
			return out, infErr
		}
		g.log.Warn("Detector", "Frame %d: %v (sending empty result)", seq, err)
		out.Skipped = true
		out.Batch = types.Batch{}
		return out, nil
	}

	out.Batch = g.post(batch)
	if out.Batch == nil {
		out.Batch = types.Batch{}
	}
	return out, nil
}

func (g *Guard) call(ctx context.Context, img image.Image) (batch types.Batch, err error) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("Detector", "panic in %s: %v\n%s", g.det.Name(), r, debug.Stack())
			err = errors.Errorf("detector panic: %v", r)
		}
	}()
	return g.det.Detect(ctx, img)
}
