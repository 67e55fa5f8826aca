package detector

import (
	"github.com/pkg/errors"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/config"
)

// New creates the configured backend
func New(cfg config.DetectorConfig) (Detector, error) {
	switch cfg.Backend {
	case "", "simple":
		return NewSimpleDetector(cfg.Simple), nil
	case "remote":
		return NewRemoteDetector(cfg.Remote)
	case "dnn":
		return NewDNNDetector(cfg.DNN)
	default:
		return nil, errors.Errorf("unknown detector backend %q", cfg.Backend)
	}
}

// NewPostprocessor builds the filter chain from config
func NewPostprocessor(cfg config.DetectorConfig) Postprocessor {
	return Chain(
		Normalize(),
		NewScoreFilter(cfg.MinConfidence),
		NewClassFilter(cfg.Classes),
		NewAreaFilter(cfg.MinArea),
	)
}
