//go:build !gocv

package detector

import (
	"github.com/pkg/errors"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/config"
)

// NewDNNDetector is unavailable without OpenCV; build with -tags gocv
func NewDNNDetector(cfg config.DNNConfig) (Detector, error) {
	return nil, errors.New("dnn backend requires building with -tags gocv")
}
