// Package config holds the runtime configuration of the detection server.
// Values come from defaults, an optional YAML file, and command-line flags,
// in that order of precedence (lowest first).
package config

import (
	"math"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Config is the full server configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Detector DetectorConfig `yaml:"detector"`
	Results  ResultsConfig  `yaml:"results"`
	Imaging  ImagingConfig  `yaml:"imaging"`
	Preview  PreviewConfig  `yaml:"preview"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the detection protocol listener
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	MaxFrameSize uint32        `yaml:"max_frame_size"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // 0 disables
	WriteTimeout time.Duration `yaml:"write_timeout"` // 0 disables
}

// Addr returns host:port for net.Listen
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// FailurePolicy decides what an inference error does to the session
type FailurePolicy string

const (
	// PolicySkip degrades a failed inference to an empty batch
	PolicySkip FailurePolicy = "skip"
	// PolicyFatal terminates the session on any inference error
	PolicyFatal FailurePolicy = "fatal"
)

// DetectorConfig selects and tunes the detection backend
type DetectorConfig struct {
	Backend       string        `yaml:"backend"` // simple, remote, dnn
	MinConfidence float64       `yaml:"min_confidence"`
	Classes       []string      `yaml:"classes"` // allow-list; empty keeps all
	MinArea       float64       `yaml:"min_area"`
	FailurePolicy FailurePolicy `yaml:"failure_policy"`
	Simple        SimpleConfig  `yaml:"simple"`
	Remote        RemoteConfig  `yaml:"remote"`
	DNN           DNNConfig     `yaml:"dnn"`
}

// SimpleConfig tunes the luminance blob detector
type SimpleConfig struct {
	Threshold float64 `yaml:"threshold"` // 0-255
	Mode      string  `yaml:"mode"`      // dark or bright
	ClassName string  `yaml:"class_name"`
	MinPixels int     `yaml:"min_pixels"`
}

// RemoteConfig points at an HTTP inference service
type RemoteConfig struct {
	URL         string        `yaml:"url"`
	Timeout     time.Duration `yaml:"timeout"`
	JPEGQuality int           `yaml:"jpeg_quality"`
}

// DNNConfig describes an OpenCV DNN model (SSD-style output)
type DNNConfig struct {
	Model     string    `yaml:"model"`
	Config    string    `yaml:"config"`
	Labels    string    `yaml:"labels"` // one label per line, line index = class id
	InputSize int       `yaml:"input_size"`
	Scale     float64   `yaml:"scale"`
	Mean      []float64 `yaml:"mean"`
	SwapRB    bool      `yaml:"swap_rb"`
}

// ResultsConfig controls the outbound text encoding
type ResultsConfig struct {
	Precision    int `yaml:"precision"`
	BoxPrecision int `yaml:"box_precision"`
}

// ImagingConfig bounds inbound decoding and display encoding
type ImagingConfig struct {
	MaxPixels   int `yaml:"max_pixels"`
	JPEGQuality int `yaml:"jpeg_quality"`
}

// PreviewConfig configures the local preview web server
type PreviewConfig struct {
	Addr           string        `yaml:"addr"` // empty disables
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxWidth       int           `yaml:"max_width"`
	Keepalive      time.Duration `yaml:"keepalive"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables
}

// LoggingConfig configures the logger
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Color  bool   `yaml:"color"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration, listening on 0.0.0.0:9999
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         9999,
			MaxFrameSize: 16 << 20,
		},
		Detector: DetectorConfig{
			Backend:       "simple",
			MinConfidence: 0.25,
			FailurePolicy: PolicySkip,
			Simple: SimpleConfig{
				Threshold: 60,
				Mode:      "dark",
				ClassName: "object",
				MinPixels: 64,
			},
			Remote: RemoteConfig{
				Timeout:     5 * time.Second,
				JPEGQuality: 90,
			},
			DNN: DNNConfig{
				InputSize: 300,
				Scale:     1.0 / 127.5,
				Mean:      []float64{127.5, 127.5, 127.5},
				SwapRB:    true,
			},
		},
		Results: ResultsConfig{
			Precision:    2,
			BoxPrecision: 1,
		},
		Imaging: ImagingConfig{
			MaxPixels:   40_000_000,
			JPEGQuality: 80,
		},
		Preview: PreviewConfig{
			AllowedOrigins: []string{"*"},
			MaxWidth:       960,
			Keepalive:      5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Color:  true,
			Format: "console",
		},
	}
}

// Load reads a YAML file on top of the defaults
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// Validate checks the configuration for values the server cannot run with.
// Each problem is a separate error; use multierr.Errors to list them.
func (c *Config) Validate() error {
	var err error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		err = multierr.Append(err, errors.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.MaxFrameSize == 0 {
		err = multierr.Append(err, errors.New("server.max_frame_size is required"))
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		err = multierr.Append(err, errors.New("server timeouts must not be negative"))
	}

	switch c.Detector.Backend {
	case "simple", "dnn":
	case "remote":
		if c.Detector.Remote.URL == "" {
			err = multierr.Append(err, errors.New("detector.remote.url is required for the remote backend"))
		}
	default:
		err = multierr.Append(err, errors.Errorf("unknown detector.backend %q", c.Detector.Backend))
	}
	if c.Detector.MinConfidence < 0 || c.Detector.MinConfidence > 1 || math.IsNaN(c.Detector.MinConfidence) {
		err = multierr.Append(err, errors.New("detector.min_confidence must be within [0,1]"))
	}
	switch c.Detector.FailurePolicy {
	case PolicySkip, PolicyFatal:
	default:
		err = multierr.Append(err, errors.Errorf("unknown detector.failure_policy %q", c.Detector.FailurePolicy))
	}

	if c.Results.Precision < 0 || c.Results.Precision > 10 {
		err = multierr.Append(err, errors.New("results.precision must be within [0,10]"))
	}
	if c.Results.BoxPrecision < 0 || c.Results.BoxPrecision > 10 {
		err = multierr.Append(err, errors.New("results.box_precision must be within [0,10]"))
	}

	return err
}
