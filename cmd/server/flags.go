package main

import (
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/config"
)

const envPrefix = "DETECT_"

func env(name string) []string { return []string{envPrefix + name} }

func serverFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file", EnvVars: env("CONFIG")},

		// Protocol listener
		&cli.StringFlag{Name: "host", Usage: "Listen host", EnvVars: env("HOST")},
		&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Listen port", EnvVars: env("PORT")},
		&cli.Uint64Flag{Name: "max-frame-size", Usage: "Largest accepted frame payload in bytes", EnvVars: env("MAX_FRAME_SIZE")},
		&cli.DurationFlag{Name: "read-timeout", Usage: "Per-frame read deadline (0 disables)", EnvVars: env("READ_TIMEOUT")},
		&cli.DurationFlag{Name: "write-timeout", Usage: "Per-reply write deadline (0 disables)", EnvVars: env("WRITE_TIMEOUT")},

		// Detector
		&cli.StringFlag{Name: "backend", Usage: "Detector backend (simple, remote, dnn)", EnvVars: env("BACKEND")},
		&cli.Float64Flag{Name: "min-confidence", Usage: "Drop detections below this confidence", EnvVars: env("MIN_CONFIDENCE")},
		&cli.StringSliceFlag{Name: "class", Usage: "Keep only these classes (repeatable)", EnvVars: env("CLASSES")},
		&cli.StringFlag{Name: "failure-policy", Usage: "On inference error: skip or fatal", EnvVars: env("FAILURE_POLICY")},
		&cli.StringFlag{Name: "remote-url", Usage: "Inference endpoint for the remote backend", EnvVars: env("REMOTE_URL")},
		&cli.StringFlag{Name: "dnn-model", Usage: "Model weights for the dnn backend", EnvVars: env("DNN_MODEL")},
		&cli.StringFlag{Name: "dnn-config", Usage: "Model config for the dnn backend", EnvVars: env("DNN_CONFIG")},
		&cli.StringFlag{Name: "dnn-labels", Usage: "Label file for the dnn backend", EnvVars: env("DNN_LABELS")},

		// Side servers
		&cli.StringFlag{Name: "preview-addr", Usage: "Preview server address (empty disables)", EnvVars: env("PREVIEW_ADDR")},
		&cli.StringFlag{Name: "metrics-addr", Usage: "Metrics server address (empty disables)", EnvVars: env("METRICS_ADDR")},
		&cli.StringFlag{Name: "pprof", Usage: "pprof server address (empty disables)", EnvVars: env("PPROF_ADDR")},

		// Logging
		&cli.StringFlag{Name: "log-level", Usage: "Log level (debug, info, warn, error, silent)", EnvVars: env("LOG_LEVEL")},
		&cli.BoolFlag{Name: "log-color", Usage: "Enable colored log output", EnvVars: env("LOG_COLOR")},
		&cli.StringFlag{Name: "log-format", Usage: "Log format (console, json)", EnvVars: env("LOG_FORMAT")},
	}
}

// loadConfig layers defaults, the config file and explicitly set flags
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if c.IsSet("host") {
		cfg.Server.Host = c.String("host")
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}
	if c.IsSet("max-frame-size") {
		size := c.Uint64("max-frame-size")
		if size > 1<<32-1 {
			return nil, errors.Errorf("--max-frame-size %d does not fit the 4-byte length prefix", size)
		}
		cfg.Server.MaxFrameSize = uint32(size)
	}
	if c.IsSet("read-timeout") {
		cfg.Server.ReadTimeout = c.Duration("read-timeout")
	}
	if c.IsSet("write-timeout") {
		cfg.Server.WriteTimeout = c.Duration("write-timeout")
	}

	if c.IsSet("backend") {
		cfg.Detector.Backend = c.String("backend")
	}
	if c.IsSet("min-confidence") {
		cfg.Detector.MinConfidence = c.Float64("min-confidence")
	}
	if c.IsSet("class") {
		cfg.Detector.Classes = c.StringSlice("class")
	}
	if c.IsSet("failure-policy") {
		cfg.Detector.FailurePolicy = config.FailurePolicy(c.String("failure-policy"))
	}
	if c.IsSet("remote-url") {
		cfg.Detector.Remote.URL = c.String("remote-url")
	}
	if c.IsSet("dnn-model") {
		cfg.Detector.DNN.Model = c.String("dnn-model")
	}
	if c.IsSet("dnn-config") {
		cfg.Detector.DNN.Config = c.String("dnn-config")
	}
	if c.IsSet("dnn-labels") {
		cfg.Detector.DNN.Labels = c.String("dnn-labels")
	}

	if c.IsSet("preview-addr") {
		cfg.Preview.Addr = c.String("preview-addr")
	}
	if c.IsSet("metrics-addr") {
		cfg.Metrics.Addr = c.String("metrics-addr")
	}

	if c.IsSet("log-level") {
		cfg.Logging.Level = c.String("log-level")
	}
	if c.IsSet("log-color") {
		cfg.Logging.Color = c.Bool("log-color")
	}
	if c.IsSet("log-format") {
		cfg.Logging.Format = c.String("log-format")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}
