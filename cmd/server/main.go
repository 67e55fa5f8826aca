package main

import (
	"context"
	"io/fs"
	"log"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/detector"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/framing"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/imaging"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/listener"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/preview"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/results"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/internal/session"
)

// Server is the detection server with its side servers
type Server struct {
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	cfg      *config.Config
	log      *logger.Logger
	metrics  *metrics.Metrics
	detector detector.Detector
	listener *listener.Listener

	hub         *preview.Hub
	previewHTTP *http.Server
	metricsHTTP *http.Server
	pprofAddr   string

	// serveErr receives the listener's exit error
	serveErr chan error
}

func main() {
	// .env is optional; variables already set in the environment win
	envFile := os.Getenv(envPrefix + "ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("Failed to load %s: %v", envFile, err)
	}

	app := &cli.App{
		Name:   "detection-server",
		Usage:  "Serve object detection over a length-prefixed TCP protocol",
		Flags:  serverFlags(),
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	// Initialize logger
	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	format, err := logger.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return err
	}
	logger.InitWithFormat(level, os.Stderr, cfg.Logging.Color, format)
	defer logger.Sync()

	logger.Info("Main", "Detection server starting...")
	logger.Info("Main", "Log level: %s", level)

	srv, err := NewServer(cfg, logger.Default(), c.String("pprof"))
	if err != nil {
		return errors.Wrap(err, "create server")
	}
	if err := srv.Start(); err != nil {
		_ = srv.Shutdown()
		return errors.Wrap(err, "start server")
	}

	// Wait for shutdown signal or a listener failure
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	var serveErr error
	select {
	case sig := <-sigChan:
		logger.Info("Main", "Received %s, shutting down...", sig)
	case serveErr = <-srv.serveErr:
		logger.Error("Main", "Listener stopped: %v", serveErr)
	}

	if err := srv.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
		serveErr = multierr.Append(serveErr, err)
	}

	logger.Info("Main", "Server stopped")
	return serveErr
}

// NewServer builds every component from cfg without opening any socket
func NewServer(cfg *config.Config, log *logger.Logger, pprofAddr string) (*Server, error) {
	det, err := detector.New(cfg.Detector)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s detector", cfg.Detector.Backend)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := metrics.New()
	transport := imaging.NewTransport(cfg.Imaging.MaxPixels, cfg.Imaging.JPEGQuality)
	encoder := results.NewEncoder(cfg.Results.Precision, cfg.Results.BoxPrecision)

	srv := &Server{
		ctx:       ctx,
		cancel:    cancel,
		cfg:       cfg,
		log:       log,
		metrics:   m,
		detector:  det,
		pprofAddr: pprofAddr,
		serveErr:  make(chan error, 1),
	}

	opts := session.Options{
		Codec:        framing.NewCodec(cfg.Server.MaxFrameSize),
		Transport:    transport,
		Guard:        detector.NewGuard(det, cfg.Detector.FailurePolicy, detector.NewPostprocessor(cfg.Detector), log),
		Encoder:      encoder,
		Metrics:      m,
		Logger:       log,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Preview.Addr != "" {
		srv.hub = preview.NewHub(preview.HubOptions{
			Transport: transport,
			Encoder:   encoder,
			MaxWidth:  cfg.Preview.MaxWidth,
			Metrics:   m,
			Logger:    log,
		})
		ps, err := preview.NewServer(cfg.Preview, srv.hub, m, log)
		if err != nil {
			cancel()
			_ = det.Close()
			return nil, errors.Wrap(err, "create preview server")
		}
		srv.previewHTTP = ps.NewHTTPServer()
		opts.Observer = srv.hub
	}

	if cfg.Metrics.Addr != "" {
		srv.metricsHTTP = m.NewServer(cfg.Metrics.Addr)
	}

	srv.listener, err = listener.Listen(cfg.Server.Addr(), opts)
	if err != nil {
		cancel()
		_ = det.Close()
		return nil, err
	}
	return srv, nil
}

// Start starts all server components
func (s *Server) Start() error {
	s.log.Info("Main", "Starting detection server...")
	s.log.Info("Main", "  Listen: %s", s.listener.Addr())
	s.log.Info("Main", "  Detector: %s (policy %s)", s.detector.Name(), s.cfg.Detector.FailurePolicy)
	s.log.Info("Main", "  Max frame size: %d bytes", s.cfg.Server.MaxFrameSize)

	if s.pprofAddr != "" {
		go func() {
			s.log.Info("Main", "Starting pprof server on %s", s.pprofAddr)
			if err := http.ListenAndServe(s.pprofAddr, nil); err != nil {
				s.log.Warn("Main", "pprof server error: %v", err)
			}
		}()
	}

	if s.metricsHTTP != nil {
		s.startHTTP("metrics", s.metricsHTTP)
	}

	if s.hub != nil {
		s.hub.Start()
		s.startHTTP("preview", s.previewHTTP)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.listener.Serve(s.ctx); err != nil {
			s.serveErr <- err
		}
	}()

	s.log.Info("Main", "Server started successfully")
	return nil
}

func (s *Server) startHTTP(name string, hs *http.Server) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("Main", "Starting %s server on %s", name, hs.Addr)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Main", "%s server error: %v", name, err)
		}
	}()
}

// Shutdown stops accepting, ends the active session and closes side servers
func (s *Server) Shutdown() error {
	// Cancel context to stop the listener and the active session
	s.cancel()

	var err error
	err = multierr.Append(err, s.listener.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Stop the hub first so streaming handlers see their channels close
	if s.hub != nil {
		s.hub.Close()
		err = multierr.Append(err, s.previewHTTP.Shutdown(ctx))
	}
	if s.metricsHTTP != nil {
		err = multierr.Append(err, s.metricsHTTP.Shutdown(ctx))
	}

	s.wg.Wait()
	err = multierr.Append(err, s.detector.Close())
	return err
}
