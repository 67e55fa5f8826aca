// Command frame_sender streams image files to a detection server and prints
// the detections returned for each frame.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/pkg/client"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/detection-server/pkg/types"
)

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".webp": true, ".tif": true, ".tiff": true,
}

func main() {
	app := &cli.App{
		Name:      "frame_sender",
		Usage:     "Send image files to a detection server",
		ArgsUsage: "FILE|DIR...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Aliases: []string{"a"}, Value: "127.0.0.1:9999", Usage: "Server address", EnvVars: []string{"DETECT_SERVER_ADDR"}},
			&cli.IntFlag{Name: "repeat", Aliases: []string{"n"}, Value: 1, Usage: "Send the file list this many times (0 loops forever)"},
			&cli.Float64Flag{Name: "fps", Usage: "Frames per second (0 sends as fast as replies arrive)"},
			&cli.DurationFlag{Name: "timeout", Value: 10 * time.Second, Usage: "Per-frame round trip timeout"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Only print the final summary"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("no input files", 2)
	}
	files, err := collectImages(c.Args().Slice())
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return cli.Exit("no image files found", 2)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cl, err := client.Dial(ctx, c.String("addr"), client.Options{DialTimeout: 5 * time.Second})
	if err != nil {
		return err
	}
	defer cl.Close()

	s := &sender{
		client:  cl,
		out:     os.Stdout,
		timeout: c.Duration("timeout"),
		quiet:   c.Bool("quiet"),
		totals:  make(map[string]int),
	}
	if fps := c.Float64("fps"); fps > 0 {
		s.interval = time.Duration(float64(time.Second) / fps)
	}

	err = s.send(ctx, files, c.Int("repeat"))
	s.summary()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// collectImages expands directories (non-recursive) into sorted image paths
func collectImages(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, errors.Wrap(err, "input")
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, errors.Wrapf(err, "read dir %s", arg)
		}
		var found []string
		for _, e := range entries {
			if !e.IsDir() && imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
				found = append(found, filepath.Join(arg, e.Name()))
			}
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}

type detectClient interface {
	Detect(ctx context.Context, image []byte) (types.Batch, error)
}

type sender struct {
	client   detectClient
	out      io.Writer
	timeout  time.Duration
	interval time.Duration
	quiet    bool

	frames int
	totals map[string]int
	took   time.Duration
}

func (s *sender) send(ctx context.Context, files []string, repeat int) error {
	payloads := make([][]byte, len(files))
	for i, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return errors.Wrapf(err, "read %s", f)
		}
		payloads[i] = data
	}

	var ticker *time.Ticker
	if s.interval > 0 {
		ticker = time.NewTicker(s.interval)
		defer ticker.Stop()
	}

	for round := 0; repeat <= 0 || round < repeat; round++ {
		for i, data := range payloads {
			if ticker != nil && s.frames > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}
			}
			if err := s.sendOne(ctx, files[i], data); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *sender) sendOne(ctx context.Context, name string, data []byte) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	batch, err := s.client.Detect(ctx, data)
	if err != nil {
		return errors.Wrapf(err, "frame %d (%s)", s.frames+1, name)
	}
	elapsed := time.Since(start)
	s.frames++
	s.took += elapsed

	for class, n := range batch.CountByClass() {
		s.totals[class] += n
	}
	if s.quiet {
		return nil
	}

	fmt.Fprintf(s.out, "#%d %s: %d detections in %s\n", s.frames, filepath.Base(name), batch.Len(), elapsed.Round(time.Millisecond))
	for _, d := range batch {
		fmt.Fprintf(s.out, "    %-16s %.2f  [%.1f %.1f %.1f %.1f]\n",
			d.ClassName, d.Confidence, d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2)
	}
	for _, cc := range batch.SortedCounts() {
		fmt.Fprintf(s.out, "    %s: %d\n", cc.ClassName, cc.Count)
	}
	return nil
}

func (s *sender) summary() {
	if s.frames == 0 {
		fmt.Fprintln(s.out, "No frames answered")
		return
	}
	fmt.Fprintf(s.out, "Frames: %d, mean round trip: %s\n", s.frames, (s.took / time.Duration(s.frames)).Round(time.Microsecond))

	for _, cc := range types.SortCounts(s.totals) {
		fmt.Fprintf(s.out, "  %s: %d\n", cc.ClassName, cc.Count)
	}
}
