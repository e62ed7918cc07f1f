// Command rmwm removes a watermark or overlaid text from a video by
// inpainting every frame and re-encoding the result.
//
// Usage:
//
//	rmwm [-config file] [-debug] [-autodetect mode] [-radius n] [-dilate n]
//	     [-expand n] [-region x,y,w,h ...] <url-or-path>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cyber-nic/rm-watermarks-video/internal/acquire"
	"github.com/cyber-nic/rm-watermarks-video/internal/config"
	"github.com/cyber-nic/rm-watermarks-video/internal/logging"
	"github.com/cyber-nic/rm-watermarks-video/internal/mask"
	"github.com/cyber-nic/rm-watermarks-video/internal/media"
	"github.com/cyber-nic/rm-watermarks-video/internal/metrics"
	"github.com/cyber-nic/rm-watermarks-video/internal/pipeline"
)

const defaultConfigFile = "local.env.yaml"

// regionList collects repeated -region x,y,w,h flags.
type regionList []mask.Rect

func (r *regionList) String() string {
	parts := make([]string, len(*r))
	for i, v := range *r {
		parts[i] = fmt.Sprintf("%d,%d,%d,%d", v.X, v.Y, v.W, v.H)
	}
	return strings.Join(parts, " ")
}

func (r *regionList) Set(s string) error {
	rect, err := parseRegion(s)
	if err != nil {
		return err
	}
	*r = append(*r, rect)
	return nil
}

func parseRegion(s string) (mask.Rect, error) {
	fields := strings.Split(s, ",")
	if len(fields) != 4 {
		return mask.Rect{}, fmt.Errorf("region %q: want x,y,w,h", s)
	}
	var v [4]int
	for i, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return mask.Rect{}, fmt.Errorf("region %q: %w", s, err)
		}
		v[i] = n
	}
	return mask.Rect{X: v[0], Y: v[1], W: v[2], H: v[3]}, nil
}

type options struct {
	cfg config.AppConfig
	src string
}

// parseArgs reads flags and the config file; flags override the file.
func parseArgs(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("rmwm", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configFilename := fs.String("config", defaultConfigFile, "config file")
	srcPath := fs.String("src", "", "source video path or URL")
	debugFlag := fs.Bool("debug", false, "debug logging level, keep work dir and write mask artifacts")
	autodetect := fs.String("autodetect", "", "detection mode: top-left, top-right, bottom-left, bottom-right, full-text or none")
	radius := fs.Int("radius", 0, "inpainting radius (1-16)")
	dilate := fs.Int("dilate", 0, "mask dilation in pixels (>=2)")
	expand := fs.Int("expand", -1, "extra expansion of detected regions in pixels")
	var regions regionList
	fs.Var(&regions, "region", "extra region x,y,w,h; repeatable")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	cfg, err := config.Load(*configFilename, !explicit["config"])
	if err != nil {
		return options{}, err
	}

	if *debugFlag {
		cfg.Debug = true
	}
	if explicit["autodetect"] {
		cfg.Mask.Autodetect = *autodetect
	}
	if explicit["radius"] {
		cfg.Mask.InpaintRadius = *radius
	}
	if explicit["dilate"] {
		cfg.Mask.DilatePx = *dilate
	}
	if explicit["expand"] {
		cfg.Mask.ExtraExpandPx = *expand
	}
	cfg.Mask.ExtraRegions = append(cfg.Mask.ExtraRegions, regions...)
	if err := cfg.Mask.Normalize(); err != nil {
		return options{}, err
	}

	src := *srcPath
	if src == "" && fs.NArg() > 0 {
		src = fs.Arg(0)
	}
	if src == "" {
		fs.Usage()
		return options{}, errors.New("source path or URL is required")
	}
	return options{cfg: cfg, src: src}, nil
}

func run(ctx context.Context, opts options, stderr io.Writer) error {
	cfg := opts.cfg

	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr)
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	ff := media.NewFFmpeg(cfg.FFmpeg, cfg.FFprobe)
	if err := ff.Check(); err != nil {
		return err
	}

	store, err := acquire.NewCacheStore(cfg.CacheDir)
	if err != nil {
		return err
	}
	fetchers := map[string]acquire.Fetcher{}
	if cfg.S3.Endpoint != "" {
		s3, err := acquire.NewS3Fetcher(cfg.S3)
		if err != nil {
			return err
		}
		fetchers["s3"] = s3
	}
	acq, err := acquire.New(acquire.Options{Store: store, Fetchers: fetchers})
	if err != nil {
		return err
	}

	var progress io.Writer
	if cfg.Progress {
		progress = stderr
	}

	p, err := pipeline.New(pipeline.Options{
		Acquirer:    acq,
		Media:       ff,
		Renderer:    mask.DefaultRenderers(ff.FFmpegPath(), os.TempDir()),
		Mask:        cfg.Mask,
		WorkDir:     cfg.WorkDir,
		OutputDir:   cfg.OutputDir,
		Workers:     cfg.Workers,
		KeepWorkDir: cfg.KeepWorkDir,
		Debug:       cfg.Debug,
		Progress:    progress,
	})
	if err != nil {
		return err
	}

	res, err := p.Run(ctx, opts.src)
	if err != nil {
		return err
	}
	fmt.Println(res.Output)
	return nil
}

func main() {
	opts, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "rmwm:", err)
		os.Exit(2)
	}

	logging.Configure(logging.Config{
		Debug: opts.cfg.Debug,
		Info:  opts.cfg.Info,
		Human: opts.cfg.Human,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := run(ctx, opts, os.Stderr); err != nil {
		log.Error().Err(err).Msg(opts.src)
		fmt.Fprintln(os.Stderr, "rmwm:", err)
		stop()
		os.Exit(1)
	}
	log.Debug().Int64("duration(ms)", time.Since(start).Milliseconds()).Msg("done")
}
