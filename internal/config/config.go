package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/cyber-nic/rm-watermarks-video/internal/acquire"
	"github.com/cyber-nic/rm-watermarks-video/internal/inpaint"
	"github.com/cyber-nic/rm-watermarks-video/internal/mask"
)

const (
	DefaultInpaintRadius = 3
	DefaultDilatePx      = 4
	DefaultExtraExpandPx = 6
	MinDilatePx          = 2
)

// MaskOptions are the detection parameters of a run.
type MaskOptions struct {
	Autodetect    string         `yaml:"autodetect"`
	InpaintRadius int            `yaml:"inpaint_radius"`
	DilatePx      int            `yaml:"dilate_px"`
	ExtraExpandPx int            `yaml:"extra_expand_px"`
	ExtraRegions  []mask.Rect    `yaml:"extra_regions"`
	Geometry      *mask.Geometry `yaml:"geometry"`
}

// AppConfig is the YAML configuration file.
type AppConfig struct {
	Debug bool `yaml:"debug"`
	Info  bool `yaml:"info"`
	Human bool `yaml:"human"`

	CacheDir    string `yaml:"cache_dir"`
	WorkDir     string `yaml:"work_dir"`
	OutputDir   string `yaml:"output_dir"`
	KeepWorkDir bool   `yaml:"keep_workdir"`

	FFmpeg  string `yaml:"ffmpeg"`
	FFprobe string `yaml:"ffprobe"`
	Workers int    `yaml:"workers"`

	Progress    bool   `yaml:"progress"`
	MetricsAddr string `yaml:"metrics_addr"`

	S3   acquire.S3Config `yaml:"s3"`
	Mask MaskOptions      `yaml:"mask"`
}

// Default returns the configuration used when no file is given.
func Default() AppConfig {
	return AppConfig{
		Info:      true,
		Human:     true,
		CacheDir:  "input",
		WorkDir:   filepath.Join(os.TempDir(), "rmwm"),
		OutputDir: "output",
		Workers:   runtime.NumCPU(),
		Progress:  true,
		Mask: MaskOptions{
			InpaintRadius: DefaultInpaintRadius,
			DilatePx:      DefaultDilatePx,
			ExtraExpandPx: DefaultExtraExpandPx,
		},
	}
}

// Load reads a YAML file over the defaults. When optional is set a missing
// file yields the defaults.
func Load(path string, optional bool) (AppConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return cfg, cfg.Validate()
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate normalizes the mask options and checks paths.
func (c *AppConfig) Validate() error {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.CacheDir == "" || c.WorkDir == "" || c.OutputDir == "" {
		return errors.New("cache_dir, work_dir and output_dir are required")
	}
	return c.Mask.Normalize()
}

// Normalize clamps the numeric options into range and validates the mode and
// regions.
func (m *MaskOptions) Normalize() error {
	if _, err := mask.ParseMode(m.Autodetect); err != nil {
		return err
	}
	m.InpaintRadius = inpaint.ClampRadius(m.InpaintRadius)
	m.DilatePx = max(m.DilatePx, MinDilatePx)
	m.ExtraExpandPx = max(m.ExtraExpandPx, 0)

	for i, r := range m.ExtraRegions {
		if r.W <= 0 || r.H <= 0 || r.X < 0 || r.Y < 0 {
			return fmt.Errorf("extra_regions[%d]: invalid rectangle %+v", i, r)
		}
	}
	if m.Geometry != nil && m.Geometry.IsZero() {
		m.Geometry = nil
	}
	return nil
}

// Mode returns the parsed autodetect mode. Normalize must have succeeded.
func (m MaskOptions) Mode() mask.Mode {
	mode, _ := mask.ParseMode(m.Autodetect)
	return mode
}

// Params returns the detection parameters.
func (m MaskOptions) Params() mask.Params {
	return mask.Params{
		Mode:          m.Mode(),
		DilatePx:      m.DilatePx,
		ExtraExpandPx: m.ExtraExpandPx,
	}
}
