package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type contextKey string

const configKey contextKey = "config"

// Config holds all render and planning settings
type Config struct {
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	FPS        int    `yaml:"fps"`
	Background string `yaml:"background"`
	Preset     string `yaml:"preset"`
	Workers    int    `yaml:"workers"`
	Surface    string `yaml:"surface"` // browser | raster
	ChromePath string `yaml:"chrome_path"`
	DPI        int    `yaml:"dpi"`
	TrimPages  bool   `yaml:"trim_pages"` // crop PDF page margins to content

	VideoEncoder string `yaml:"video_encoder"`
	Quality      int    `yaml:"quality"`
	ShowStats    bool   `yaml:"show_stats"`
	BuildVersion string `yaml:"-"`

	Coverage  CoverageConfig  `yaml:"coverage"`
	Captions  CaptionConfig   `yaml:"captions"`
	Character CharacterConfig `yaml:"character"`
	Branding  BrandingConfig  `yaml:"branding"`
	ImageGen  ImageGenConfig  `yaml:"imagegen"`
	Overlay   OverlayConfig   `yaml:"overlay"`
}

// CoverageConfig tunes segment tiling
type CoverageConfig struct {
	MinShotDuration float64 `yaml:"min_shot_duration"`
	DurationFloor   float64 `yaml:"duration_floor"`
	MinGap          float64 `yaml:"min_gap"`
	Tolerance       float64 `yaml:"tolerance"`
	FillerMaxWords  int     `yaml:"filler_max_words"`
}

// CaptionConfig mirrors the caption track options
type CaptionConfig struct {
	Enabled             bool    `yaml:"enabled"`
	Font                string  `yaml:"font"`
	Size                int     `yaml:"size"`
	Color               string  `yaml:"color"`
	HighlightColor      string  `yaml:"highlight_color"`
	Weight              string  `yaml:"weight"`
	Background          string  `yaml:"background"`
	Padding             int     `yaml:"padding"`
	CornerRadius        int     `yaml:"corner_radius"`
	GapThreshold        float64 `yaml:"gap_threshold"`
	Box                 []int   `yaml:"box,flow"`
	TextAlign           string  `yaml:"text_align"`
	LineHeight          float64 `yaml:"line_height"`
	MaxLines            int     `yaml:"max_lines"`
	AllowRawMarkup      bool    `yaml:"allow_raw_markup"`
	PerWordHighlighting bool    `yaml:"per_word_highlighting"`
	MaxWordsPerLine     int     `yaml:"max_words_per_line"`
	MaxSegmentWords     int     `yaml:"max_segment_words"` // 0: split on pauses only
}

// Pose places the character image for one named pose
type Pose struct {
	Image   string  `yaml:"image"`
	AnchorX float64 `yaml:"anchor_x"`
	AnchorY float64 `yaml:"anchor_y"`
	Scale   float64 `yaml:"scale"`
	Z       int     `yaml:"z"`
}

// CharacterConfig drives the lip-sync track
type CharacterConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Poses       map[string]Pose   `yaml:"poses"`
	DefaultPose string            `yaml:"default_pose"`
	Sprites     map[string]string `yaml:"sprites"`
	Phonemes    string            `yaml:"phonemes"`
}

type BrandingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Text    string `yaml:"text"`
	URL     string `yaml:"url"` // encoded as a QR code when set
	Logo    string `yaml:"logo"`
	Box     []int  `yaml:"box,flow"`
}

type ImageGenConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Endpoint string  `yaml:"endpoint"`
	Workers  int     `yaml:"workers"`
	Timeout  float64 `yaml:"timeout"` // seconds per request
	Retries  int     `yaml:"retries"`
	Backoff  float64 `yaml:"backoff"` // seconds before the first retry
	Dir      string  `yaml:"dir"`
}

// OverlayConfig places a pre-rendered clip (e.g. an avatar) over the video
type OverlayConfig struct {
	Path   string  `yaml:"path"`
	Corner string  `yaml:"corner"` // top-left | top-right | bottom-left | bottom-right
	Scale  float64 `yaml:"scale"`  // share of canvas width
	Margin int     `yaml:"margin"`
}

// Load reads configuration from file or returns defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile()
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Width:      1280,
		Height:     720,
		FPS:        30,
		Background: "#000000",
		Workers:    4,
		Surface:    "raster",
		DPI:        150,
		Coverage: CoverageConfig{
			MinShotDuration: 0.5,
			DurationFloor:   0.25,
			MinGap:          0.05,
			Tolerance:       1e-6,
			FillerMaxWords:  12,
		},
		Captions: CaptionConfig{
			Enabled:             true,
			Font:                "Arial",
			Size:                42,
			Color:               "#FFFFFF",
			HighlightColor:      "#FFD400",
			Weight:              "700",
			Background:          "rgba(0,0,0,0.55)",
			Padding:             16,
			CornerRadius:        12,
			GapThreshold:        0.6,
			TextAlign:           "center",
			LineHeight:          1.25,
			MaxLines:            2,
			PerWordHighlighting: true,
			MaxWordsPerLine:     7,
		},
		Character: CharacterConfig{
			DefaultPose: "idle",
			Poses:       map[string]Pose{},
			Sprites:     map[string]string{},
		},
		ImageGen: ImageGenConfig{
			Endpoint: "https://image.pollinations.ai/prompt/",
			Workers:  3,
			Timeout:  60,
			Retries:  3,
			Backoff:  1,
			Dir:      "assets/generated",
		},
		Overlay: OverlayConfig{
			Corner: "bottom-right",
			Scale:  0.25,
			Margin: 24,
		},
	}
}

// ApplyPreset switches the canvas to a named aspect preset
func (c *Config) ApplyPreset(preset string) {
	switch preset {
	case "16:9":
		c.Width, c.Height = 1280, 720
	case "9:16":
		c.Width, c.Height = 720, 1280
	case "4:5":
		c.Width, c.Height = 1080, 1350
	default:
		return
	}
	c.Preset = preset
}

// Validate rejects settings no render can run with
func (c *Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid canvas %dx%d", c.Width, c.Height)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("invalid fps %d", c.FPS)
	}
	switch strings.ToLower(c.Surface) {
	case "browser", "raster":
	default:
		return fmt.Errorf("unknown surface %q", c.Surface)
	}
	if c.Coverage.MinShotDuration <= 0 || c.Coverage.DurationFloor <= 0 {
		return fmt.Errorf("coverage durations must be positive")
	}
	if c.Character.Enabled {
		if _, ok := c.Character.Sprites["closed"]; !ok {
			return fmt.Errorf("character sprites must define \"closed\"")
		}
	}
	return nil
}

func findConfigFile() string {
	candidates := []string{
		"./timeline2video.yaml",
		"./timeline2video.yml",
		filepath.Join(os.Getenv("HOME"), ".timeline2video", "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return Default()
}
