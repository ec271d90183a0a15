package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ivlev/timeline2video/internal/assets"
	"github.com/ivlev/timeline2video/internal/config"
	"github.com/ivlev/timeline2video/internal/engine"
	"github.com/ivlev/timeline2video/internal/imagegen"
	"github.com/ivlev/timeline2video/internal/logging"
	"github.com/ivlev/timeline2video/internal/system"
	"github.com/ivlev/timeline2video/internal/timeline"
	"github.com/ivlev/timeline2video/internal/video"
)

var version = "dev"

var (
	cfgFile string
	envFile string
	verbose bool
)

func main() {
	ctx := context.Background()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Ошибка")
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "timeline2video",
	Short:         "timeline2video - narrated shot timelines to frame-accurate video",
	Long:          "Resolves loosely specified shots into a gapless timeline and renders it frame by frame against the narration.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(verbose)

		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("env file %s: %w", envFile, err)
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		applyEnv(cfg)
		cfg.BuildVersion = version

		cmd.SetContext(config.WithConfig(cmd.Context(), cfg))
		return nil
	},
}

// applyEnv lets .env / the environment override endpoints and binaries
func applyEnv(cfg *config.Config) {
	if v := os.Getenv("T2V_IMAGEGEN_ENDPOINT"); v != "" {
		cfg.ImageGen.Endpoint = v
	}
	if v := os.Getenv("T2V_CHROME_PATH"); v != "" {
		cfg.ChromePath = v
	}
	if v := os.Getenv("T2V_VIDEO_ENCODER"); v != "" {
		cfg.VideoEncoder = v
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./timeline2video.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "env file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)

	planCmd.Flags().StringP("output", "o", "", "timeline path (default: output/timelines/timeline_<timestamp>.json)")
	planCmd.Flags().Bool("images", false, "generate images for <img data-prompt> placeholders")
	planCmd.Flags().Int("workers", 0, "segment workers (max 4)")

	for _, c := range []*cobra.Command{renderCmd, validateCmd} {
		c.Flags().String("audio", "", "narration audio (default: newest file in input/audio/)")
		c.Flags().String("words", "", "word timestamps for captions")
		c.Flags().String("asset-dir", "", "base dir for content references (default: timeline dir)")
		c.Flags().Bool("captions", true, "render captions")
		c.Flags().Bool("character", false, "render the lip-synced character")
		c.Flags().Bool("branding", false, "render the branding overlay")
		c.Flags().String("overlay", "", "secondary clip composited in a corner")
	}

	f := renderCmd.Flags()
	f.StringP("output", "o", "", "video path (default: output/video_<timestamp>.mp4)")
	f.Float64("duration", 0, "video duration in seconds (default: audio duration)")
	f.Int("fps", 0, "frame rate")
	f.Int("width", 0, "canvas width")
	f.Int("height", 0, "canvas height")
	f.String("preset", "", "canvas preset: 16:9, 9:16 (Shorts/TikTok), 4:5 (Instagram)")
	f.String("background", "", "canvas background color")
	f.String("surface", "", "render surface: raster or browser")
	f.Int("quality", 0, "quality (0 - auto, x264: CRF 1-51, VideoToolbox: bitrate = Q*100kbit/s)")
	f.Bool("stats", false, "print a performance report")
	f.Bool("keep-frames", false, "keep the frame directory")
	f.String("work-dir", "", "directory for frames (default: temp dir)")
	f.Bool("progress", true, "show a progress bar")
}

var planCmd = &cobra.Command{
	Use:   "plan [plan file]",
	Short: "Resolve raw shots into a timeline contract",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		if n, _ := cmd.Flags().GetInt("workers"); n > 0 {
			cfg.Workers = n
		}

		planner := engine.NewPlanner(cfg, logging.WithComponent("planner"))
		if on, _ := cmd.Flags().GetBool("images"); on || cfg.ImageGen.Enabled {
			gen := imagegen.NewPollinations(cfg.ImageGen.Endpoint)
			planner.Images = imagegen.NewFiller(gen, cfg.ImageGen, cfg.Width, cfg.Height, logging.WithComponent("imagegen"))
		}

		out, _ := cmd.Flags().GetString("output")
		path, err := planner.Run(cmd.Context(), args[0], out)
		if err != nil {
			return err
		}
		fmt.Printf("[+++] Успех! Таймлайн: %s\n", path)
		return nil
	},
}

var renderCmd = &cobra.Command{
	Use:   "render [timeline]",
	Short: "Render a timeline against its narration",
	Long:  "Render a timeline contract. Without an argument the newest timeline in output/timelines/ is used.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		logger := logging.WithComponent("engine")
		system.InitResourceLimits(logger)

		// Создаем нужные директории, если их нет
		for _, d := range []string{"input/audio", "output"} {
			os.MkdirAll(d, 0755)
		}

		opts, err := jobOptions(cmd, args, cfg)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		f := cmd.Flags()
		opts.Output, _ = f.GetString("output")
		opts.Duration, _ = f.GetFloat64("duration")
		opts.Keep, _ = f.GetBool("keep-frames")
		opts.WorkDir, _ = f.GetString("work-dir")
		opts.Progress, _ = f.GetBool("progress")

		project := engine.NewVideoProject(cfg, video.NewFFmpegMuxer(logging.WithComponent("muxer")), logger)
		res, err := project.Run(cmd.Context(), opts)
		if err != nil {
			return err
		}
		fmt.Printf("[+++] Успех! Результат: %s (%d кадров)\n", res.Output, res.Frames)
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate [timeline]",
	Short: "Check every asset a render would need",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		opts, err := jobOptions(cmd, args, cfg)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		entries, err := timeline.ReadTimeline(opts.Timeline)
		if err != nil {
			return err
		}
		assetDir := opts.AssetDir
		if assetDir == "" {
			assetDir = filepath.Dir(opts.Timeline)
		}
		if err := assets.Validate(assets.Job{Audio: opts.Audio, Entries: entries, AssetDir: assetDir, Config: cfg}); err != nil {
			return err
		}
		fmt.Printf("[+] %s: %d entries, all assets present\n", opts.Timeline, len(entries))
		return nil
	},
}

// jobOptions resolves the timeline and audio inputs and applies flag
// overrides to cfg
func jobOptions(cmd *cobra.Command, args []string, cfg *config.Config) (engine.RenderOptions, error) {
	var opts engine.RenderOptions
	f := cmd.Flags()

	if len(args) == 1 {
		opts.Timeline = args[0]
	} else {
		latest, err := timeline.FindLatestTimeline(filepath.Join("output", "timelines"))
		if err != nil {
			return opts, fmt.Errorf("%w. Run plan first or pass a timeline", err)
		}
		opts.Timeline = latest
		log.Info().Str("timeline", latest).Msg("Выбран таймлайн")
	}

	opts.Audio, _ = f.GetString("audio")
	if opts.Audio == "" {
		if latest, err := system.FindLatestAudio("input/audio"); err == nil {
			opts.Audio = latest
			log.Info().Str("audio", latest).Msg("Выбрано аудио")
		}
	}
	opts.Words, _ = f.GetString("words")
	opts.AssetDir, _ = f.GetString("asset-dir")

	if f.Changed("captions") {
		cfg.Captions.Enabled, _ = f.GetBool("captions")
	}
	if f.Changed("character") {
		cfg.Character.Enabled, _ = f.GetBool("character")
	}
	if f.Changed("branding") {
		cfg.Branding.Enabled, _ = f.GetBool("branding")
	}
	if v, _ := f.GetString("overlay"); v != "" {
		cfg.Overlay.Path = v
	}

	// Render-only overrides; validate shares the flags above.
	if f.Lookup("fps") == nil {
		return opts, nil
	}
	if v, _ := f.GetString("preset"); v != "" {
		cfg.ApplyPreset(v)
	}
	if v, _ := f.GetInt("width"); v > 0 {
		cfg.Width = v
	}
	if v, _ := f.GetInt("height"); v > 0 {
		cfg.Height = v
	}
	if v, _ := f.GetInt("fps"); v > 0 {
		cfg.FPS = v
	}
	if v, _ := f.GetString("background"); v != "" {
		cfg.Background = v
	}
	if v, _ := f.GetString("surface"); v != "" {
		cfg.Surface = v
	}
	if v, _ := f.GetInt("quality"); v > 0 {
		cfg.Quality = v
	}
	if f.Changed("stats") {
		cfg.ShowStats, _ = f.GetBool("stats")
	}
	return opts, nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config management commands",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := yaml.Marshal(config.FromContext(cmd.Context()))
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "timeline2video.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("Config written")
		return nil
	},
}
