// Package main implements a Region Text Detector CLI application that watches
// a video stream for on-screen elements (dialogue boxes, banners, ...) and
// reads their text with OCR.
//
// Frames are decoded by an ffmpeg process, scored against a configured list
// of screen regions, and regions that match are passed to Tesseract. Each
// confident match is emitted together with the text of a timestamp region.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

// Config holds the application configuration parsed from command-line flags.
type Config struct {
	RegionFile string
	URL        string
	RealTime   bool
	FPS        int
	Width      int
	Height     int

	Languages      []string
	TessdataPrefix string
	DPI            int
	TesseractMajor string

	MatchThreshold float64
	Confidence     float64

	Output       string
	RedisAddr    string
	RedisChannel string

	FFmpegPath string
	DebugDir   string
	LogFormat  string
	Verbose    bool
}

// envOr returns the environment variable key, or fallback when unset.
func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// loadEnvFile loads defaults from a .env file. A missing file is not an error.
func loadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// parseFlags parses command-line arguments and returns the application configuration.
func parseFlags() (*Config, error) {
	// Create a new FlagSet to avoid global flag conflicts in tests
	fs := flag.NewFlagSet("rtd", flag.ContinueOnError)

	var (
		regionFile     = fs.String("config", "", "YAML region layout file (required)")
		url            = fs.String("url", "", "Video source passed to ffmpeg (required)")
		realTime       = fs.Bool("real-time", false, "Pace decoding to wall-clock time (live sources)")
		fps            = fs.Int("fps", 60, "Frames per second sampled from the source")
		width          = fs.Int("width", 1280, "Frame width in pixels")
		height         = fs.Int("height", 720, "Frame height in pixels")
		lang           = fs.String("lang", "eng", "Tesseract language codes (+ or comma separated)")
		tessdata       = fs.String("tessdata", envOr("STD_TESSDATA", ""), "Tesseract tessdata directory")
		dpi            = fs.Int("dpi", 90, "Input resolution hint passed to Tesseract")
		tesseractMajor = fs.String("tesseract-major", "5", "Required Tesseract major version")
		matchThreshold = fs.Float64("match-threshold", DefaultMatchThreshold, "Minimum region score that triggers OCR")
		confidence     = fs.Float64("confidence", DefaultConfidenceThreshold, "Minimum OCR confidence to emit a detection")
		output         = fs.String("output", FormatText, "Detection output on stdout: text or json")
		redisAddr      = fs.String("redis-addr", envOr("STD_REDIS_ADDR", ""), "Also publish detections to this Redis server")
		redisChannel   = fs.String("redis-channel", "detections", "Redis pub/sub channel for detections")
		ffmpegPath     = fs.String("ffmpeg", envOr("STD_FFMPEG", "ffmpeg"), "ffmpeg binary")
		debugDir       = fs.String("debug-dir", "", "Write every image sent to OCR into this directory")
		logfmt         = fs.String("logfmt", "json", "Log format: json or kv")
		verbose        = fs.Bool("verbose", false, "Enable debug logging")
	)

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, err
	}

	if *regionFile == "" {
		return nil, fmt.Errorf("config flag is required")
	}

	if *url == "" {
		return nil, fmt.Errorf("url flag is required")
	}

	if *logfmt != "json" && *logfmt != "kv" {
		return nil, fmt.Errorf("logfmt must be 'json' or 'kv'")
	}

	if *output != FormatText && *output != FormatJSON {
		return nil, fmt.Errorf("output must be 'text' or 'json'")
	}

	if *width <= 0 || *height <= 0 {
		return nil, fmt.Errorf("width and height must be positive")
	}

	if *fps <= 0 {
		return nil, fmt.Errorf("fps must be positive")
	}

	if *matchThreshold < 0.0 || *matchThreshold > 1.0 {
		return nil, fmt.Errorf("match-threshold must be between 0.0 and 1.0")
	}

	if *confidence < 0.0 || *confidence > 1.0 {
		return nil, fmt.Errorf("confidence must be between 0.0 and 1.0")
	}

	languages := strings.FieldsFunc(*lang, func(r rune) bool { return r == '+' || r == ',' })
	for i, l := range languages {
		languages[i] = strings.TrimSpace(l)
	}
	if len(languages) == 0 {
		return nil, fmt.Errorf("lang flag must name at least one language")
	}

	return &Config{
		RegionFile:     *regionFile,
		URL:            *url,
		RealTime:       *realTime,
		FPS:            *fps,
		Width:          *width,
		Height:         *height,
		Languages:      languages,
		TessdataPrefix: *tessdata,
		DPI:            *dpi,
		TesseractMajor: *tesseractMajor,
		MatchThreshold: *matchThreshold,
		Confidence:     *confidence,
		Output:         *output,
		RedisAddr:      *redisAddr,
		RedisChannel:   *redisChannel,
		FFmpegPath:     *ffmpegPath,
		DebugDir:       *debugDir,
		LogFormat:      *logfmt,
		Verbose:        *verbose,
	}, nil
}

// setupLogger configures structured logging based on the specified format.
// Logs go to stderr; stdout carries detections.
func setupLogger(format string, verbose bool) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if verbose {
		opts.Level = slog.LevelDebug
	}

	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "kv":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

// buildSink assembles the stdout sink and, when configured, the Redis sink.
func buildSink(ctx context.Context, config *Config) (DetectionSink, func() error, error) {
	stdout, err := NewWriterSink(os.Stdout, config.Output)
	if err != nil {
		return nil, nil, err
	}
	if config.RedisAddr == "" {
		return stdout, func() error { return nil }, nil
	}

	client := redis.NewClient(&redis.Options{Addr: config.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", config.RedisAddr, err)
	}
	return multiSink{stdout, NewRedisSink(client, config.RedisChannel)}, client.Close, nil
}

func run(ctx context.Context, config *Config, logger *slog.Logger) error {
	regions, err := LoadRegionFile(config.RegionFile, config.Width, config.Height)
	if err != nil {
		return err
	}
	logger.Info("Loaded regions", "count", len(regions.Regions), "timestamp_region", regions.Timestamp.Box.String())

	metrics := &StreamMetrics{}

	engine, err := NewTesseractEngine(TesseractConfig{
		Languages:      config.Languages,
		TessdataPrefix: config.TessdataPrefix,
		DPI:            config.DPI,
	})
	if err != nil {
		return fmt.Errorf("failed to create OCR engine: %w", err)
	}

	gateway, err := NewOCRGateway(engine, config.TesseractMajor, metrics, logger)
	if err != nil {
		engine.Close()
		return err
	}
	defer gateway.Close()

	if config.DebugDir != "" {
		if err := os.MkdirAll(config.DebugDir, 0o755); err != nil {
			return fmt.Errorf("failed to create debug directory: %w", err)
		}
		gateway.SetDebugDir(config.DebugDir)
	}

	sink, closeSink, err := buildSink(ctx, config)
	if err != nil {
		return err
	}
	defer closeSink()

	queue := NewFrameQueue(DefaultQueueCapacity)
	source := NewFrameSource(SourceConfig{
		URL:        config.URL,
		Width:      config.Width,
		Height:     config.Height,
		RealTime:   config.RealTime,
		FPS:        config.FPS,
		FFmpegPath: config.FFmpegPath,
	}, queue, metrics, logger)

	detector := NewDetector(config, regions, source, queue, gateway, sink, metrics, logger)
	return detector.Run(ctx)
}

func main() {
	if err := loadEnvFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading environment: %v\n", err)
		os.Exit(1)
	}

	config, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(config.LogFormat, config.Verbose).With("run_id", uuid.NewString())
	slog.SetDefault(logger)

	logger.Info("Starting Region Text Detector",
		"url", config.URL,
		"config", config.RegionFile,
		"real_time", config.RealTime,
		"fps", config.FPS,
		"frame_size", fmt.Sprintf("%dx%d", config.Width, config.Height),
		"languages", config.Languages,
		"match_threshold", config.MatchThreshold,
		"confidence", config.Confidence,
		"output", config.Output,
		"log_format", config.LogFormat,
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Received shutdown signal, stopping...")
		cancel()
	}()

	if err := run(ctx, config, logger); err != nil {
		logger.Error("Detector failed", "error", err)
		os.Exit(1)
	}

	logger.Info("Region Text Detector stopped")
}
