package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// dropWarnInterval limits how often a full queue is reported.
const dropWarnInterval = 60 * time.Second

// SourceConfig describes the decoder invocation.
type SourceConfig struct {
	// URL is anything ffmpeg accepts as an input (file, RTMP, HLS, ...).
	URL string

	// Width and Height are the output frame size requested from ffmpeg.
	Width  int
	Height int

	// RealTime asks ffmpeg to read the input at its native rate (-re).
	RealTime bool

	// FPS is the output sampling rate.
	FPS int

	// FFmpegPath is the decoder binary, "ffmpeg" when empty.
	FFmpegPath string
}

// decoderStream is the byte stream of a running decoder.
type decoderStream interface {
	io.Reader
	// Wait blocks until the decoder has exited.
	Wait() error
}

// FrameSource drives the decoder process and publishes raw frames to a queue.
type FrameSource struct {
	config  SourceConfig
	queue   *FrameQueue
	logger  *slog.Logger
	metrics *StreamMetrics

	done     chan struct{}
	doneOnce sync.Once

	// open starts the decoder. Replaced in tests.
	open func(ctx context.Context) (decoderStream, error)
	// now is the clock used for drop warning rate limiting.
	now func() time.Time

	lastDropWarn time.Time
}

// NewFrameSource creates a source publishing into queue.
func NewFrameSource(config SourceConfig, queue *FrameQueue, metrics *StreamMetrics, logger *slog.Logger) *FrameSource {
	if config.FFmpegPath == "" {
		config.FFmpegPath = "ffmpeg"
	}
	s := &FrameSource{
		config:  config,
		queue:   queue,
		logger:  logger,
		metrics: metrics,
		done:    make(chan struct{}),
		now:     time.Now,
	}
	s.open = s.startDecoder
	return s
}

// Done is closed once the decoder output is exhausted.
func (s *FrameSource) Done() <-chan struct{} {
	return s.done
}

func (s *FrameSource) signalDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Run starts the decoder, reads frames until its output ends, signals Done
// and waits for the process to exit. Cancelling ctx kills the decoder.
//
// The decoder's exit status is not inspected: running out of bytes is the
// only termination condition, so a crash and a clean end look the same.
// Run only returns an error when the decoder could not be started.
func (s *FrameSource) Run(ctx context.Context) error {
	s.logger.Info("Starting ffmpeg", "url", s.config.URL, "real_time", s.config.RealTime, "fps", s.config.FPS)

	stream, err := s.open(ctx)
	if err != nil {
		s.signalDone()
		return fmt.Errorf("failed to start decoder: %w", err)
	}

	s.pump(stream)

	s.logger.Info("Waiting for ffmpeg to exit")
	s.signalDone()

	if err := stream.Wait(); err != nil {
		s.logger.Debug("ffmpeg exit status", "error", err)
	}
	s.logger.Info("ffmpeg exited", "frames_read", s.metrics.GetFramesRead(), "frames_dropped", s.metrics.GetFramesDropped())
	return nil
}

// pump reads whole frames from r and offers them to the queue until r is exhausted.
func (s *FrameSource) pump(r io.Reader) {
	frameSize := FrameSize(s.config.Width, s.config.Height)
	var index int64

	for {
		buf := make([]byte, frameSize)
		if _, err := io.ReadFull(r, buf); err != nil {
			switch {
			case errors.Is(err, io.EOF):
				s.logger.Debug("Decoder output ended")
			case errors.Is(err, io.ErrUnexpectedEOF):
				s.logger.Debug("Decoder output ended with a partial frame")
			default:
				s.logger.Warn("Decoder output read failed", "error", err)
			}
			return
		}

		index++
		frame := Frame{
			Data:      buf,
			Width:     s.config.Width,
			Height:    s.config.Height,
			Index:     index,
			Timestamp: s.now(),
		}
		s.metrics.framesRead.Add(1)

		if !s.queue.TryPut(frame) {
			s.metrics.framesDropped.Add(1)
			s.warnDropped(index)
		}
		s.metrics.UpdateBufferUtilization(s.queue.utilization())
	}
}

// warnDropped logs a full queue at most once per dropWarnInterval.
func (s *FrameSource) warnDropped(index int64) {
	now := s.now()
	if !s.lastDropWarn.IsZero() && now.Sub(s.lastDropWarn) <= dropWarnInterval {
		return
	}
	s.lastDropWarn = now
	s.logger.Warn("Queue full. You may need to lower settings or increase CPU power.",
		"frame_index", index,
		"total_dropped", s.metrics.GetFramesDropped(),
		"queue_capacity", s.queue.Cap())
}

// ffmpegArgs builds the decoder command line for config.
func ffmpegArgs(config SourceConfig) []string {
	args := make([]string, 0, 20)
	if config.RealTime {
		args = append(args, "-re")
	}
	return append(args,
		"-i", config.URL,
		"-f", "image2pipe",
		"-pix_fmt", "rgb24",
		"-vcodec", "rawvideo",
		"-s", strconv.Itoa(config.Width)+"x"+strconv.Itoa(config.Height),
		"-r", strconv.Itoa(config.FPS),
		"-nostats",
		"-v", "error",
		"-nostdin",
		"-",
	)
}

type decoderProcess struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (p *decoderProcess) Wait() error {
	return p.cmd.Wait()
}

func (s *FrameSource) startDecoder(ctx context.Context) (decoderStream, error) {
	cmd := exec.CommandContext(ctx, s.config.FFmpegPath, ffmpegArgs(s.config)...)
	cmd.Env = append(os.Environ(), "AV_LOG_FORCE_NOCOLOR=1")
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("could not get ffmpeg stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("could not start ffmpeg: %w", err)
	}

	s.logger.Debug("ffmpeg started", "pid", cmd.Process.Pid, "args", cmd.Args[1:])
	return &decoderProcess{ReadCloser: stdout, cmd: cmd}, nil
}
