package main

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

const (
	// DefaultMatchThreshold is the minimum region score that triggers recognition.
	DefaultMatchThreshold = 0.8

	// DefaultConfidenceThreshold is the minimum recognition confidence for a detection.
	DefaultConfidenceThreshold = 0.6

	// progressInterval is how many frames pass between progress log lines.
	progressInterval = 100

	// metricsInterval is how often the metrics reporter logs.
	metricsInterval = 30 * time.Second
)

// Recognizer reads text out of a region of a frame.
type Recognizer interface {
	Recognize(frame *Frame, region *Region) (Recognition, error)
}

// Detector consumes frames from the source queue, evaluates the region
// cascade on each one and emits detections. It runs until the source signals
// the end of the stream or a fatal error occurs.
//
// Frame evaluation is synchronous: scoring and recognition of one frame
// complete before the next frame is taken from the queue. Overlap comes from
// the source goroutine reading the decoder while a frame is evaluated.
type Detector struct {
	// config holds thresholds and stream settings.
	config *Config

	// logger provides structured logging for detections and progress.
	logger *slog.Logger

	// source produces frames into queue and signals Done at end of stream.
	source *FrameSource
	queue  *FrameQueue

	// regions are evaluated in order; timestamp is only recognized.
	regions   []Region
	timestamp Region

	recognizer Recognizer
	sink       DetectionSink

	// metrics tracks stream health and performance statistics.
	metrics *StreamMetrics

	// frameCount is the number of frames evaluated by this run.
	frameCount int64
}

// NewDetector wires a detector. The region set must have been validated.
func NewDetector(config *Config, regions *RegionSet, source *FrameSource, queue *FrameQueue,
	recognizer Recognizer, sink DetectionSink, metrics *StreamMetrics, logger *slog.Logger) *Detector {
	return &Detector{
		config:     config,
		logger:     logger,
		source:     source,
		queue:      queue,
		regions:    regions.Regions,
		timestamp:  regions.Timestamp,
		recognizer: recognizer,
		sink:       sink,
		metrics:    metrics,
	}
}

// Run starts the frame source and evaluates frames until the source is done.
//
// A fatal evaluation error stops the loop, kills the decoder and is returned
// once the source has exited. Frames still queued when the source signals
// done are not evaluated.
func (d *Detector) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	sourceErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sourceErr <- d.source.Run(runCtx)
	}()

	metricsCtx, stopMetrics := context.WithCancel(runCtx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.reportMetrics(metricsCtx)
	}()

	loopErr := d.consume(runCtx, d.queue.Frames(), d.source.Done())
	stopMetrics()
	if loopErr != nil {
		// Kill the decoder; the source then sees end of stream and exits.
		cancel()
	}

	wg.Wait()

	if loopErr != nil {
		return loopErr
	}
	return <-sourceErr
}

// consume is the detector state machine: it evaluates frames until done is
// closed. Once done is observed no further frame is taken, even if the queue
// still holds some.
func (d *Detector) consume(ctx context.Context, frames <-chan Frame, done <-chan struct{}) error {
	d.logger.Info("Starting OCR loop", "regions", len(d.regions))

	for {
		select {
		case <-done:
			d.logger.Info("Stopped OCR loop", "frames_processed", d.frameCount)
			return nil
		default:
		}

		select {
		case <-done:
			d.logger.Info("Stopped OCR loop", "frames_processed", d.frameCount)
			return nil
		case frame := <-frames:
			if err := d.processFrame(ctx, &frame); err != nil {
				return err
			}
			d.frameCount++
			if d.frameCount%progressInterval == 0 {
				d.logger.Info("Processed frames", "count", d.frameCount, "queued", d.queue.Len())
			}
		}
	}
}

// processFrame runs the region cascade on one frame. Regions are tried in
// order; the first region whose score and recognition confidence both reach
// their thresholds produces the frame's only detection.
func (d *Detector) processFrame(ctx context.Context, frame *Frame) error {
	startTime := time.Now()
	defer func() {
		d.metrics.framesProcessed.Add(1)
		d.metrics.lastFrameTime.Store(time.Now().UnixNano())
		d.metrics.UpdateProcessingTime(time.Since(startTime))
	}()

	for i := range d.regions {
		region := &d.regions[i]

		score, err := Score(frame, region)
		if err != nil {
			return err
		}
		d.metrics.regionsScored.Add(1)

		if score < d.config.MatchThreshold {
			continue
		}

		rec, err := d.recognizer.Recognize(frame, region)
		if err != nil {
			return fmt.Errorf("frame %d: %w", frame.Index, err)
		}

		if rec.Confidence < d.config.Confidence {
			d.logger.Debug("Region matched but text confidence too low",
				"frame_index", frame.Index,
				"region", region.Name,
				"score", score,
				"confidence", rec.Confidence)
			continue
		}

		ts, err := d.recognizer.Recognize(frame, &d.timestamp)
		if err != nil {
			return fmt.Errorf("frame %d: %w", frame.Index, err)
		}

		d.emit(ctx, newDetection(frame, region, rec, ts))
		return nil
	}

	return nil
}

// emit logs the detection and hands it to the sink. Sink failures are
// logged and counted but do not stop the run.
func (d *Detector) emit(ctx context.Context, detection Detection) {
	d.metrics.detections.Add(1)

	d.logger.Info("Text detected in stream",
		"detection_id", detection.ID,
		"timestamp", detection.Timestamp,
		"region", detection.Region,
		"confidence", detection.Confidence,
		"frame_index", detection.FrameIndex,
	)
	if d.config.Verbose {
		d.logger.Debug("Extracted text from matched region",
			"detection_id", detection.ID,
			"extracted_text", detection.Text,
			"timestamp_confidence", detection.TimestampConfidence)
	}

	if d.sink == nil {
		return
	}
	if err := d.sink.Emit(ctx, detection); err != nil {
		d.metrics.sinkErrors.Add(1)
		d.logger.Error("Failed to emit detection",
			"detection_id", detection.ID,
			"error", err,
			"total_sink_errors", d.metrics.GetSinkErrors())
	}
}

// reportMetrics periodically logs stream health and performance metrics
// until ctx is cancelled.
func (d *Detector) reportMetrics(ctx context.Context) {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Debug("Metrics reporting stopped")
			return
		case <-ticker.C:
			lastFrameAge := d.metrics.GetLastFrameAge()
			avgProcessingTime := d.metrics.GetAvgProcessingTimeMs()
			maxBufferUtil := d.metrics.GetMaxBufferUtilization()

			d.logger.Debug("Stream metrics report",
				"frames_read", d.metrics.GetFramesRead(),
				"frames_processed", d.metrics.GetFramesProcessed(),
				"frames_dropped", d.metrics.GetFramesDropped(),
				"regions_scored", d.metrics.GetRegionsScored(),
				"ocr_calls", d.metrics.GetOCRCalls(),
				"detections", d.metrics.GetDetections(),
				"sink_errors", d.metrics.GetSinkErrors(),
				"queue_length", d.queue.Len(),
				"last_frame_age_ms", lastFrameAge.Milliseconds(),
				"avg_processing_time_ms", avgProcessingTime,
				"max_buffer_utilization_pct", maxBufferUtil,
				"goroutines", runtime.NumGoroutine(),
				"stream_url", d.config.URL)

			// Frames are expected every 1/fps; allow plenty of slack for OCR.
			if d.metrics.GetFramesProcessed() > 0 && lastFrameAge > metricsInterval {
				d.logger.Warn("Stream processing may be stalled",
					"last_frame_age", lastFrameAge)
			}

			if maxBufferUtil > 90 {
				d.logger.Warn("High buffer utilization detected",
					"max_utilization_pct", maxBufferUtil,
					"consider_lower_fps", true)
			}
		}
	}
}
