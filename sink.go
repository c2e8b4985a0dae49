package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Detection is emitted once per frame in which a region matched and its text
// was recognized with enough confidence.
type Detection struct {
	ID                  string    `json:"id"`
	Timestamp           string    `json:"timestamp"`
	TimestampConfidence float64   `json:"timestamp_confidence"`
	Region              string    `json:"region"`
	Confidence          float64   `json:"confidence"`
	Text                string    `json:"text"`
	FrameIndex          int64     `json:"frame_index"`
	DetectedAt          time.Time `json:"detected_at"`
}

func newDetection(frame *Frame, region *Region, rec, ts Recognition) Detection {
	return Detection{
		ID:                  uuid.NewString(),
		Timestamp:           ts.Text,
		TimestampConfidence: ts.Confidence,
		Region:              region.Name,
		Confidence:          rec.Confidence,
		Text:                rec.Text,
		FrameIndex:          frame.Index,
		DetectedAt:          time.Now(),
	}
}

// DetectionSink delivers detections to an output.
type DetectionSink interface {
	Emit(ctx context.Context, d Detection) error
}

// Output formats for writer sinks.
const (
	FormatText = "text"
	FormatJSON = "json"
)

type writerSink struct {
	mu     sync.Mutex
	w      io.Writer
	format string
}

// NewWriterSink writes one line per detection to w in the given format.
func NewWriterSink(w io.Writer, format string) (DetectionSink, error) {
	if format != FormatText && format != FormatJSON {
		return nil, fmt.Errorf("unknown output format %q", format)
	}
	return &writerSink{w: w, format: format}, nil
}

func (s *writerSink) Emit(_ context.Context, d Detection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.format == FormatJSON {
		return json.NewEncoder(s.w).Encode(d)
	}
	_, err := fmt.Fprintf(s.w, "%s %s %v %s\n", d.Timestamp, d.Region, d.Confidence, d.Text)
	return err
}

type redisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink publishes each detection as JSON on a Redis pub/sub channel.
func NewRedisSink(client *redis.Client, channel string) DetectionSink {
	return &redisSink{client: client, channel: channel}
}

func (s *redisSink) Emit(ctx context.Context, d Detection) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to encode detection: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish detection to %s: %w", s.channel, err)
	}
	return nil
}

// multiSink emits to every sink and joins their errors.
type multiSink []DetectionSink

func (m multiSink) Emit(ctx context.Context, d Detection) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Emit(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
