package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func testDetection() Detection {
	return Detection{
		ID:                  "0b6e2a52-9d8f-4c55-9a52-3f1f0f7f2a10",
		Timestamp:           "12:34:56",
		TimestampConfidence: 0.75,
		Region:              "dialogue",
		Confidence:          0.91,
		Text:                "Where are you going?",
		FrameIndex:          42,
		DetectedAt:          time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestWriterSink(t *testing.T) {
	tests := []struct {
		name   string
		format string
		want   string
	}{
		{
			name:   "text",
			format: FormatText,
			want:   "12:34:56 dialogue 0.91 Where are you going?\n",
		},
		{
			name:   "json",
			format: FormatJSON,
			want: `{"id":"0b6e2a52-9d8f-4c55-9a52-3f1f0f7f2a10","timestamp":"12:34:56","timestamp_confidence":0.75,` +
				`"region":"dialogue","confidence":0.91,"text":"Where are you going?","frame_index":42,` +
				`"detected_at":"2024-03-01T10:00:00Z"}` + "\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			sink, err := NewWriterSink(&buf, tt.format)
			if err != nil {
				t.Fatalf("NewWriterSink() error = %v", err)
			}

			if err := sink.Emit(context.Background(), testDetection()); err != nil {
				t.Fatalf("Emit() error = %v", err)
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("Emit() wrote %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWriterSinkUnknownFormat(t *testing.T) {
	if _, err := NewWriterSink(&bytes.Buffer{}, "xml"); err == nil {
		t.Error("NewWriterSink() error = nil, want error")
	}
}

type failingSink struct{ err error }

func (s failingSink) Emit(context.Context, Detection) error { return s.err }

func TestMultiSink(t *testing.T) {
	var buf bytes.Buffer
	stdout, err := NewWriterSink(&buf, FormatText)
	if err != nil {
		t.Fatalf("NewWriterSink() error = %v", err)
	}

	sinkErr := errors.New("broker unavailable")
	sink := multiSink{failingSink{err: sinkErr}, stdout}

	err = sink.Emit(context.Background(), testDetection())
	if !errors.Is(err, sinkErr) {
		t.Errorf("Emit() error = %v, want %v", err, sinkErr)
	}
	if !strings.Contains(buf.String(), "dialogue") {
		t.Errorf("later sink not reached after a failure, got %q", buf.String())
	}
}

func TestRedisSinkUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	sink := NewRedisSink(client, "detections")
	err := sink.Emit(context.Background(), testDetection())
	if err == nil {
		t.Fatal("Emit() error = nil, want error")
	}
	if !strings.Contains(err.Error(), "detections") {
		t.Errorf("Emit() error = %v, want channel name in message", err)
	}
}

func TestNewDetectionIDs(t *testing.T) {
	frame := &Frame{Index: 9}
	region := &Region{Name: "banner"}

	a := newDetection(frame, region, Recognition{Text: "A", Confidence: 0.7}, Recognition{Text: "00:01", Confidence: 0.5})
	b := newDetection(frame, region, Recognition{Text: "A", Confidence: 0.7}, Recognition{Text: "00:01", Confidence: 0.5})

	if a.ID == "" || a.ID == b.ID {
		t.Errorf("newDetection() IDs = %q, %q; want distinct non-empty", a.ID, b.ID)
	}
	if a.Region != "banner" || a.Text != "A" || a.Timestamp != "00:01" || a.FrameIndex != 9 {
		t.Errorf("newDetection() = %+v", a)
	}
	if a.Confidence != 0.7 || a.TimestampConfidence != 0.5 {
		t.Errorf("newDetection() confidences = %v, %v; want 0.7, 0.5", a.Confidence, a.TimestampConfidence)
	}
}
