package main

import (
	"sync/atomic"
	"time"
)

// StreamMetrics tracks health and performance counters for a run.
// All fields are updated atomically so the reporter can read them while the
// source and detector goroutines write.
type StreamMetrics struct {
	// framesRead counts frames fully read from the decoder output.
	framesRead atomic.Int64
	// framesDropped counts frames rejected by a full queue.
	framesDropped atomic.Int64
	// framesProcessed counts frames evaluated by the detector.
	framesProcessed atomic.Int64
	// regionsScored counts individual region score evaluations.
	regionsScored atomic.Int64
	// ocrCalls counts recognition engine invocations, timestamp included.
	ocrCalls atomic.Int64
	// detections counts emitted detections.
	detections atomic.Int64
	// sinkErrors counts detections a sink failed to deliver.
	sinkErrors atomic.Int64
	// lastFrameTime tracks when the last frame was evaluated (unix nanos).
	lastFrameTime atomic.Int64
	// avgProcessingTimeNs tracks the moving average of per-frame evaluation time.
	avgProcessingTimeNs atomic.Int64
	// maxBufferUtilization tracks peak queue utilization percentage.
	maxBufferUtilization atomic.Int64
}

// GetFramesRead returns the number of frames read from the decoder.
func (m *StreamMetrics) GetFramesRead() int64 {
	return m.framesRead.Load()
}

// GetFramesDropped returns the number of frames dropped due to backpressure.
func (m *StreamMetrics) GetFramesDropped() int64 {
	return m.framesDropped.Load()
}

// GetFramesProcessed returns the number of frames evaluated.
func (m *StreamMetrics) GetFramesProcessed() int64 {
	return m.framesProcessed.Load()
}

// GetRegionsScored returns the number of region score evaluations.
func (m *StreamMetrics) GetRegionsScored() int64 {
	return m.regionsScored.Load()
}

// GetOCRCalls returns the number of recognition calls.
func (m *StreamMetrics) GetOCRCalls() int64 {
	return m.ocrCalls.Load()
}

// GetDetections returns the number of emitted detections.
func (m *StreamMetrics) GetDetections() int64 {
	return m.detections.Load()
}

// GetSinkErrors returns the number of failed detection deliveries.
func (m *StreamMetrics) GetSinkErrors() int64 {
	return m.sinkErrors.Load()
}

// GetAvgProcessingTimeMs returns the average frame evaluation time in milliseconds.
func (m *StreamMetrics) GetAvgProcessingTimeMs() float64 {
	return float64(m.avgProcessingTimeNs.Load()) / 1e6
}

// GetMaxBufferUtilization returns the peak queue utilization as a percentage.
func (m *StreamMetrics) GetMaxBufferUtilization() int64 {
	return m.maxBufferUtilization.Load()
}

// UpdateProcessingTime folds a new measurement into the moving average.
func (m *StreamMetrics) UpdateProcessingTime(processingTime time.Duration) {
	// Simple exponential moving average
	current := m.avgProcessingTimeNs.Load()
	sample := processingTime.Nanoseconds()
	if current == 0 {
		m.avgProcessingTimeNs.Store(sample)
		return
	}
	// EMA with alpha = 0.1
	m.avgProcessingTimeNs.Store(int64(float64(current)*0.9 + float64(sample)*0.1))
}

// UpdateBufferUtilization updates the maximum buffer utilization if current is higher.
func (m *StreamMetrics) UpdateBufferUtilization(utilization int64) {
	for {
		current := m.maxBufferUtilization.Load()
		if utilization <= current {
			break
		}
		if m.maxBufferUtilization.CompareAndSwap(current, utilization) {
			break
		}
	}
}

// GetLastFrameAge returns how long ago the last frame was evaluated.
func (m *StreamMetrics) GetLastFrameAge() time.Duration {
	lastTime := m.lastFrameTime.Load()
	if lastTime == 0 {
		return 0
	}
	return time.Since(time.Unix(0, lastTime))
}
