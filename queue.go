package main

import (
	"context"
)

// DefaultQueueCapacity is the number of frames buffered between the decoder
// and the detector. At 60 fps this is two seconds of video.
const DefaultQueueCapacity = 120

// FrameQueue is a bounded FIFO between one producer (the frame source) and
// one consumer (the detector). The producer never blocks: when the buffer is
// full the incoming frame is rejected and the already queued frames are kept.
type FrameQueue struct {
	frames chan Frame
}

// NewFrameQueue creates a queue holding at most capacity frames.
// A non-positive capacity selects DefaultQueueCapacity.
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &FrameQueue{frames: make(chan Frame, capacity)}
}

// TryPut enqueues frame without blocking. It returns false when the queue is
// full, in which case the frame was dropped.
func (q *FrameQueue) TryPut(frame Frame) bool {
	select {
	case q.frames <- frame:
		return true
	default:
		return false
	}
}

// Get blocks until a frame is available or ctx is done.
func (q *FrameQueue) Get(ctx context.Context) (Frame, error) {
	select {
	case frame := <-q.frames:
		return frame, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

// Frames exposes the receive side so a consumer can select on it together
// with other signals.
func (q *FrameQueue) Frames() <-chan Frame {
	return q.frames
}

// Len returns the number of frames currently buffered.
func (q *FrameQueue) Len() int {
	return len(q.frames)
}

// Cap returns the queue capacity.
func (q *FrameQueue) Cap() int {
	return cap(q.frames)
}

// utilization returns the current fill level as a percentage.
func (q *FrameQueue) utilization() int64 {
	return int64(float64(q.Len()) / float64(q.Cap()) * 100)
}
