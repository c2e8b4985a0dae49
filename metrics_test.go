package main

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"
)

func TestUpdateProcessingTime(t *testing.T) {
	metrics := &StreamMetrics{}

	metrics.UpdateProcessingTime(10 * time.Millisecond)
	if got := metrics.GetAvgProcessingTimeMs(); got != 10 {
		t.Errorf("GetAvgProcessingTimeMs() = %v, want 10", got)
	}

	metrics.UpdateProcessingTime(20 * time.Millisecond)
	if got := metrics.GetAvgProcessingTimeMs(); math.Abs(got-11) > 1e-3 {
		t.Errorf("GetAvgProcessingTimeMs() = %v, want 11", got)
	}
}

func TestUpdateBufferUtilizationKeepsPeak(t *testing.T) {
	metrics := &StreamMetrics{}

	var wg sync.WaitGroup
	for _, u := range []int64{10, 95, 40, 60, 95, 5} {
		wg.Add(1)
		go func(u int64) {
			defer wg.Done()
			metrics.UpdateBufferUtilization(u)
		}(u)
	}
	wg.Wait()

	if got := metrics.GetMaxBufferUtilization(); got != 95 {
		t.Errorf("GetMaxBufferUtilization() = %d, want 95", got)
	}
}

func TestGetLastFrameAge(t *testing.T) {
	metrics := &StreamMetrics{}
	if got := metrics.GetLastFrameAge(); got != 0 {
		t.Errorf("GetLastFrameAge() before any frame = %v, want 0", got)
	}

	metrics.lastFrameTime.Store(time.Now().Add(-time.Minute).UnixNano())
	if got := metrics.GetLastFrameAge(); got < time.Minute {
		t.Errorf("GetLastFrameAge() = %v, want at least 1m", got)
	}
}

// BenchmarkQueueCapacities benchmarks how many frames a fast producer loses
// against a consumer for several queue capacities.
func BenchmarkQueueCapacities(b *testing.B) {
	if testing.Short() {
		b.Skip("Skipping benchmark in short mode")
	}

	for _, capacity := range []int{10, 30, 60, DefaultQueueCapacity, 240} {
		b.Run(fmt.Sprintf("Capacity_%d", capacity), func(b *testing.B) {
			var dropped int64
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				q := NewFrameQueue(capacity)
				done := make(chan struct{})

				// Producer
				go func() {
					defer close(done)
					for j := 0; j < 500; j++ {
						if !q.TryPut(Frame{Index: int64(j)}) {
							dropped++
						}
					}
				}()

				// Consumer
				for {
					select {
					case <-q.Frames():
						continue
					case <-done:
					}
					break
				}
			}

			b.ReportMetric(float64(dropped)/float64(b.N), "drops/op")
		})
	}
}

// BenchmarkMetricsUpdate benchmarks the performance impact of metrics tracking.
func BenchmarkMetricsUpdate(b *testing.B) {
	metrics := &StreamMetrics{}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		metrics.framesProcessed.Add(1)
		metrics.UpdateProcessingTime(time.Millisecond * 100)
		metrics.UpdateBufferUtilization(75)
	}
}
