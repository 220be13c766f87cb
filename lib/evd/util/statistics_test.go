package util

import (
	"sync"
	"testing"
)

// TestSizeHistogramBasics tests counting, extremes and the average.
func TestSizeHistogramBasics(t *testing.T) {
	h := NewSizeHistogram()

	if snap := h.Snapshot(); snap != (SizeDistribution{}) {
		t.Errorf("Expected a zero snapshot for an empty histogram, got %+v", snap)
	}
	if h.AverageSize() != 0 {
		t.Errorf("Expected average 0 for an empty histogram, got %d", h.AverageSize())
	}

	h.AddSample(10)
	h.AddSample(100)
	h.AddSample(1000)

	snap := h.Snapshot()
	if snap.Count != 3 {
		t.Errorf("Expected count 3, got %d", snap.Count)
	}
	if snap.Min != 10 {
		t.Errorf("Expected min 10, got %d", snap.Min)
	}
	if snap.Max != 1000 {
		t.Errorf("Expected max 1000, got %d", snap.Max)
	}
	if snap.Avg != 370 {
		t.Errorf("Expected average 370, got %d", snap.Avg)
	}
	if snap.P50 < snap.Min || snap.P99 > snap.Max {
		t.Errorf("Expected percentiles within [%d, %d], got P50=%d P99=%d", snap.Min, snap.Max, snap.P50, snap.P99)
	}
	if snap.P50 > snap.P90 || snap.P90 > snap.P99 {
		t.Errorf("Expected monotonic percentiles, got P50=%d P90=%d P99=%d", snap.P50, snap.P90, snap.P99)
	}
}

// TestSizeHistogramPercentiles tests the bucket estimates on a skewed
// distribution.
func TestSizeHistogramPercentiles(t *testing.T) {
	h := NewSizeHistogram()
	for i := 0; i < 100; i++ {
		h.AddSample(10)
	}
	h.AddSample(10000)

	// The mass sits in the first bucket; its midpoint estimate clamps to
	// the observed minimum.
	if p := h.PercentileEstimate(50); p != 10 {
		t.Errorf("Expected P50 estimate 10, got %d", p)
	}
	if p := h.PercentileEstimate(100); p != 10000 {
		t.Errorf("Expected P100 estimate 10000, got %d", p)
	}

	if p := h.PercentileEstimate(-1); p != 0 {
		t.Errorf("Expected 0 for a negative percentile, got %d", p)
	}
	if p := h.PercentileEstimate(101); p != 0 {
		t.Errorf("Expected 0 for a percentile above 100, got %d", p)
	}
}

// TestSizeHistogramReset tests that Reset clears all state.
func TestSizeHistogramReset(t *testing.T) {
	h := NewSizeHistogram()
	h.AddSample(512)
	h.AddSample(2048)
	h.Reset()

	if h.Count() != 0 {
		t.Errorf("Expected count 0 after reset, got %d", h.Count())
	}
	if snap := h.Snapshot(); snap != (SizeDistribution{}) {
		t.Errorf("Expected a zero snapshot after reset, got %+v", snap)
	}

	h.AddSample(5)
	if snap := h.Snapshot(); snap.Min != 5 || snap.Max != 5 {
		t.Errorf("Expected extremes to restart at 5, got min=%d max=%d", snap.Min, snap.Max)
	}
}

// TestSizeHistogramConcurrent tests concurrent sampling.
func TestSizeHistogramConcurrent(t *testing.T) {
	h := NewSizeHistogram()

	const numWriters = 8
	const samplesPerWriter = 1000

	var wg sync.WaitGroup
	wg.Add(numWriters)
	for w := 0; w < numWriters; w++ {
		go func(seed int) {
			defer wg.Done()
			for i := 0; i < samplesPerWriter; i++ {
				h.AddSample(1 + (seed*samplesPerWriter+i)%512)
			}
		}(w)
	}
	wg.Wait()

	if h.Count() != numWriters*samplesPerWriter {
		t.Errorf("Expected %d samples, got %d", numWriters*samplesPerWriter, h.Count())
	}
	snap := h.Snapshot()
	if snap.Min < 1 || snap.Max > 512 {
		t.Errorf("Expected extremes within [1, 512], got min=%d max=%d", snap.Min, snap.Max)
	}
}
