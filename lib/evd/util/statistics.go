package util

import (
	"math"
	"sync"
)

// ----------------------------------------------------------------------------
// SizeDistribution
// ----------------------------------------------------------------------------

// SizeDistribution is a compact, serializable summary of a size histogram.
// Percentiles are estimates derived from exponential buckets, not exact
// values; they are intended for monitoring, not accounting.
type SizeDistribution struct {
	Count int64 `json:"count"`
	Min   int   `json:"min"`
	Avg   int   `json:"avg"`
	Max   int   `json:"max"`
	P50   int   `json:"p50"`
	P90   int   `json:"p90"`
	P99   int   `json:"p99"`
}

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// SizeHistogram tracks the distribution of data sizes. It organizes sizes
// into exponential buckets for efficient memory usage while still providing
// usable size estimations, covering values from bytes to multiple gigabytes.
type SizeHistogram struct {
	mutex      sync.RWMutex
	boundaries []int   // Bucket boundaries covering byte to GB range
	buckets    []int64 // Count of items in each bucket
	count      int64   // Total number of samples
	sum        int64   // Sum of all sampled sizes
	min        int     // Smallest sample seen
	max        int     // Largest sample seen
}

// NewSizeHistogram creates a new size histogram with default bucket boundaries.
// The boundaries are calibrated to handle sizes from bytes to gigabytes.
func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{
		boundaries: []int{
			16, 64, 256, 1024, 4096, // Bytes: 16B to 4KB
			16384, 65536, 262144, 1048576, // KB range: 16KB to 1MB
			4194304, 16777216, 67108864, // MB range: 4MB to 64MB
			268435456, 1073741824, 4294967296, // Above 256MB to 4GB
		},
		buckets: make([]int64, 16), // 15 boundaries + 1 for larger values
	}
}

// AddSample adds a size sample to the histogram
//
// Thread-safe: This method is safe for concurrent use
func (h *SizeHistogram) AddSample(size int) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	// Find the appropriate bucket for this size
	bucketIndex := 0
	for i, boundary := range h.boundaries {
		if size <= boundary {
			bucketIndex = i
			break
		}
		bucketIndex = len(h.boundaries) // Last bucket for all larger values
	}

	h.buckets[bucketIndex]++
	if h.count == 0 || size < h.min {
		h.min = size
	}
	if size > h.max {
		h.max = size
	}
	h.count++
	h.sum += int64(size)
}

// Count returns the total number of samples
//
// Thread-safe: This method is safe for concurrent use
func (h *SizeHistogram) Count() int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.count
}

// AverageSize returns the average size across all samples
//
// Thread-safe: This method is safe for concurrent use
func (h *SizeHistogram) AverageSize() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.count == 0 {
		return 0
	}
	return int(h.sum / h.count)
}

// PercentileEstimate returns an estimate for the given percentile (0-100)
//
// Thread-safe: This method is safe for concurrent use
func (h *SizeHistogram) PercentileEstimate(percentile int) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.percentileLocked(percentile)
}

func (h *SizeHistogram) percentileLocked(percentile int) int {
	if h.count == 0 || percentile < 0 || percentile > 100 {
		return 0
	}

	// Calculate target count for percentile
	targetCount := int64(math.Ceil(float64(h.count) * float64(percentile) / 100.0))
	cumulativeCount := int64(0)

	for i, count := range h.buckets {
		cumulativeCount += count
		if cumulativeCount >= targetCount {
			// Estimate within the found bucket, clamped to observed extremes
			var estimate int
			switch {
			case i == 0:
				estimate = h.boundaries[0] / 2
			case i < len(h.boundaries):
				estimate = (h.boundaries[i-1] + h.boundaries[i]) / 2
			default:
				estimate = h.boundaries[len(h.boundaries)-1] * 2
			}
			if estimate < h.min {
				estimate = h.min
			}
			if estimate > h.max {
				estimate = h.max
			}
			return estimate
		}
	}

	// Shouldn't happen but as a fallback
	return int(h.sum / h.count)
}

// Snapshot summarizes the histogram into a SizeDistribution
//
// Thread-safe: This method is safe for concurrent use
func (h *SizeHistogram) Snapshot() SizeDistribution {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.count == 0 {
		return SizeDistribution{}
	}
	return SizeDistribution{
		Count: h.count,
		Min:   h.min,
		Avg:   int(h.sum / h.count),
		Max:   h.max,
		P50:   h.percentileLocked(50),
		P90:   h.percentileLocked(90),
		P99:   h.percentileLocked(99),
	}
}

// Reset clears all histogram data
//
// Thread-safe: This method is safe for concurrent use
func (h *SizeHistogram) Reset() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.count = 0
	h.sum = 0
	h.min = 0
	h.max = 0
	for i := range h.buckets {
		h.buckets[i] = 0
	}
}
