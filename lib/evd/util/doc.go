// Package util provides supporting tools for evd engine implementations.
// It currently implements a specialized size histogram for efficient
// tracking and analysis of data size distributions. The histogram uses
// exponential bucket sizing to cover a wide range of values (bytes to
// gigabytes) with minimal memory overhead.
//
// Key features include:
//   - Efficient memory usage through bucketing
//   - Thread-safe sample addition and querying
//   - Statistical estimators (median, percentiles)
//   - Compact, serializable summaries for stats reporting
//
// This utility is particularly useful for engines that need to report on
// data characteristics without performing expensive full scans.
package util
