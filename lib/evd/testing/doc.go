// Package testing provides standardised tests and benchmarks for database
// engines that satisfy the evd.Factory interface.
//
// The package contains:
//   - testing: A conformance suite covering the open/upgrade protocol,
//     transactions, stores, indexes, cursors and persistence
//   - benchmark: Performance tests for measuring throughput of common
//     engine operations
//
// Engines skip the parts of the suite whose features they do not report
// via SupportsFeature.
//
// Example usage:
//
//	// Creating a factory function for your engine
//	factory := func() (evd.Factory, error) {
//		return NewMyEngine()
//	}
//
//	// Running the standard test suite
//	testing.RunFactoryTests(t, "MyEngine", factory)
//
//	// Running performance benchmarks
//	testing.RunFactoryBenchmarks(b, "MyEngine", factory)
package testing
