// Package cmd implements the command-line interface for the aDB embedded
// database. It provides a hierarchical command structure for working with
// databases, object stores and indexes, backed by snapshot files on disk.
//
// The package is organized into several subpackages:
//
//   - db: Commands for database operations (get, put, iterate, create-store, stats, etc.)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See adb -help for a list of all commands.
package cmd
