// Package progress logs per-replica copy throughput at a fixed interval.
//
// Replicas report bytes through Copied, which is safe for concurrent use.
// Start launches the logging loop; Stop ends it and logs final totals.
package progress
