// Package progress streams per-path fetch progress from the dispatcher to
// pluggable sinks. Events are batched on a background goroutine so emitting
// never blocks a worker.
package progress
