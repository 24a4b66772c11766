// Package progress fans crawl lifecycle events out to pluggable sinks. The
// worker pool emits one event per job transition; a background goroutine
// batches them so emitters never block on slow sinks.
package progress
