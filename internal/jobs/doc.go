// Package jobs holds the JobManager backends. Each subpackage persists the
// same JobState shape: status, message, optional total, processed count, and
// an ordered error list.
package jobs
