package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the lifecycle milestone represented by an Event.
type Stage string

// Supported stages.
const (
	StageJobStart Stage = "JOB_START"
	StageJobHB    Stage = "JOB_HEARTBEAT"
	StageJobDone  Stage = "JOB_DONE"
	StageJobError Stage = "JOB_ERROR"
)

// Event is one job lifecycle observation taken by the pool's result loop.
type Event struct {
	JobID    string
	WorkerID int
	TS       time.Time
	Stage    Stage
	// Site is the effective domain once known.
	Site string
	// URL is the page most recently handled; it should not contain credentials.
	URL          string
	PagesCrawled int
	PagesFailed  int
	Documents    int
	// Status carries the crawl status on JOB_DONE and JOB_ERROR.
	Status string
	// Dur is the job wall time on terminal events.
	Dur time.Duration
	// Note holds low-volume context such as a fatal error.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageJobHB, StageJobDone, StageJobError:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.PagesCrawled < 0 || e.PagesFailed < 0 || e.Documents < 0 {
		return errors.New("counters must be >= 0")
	}
	return nil
}

// Terminal reports whether the event closes a job.
func (e Event) Terminal() bool {
	return e.Stage == StageJobDone || e.Stage == StageJobError
}
