// Package protocol defines the messages exchanged between the worker pool and
// its workers. Messages are plain values; they cross the pool/worker boundary
// only in their encoded map form so no references are ever shared.
package protocol

import (
	"errors"

	"github.com/JakeFAU/webingest/internal/crawler"
)

// MessageType discriminates WorkerMessage variants.
type MessageType string

// The seven message types.
const (
	TypeCrawlRequest  MessageType = "CRAWL_REQUEST"
	TypeShutdown      MessageType = "SHUTDOWN"
	TypeCrawlStarted  MessageType = "CRAWL_STARTED"
	TypeCrawlProgress MessageType = "CRAWL_PROGRESS"
	TypeCrawlResult   MessageType = "CRAWL_RESULT"
	TypeWorkerReady   MessageType = "WORKER_READY"
	TypeWorkerError   MessageType = "WORKER_ERROR"
)

// ErrUnknownMessageType is returned by Decode for a missing or unrecognised type.
var ErrUnknownMessageType = errors.New("unknown message type")

// Message is implemented by every variant. The set is closed.
type Message interface {
	Type() MessageType
	message()
}

// CrawlRequest asks a worker to run one crawl. Orchestrator to worker.
type CrawlRequest struct {
	Request crawler.CrawlRequest
}

// Shutdown tells a worker to exit. Orchestrator to worker.
type Shutdown struct{}

// CrawlStarted acknowledges that a worker began a job.
type CrawlStarted struct {
	WorkerID int
	JobID    string
}

// CrawlProgress carries a best-effort progress snapshot.
type CrawlProgress struct {
	WorkerID int
	Progress crawler.CrawlProgress
}

// CrawlResult carries the terminal result of a job.
type CrawlResult struct {
	WorkerID int
	Result   crawler.CrawlResult
}

// WorkerReady announces that a worker is idle and accepting requests.
type WorkerReady struct {
	WorkerID int
}

// WorkerError reports a worker-level failure. JobID is empty when the failure
// happened outside any job.
type WorkerError struct {
	WorkerID int
	JobID    string
	Error    string
}

func (CrawlRequest) Type() MessageType  { return TypeCrawlRequest }
func (Shutdown) Type() MessageType      { return TypeShutdown }
func (CrawlStarted) Type() MessageType  { return TypeCrawlStarted }
func (CrawlProgress) Type() MessageType { return TypeCrawlProgress }
func (CrawlResult) Type() MessageType   { return TypeCrawlResult }
func (WorkerReady) Type() MessageType   { return TypeWorkerReady }
func (WorkerError) Type() MessageType   { return TypeWorkerError }

func (CrawlRequest) message()  {}
func (Shutdown) message()      {}
func (CrawlStarted) message()  {}
func (CrawlProgress) message() {}
func (CrawlResult) message()   {}
func (WorkerReady) message()   {}
func (WorkerError) message()   {}

// JobID returns the job a message belongs to, or "" for worker-scoped messages.
func JobID(m Message) string {
	switch msg := m.(type) {
	case CrawlRequest:
		return msg.Request.JobID
	case CrawlStarted:
		return msg.JobID
	case CrawlProgress:
		return msg.Progress.JobID
	case CrawlResult:
		return msg.Result.JobID
	case WorkerError:
		return msg.JobID
	default:
		return ""
	}
}
