package async

import (
	"context"
	"time"
)

// Job asks a worker to process one email by mailbox index.
type Job struct {
	Index       int
	SubmittedAt time.Time
	TraceID     string
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}
