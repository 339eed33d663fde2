package history

import (
	"context"
	"time"
)

// Record is one completed conversion attempt.
type Record struct {
	ID         string        `json:"id"`
	SourceFmt  string        `json:"source_format"`
	TargetFmt  string        `json:"target_format"`
	SourceName string        `json:"source_name"`
	SizeBytes  int64         `json:"size_bytes"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
}

// Sink is a destination for conversion audit records (analytics/statistics
// systems). Implementations must be safe for concurrent use. Send failures
// are logged by callers, never surfaced to conversion requests.
type Sink interface {
	Send(ctx context.Context, r Record) error
	Close() error
}

// Nop discards all records. Used when no history DSN is configured.
type Nop struct{}

func (Nop) Send(context.Context, Record) error { return nil }
func (Nop) Close() error                       { return nil }
