// Package audit records externally-visible dispatch events (job created,
// offered, sent, confirmed, rejected, requeued, config reloaded) for
// operator troubleshooting. It is deliberately decoupled from
// internal/core: the job store and presence tracker have no idea audit
// events exist, and callers at the API layer decide what's worth
// recording.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Event is one audit-log row. ID correlates a single dispatch-layer
// operation across multiple events it may emit (e.g. a multi-tenant
// intake fan-out shares one ID across all its job_created rows), the
// same way a request id threads through a structured log line.
type Event struct {
	ID     string
	Time   time.Time
	Kind   string // "job_created", "job_offered", "job_sent", "job_confirmed", "job_rejected", "job_requeued", "protocol_violation", "config_reload"
	Tenant string
	Serial string
	Token  string
	Detail string
}

// NewCorrelationID generates the ID an API handler stamps onto every
// event produced by a single logical operation.
func NewCorrelationID() string {
	return uuid.NewString()
}

// Sink records events. Implementations must not block the caller for
// long: dispatch, intake and admin handlers call Record synchronously and a slow
// sink would show up as latency on every printer poll.
type Sink interface {
	Record(e Event)
}

// NoopSink discards everything. Used when no database is configured.
type NoopSink struct{}

func (NoopSink) Record(Event) {}
