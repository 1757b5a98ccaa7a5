package core

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Status is the job lifecycle state. queued -> offered -> sent -> done is
// the happy path; failed is terminal; offered/sent can both fall back to
// queued (sweep timeout or negative confirmation).
type Status string

const (
	StatusQueued  Status = "queued"
	StatusOffered Status = "offered"
	StatusSent    Status = "sent"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Job is the unit of dispatch. OfferedAt/SentAt are nil unless the job is
// currently in the corresponding state; only JobStore's Transition,
// SelectForSerial and MarkRenderFailed touch Status alongside them, which is what keeps
// invariant #2 (queued => both timestamps nil, offered => OfferedAt set,
// sent => SentAt set) true in practice.
type Job struct {
	Token      string
	Tenant     string
	Serial     string // set on offer; the device this job was last handed to
	Content    []byte
	Status     Status
	OfferedAt  *time.Time
	SentAt     *time.Time
	ReceivedAt time.Time

	CustomerName string
	OrderNumber  string
	OrderID      string
}

// Snapshot returns a value copy safe to hand to a caller outside the
// store's lock. Content is a slice header copy only — the backing array
// is never mutated after attachment, so sharing it is safe.
func (j *Job) Snapshot() Job {
	cp := *j
	if j.OfferedAt != nil {
		t := *j.OfferedAt
		cp.OfferedAt = &t
	}
	if j.SentAt != nil {
		t := *j.SentAt
		cp.SentAt = &t
	}
	return cp
}

// NewToken produces a collision-resistant opaque token: a millisecond
// timestamp prefix (roughly sortable, useful in logs) plus a random
// suffix. Good enough for the lifetime of one process; nothing in this
// system persists tokens across restarts.
func NewToken() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing means the platform is broken; fall back to a
		// time-only token rather than panicking mid-request.
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%d-%s", time.Now().UnixNano()/int64(time.Millisecond), hex.EncodeToString(buf[:]))
}

// Metadata is the opaque passthrough attached to a job at creation time.
type Metadata struct {
	CustomerName string
	OrderNumber  string
	OrderID      string
}
