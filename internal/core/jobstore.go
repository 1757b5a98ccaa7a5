package core

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job state transition")
)

// JobStore holds every tenant's job queue plus the global token index,
// and implements the state machine and the round-robin selection
// algorithm (§4.B). A single sync.Mutex guards everything: the queues
// are small (a handful of jobs per tenant) so hold times are short,
// matching spec.md §5's "minimum discipline" recommendation.
//
// Grounded on the teacher's Queue (internal/core/queue.go): its FIFO
// shape, without the teacher's priority ordering (each tenant's queue is
// in creation order only), generalized from one global SQL
// table to per-tenant in-memory slices, and with the SQL-backed
// recovery/backoff machinery replaced by the Sweeper (sweeper.go).
type JobStore struct {
	mu       sync.Mutex
	registry *DeviceRegistry
	history  *History
	byToken  map[string]*Job
	queues   map[string][]*Job // tenant -> FIFO order
}

func NewJobStore(registry *DeviceRegistry, history *History) *JobStore {
	return &JobStore{
		registry: registry,
		history:  history,
		byToken:  make(map[string]*Job),
		queues:   make(map[string][]*Job),
	}
}

// Create appends a queued, content-less job for tenant and returns its
// token. Never fails except on the process running out of memory, which
// Go can't intercept anyway, matching the "never fails" clause in §4.B.
func (s *JobStore) Create(tenant string, meta Metadata) string {
	job := &Job{
		Token:        NewToken(),
		Tenant:       tenant,
		Status:       StatusQueued,
		ReceivedAt:   time.Now(),
		CustomerName: meta.CustomerName,
		OrderNumber:  meta.OrderNumber,
		OrderID:      meta.OrderID,
	}

	s.mu.Lock()
	s.byToken[job.Token] = job
	s.queues[tenant] = append(s.queues[tenant], job)
	s.mu.Unlock()

	if s.history != nil {
		s.history.MarkReceived(job.Token, HistoryEntry{
			Timestamp: job.ReceivedAt,
			Tenant:    tenant,
			Stage:     "received",
			Token:     job.Token,
			Customer:  job.CustomerName,
			Order:     job.OrderNumber,
		})
	}

	return job.Token
}

// AttachContent idempotently associates rendered bytes with a job. A
// missing token is silently dropped — the render broker races against
// nothing in particular deleting jobs, but if it happens this is not an
// error worth surfacing.
func (s *JobStore) AttachContent(token string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.byToken[token]
	if !ok {
		return
	}
	if job.Content == nil {
		job.Content = content
	}
}

// MarkRenderFailed transitions a job to failed, but only if it is still
// queued and content-less — a render failure arriving after the job has
// moved on (already offered from an earlier, separate render attempt on
// a fan-out share) must not clobber it.
func (s *JobStore) MarkRenderFailed(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.byToken[token]
	if !ok {
		return
	}
	if job.Status == StatusQueued && job.Content == nil {
		job.Status = StatusFailed
		// Never reached a serial, so there is no ring to log "failed"
		// against; drop the stashed "received" entry rather than leak it.
		if s.history != nil {
			s.history.Discard(token)
		}
	}
}

// SelectForSerial is the central scheduling operation (§4.B). It scans
// the serial's tenants starting at the round-robin cursor, offers the
// first content-ready queued job it finds, advances the cursor only on
// success, and returns nil if nothing was ready.
func (s *JobStore) SelectForSerial(serial string, now time.Time) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenants, start := s.registry.TenantsAndIndex(serial)
	n := len(tenants)
	if n == 0 {
		return nil
	}

	for i := 0; i < n; i++ {
		tenant := tenants[(start+i)%n]
		queue := s.queues[tenant]
		for _, job := range queue {
			if job.Status != StatusQueued || job.Content == nil {
				continue
			}
			job.Status = StatusOffered
			t := now
			job.OfferedAt = &t
			job.Serial = serial
			s.registry.SetIndex(serial, (start+i+1)%n)
			s.appendHistoryLocked(serial, job, "offered", "")
			return job
		}
	}
	return nil
}

// Transition validates and applies a state change. Apart from
// SelectForSerial (queued -> offered, setting OfferedAt) and
// MarkRenderFailed (queued -> failed), it is the only mutator of
// Status/OfferedAt/SentAt, and every one of these paths keeps invariant
// #2 true: the pairs (offered, OfferedAt!=nil) and (sent, SentAt!=nil)
// are always set and cleared together.
func (s *JobStore) Transition(token string, to Status, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.byToken[token]
	if !ok {
		return ErrJobNotFound
	}
	return s.transitionLocked(job, to, now)
}

func (s *JobStore) transitionLocked(job *Job, to Status, now time.Time) error {
	switch {
	case job.Status == StatusOffered && to == StatusSent:
		t := now
		job.SentAt = &t
		job.Status = StatusSent
		s.appendHistoryLocked(job.Serial, job, "sent", "")
	case job.Status == StatusQueued && to == StatusSent:
		// Protocol violation: fetching a job that never went through
		// "offered". Allowed-but-logged per spec.md §9.
		t := now
		job.SentAt = &t
		job.Status = StatusSent
		s.appendHistoryLocked(job.Serial, job, "sent", "protocol_violation:fetched_while_queued")
	case job.Status == StatusSent && to == StatusDone:
		job.Status = StatusDone
		s.appendHistoryLocked(job.Serial, job, "completed", "")
		s.removeLocked(job)
	case (job.Status == StatusSent || job.Status == StatusOffered) && to == StatusQueued:
		stage := "requeued"
		job.OfferedAt = nil
		job.SentAt = nil
		job.Status = StatusQueued
		s.appendHistoryLocked(job.Serial, job, stage, "")
	case job.Status == StatusQueued && to == StatusFailed:
		job.Status = StatusFailed
		s.appendHistoryLocked(job.Serial, job, "failed", "")
	default:
		return ErrInvalidTransition
	}
	return nil
}

// Peek returns a read-only snapshot of a job, or ErrJobNotFound.
func (s *JobStore) Peek(token string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.byToken[token]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return job.Snapshot(), nil
}

// Remove drops a job from its queue and the token index unconditionally
// (administrative action). Transition to done already removes the job
// as part of the state machine; Remove exists for out-of-band cleanup.
func (s *JobStore) Remove(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.byToken[token]
	if !ok {
		return
	}
	s.removeLocked(job)
}

func (s *JobStore) removeLocked(job *Job) {
	delete(s.byToken, job.Token)
	queue := s.queues[job.Tenant]
	for i, j := range queue {
		if j.Token == job.Token {
			s.queues[job.Tenant] = append(queue[:i], queue[i+1:]...)
			break
		}
	}
}

// RewoundJob names one job a sweep rewound from offered/sent back to
// queued, so a caller outside internal/core (which knows nothing about
// audit.Sink) can record the requeue itself.
type RewoundJob struct {
	Tenant string
	Serial string
	Token  string
}

// Sweep rewinds any offered/sent job that has been stuck past its
// timeout back to queued, across every tenant. Returns the rewound jobs.
func (s *JobStore) Sweep(now time.Time, offerTimeout, sentTimeout time.Duration) []RewoundJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now, offerTimeout, sentTimeout, nil)
}

// SweepSerial sweeps only the tenants a given serial serves — used by
// the poll handler to opportunistically recover stuck jobs before
// selecting, without paying for a full-store scan on every request.
func (s *JobStore) SweepSerial(serial string, now time.Time, offerTimeout, sentTimeout time.Duration) []RewoundJob {
	tenants := s.registry.TenantsFor(serial)
	if len(tenants) == 0 {
		return nil
	}
	only := make(map[string]bool, len(tenants))
	for _, t := range tenants {
		only[t] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now, offerTimeout, sentTimeout, only)
}

func (s *JobStore) sweepLocked(now time.Time, offerTimeout, sentTimeout time.Duration, onlyTenants map[string]bool) []RewoundJob {
	var rewound []RewoundJob
	for tenant, queue := range s.queues {
		if onlyTenants != nil && !onlyTenants[tenant] {
			continue
		}
		for _, job := range queue {
			switch {
			case job.Status == StatusOffered && job.OfferedAt != nil && now.Sub(*job.OfferedAt) > offerTimeout,
				job.Status == StatusSent && job.SentAt != nil && now.Sub(*job.SentAt) > sentTimeout:
				serial := job.Serial
				token := job.Token
				_ = s.transitionLocked(job, StatusQueued, now)
				rewound = append(rewound, RewoundJob{Tenant: tenant, Serial: serial, Token: token})
			}
		}
	}
	return rewound
}

// TryLockSweep attempts the full-store sweep without blocking; it
// reports false if the store was busy, so the background Sweeper can
// skip a tick rather than stall behind an in-flight request per
// spec.md §4.D.
func (s *JobStore) TryLockSweep(now time.Time, offerTimeout, sentTimeout time.Duration) (rewound []RewoundJob, ok bool) {
	if !s.mu.TryLock() {
		return nil, false
	}
	defer s.mu.Unlock()
	return s.sweepLocked(now, offerTimeout, sentTimeout, nil), true
}

// QueueSnapshot returns a tenant's jobs (content omitted) for the query
// surface, in FIFO order.
func (s *JobStore) QueueSnapshot(tenant string) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.queues[tenant]
	out := make([]Job, 0, len(queue))
	for _, j := range queue {
		snap := j.Snapshot()
		snap.Content = nil
		out = append(out, snap)
	}
	return out
}

func (s *JobStore) appendHistoryLocked(serial string, job *Job, stage, detail string) {
	if s.history == nil {
		return
	}
	if detail != "" {
		stage = stage + ":" + detail
	}
	s.history.Append(serial, HistoryEntry{
		Timestamp: time.Now(),
		Tenant:    job.Tenant,
		Stage:     stage,
		Token:     job.Token,
		Customer:  job.CustomerName,
		Order:     job.OrderNumber,
	})
}
