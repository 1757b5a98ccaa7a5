package core

import (
	"container/ring"
	"sync"
	"time"
)

const historyCap = 500

// HistoryEntry is one externally-visible lifecycle event for a serial.
type HistoryEntry struct {
	Timestamp time.Time
	Tenant    string
	Stage     string
	Token     string
	Customer  string
	Order     string
}

// History is a per-serial append-only log bounded to historyCap entries,
// oldest overwritten. Grounded on spec.md §9's note that the source used
// an unbounded prepend-and-truncate pattern that allocates on every
// event; container/ring gives a fixed-size circular buffer with none of
// that churn.
//
// A job is "received" before it has a serial at all — JobStore.Create
// has only a tenant, and the serial is only known once select_for_serial
// offers the job to a printer. pending stashes that first entry by token
// until the job's first real Append tells History which ring it belongs
// in.
type History struct {
	mu      sync.Mutex
	logs    map[string]*ring.Ring   // serial -> ring of *HistoryEntry (nil slots until filled)
	pending map[string]HistoryEntry // token -> stashed "received" entry
}

func NewHistory() *History {
	return &History{
		logs:    make(map[string]*ring.Ring),
		pending: make(map[string]HistoryEntry),
	}
}

// MarkReceived stashes a job's "received" stage until it is offered to
// some serial. Safe to call for a job that never gets there; Discard
// cleans that case up.
func (h *History) MarkReceived(token string, entry HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending[token] = entry
}

// Discard drops a token's stashed "received" entry without ever writing
// it to a ring — used when a job fails before reaching a serial, so it
// has nowhere to be logged.
func (h *History) Discard(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.pending, token)
}

// Append records one event for a serial, first flushing the token's
// stashed "received" entry (if any) so the ring reads
// {received, offered, sent, ...} in order.
func (h *History) Append(serial string, entry HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if received, ok := h.pending[entry.Token]; ok {
		delete(h.pending, entry.Token)
		h.appendLocked(serial, received)
	}
	h.appendLocked(serial, entry)
}

func (h *History) appendLocked(serial string, entry HistoryEntry) {
	r, ok := h.logs[serial]
	if !ok {
		r = ring.New(historyCap)
		h.logs[serial] = r
	}
	r.Value = entry
	h.logs[serial] = r.Next()
}

// Snapshot returns a serial's history in chronological order (oldest
// first). Empty slice if the serial has never had an event recorded.
func (h *History) Snapshot(serial string) []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.logs[serial]
	if !ok {
		return nil
	}

	out := make([]HistoryEntry, 0, historyCap)
	r.Do(func(v interface{}) {
		if v == nil {
			return
		}
		out = append(out, v.(HistoryEntry))
	})
	return out
}
