package core

import "sync"

// ConfigEntry is one (tenant, serial) pair as emitted by the config
// source (§4.H). The Device Registry inverts these into serial -> tenant
// lists.
type ConfigEntry struct {
	Tenant string
	Serial string
}

// DeviceRegistry resolves a device serial to the ordered list of tenants
// it serves, and hands out round-robin cursors for fair offering across
// those tenants. Modeled on the teacher's printer table
// (map + sync.RWMutex, bulk-loaded and swapped wholesale) but inverted:
// the teacher keyed printers by numeric id and never had a many-tenants-
// per-device fan-out, so ReplaceAll and the cursor bookkeeping here are
// new.
type DeviceRegistry struct {
	mu       sync.RWMutex
	tenants  map[string][]string // serial -> ordered tenant list
	cursors  map[string]int      // serial -> next round-robin index
}

func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{
		tenants: make(map[string][]string),
		cursors: make(map[string]int),
	}
}

// TenantsFor returns the ordered tenant list for a serial, or nil if the
// serial is unknown. The returned slice is a copy; callers may not
// mutate registry state through it.
func (r *DeviceRegistry) TenantsFor(serial string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tenantsLocked(serial)
}

func (r *DeviceRegistry) tenantsLocked(serial string) []string {
	list, ok := r.tenants[serial]
	if !ok {
		return nil
	}
	out := make([]string, len(list))
	copy(out, list)
	return out
}

// TenantsAndIndex returns a serial's tenant list and round-robin cursor
// as one consistent snapshot, both read under a single registry-lock
// acquisition. select_for_serial (jobstore.go) uses this instead of a
// separate TenantsFor+NextIndex pair so a concurrent ReplaceAll can't be
// observed mid-swap — half against the old tenant list, half against a
// cursor already reset for the new one.
func (r *DeviceRegistry) TenantsAndIndex(serial string) ([]string, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tenantsLocked(serial), r.cursors[serial]
}

// Known reports whether a serial has any tenant mapping at all.
func (r *DeviceRegistry) Known(serial string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tenants[serial]
	return ok
}

// Serials returns every configured serial, in no particular order.
func (r *DeviceRegistry) Serials() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tenants))
	for s := range r.tenants {
		out = append(out, s)
	}
	return out
}

// NextIndex returns the current round-robin index for a serial (0 if
// never offered before or unknown). select_for_serial prefers
// TenantsAndIndex, which reads the same cursor alongside the tenant
// list in one acquisition; NextIndex remains for callers that only need
// the cursor.
func (r *DeviceRegistry) NextIndex(serial string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cursors[serial]
}

// SetIndex overwrites the round-robin cursor for a serial. Called under
// the JobStore's lock during selection (see jobstore.go), not just the
// registry's own lock, so that a single JobStore.mu acquisition covers
// "read cursor+tenants, scan, maybe bump cursor" atomically with respect
// to other selections for the same serial. It still takes the registry
// lock internally because the cursor map lives here, which is what
// serializes it against ReplaceAll.
func (r *DeviceRegistry) SetIndex(serial string, idx int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursors[serial] = idx
}

// ReplaceAll atomically swaps the full tenant mapping. Per an
// unresolved ambiguity in the source spec (documented in SPEC_FULL.md
// §9), a serial's round-robin cursor is preserved only when its tenant
// list is unchanged (same tenants, same order); any change at all resets
// the cursor to 0, which is always a legal value regardless of the new
// list's length.
func (r *DeviceRegistry) ReplaceAll(entries []ConfigEntry) {
	next := make(map[string][]string)
	for _, e := range entries {
		next[e.Serial] = append(next[e.Serial], e.Tenant)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	nextCursors := make(map[string]int, len(next))
	for serial, list := range next {
		if sameOrder(r.tenants[serial], list) {
			nextCursors[serial] = r.cursors[serial]
		} else {
			nextCursors[serial] = 0
		}
	}

	r.tenants = next
	r.cursors = nextCursors
}

func sameOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
