package db

import (
	"github.com/orrn/cloudprnt/internal/audit"
)

// InsertAuditEvent implements audit.Writer. Grounded on the teacher's
// AuditLog operations (internal/db/operations.go): a flat insert with no
// upsert semantics, since audit rows are append-only.
func (d *DB) InsertAuditEvent(e audit.Event) error {
	_, err := d.conn.Exec(`
		INSERT INTO audit_log (correlation_id, occurred_at, kind, tenant, serial, token, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Time, e.Kind, e.Tenant, e.Serial, e.Token, e.Detail)
	return err
}

// AuditRecord is a row read back from the audit trail.
type AuditRecord struct {
	ID            int64
	CorrelationID string
	Time          string
	Kind          string
	Tenant        string
	Serial        string
	Token         string
	Detail        string
}

// RecentAuditEvents returns up to limit rows, most recent first.
func (d *DB) RecentAuditEvents(limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.conn.Query(`
		SELECT id, correlation_id, occurred_at, kind, tenant, serial, token, detail
		FROM audit_log ORDER BY occurred_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var r AuditRecord
		if err := rows.Scan(&r.ID, &r.CorrelationID, &r.Time, &r.Kind, &r.Tenant, &r.Serial, &r.Token, &r.Detail); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
