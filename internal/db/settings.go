package db

import "database/sql"

// GetSetting returns a stored value, or ("", false) if the key has never
// been set. Grounded on the teacher's Settings operations
// (internal/db/operations.go), trimmed to the two calls the admin auth
// middleware needs: the persisted JWT secret and the admin password hash,
// whose presence is what marks initial setup as complete.
func (d *DB) GetSetting(key string) (string, bool, error) {
	var value string
	err := d.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetSetting upserts a key/value pair.
func (d *DB) SetSetting(key, value string) error {
	_, err := d.conn.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}
