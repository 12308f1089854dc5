package db

import (
	"time"
)

// GetCatalog returns a cached catalog payload for (asin, marketplace) if it
// is younger than ttl. The payload is the raw JSON stored by SetCatalog.
func (d *DB) GetCatalog(asin, marketplace string, ttl time.Duration) ([]byte, bool) {
	var payload string
	var updated int64
	err := d.sql.QueryRow(`
		SELECT payload, updated_at FROM catalog_cache
		WHERE asin = ? AND marketplace = ?`, asin, marketplace).Scan(&payload, &updated)
	if err != nil {
		return nil, false
	}
	if time.Since(time.Unix(updated, 0)) > ttl {
		return nil, false
	}
	return []byte(payload), true
}

// SetCatalog stores a catalog payload for (asin, marketplace).
func (d *DB) SetCatalog(asin, marketplace string, payload []byte) {
	d.sql.Exec(`
		INSERT INTO catalog_cache (asin, marketplace, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(asin, marketplace) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		asin, marketplace, string(payload), time.Now().Unix())
}

// GetHistory returns a cached Keepa product payload for (asin, domain)
// if it is younger than ttl.
func (d *DB) GetHistory(asin string, domain int, ttl time.Duration) ([]byte, bool) {
	var payload string
	var updated int64
	err := d.sql.QueryRow(`
		SELECT payload, updated_at FROM history_cache
		WHERE asin = ? AND domain = ?`, asin, domain).Scan(&payload, &updated)
	if err != nil {
		return nil, false
	}
	if time.Since(time.Unix(updated, 0)) > ttl {
		return nil, false
	}
	return []byte(payload), true
}

// SetHistory stores a Keepa product payload for (asin, domain).
func (d *DB) SetHistory(asin string, domain int, payload []byte) {
	d.sql.Exec(`
		INSERT INTO history_cache (asin, domain, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(asin, domain) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		asin, domain, string(payload), time.Now().Unix())
}
