package auth

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Credential is a stored long-lived refresh credential for one merchant
// in one marketplace. The application identity has its own credential
// supplied via environment, not this store.
type Credential struct {
	MerchantID   string
	Marketplace  string
	RefreshToken string
	Connected    bool
	UpdatedAt    time.Time
}

// CredentialStore handles merchant credential persistence in SQLite.
type CredentialStore struct {
	db *sql.DB
}

// NewCredentialStore creates a store backed by the given SQL database.
func NewCredentialStore(db *sql.DB) *CredentialStore {
	return &CredentialStore{db: db}
}

func normalizeMerchantID(id string) string {
	return strings.TrimSpace(id)
}

// Save stores or updates a merchant credential.
func (s *CredentialStore) Save(cred *Credential) error {
	if cred == nil {
		return fmt.Errorf("nil credential")
	}
	id := normalizeMerchantID(cred.MerchantID)
	if id == "" {
		return fmt.Errorf("empty merchant id")
	}
	connected := 0
	if cred.Connected {
		connected = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO merchant_credential (merchant_id, marketplace, refresh_token, connected, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(merchant_id, marketplace) DO UPDATE SET
			refresh_token = excluded.refresh_token,
			connected = excluded.connected,
			updated_at = excluded.updated_at`,
		id, cred.Marketplace, cred.RefreshToken, connected, time.Now().Unix())
	return err
}

// Get returns the credential for (merchantID, marketplace), or nil if none.
func (s *CredentialStore) Get(merchantID, marketplace string) *Credential {
	id := normalizeMerchantID(merchantID)

	var cred Credential
	var connected int
	var updated int64
	err := s.db.QueryRow(`
		SELECT merchant_id, marketplace, refresh_token, connected, updated_at
		FROM merchant_credential
		WHERE merchant_id = ? AND marketplace = ?`, id, marketplace).
		Scan(&cred.MerchantID, &cred.Marketplace, &cred.RefreshToken, &connected, &updated)
	if err != nil {
		return nil
	}
	cred.Connected = connected == 1
	cred.UpdatedAt = time.Unix(updated, 0)
	return &cred
}

// Disconnect marks a merchant credential as no longer usable without
// deleting the row, preserving the connection history.
func (s *CredentialStore) Disconnect(merchantID, marketplace string) error {
	res, err := s.db.Exec(`
		UPDATE merchant_credential SET connected = 0, updated_at = ?
		WHERE merchant_id = ? AND marketplace = ?`,
		time.Now().Unix(), normalizeMerchantID(merchantID), marketplace)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("credential not found")
	}
	return nil
}

// Delete removes a merchant credential.
func (s *CredentialStore) Delete(merchantID, marketplace string) {
	s.db.Exec(`DELETE FROM merchant_credential WHERE merchant_id = ? AND marketplace = ?`,
		normalizeMerchantID(merchantID), marketplace)
}
