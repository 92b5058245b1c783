package backup

import (
	"fmt"
	"time"

	"codegraphix.dev/engine/db/bolt"
)

const tokenBucket = "restore_tokens"

// tokenRecord is the bbolt-persisted form of a RestoreToken.
type tokenRecord struct {
	Token            string    `json:"token"`
	BackupID         string    `json:"backupId"`
	IssuedAt         time.Time `json:"issuedAt"`
	ExpiresAt        time.Time `json:"expiresAt"`
	RequestedBy      string    `json:"requestedBy"`
	RequiresApproval bool      `json:"requiresApproval"`
	Approved         bool      `json:"approved"`
	ApprovedBy       string    `json:"approvedBy"`
	CanProceed       bool      `json:"canProceed"`
	Consumed         bool      `json:"consumed"`
}

// TokenStore keeps issued restore tokens in a local bbolt index so
// single-use/expiry enforcement never round-trips to Postgres on an apply
// call, grounded on db/bolt/bolt.go's CreateBucket/PutJSON/GetJSON/Delete
// generic KV wrapper.
type TokenStore struct {
	db *bolt.DB
}

// NewTokenStore opens (creating if needed) the bbolt file at path and
// ensures the restore-tokens bucket exists.
func NewTokenStore(path string) (*TokenStore, error) {
	db, err := bolt.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open restore token store: %w", err)
	}
	if err := db.CreateBucket(tokenBucket); err != nil {
		return nil, err
	}
	return &TokenStore{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (t *TokenStore) Close() error { return t.db.Close() }

// Issue persists a freshly-minted token.
func (t *TokenStore) Issue(tok RestoreToken) error {
	rec := tokenRecord{
		Token: tok.Token, BackupID: tok.BackupID, IssuedAt: tok.IssuedAt, ExpiresAt: tok.ExpiresAt,
		RequestedBy: tok.RequestedBy, RequiresApproval: tok.RequiresApproval, Approved: tok.Approved,
		ApprovedBy: tok.ApprovedBy, CanProceed: tok.CanProceed, Consumed: tok.Consumed,
	}
	return t.db.PutJSON(tokenBucket, tok.Token, rec)
}

// Get looks up a token by value.
func (t *TokenStore) Get(token string) (*RestoreToken, error) {
	var rec tokenRecord
	if err := t.db.GetJSON(tokenBucket, token, &rec); err != nil {
		return nil, err
	}
	return &RestoreToken{
		Token: rec.Token, BackupID: rec.BackupID, IssuedAt: rec.IssuedAt, ExpiresAt: rec.ExpiresAt,
		RequestedBy: rec.RequestedBy, RequiresApproval: rec.RequiresApproval, Approved: rec.Approved,
		ApprovedBy: rec.ApprovedBy, CanProceed: rec.CanProceed, Consumed: rec.Consumed,
	}, nil
}

// Approve marks a token approved, required when requireSecondApproval is set.
func (t *TokenStore) Approve(token, approvedBy string) error {
	tok, err := t.Get(token)
	if err != nil {
		return err
	}
	tok.Approved = true
	tok.ApprovedBy = approvedBy
	return t.Issue(*tok)
}

// Consume marks a token single-used, refusing a second apply against it.
func (t *TokenStore) Consume(token string) error {
	tok, err := t.Get(token)
	if err != nil {
		return err
	}
	tok.Consumed = true
	return t.Issue(*tok)
}

// Delete removes a token once it is no longer needed (consumed or expired).
func (t *TokenStore) Delete(token string) error {
	return t.db.Delete(tokenBucket, token)
}
