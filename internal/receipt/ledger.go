package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const orphanBucketName = "orphans"

// ErrEmptyOrphanKey is returned when recording an orphan without a key
var ErrEmptyOrphanKey = errors.New("orphan key is required")

// Orphan is an uploaded object no record references and whose cleanup failed
type Orphan struct {
	Key       string    `json:"key"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// Ledger defines the interface for orphan bookkeeping
type Ledger interface {
	// RecordOrphan remembers an object key for a later sweep
	RecordOrphan(key, reason string) error

	// ListOrphans returns all recorded orphans ordered by key
	ListOrphans() ([]*Orphan, error)

	// RemoveOrphan forgets an orphan after it was deleted
	RemoveOrphan(key string) error

	// Close closes the ledger
	Close() error
}

// BoltLedger implements the Ledger interface using BoltDB
type BoltLedger struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewBoltLedger opens (or creates) the ledger file at path
func NewBoltLedger(path string) (*BoltLedger, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(orphanBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltLedger{db: db, now: time.Now}, nil
}

// RecordOrphan saves an orphan. Recording the same key again keeps the
// original timestamp and replaces the reason.
func (b *BoltLedger) RecordOrphan(key, reason string) error {
	if key == "" {
		return ErrEmptyOrphanKey
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(orphanBucketName))

		orphan := Orphan{Key: key, Reason: reason, CreatedAt: b.now().UTC()}
		if existing := bucket.Get([]byte(key)); existing != nil {
			var prev Orphan
			if err := json.Unmarshal(existing, &prev); err == nil {
				orphan.CreatedAt = prev.CreatedAt
			}
		}

		data, err := json.Marshal(orphan)
		if err != nil {
			return fmt.Errorf("marshaling orphan: %w", err)
		}
		return bucket.Put([]byte(key), data)
	})
}

// ListOrphans returns all orphans
func (b *BoltLedger) ListOrphans() ([]*Orphan, error) {
	orphans := make([]*Orphan, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(orphanBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var orphan Orphan
			if err := json.Unmarshal(v, &orphan); err != nil {
				return fmt.Errorf("unmarshaling orphan %s: %w", k, err)
			}
			orphans = append(orphans, &orphan)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return orphans, nil
}

// RemoveOrphan removes an orphan from the ledger
func (b *BoltLedger) RemoveOrphan(key string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(orphanBucketName))
		return bucket.Delete([]byte(key))
	})
}

// Close closes the database connection
func (b *BoltLedger) Close() error {
	return b.db.Close()
}
