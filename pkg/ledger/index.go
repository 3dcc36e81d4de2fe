package ledger

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var bucketSolved = []byte("solved")

// LocalIndex is a worker-local cache of known-solved (address, challenge)
// pairs, backed by BoltDB. The work queue builder consults it on every
// tick; without it each rebuild would re-read every per-address object
// from the bucket. The object store remains the source of truth — the
// index only ever grows and losing it merely costs a re-warm on boot.
type LocalIndex struct {
	db *bolt.DB
}

// OpenLocalIndex opens (or creates) the index database file.
func OpenLocalIndex(path string) (*LocalIndex, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open solutions index: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSolved)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index bucket: %w", err)
	}
	return &LocalIndex{db: db}, nil
}

// Close closes the index database.
func (i *LocalIndex) Close() error {
	return i.db.Close()
}

func pairKey(address, challengeID string) []byte {
	return []byte(address + "/" + challengeID)
}

// MarkSolved records that a solution exists for the pair.
func (i *LocalIndex) MarkSolved(address, challengeID string) error {
	return i.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSolved).Put(pairKey(address, challengeID), []byte{1})
	})
}

// IsSolved reports whether the pair is known solved.
func (i *LocalIndex) IsSolved(address, challengeID string) (bool, error) {
	var solved bool
	err := i.db.View(func(tx *bolt.Tx) error {
		solved = tx.Bucket(bucketSolved).Get(pairKey(address, challengeID)) != nil
		return nil
	})
	return solved, err
}
