package objectstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get and Head when the key does not exist.
var ErrNotFound = errors.New("object not found")

// CASOutcome enumerates the result of a conditional write. Conflicts are
// normal outcomes of optimistic concurrency, not errors.
type CASOutcome int

const (
	// Committed means the conditional write succeeded.
	Committed CASOutcome = iota
	// PreconditionFailed means another writer won; re-read and retry.
	PreconditionFailed
	// TransientError means the store could not be reached; retry later.
	TransientError
)

func (o CASOutcome) String() string {
	switch o {
	case Committed:
		return "committed"
	case PreconditionFailed:
		return "precondition-failed"
	case TransientError:
		return "transient-error"
	}
	return fmt.Sprintf("cas-outcome(%d)", int(o))
}

// Object is a fetched object together with the ETag needed for a
// subsequent conditional write.
type Object struct {
	Key          string
	Data         []byte
	ETag         string
	Metadata     map[string]string
	LastModified time.Time
}

// ObjectInfo describes an object returned by List.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store is the object-store capability the fleet coordinates through.
// Implementations must surface ETags on reads and honor If-Match
// preconditions on conditional writes.
type Store interface {
	// Get fetches an object and its ETag. Returns ErrNotFound if absent.
	Get(ctx context.Context, key string) (*Object, error)

	// Put blind-writes an object. Only valid for single-writer keys
	// (heartbeats, per-address solution files).
	Put(ctx context.Context, key string, data []byte, metadata map[string]string) error

	// PutIf conditionally writes an object. A non-empty etag requires the
	// stored object to still carry that ETag (If-Match); an empty etag
	// requires the key to not exist yet (If-None-Match: *).
	PutIf(ctx context.Context, key string, data []byte, etag string) (CASOutcome, error)

	// Head fetches object metadata without the body. Returns ErrNotFound
	// if absent.
	Head(ctx context.Context, key string) (*ObjectInfo, error)

	// List enumerates objects under a key prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Delete removes an object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Well-known keys in the regional bucket.
const (
	KeyRegistry        = "registry.json"
	KeyChallenges      = "challenges.json"
	KeyStats           = "solutions-stats.json"
	KeyMinerCode       = "miner-code.tar.gz"
	PrefixHeartbeats   = "heartbeats/"
	PrefixSolutions    = "solutions/"
)

// HeartbeatKey returns the heartbeat object key for a worker.
func HeartbeatKey(workerID string) string {
	return PrefixHeartbeats + workerID + ".json"
}

// SolutionsKey returns the per-address solutions object key.
func SolutionsKey(address string) string {
	return PrefixSolutions + address + ".json"
}

// BucketName builds the account-qualified regional bucket name,
// <prefix>-<account>-<region>.
func BucketName(prefix, account, region string) string {
	return fmt.Sprintf("%s-%s-%s", prefix, account, region)
}
