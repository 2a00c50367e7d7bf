package snapshot

import "fmt"

// keyspace is a namespace of a backend, mapping snapshot names to bytes.
type keyspace string

const (
	blobs keyspace = "models"
	infos keyspace = "info"
)

var keyspaces = []keyspace{blobs, infos}

// backend keeps the keyspaces of a Store, ordered by name. Update runs f in
// a single atomic write: if f fails, none of its writes are kept.
type backend interface {
	View(f func(tx backendTx) error) error
	Update(f func(tx backendTx) error) error

	// Size is the storage footprint in bytes.
	Size() (int64, error)
	Close() error
}

type backendTx interface {
	// Get returns nil for a missing name. The value must not be used once
	// the transaction is over.
	Get(ks keyspace, name string) []byte
	Put(ks keyspace, name string, value []byte) error
	Delete(ks keyspace, name string) error

	// Ascend visits the names >= from in order until f returns false.
	Ascend(ks keyspace, from string, f func(name string, value []byte) bool)
	Len(ks keyspace) int
}

func errorf(format string, args ...any) error {
	return fmt.Errorf("snapshot: "+format, args...)
}

var (
	errClosed   = errorf("store closed")
	errReadOnly = errorf("read-only transaction")
)
