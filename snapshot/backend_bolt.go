package snapshot

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// boltBackend keeps each keyspace in a root bucket of a Bolt file.
type boltBackend struct {
	db *bbolt.DB
}

func openBolt(path string, opt Options) (*boltBackend, error) {
	bopt := *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.Timeout != 0 {
		bopt.Timeout = opt.Timeout
	}
	bopt.ReadOnly = opt.ReadOnly
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
	} else {
		bopt.FreelistType = bbolt.FreelistMapType
	}

	db, err := bbolt.Open(path, 0o666, &bopt)
	if err != nil {
		return nil, errorf("%w", err)
	}
	if !opt.ReadOnly {
		err = db.Update(func(btx *bbolt.Tx) error {
			for _, ks := range keyspaces {
				if _, err := btx.CreateBucketIfNotExists([]byte(ks)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			db.Close()
			return nil, errorf("preparing buckets: %w", err)
		}
	}
	return &boltBackend{db: db}, nil
}

func (b *boltBackend) View(f func(tx backendTx) error) error {
	return b.db.View(func(btx *bbolt.Tx) error {
		tx, err := newBoltTx(btx)
		if err != nil {
			return err
		}
		return f(tx)
	})
}

func (b *boltBackend) Update(f func(tx backendTx) error) error {
	return b.db.Update(func(btx *bbolt.Tx) error {
		tx, err := newBoltTx(btx)
		if err != nil {
			return err
		}
		return f(tx)
	})
}

func (b *boltBackend) Size() (int64, error) {
	var n int64
	err := b.db.View(func(btx *bbolt.Tx) error {
		n = btx.Size()
		return nil
	})
	return n, err
}

func (b *boltBackend) Close() error {
	return b.db.Close()
}

type boltTx struct {
	buckets map[keyspace]*bbolt.Bucket
}

// newBoltTx fails when the file was never opened for writing, which leaves it
// without buckets.
func newBoltTx(btx *bbolt.Tx) (*boltTx, error) {
	tx := &boltTx{buckets: make(map[keyspace]*bbolt.Bucket, len(keyspaces))}
	for _, ks := range keyspaces {
		b := btx.Bucket([]byte(ks))
		if b == nil {
			return nil, fmt.Errorf("snapshot: %s is not a snapshot store (no %q bucket)", btx.DB().Path(), ks)
		}
		tx.buckets[ks] = b
	}
	return tx, nil
}

func (tx *boltTx) Get(ks keyspace, name string) []byte {
	return tx.buckets[ks].Get([]byte(name))
}

func (tx *boltTx) Put(ks keyspace, name string, value []byte) error {
	return tx.buckets[ks].Put([]byte(name), value)
}

func (tx *boltTx) Delete(ks keyspace, name string) error {
	return tx.buckets[ks].Delete([]byte(name))
}

func (tx *boltTx) Ascend(ks keyspace, from string, f func(name string, value []byte) bool) {
	c := tx.buckets[ks].Cursor()
	for k, v := c.Seek([]byte(from)); k != nil; k, v = c.Next() {
		if !f(string(k), v) {
			break
		}
	}
}

func (tx *boltTx) Len(ks keyspace) int {
	return tx.buckets[ks].Stats().KeyN
}
