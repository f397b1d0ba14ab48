// Package dbutil wraps the embedded badger key-value store used by the
// disk-persistent work queue, the minion/key registries and the event
// store.
package dbutil

import (
	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

type logger struct {
	lg *zap.Logger
}

func (lg *logger) Errorf(format string, args ...interface{})   { lg.lg.Sugar().Errorf(format, args...) }
func (lg *logger) Warningf(format string, args ...interface{}) { lg.lg.Sugar().Warnf(format, args...) }
func (lg *logger) Infof(format string, args ...interface{})    { lg.lg.Sugar().Infof(format, args...) }
func (lg *logger) Debugf(format string, args ...interface{})   { lg.lg.Sugar().Debugf(format, args...) }

// Options configures OpenDB.
type Options struct {
	Dir    string
	Logger *zap.Logger
}

// DB wraps a badger.DB with the narrow set of operations sysinspect's
// storage layers need.
type DB struct {
	db *badger.DB
}

// OpenDB opens (creating if absent) a badger database rooted at opt.Dir.
func OpenDB(opt *Options) (*DB, error) {
	lg := &logger{lg: opt.Logger}
	dbOpts := badger.DefaultOptions(opt.Dir).WithLogger(lg)

	badgerDB, err := badger.Open(dbOpts)
	if err != nil {
		return nil, err
	}
	return &DB{db: badgerDB}, nil
}

// Get fetches the value stored at key, returning badger.ErrKeyNotFound if
// absent.
func (db *DB) Get(key []byte) ([]byte, error) {
	txn := db.db.NewTransaction(false)
	defer txn.Discard()

	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}

	var value []byte
	err = item.Value(func(val []byte) error {
		value = append([]byte(nil), val...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Exists reports whether key is present.
func (db *DB) Exists(key []byte) (bool, error) {
	txn := db.db.NewTransaction(false)
	defer txn.Discard()

	_, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Range iterates, in key order, every entry whose key starts with prefix.
func (db *DB) Range(prefix []byte, fn func(key []byte, value []byte) error) error {
	txn := db.db.NewTransaction(false)
	defer txn.Discard()

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		err := item.Value(func(value []byte) error {
			return fn(item.KeyCopy(nil), value)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// First returns the lexicographically smallest key (and its value) at or
// after prefix, or ok=false if none exists. Since queue keys are fixed-width
// big-endian integers, lexicographic order is numeric order.
func (db *DB) First(prefix []byte) (key, value []byte, ok bool, err error) {
	txn := db.db.NewTransaction(false)
	defer txn.Discard()

	opts := badger.DefaultIteratorOptions
	it := txn.NewIterator(opts)
	defer it.Close()
	it.Seek(prefix)
	if !it.ValidForPrefix(prefix) {
		return nil, nil, false, nil
	}
	item := it.Item()
	k := item.KeyCopy(nil)
	v, err := item.ValueCopy(nil)
	if err != nil {
		return nil, nil, false, err
	}
	return k, v, true, nil
}

// Count returns the number of entries whose key starts with prefix.
func (db *DB) Count(prefix []byte) (int, error) {
	n := 0
	err := db.Range(prefix, func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}

// Set writes key/value in its own transaction.
func (db *DB) Set(key, value []byte) error {
	txn := db.db.NewTransaction(true)
	defer txn.Discard()

	if err := txn.Set(key, value); err != nil {
		return err
	}
	return txn.Commit()
}

// Delete removes key in its own transaction. Deleting an absent key is not
// an error.
func (db *DB) Delete(key []byte) error {
	txn := db.db.NewTransaction(true)
	defer txn.Discard()

	if err := txn.Delete(key); err != nil {
		return err
	}
	return txn.Commit()
}

// ReplaceKey atomically deletes oldKey (if different from newKey) and sets
// newKey to value in a single transaction, so a concurrent reader never
// observes both or neither.
func (db *DB) ReplaceKey(oldKey, newKey, value []byte) error {
	return db.Update(func(txn *badger.Txn) error {
		if string(oldKey) != string(newKey) {
			if err := txn.Delete(oldKey); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
		}
		return txn.Set(newKey, value)
	})
}

// Update runs fn inside a single read-write transaction, retrying once on
// badger's optimistic-concurrency conflict error. ReplaceKey uses it to
// delete and set keys in one transaction.
func (db *DB) Update(fn func(txn *badger.Txn) error) error {
	err := db.db.Update(fn)
	if err == badger.ErrConflict {
		err = db.db.Update(fn)
	}
	return err
}

// View runs fn inside a single read-only transaction.
func (db *DB) View(fn func(txn *badger.Txn) error) error {
	return db.db.View(fn)
}

// NextSequence returns the pre-increment value of the named monotonic
// counter (i.e. the first call returns 0, the second 1, ...), backed by a
// badger Sequence cached in bandSize-sized leases.
func (db *DB) NextSequence(name []byte, bandSize uint64) (uint64, error) {
	seq, err := db.db.GetSequence(name, bandSize)
	if err != nil {
		return 0, err
	}
	defer seq.Release()
	return seq.Next()
}

// Sync flushes all pending writes to stable storage.
func (db *DB) Sync() error { return db.db.Sync() }

// Close releases the database's file locks and background resources.
func (db *DB) Close() error { return db.db.Close() }
