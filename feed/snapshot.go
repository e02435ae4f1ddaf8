package feed

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

var snapshotPrefix = []byte("feed/")

// ErrNoSnapshot is returned by Latest when the store holds no feed.
var ErrNoSnapshot = errors.New("no feed snapshot stored")

// SnapshotStore keeps the most recent raw feed fetches on disk so the tracker
// can start without network access. Only feed text is stored, never derived
// positions.
type SnapshotStore struct {
	db       *badger.DB
	maxKeeps int
}

// OpenSnapshotStore opens (or creates) a badger database in dir, keeping at
// most maxKeeps snapshots (default 5).
func OpenSnapshotStore(dir string, maxKeeps int) (*SnapshotStore, error) {
	return openSnapshotStore(badger.DefaultOptions(dir), maxKeeps)
}

// OpenInMemorySnapshotStore opens a store that lives only for the process.
func OpenInMemorySnapshotStore(maxKeeps int) (*SnapshotStore, error) {
	return openSnapshotStore(badger.DefaultOptions("").WithInMemory(true), maxKeeps)
}

func openSnapshotStore(opts badger.Options, maxKeeps int) (*SnapshotStore, error) {
	if maxKeeps <= 0 {
		maxKeeps = 5
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot store: %w", err)
	}
	return &SnapshotStore{db: db, maxKeeps: maxKeeps}, nil
}

// Close releases the underlying database.
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

// Put stores raw feed text fetched at fetchedAt and prunes old snapshots.
func (s *SnapshotStore) Put(raw []byte, fetchedAt time.Time) error {
	key := snapshotKey(fetchedAt)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, raw)
	}); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return s.prune()
}

// Latest returns the newest snapshot and the time it was fetched.
func (s *SnapshotStore) Latest() ([]byte, time.Time, error) {
	var (
		raw []byte
		ts  time.Time
	)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = snapshotPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(append([]byte{}, snapshotPrefix...), 0xFF)
		it.Seek(seek)
		if !it.ValidForPrefix(snapshotPrefix) {
			return ErrNoSnapshot
		}
		item := it.Item()
		ts = keyTime(item.Key())
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		raw = v
		return nil
	})
	if err != nil {
		return nil, time.Time{}, err
	}
	return raw, ts, nil
}

// Count returns the number of stored snapshots.
func (s *SnapshotStore) Count() (int, error) {
	keys, err := s.keys()
	return len(keys), err
}

func (s *SnapshotStore) keys() ([][]byte, error) {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = snapshotPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	return keys, err
}

// prune removes the oldest snapshots beyond maxKeeps. Keys sort by time.
func (s *SnapshotStore) prune() error {
	keys, err := s.keys()
	if err != nil {
		return fmt.Errorf("listing snapshots: %w", err)
	}
	if len(keys) <= s.maxKeeps {
		return nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys[:len(keys)-s.maxKeeps] {
		if err := wb.Delete(k); err != nil {
			return fmt.Errorf("pruning snapshot: %w", err)
		}
	}
	return wb.Flush()
}

func snapshotKey(t time.Time) []byte {
	key := make([]byte, len(snapshotPrefix)+8)
	copy(key, snapshotPrefix)
	binary.BigEndian.PutUint64(key[len(snapshotPrefix):], uint64(t.UnixNano()))
	return key
}

func keyTime(key []byte) time.Time {
	if len(key) < len(snapshotPrefix)+8 {
		return time.Time{}
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(key[len(snapshotPrefix):]))).UTC()
}
