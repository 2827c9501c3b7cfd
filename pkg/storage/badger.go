package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore keeps snapshots in an embedded BadgerDB so published results
// survive daemon restarts. Entries expire after the configured TTL.
type BadgerStore struct {
	db     *badger.DB
	codec  *codec
	ttl    time.Duration
	prefix string

	mu     sync.Mutex
	closed bool
}

// NewBadgerStore opens (or creates) a store in dir. A zero ttl keeps
// snapshots until they are replaced or deleted.
func NewBadgerStore(dir string, ttl time.Duration) (*BadgerStore, error) {
	if dir == "" {
		return nil, errors.New("badger directory cannot be empty")
	}
	if ttl < 0 {
		return nil, errors.New("badger ttl must be >= 0")
	}

	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	c, err := newCodec()
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BadgerStore{
		db:     db,
		codec:  c,
		ttl:    ttl,
		prefix: DefaultKeyPrefix,
	}, nil
}

func (b *BadgerStore) key(cell string) []byte {
	return []byte(b.prefix + cell)
}

// Put stores a snapshot, replacing the previous one of the same cell.
func (b *BadgerStore) Put(ctx context.Context, s Snapshot) error {
	if err := ValidateCellName(s.Cell); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := b.codec.encode(s)
	if err != nil {
		return err
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(b.key(s.Cell), data)
		if b.ttl > 0 {
			e = e.WithTTL(b.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("failed to store snapshot in badger: %w", err)
	}
	return nil
}

// GetLatest retrieves the latest snapshot of a cell.
func (b *BadgerStore) GetLatest(ctx context.Context, cell string) (Snapshot, bool, error) {
	if cell == "" {
		return Snapshot{}, false, errors.New("cell name required")
	}
	if err := ctx.Err(); err != nil {
		return Snapshot{}, false, err
	}

	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key(cell))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("failed to get snapshot from badger: %w", err)
	}

	snapshot, err := b.codec.decode(data)
	if err != nil {
		return Snapshot{}, false, err
	}
	return snapshot, true, nil
}

// Delete removes the snapshot of a cell.
func (b *BadgerStore) Delete(ctx context.Context, cell string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	existed := false
	err := b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(b.key(cell))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		existed = true
		return txn.Delete(b.key(cell))
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete snapshot from badger: %w", err)
	}
	return existed, nil
}

// Close flushes and closes the database. It is safe to call multiple times.
func (b *BadgerStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.codec.close()
	return b.db.Close()
}
