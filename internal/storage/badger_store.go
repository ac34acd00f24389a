// internal/storage/badger_store.go
package storage

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

var ErrNotFound = errors.New("key not found")

// BadgerStore is a prefix-scoped byte store over a shared badger database.
type BadgerStore struct {
	db     *badger.DB
	prefix string
}

// OpenDB opens a badger database at path. An empty path opens an in-memory
// database.
func OpenDB(path string) (*badger.DB, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

func NewBadgerStore(db *badger.DB, prefix string) *BadgerStore {
	return &BadgerStore{
		db:     db,
		prefix: prefix,
	}
}

func (s *BadgerStore) makeKey(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", s.prefix, id))
}

func (s *BadgerStore) stripPrefix(key []byte) string {
	return strings.TrimPrefix(string(key), fmt.Sprintf("%s:", s.prefix))
}

func (s *BadgerStore) Get(id string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.makeKey(id))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", id, err)
	}
	return out, nil
}

func (s *BadgerStore) Put(id string, data []byte) error {
	return s.PutAll(map[string][]byte{id: data})
}

// PutAll writes every entry in a single transaction: either all become
// visible or none do.
func (s *BadgerStore) PutAll(entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}
	ids := make([]string, 0, len(entries))
	for id := range entries {
		if id == "" {
			return fmt.Errorf("entity ID cannot be empty")
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return s.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			if err := txn.Set(s.makeKey(id), entries[id]); err != nil {
				return fmt.Errorf("writing %s: %w", id, err)
			}
		}
		return nil
	})
}

func (s *BadgerStore) Delete(id string) error {
	key := s.makeKey(id)

	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		} else if err != nil {
			return err
		}

		return txn.Delete(key)
	})
}

// Keys lists ids under the store's prefix that start with idPrefix, in key
// order.
func (s *BadgerStore) Keys(idPrefix string) ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := s.makeKey(idPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, s.stripPrefix(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	return ids, nil
}
