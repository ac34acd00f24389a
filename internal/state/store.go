package state

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"docdelta/internal/errors"
	"docdelta/internal/storage"

	"github.com/dgraph-io/badger/v4"
)

// Store persists DocState. Load returns (nil, nil) when nothing has been
// saved yet; a state with another schema version is returned header-only.
// Save never writes a state that fails Validate.
type Store interface {
	Load(ctx context.Context) (*DocState, error)
	Save(ctx context.Context, s *DocState) error
	Close() error
}

// Historian is implemented by stores that archive past states.
type Historian interface {
	History(ctx context.Context) ([]HistoryEntry, error)
	LoadCommit(ctx context.Context, commit string) (*DocState, error)
}

// Open picks a backend by name ("file" or "badger").
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", "file":
		return NewFileStore(path), nil
	case "badger":
		return OpenBadgerStore(path)
	default:
		return nil, fmt.Errorf("unknown state backend %q", backend)
	}
}

// FileStore keeps the state as one JSON document, replaced atomically.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Path() string { return f.path }

func (f *FileStore) Load(ctx context.Context) (*DocState, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.BaselineError(err, "reading state %s", f.path)
	}
	return Decode(data)
}

// Save writes to a temp file in the target directory, syncs it and renames
// it over the old state, so a crash leaves either the old or the new state.
func (f *FileStore) Save(ctx context.Context, s *DocState) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp state: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("writing temp state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("syncing temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing temp state: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		cleanup()
		return fmt.Errorf("replacing state: %w", err)
	}
	return nil
}

func (f *FileStore) Close() error { return nil }

const (
	currentKey    = "current"
	historyPrefix = "history:"
)

// HistoryEntry identifies an archived state.
type HistoryEntry struct {
	Commit  string    `json:"commit"`
	SavedAt time.Time `json:"saved_at"`
	key     string
}

// BadgerStore keeps the current state plus a compressed archive of every
// saved state.
type BadgerStore struct {
	db    *badger.DB
	kv    *storage.BadgerStore
	codec *compressor
	now   func() time.Time
}

// OpenBadgerStore opens (or creates) a database directory at path; an empty
// path keeps everything in memory.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	db, err := storage.OpenDB(path)
	if err != nil {
		return nil, err
	}
	store, err := NewBadgerStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func NewBadgerStore(db *badger.DB) (*BadgerStore, error) {
	codec, err := newCompressor(1024, 3)
	if err != nil {
		return nil, fmt.Errorf("initializing compression: %w", err)
	}
	return &BadgerStore{
		db:    db,
		kv:    storage.NewBadgerStore(db, "docstate"),
		codec: codec,
		now:   time.Now,
	}, nil
}

func (b *BadgerStore) Load(ctx context.Context) (*DocState, error) {
	data, err := b.kv.Get(currentKey)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.BaselineError(err, "reading current state")
	}
	return Decode(data)
}

// Save writes the current state and its archive entry in one transaction.
func (b *BadgerStore) Save(ctx context.Context, s *DocState) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	key := fmt.Sprintf("%s%020d:%s", historyPrefix, b.now().UnixNano(), s.Commit)
	return b.kv.PutAll(map[string][]byte{
		currentKey: data,
		key:        b.codec.compress(data),
	})
}

// History lists archived states, newest first.
func (b *BadgerStore) History(ctx context.Context) ([]HistoryEntry, error) {
	keys, err := b.kv.Keys(historyPrefix)
	if err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(keys))
	for _, k := range keys {
		rest := strings.TrimPrefix(k, historyPrefix)
		ts, commit, ok := strings.Cut(rest, ":")
		if !ok {
			continue
		}
		var nanos int64
		if _, err := fmt.Sscanf(ts, "%d", &nanos); err != nil {
			continue
		}
		entries = append(entries, HistoryEntry{
			Commit:  commit,
			SavedAt: time.Unix(0, nanos).UTC(),
			key:     k,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].SavedAt.After(entries[j].SavedAt) })
	return entries, nil
}

// LoadCommit returns the most recent archived state saved for commit.
func (b *BadgerStore) LoadCommit(ctx context.Context, commit string) (*DocState, error) {
	entries, err := b.History(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Commit != commit {
			continue
		}
		raw, err := b.kv.Get(e.key)
		if err != nil {
			return nil, err
		}
		data, err := b.codec.decompress(raw)
		if err != nil {
			return nil, fmt.Errorf("decompressing state: %w", err)
		}
		return Decode(data)
	}
	return nil, errors.NotFound(fmt.Sprintf("no archived state for commit %s", commit))
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}
