package state

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"docdelta/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState(commit string) *DocState {
	s := New(commit)
	s.Files["a.py"] = FileRecord{Path: "a.py", Hash: "h-a", Tokens: 10, Size: 40, Exact: false}
	s.Files["b.py"] = FileRecord{Path: "b.py", Hash: "h-b", Tokens: 20, Size: 80}
	s.Abstractions = []*Abstraction{
		{Index: 0, Name: "Parser", Files: []string{"a.py"}},
		nil,
		{Index: 2, Name: "Runner", Files: []string{"a.py", "b.py"}, Chapter: "# Runner"},
	}
	s.Relationships = []Relationship{{From: 0, To: 2, Label: "feeds"}}
	s.Sections["."] = "overview"
	return s
}

func TestDocStateQueries(t *testing.T) {
	s := sampleState("c1")

	assert.True(t, s.Compatible())
	assert.Equal(t, []int{0, 2}, s.Live())
	assert.Equal(t, 3, s.NextIndex())
	assert.False(t, s.IsLive(1))
	assert.False(t, s.IsLive(-1))
	assert.False(t, s.IsLive(3))
	assert.Equal(t, map[string][]int{"a.py": {0, 2}, "b.py": {2}}, s.FileOwners())
	assert.Equal(t, []string{"a.py", "b.py"}, s.Paths())

	var nilState *DocState
	assert.False(t, nilState.Compatible())
}

func TestDocStateClone(t *testing.T) {
	s := sampleState("c1")
	c := s.Clone()

	c.Abstractions[0].Files[0] = "z.py"
	c.Files["a.py"] = FileRecord{Hash: "other"}
	c.Relationships[0].Label = "changed"

	assert.Equal(t, "a.py", s.Abstractions[0].Files[0])
	assert.Equal(t, "h-a", s.Files["a.py"].Hash)
	assert.Equal(t, "feeds", s.Relationships[0].Label)
	assert.Nil(t, c.Abstractions[1])
}

func TestDocStateValidate(t *testing.T) {
	assert.NoError(t, sampleState("c1").Validate())

	tests := []struct {
		name   string
		mutate func(s *DocState)
	}{
		{"dangling to tombstone", func(s *DocState) {
			s.Relationships = append(s.Relationships, Relationship{From: 0, To: 1, Label: "x"})
		}},
		{"dangling out of range", func(s *DocState) {
			s.Relationships = append(s.Relationships, Relationship{From: 7, To: 0, Label: "x"})
		}},
		{"duplicate triple", func(s *DocState) {
			s.Relationships = append(s.Relationships, Relationship{From: 0, To: 2, Label: "feeds"})
		}},
		{"index mismatch", func(s *DocState) {
			s.Abstractions[2].Index = 5
		}},
		{"missing hash", func(s *DocState) {
			s.Files["c.py"] = FileRecord{}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sampleState("c1")
			tt.mutate(s)
			err := s.Validate()
			assert.ErrorIs(t, err, errors.Consistency)
		})
	}
}

func TestDecodeSchemaMismatch(t *testing.T) {
	s, err := Decode([]byte(`{"schema_version": 1, "commit": "old", "files": {"a.py": {"hash": "x"}}}`))
	require.NoError(t, err)
	assert.Equal(t, 1, s.SchemaVersion)
	assert.False(t, s.Compatible())
	assert.Empty(t, s.Commit)
	assert.Empty(t, s.Files)

	_, err = Decode([]byte(`not json`))
	assert.ErrorIs(t, err, errors.Baseline)
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "nested", "state.json"))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	want := sampleState("c1")
	require.NoError(t, store.Save(ctx, want))

	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.Commit, loaded.Commit)
	assert.Equal(t, want.Abstractions, loaded.Abstractions)
	assert.Equal(t, want.Relationships, loaded.Relationships)
	assert.Equal(t, "a.py", loaded.Files["a.py"].Path)
	assert.Equal(t, want.Files["b.py"], loaded.Files["b.py"])

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Join(dir, "nested"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"schema_version": 2`))
	assert.True(t, strings.Contains(string(data), "null"), "tombstone should persist as null")
}

func TestFileStoreRefusesInvalidState(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, store.Save(ctx, sampleState("good")))

	bad := sampleState("bad")
	bad.Relationships = append(bad.Relationships, Relationship{From: 0, To: 9, Label: "x"})
	err := store.Save(ctx, bad)
	assert.ErrorIs(t, err, errors.Consistency)

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "good", loaded.Commit)
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0644))

	_, err := NewFileStore(path).Load(context.Background())
	assert.ErrorIs(t, err, errors.Baseline)
}

func TestBadgerStore(t *testing.T) {
	ctx := context.Background()
	store, err := OpenBadgerStore("")
	require.NoError(t, err)
	defer store.Close()

	clock := time.Unix(1700000000, 0)
	store.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	first := sampleState("c1")
	// Large enough to cross the compression threshold.
	first.Abstractions[0].Description = strings.Repeat("parser ", 400)
	require.NoError(t, store.Save(ctx, first))
	require.NoError(t, store.Save(ctx, sampleState("c2")))

	loaded, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c2", loaded.Commit)

	history, err := store.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "c2", history[0].Commit)
	assert.Equal(t, "c1", history[1].Commit)

	old, err := store.LoadCommit(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, first.Abstractions[0].Description, old.Abstractions[0].Description)

	_, err = store.LoadCommit(ctx, "nope")
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	s, err := Open("file", filepath.Join(t.TempDir(), "s.json"))
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	_, err = Open("sqlite", "x")
	assert.Error(t, err)
}
