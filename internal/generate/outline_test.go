package generate

import (
	"context"
	"testing"

	"docdelta/internal/chunk"
	"docdelta/internal/impact"
	"docdelta/internal/merge"
	"docdelta/internal/source"
	"docdelta/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutlineFull(t *testing.T) {
	snap := source.FromMap("c1", map[string][]byte{
		"svc/a.py": []byte("aaaaaaaa"),
		"svc/b.py": []byte("bbbb"),
		"main.py":  []byte("m"),
	}, nil)

	req := &Request{
		Mode:  impact.StrategyFull,
		Chunk: chunk.Chunk{ID: "c1", Group: chunk.AllGroup, Paths: []string{"main.py", "svc/a.py", "svc/b.py"}, Tokens: 4},
		Files: snap.Files,
	}
	u, err := (&Outline{GroupDepth: 1}).Generate(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, u.New, 2)
	assert.Equal(t, ".", u.New[0].Name)
	assert.Equal(t, []string{"main.py"}, u.New[0].Files)
	assert.Equal(t, "svc", u.New[1].Name)
	assert.Equal(t, []string{"svc/a.py", "svc/b.py"}, u.New[1].Files)
	assert.Contains(t, u.New[1].Chapter, "- svc/a.py (~2 tokens)")
	assert.Empty(t, u.Abstractions)
	assert.Equal(t, "3 file(s), 4 estimated tokens", u.Sections[chunk.AllGroup])

	next, err := merge.Rebuild(u)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, next.Live())
}

func TestOutlineSelective(t *testing.T) {
	prev := state.New("c0")
	prev.Abstractions = []*state.Abstraction{
		{Index: 0, Name: "svc", Files: []string{"svc/a.py", "svc/b.py"}},
		{Index: 1, Name: "web", Files: []string{"web/x.py"}},
		{Index: 2, Name: "gone", Files: []string{"old.py"}},
	}
	prev.Relationships = []state.Relationship{{From: 1, To: 0, Label: "calls"}}

	current := map[string]state.FileRecord{
		"svc/a.py": {Hash: "a2"},
		"svc/b.py": {Hash: "b1"},
		"web/x.py": {Hash: "x1"},
		"new/n.py": {Hash: "n1"},
	}
	snap := source.FromMap("c1", map[string][]byte{
		"svc/a.py": []byte("a2"),
		"svc/b.py": []byte("b1"),
		"web/x.py": []byte("x1"),
		"new/n.py": []byte("n1"),
	}, nil)
	files := []source.File{}
	for _, p := range []string{"new/n.py", "svc/a.py", "svc/b.py"} {
		f, ok := snap.Lookup(p)
		require.True(t, ok)
		files = append(files, f)
	}

	rep := &impact.Report{Affected: []int{0, 2}, Orphaned: []int{2}, Strategy: impact.StrategySelective}
	req := &Request{
		Mode:     impact.StrategySelective,
		Chunk:    chunk.Chunk{ID: "c1", Group: chunk.AllGroup, Paths: []string{"new/n.py", "svc/a.py", "svc/b.py"}},
		Files:    files,
		Affected: rep.Affected,
		Orphaned: rep.Orphaned,
		Previous: prev,
		Current:  current,
	}

	u, err := (&Outline{GroupDepth: 1}).Generate(context.Background(), req)
	require.NoError(t, err)

	require.Contains(t, u.Abstractions, 0)
	assert.NotContains(t, u.Abstractions, 2, "orphans are never regenerated")
	assert.Equal(t, []string{"svc/a.py", "svc/b.py"}, u.Abstractions[0].Files)
	require.Len(t, u.New, 1)
	assert.Equal(t, "new", u.New[0].Name)

	next, res, err := merge.Merge(prev, u, rep)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, res.Replaced)
	assert.Equal(t, []int{2}, res.Dropped)
	assert.Equal(t, []int{3}, res.Appended)
	assert.Nil(t, next.Abstractions[2])
	assert.Equal(t, "web", next.Abstractions[1].Name)
	// web -> svc is superseded because svc was replaced.
	assert.Empty(t, next.Relationships)
}

func TestOutlineCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&Outline{}).Generate(ctx, &Request{})
	assert.ErrorIs(t, err, context.Canceled)
}
