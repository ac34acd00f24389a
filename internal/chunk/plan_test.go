package chunk

import (
	"fmt"
	"sort"
	"testing"

	"docdelta/internal/errors"
	"docdelta/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func file(path string, tokens int) state.FileRecord {
	return state.FileRecord{Path: path, Hash: "h-" + path, Tokens: tokens}
}

// assertPartition checks every input path appears in exactly one chunk and
// every non-oversize chunk fits.
func assertPartition(t *testing.T, files []state.FileRecord, chunks []Chunk, opts Options) {
	t.Helper()
	var want, got []string
	for _, f := range files {
		want = append(want, f.Path)
	}
	for _, c := range chunks {
		got = append(got, c.Paths...)
		if !c.Oversize {
			assert.LessOrEqual(t, c.Tokens+opts.PromptOverhead+opts.Overlap, opts.Budget, "chunk %s over budget", c.ID)
		}
	}
	sort.Strings(want)
	sort.Strings(got)
	assert.Equal(t, want, got)
}

func TestGroupKey(t *testing.T) {
	tests := []struct {
		path  string
		depth int
		want  string
	}{
		{"main.py", 1, "."},
		{"svc/a.py", 1, "svc"},
		{"svc/api/a.py", 1, "svc"},
		{"svc/api/a.py", 2, "svc/api"},
		{"svc/api/a.py", 5, "svc/api"},
		{"svc/a.py", 0, "svc"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GroupKey(tt.path, tt.depth), "%s depth %d", tt.path, tt.depth)
	}
}

func TestStrategyLevel(t *testing.T) {
	for strategy, want := range map[string]Level{"auto": LevelSingle, "single": LevelSingle, "group": LevelGroup, "pack": LevelPack} {
		got, err := StrategyLevel(strategy)
		require.NoError(t, err)
		assert.Equal(t, want, got, strategy)
	}
	_, err := StrategyLevel("random")
	assert.Error(t, err)
}

func TestPlanSingleChunk(t *testing.T) {
	files := []state.FileRecord{file("b.py", 10), file("a.py", 20), file("pkg/c.py", 30)}
	opts := Options{Budget: 100, PromptOverhead: 40}

	chunks, err := Plan(files, opts)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, Chunk{ID: "c1", Group: AllGroup, Paths: []string{"a.py", "b.py", "pkg/c.py"}, Tokens: 60, Level: LevelSingle}, chunks[0])
}

func TestPlanLargeRepository(t *testing.T) {
	// 180k in svc, 70k in web: 250k total against a 140k budget.
	var files []state.FileRecord
	for i := 0; i < 9; i++ {
		files = append(files, file(fmt.Sprintf("svc/mod%d.py", i), 20000))
	}
	files = append(files, file("web/app.js", 35000), file("web/ui.js", 35000))
	opts := Options{Budget: 140000}

	chunks, err := Plan(files, opts)
	require.NoError(t, err)
	assertPartition(t, files, chunks, opts)

	require.Len(t, chunks, 3)
	assert.Equal(t, "svc", chunks[0].Group)
	assert.Equal(t, LevelPack, chunks[0].Level)
	assert.Equal(t, 140000, chunks[0].Tokens)
	assert.Equal(t, "svc", chunks[1].Group)
	assert.Equal(t, 40000, chunks[1].Tokens)
	assert.Equal(t, Chunk{ID: "c3", Group: "web", Paths: []string{"web/app.js", "web/ui.js"}, Tokens: 70000, Level: LevelGroup}, chunks[2])
}

func TestPlanFirstFitDecreasing(t *testing.T) {
	files := []state.FileRecord{
		file("g/a.py", 5), file("g/b.py", 7), file("g/c.py", 3),
		file("g/d.py", 5), file("g/e.py", 2),
	}
	opts := Options{Budget: 10, MinLevel: LevelPack}

	chunks, err := Plan(files, opts)
	require.NoError(t, err)
	assertPartition(t, files, chunks, opts)

	// 7 -> bin0; 5(a) -> bin1; 5(d) -> bin1; 3 -> bin0; 2 -> new bin2.
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"g/b.py", "g/c.py"}, chunks[0].Paths)
	assert.Equal(t, []string{"g/a.py", "g/d.py"}, chunks[1].Paths)
	assert.Equal(t, []string{"g/e.py"}, chunks[2].Paths)
}

func TestPlanOversize(t *testing.T) {
	files := []state.FileRecord{file("huge.py", 500), file("small.py", 10), file("lib/big.py", 200)}
	opts := Options{Budget: 150, PromptOverhead: 50}

	chunks, err := Plan(files, opts)
	require.NoError(t, err)
	assertPartition(t, files, chunks, opts)

	require.Len(t, chunks, 3)
	assert.False(t, chunks[0].Oversize)
	assert.Equal(t, []string{"small.py"}, chunks[0].Paths)
	for _, c := range chunks[1:] {
		assert.True(t, c.Oversize)
		assert.Len(t, c.Paths, 1)
	}
}

func TestPlanRootGroupAndDepth(t *testing.T) {
	files := []state.FileRecord{
		file("main.py", 40), file("svc/api/a.py", 40), file("svc/db/b.py", 40),
	}
	opts := Options{Budget: 100, GroupDepth: 2}

	chunks, err := Plan(files, opts)
	require.NoError(t, err)
	var groups []string
	for _, c := range chunks {
		groups = append(groups, c.Group)
	}
	assert.Equal(t, []string{".", "svc/api", "svc/db"}, groups)
}

func TestPlanDeterministic(t *testing.T) {
	files := []state.FileRecord{
		file("x/a.py", 4), file("x/b.py", 4), file("y/c.py", 9), file("x/d.py", 4), file("z.py", 1),
	}
	reversed := make([]state.FileRecord, len(files))
	for i, f := range files {
		reversed[len(files)-1-i] = f
	}
	opts := Options{Budget: 10}

	a, err := Plan(files, opts)
	require.NoError(t, err)
	b, err := Plan(reversed, opts)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPlanErrors(t *testing.T) {
	_, err := Plan([]state.FileRecord{file("a.py", 1)}, Options{Budget: 100, PromptOverhead: 60, Overlap: 40})
	assert.ErrorIs(t, err, errors.Capacity)

	_, err = Plan([]state.FileRecord{file("a.py", 1), file("a.py", 2)}, Options{Budget: 100})
	assert.ErrorIs(t, err, errors.Consistency)

	chunks, err := Plan(nil, Options{Budget: 100})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestEscalation(t *testing.T) {
	opts := Options{Budget: 140000, PromptOverhead: 2000}
	e := NewEscalation(opts, 3)
	assert.Equal(t, LevelSingle, e.Level)

	var err error
	e, err = e.Next()
	require.NoError(t, err)
	assert.Equal(t, Escalation{Level: LevelGroup, Budget: 71000, Attempt: 1, Max: 3, reserve: 2000}, e)

	e, err = e.Next()
	require.NoError(t, err)
	assert.Equal(t, LevelPack, e.Level)
	assert.Equal(t, 36500, e.Budget)

	e, err = e.Next()
	require.NoError(t, err)
	assert.Equal(t, LevelPack, e.Level, "capped at pack")
	assert.Equal(t, 3, e.Attempt)

	_, err = e.Next()
	assert.ErrorIs(t, err, ErrCannotFit)
	assert.ErrorIs(t, err, errors.Capacity)

	applied := e.Apply(opts)
	assert.Equal(t, 19250, applied.Budget)
	assert.Equal(t, LevelPack, applied.MinLevel)
	assert.Equal(t, 2000, applied.PromptOverhead)
}

func TestEscalationStopsWhenCapacityRunsOut(t *testing.T) {
	e := NewEscalation(Options{Budget: 3000, PromptOverhead: 1500, Overlap: 500}, 10)
	e, err := e.Next()
	require.NoError(t, err)
	assert.Equal(t, 2500, e.Budget, "reserve plus half of 1000")
	assert.Equal(t, 500, e.Apply(Options{PromptOverhead: 1500, Overlap: 500}).Capacity())

	e = NewEscalation(Options{Budget: 2001, PromptOverhead: 2000}, 10)
	_, err = e.Next()
	assert.ErrorIs(t, err, ErrCannotFit)
}

func TestSummarize(t *testing.T) {
	s := Summarize([]Chunk{
		{Paths: []string{"a", "b"}, Tokens: 10},
		{Paths: []string{"c"}, Tokens: 30, Oversize: true},
	})
	assert.Equal(t, Summary{Chunks: 2, Oversize: 1, Files: 3, Tokens: 40, MaxTokens: 30}, s)
}
