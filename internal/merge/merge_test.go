package merge

import (
	"testing"

	"docdelta/internal/errors"
	"docdelta/internal/impact"
	"docdelta/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseline() *state.DocState {
	s := state.New("c0")
	for i, f := range []string{"a.py", "b.py", "c.py"} {
		s.Files[f] = state.FileRecord{Path: f, Hash: "h-" + f}
		s.Abstractions = append(s.Abstractions, &state.Abstraction{
			Index: i, Name: "abs-" + f, Description: "about " + f, Files: []string{f},
		})
	}
	s.Relationships = []state.Relationship{
		{From: 0, To: 2, Label: "uses"},
		{From: 1, To: 2, Label: "feeds"},
	}
	s.Sections["."] = "root overview"
	return s
}

func report(affected ...int) *impact.Report {
	return &impact.Report{Affected: affected, Strategy: impact.StrategySelective}
}

func TestPendingIndex(t *testing.T) {
	assert.Equal(t, -1, PendingIndex(0))
	assert.Equal(t, -3, PendingIndex(2))
	assert.Equal(t, 2, pendingSlot(PendingIndex(2)))
}

func TestMergeReplacesOnlyAffected(t *testing.T) {
	prev := baseline()
	u := &Update{
		Abstractions: map[int]*state.Abstraction{
			1: {Name: "abs-b2", Description: "rewritten", Files: []string{"b.py"}},
		},
		Relationships: []state.Relationship{{From: 1, To: 0, Label: "calls"}},
		Sections:      map[string]string{"pkg": "pkg text"},
	}

	next, res, err := Merge(prev, u, report(1))
	require.NoError(t, err)

	assert.Equal(t, prev.Abstractions[0], next.Abstractions[0])
	assert.Equal(t, prev.Abstractions[2], next.Abstractions[2])
	assert.Equal(t, &state.Abstraction{Index: 1, Name: "abs-b2", Description: "rewritten", Files: []string{"b.py"}}, next.Abstractions[1])

	// 1->2 superseded, 0->2 preserved, 1->0 added.
	assert.Equal(t, []state.Relationship{
		{From: 0, To: 2, Label: "uses"},
		{From: 1, To: 0, Label: "calls"},
	}, next.Relationships)
	assert.Equal(t, map[string]string{".": "root overview", "pkg": "pkg text"}, next.Sections)

	assert.Equal(t, []int{1}, res.Replaced)
	assert.Empty(t, res.Stale)
	assert.Equal(t, 1, res.RelationshipsRemoved)
	assert.Equal(t, 1, res.RelationshipsAdded)

	// previous untouched
	assert.Equal(t, "abs-b.py", prev.Abstractions[1].Name)
	assert.Len(t, prev.Relationships, 2)
}

func TestMergeAppendsNewWithPendingRefs(t *testing.T) {
	prev := baseline()
	prev.Abstractions = append(prev.Abstractions, nil) // tombstone at 3
	u := &Update{
		Abstractions: map[int]*state.Abstraction{1: {Name: "b", Files: []string{"b.py"}}},
		New: []*state.Abstraction{
			{Name: "fresh", Files: []string{"new.py"}},
			{Name: "fresher", Files: []string{"newer.py"}},
		},
		Relationships: []state.Relationship{
			{From: PendingIndex(0), To: 1, Label: "extends"},
			{From: PendingIndex(1), To: PendingIndex(0), Label: "wraps"},
		},
	}

	next, res, err := Merge(prev, u, report(1))
	require.NoError(t, err)

	assert.Equal(t, []int{4, 5}, res.Appended)
	assert.Equal(t, 4, next.Abstractions[4].Index)
	assert.Nil(t, next.Abstractions[3], "tombstone is never reused")
	assert.Contains(t, next.Relationships, state.Relationship{From: 4, To: 1, Label: "extends"})
	assert.Contains(t, next.Relationships, state.Relationship{From: 5, To: 4, Label: "wraps"})
	assert.NoError(t, next.Validate())
}

func TestMergeDropsOrphans(t *testing.T) {
	prev := baseline()
	r := report(2, 0, 1)
	r.Affected = []int{0, 1, 2}
	r.Orphaned = []int{2}

	next, res, err := Merge(prev, &Update{}, r)
	require.NoError(t, err)

	assert.Nil(t, next.Abstractions[2])
	assert.Equal(t, []int{2}, res.Dropped)
	assert.Equal(t, []int{0, 1}, res.Stale)
	assert.Empty(t, next.Relationships, "relationships to the dropped index are removed")
	assert.Len(t, next.Abstractions, 3)
}

func TestMergeKeepsStale(t *testing.T) {
	prev := baseline()
	next, res, err := Merge(prev, &Update{Abstractions: map[int]*state.Abstraction{0: {Name: "a2"}}}, report(0, 1))
	require.NoError(t, err)
	assert.Equal(t, []int{1}, res.Stale)
	assert.Equal(t, prev.Abstractions[1], next.Abstractions[1])
	// Stale abstractions keep their relationships.
	assert.Contains(t, next.Relationships, state.Relationship{From: 1, To: 2, Label: "feeds"})
	assert.NotContains(t, next.Relationships, state.Relationship{From: 0, To: 2, Label: "uses"})
}

func TestMergeCollapsesDuplicates(t *testing.T) {
	prev := baseline()
	u := &Update{
		Abstractions: map[int]*state.Abstraction{1: {Name: "b"}},
		Relationships: []state.Relationship{
			{From: 1, To: 2, Label: "feeds"},
			{From: 1, To: 2, Label: "feeds"},
			{From: 0, To: 2, Label: "uses"}, // already preserved, touches no affected index
		},
	}
	_, _, err := Merge(prev, u, report(1))
	assert.ErrorIs(t, err, errors.Consistency)

	u.Relationships = u.Relationships[:2]
	next, res, err := Merge(prev, u, report(1))
	require.NoError(t, err)
	assert.Len(t, next.Relationships, 2)
	assert.Equal(t, 1, res.RelationshipsAdded)
}

func TestMergeConsistencyFailures(t *testing.T) {
	tests := []struct {
		name   string
		update *Update
		report *impact.Report
	}{
		{"index out of range", &Update{Abstractions: map[int]*state.Abstraction{7: {Name: "x"}}}, report(7)},
		{"unaffected index", &Update{Abstractions: map[int]*state.Abstraction{0: {Name: "x"}}}, report(1)},
		{"nil replacement", &Update{Abstractions: map[int]*state.Abstraction{1: nil}}, report(1)},
		{"dangling endpoint", &Update{
			Abstractions:  map[int]*state.Abstraction{1: {Name: "x"}},
			Relationships: []state.Relationship{{From: 1, To: 9, Label: "x"}},
		}, report(1)},
		{"missing pending ref", &Update{
			Abstractions:  map[int]*state.Abstraction{1: {Name: "x"}},
			Relationships: []state.Relationship{{From: 1, To: PendingIndex(0), Label: "x"}},
		}, report(1)},
		{"relationship to dropped", &Update{
			Relationships: []state.Relationship{{From: 1, To: 2, Label: "x"}},
		}, &impact.Report{Affected: []int{1, 2}, Orphaned: []int{2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := baseline()
			next, res, err := Merge(prev, tt.update, tt.report)
			assert.ErrorIs(t, err, errors.Consistency)
			assert.Nil(t, next)
			assert.Nil(t, res)
		})
	}
}

func TestMergeTombstoneTarget(t *testing.T) {
	prev := baseline()
	prev.Abstractions = append(prev.Abstractions, nil)
	_, _, err := Merge(prev, &Update{Abstractions: map[int]*state.Abstraction{3: {Name: "x"}}}, report(3))
	assert.ErrorIs(t, err, errors.Consistency)
}

func TestMergeNeedsBaseline(t *testing.T) {
	_, _, err := Merge(nil, &Update{}, report())
	assert.ErrorIs(t, err, errors.Baseline)
}

func TestRebuild(t *testing.T) {
	next, err := Rebuild(&Update{
		New: []*state.Abstraction{{Name: "A"}, {Name: "B"}},
		Relationships: []state.Relationship{
			{From: 0, To: 1, Label: "direct"},
			{From: PendingIndex(1), To: PendingIndex(0), Label: "pending"},
			{From: 0, To: 1, Label: "direct"},
		},
		Sections: map[string]string{"*": "all"},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, next.Live())
	assert.Equal(t, []state.Relationship{
		{From: 0, To: 1, Label: "direct"},
		{From: 1, To: 0, Label: "pending"},
	}, next.Relationships)
	assert.Equal(t, "all", next.Sections["*"])

	_, err = Rebuild(&Update{New: []*state.Abstraction{{Name: "A"}}, Relationships: []state.Relationship{{From: 0, To: 3}}})
	assert.ErrorIs(t, err, errors.Consistency)
}

func TestCarry(t *testing.T) {
	prev := baseline()
	next, err := Rebuild(&Update{New: []*state.Abstraction{{Name: "fresh-b", Files: []string{"b.py"}}}})
	require.NoError(t, err)

	carried := Carry(next, prev, []string{"a.py", "b.py", "c.py"})
	assert.Equal(t, []int{1, 2}, carried, "b.py is already covered")
	assert.Equal(t, "abs-a.py", next.Abstractions[1].Name)
	assert.Equal(t, 1, next.Abstractions[1].Index)
	assert.Equal(t, "abs-c.py", next.Abstractions[2].Name)
	assert.Equal(t, []state.Relationship{{From: 1, To: 2, Label: "uses"}}, next.Relationships)
	require.NoError(t, next.Validate())
	assert.Equal(t, "abs-a.py", prev.Abstractions[0].Name, "previous is not modified")

	assert.Nil(t, Carry(next, nil, []string{"a.py"}))
	assert.Nil(t, Carry(next, prev, nil))
}

func TestCombine(t *testing.T) {
	first := &Update{
		Abstractions:  map[int]*state.Abstraction{1: {Name: "from-c1"}, 2: {Name: "only-c1"}},
		New:           []*state.Abstraction{{Name: "n0"}},
		Relationships: []state.Relationship{{From: 1, To: 2, Label: "c1"}, {From: PendingIndex(0), To: 2, Label: "p"}},
		Sections:      map[string]string{"svc": "one", "web": "w"},
	}
	second := &Update{
		Abstractions:  map[int]*state.Abstraction{1: {Name: "from-c2"}},
		New:           []*state.Abstraction{{Name: "n1"}},
		Relationships: []state.Relationship{{From: PendingIndex(0), To: 1, Label: "q"}},
		Sections:      map[string]string{"svc": "two"},
	}

	u := Combine(first, nil, second)

	assert.Equal(t, "from-c2", u.Abstractions[1].Name)
	assert.Equal(t, "only-c1", u.Abstractions[2].Name)
	require.Len(t, u.New, 2)
	assert.Equal(t, "n1", u.New[1].Name)
	// c1's relationship on index 1 lost to c2; pending ref of c2 re-based to slot 1.
	assert.Equal(t, []state.Relationship{
		{From: PendingIndex(0), To: 2, Label: "p"},
		{From: PendingIndex(1), To: 1, Label: "q"},
	}, u.Relationships)
	assert.Equal(t, map[string]string{"svc": "two", "web": "w"}, u.Sections)

	prev := baseline()
	next, res, err := Merge(prev, u, report(1, 2))
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, res.Appended)
	assert.Contains(t, next.Relationships, state.Relationship{From: 4, To: 1, Label: "q"})
}
