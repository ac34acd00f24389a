package change

import (
	"sort"
	"testing"

	"docdelta/internal/source"
	"docdelta/internal/state"

	"github.com/stretchr/testify/assert"
)

func records(pairs ...string) map[string]state.FileRecord {
	out := make(map[string]state.FileRecord, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out[pairs[i]] = state.FileRecord{Path: pairs[i], Hash: pairs[i+1]}
	}
	return out
}

func baseline(files map[string]state.FileRecord) *state.DocState {
	s := state.New("c0")
	s.Files = files
	return s
}

func TestDetect(t *testing.T) {
	prev := baseline(records("a.py", "1", "b.py", "2", "c.py", "3", "old.py", "4"))
	cur := records("a.py", "1", "b.py", "2x", "c.py", "3", "new.py", "4")

	cs := Detect(prev, cur)

	assert.Equal(t, BaselineOK, cs.Baseline)
	assert.Equal(t, []string{"new.py"}, cs.Added)
	assert.Equal(t, []string{"b.py"}, cs.Modified)
	// Same hash under a new name is delete + add.
	assert.Equal(t, []string{"old.py"}, cs.Deleted)
	assert.Equal(t, []string{"a.py", "c.py"}, cs.Unchanged)
	assert.Equal(t, []string{"b.py", "old.py"}, cs.Changed())
	assert.False(t, cs.Empty())
}

func TestDetectSkippedIsUnknown(t *testing.T) {
	prev := baseline(records("a.py", "1", "b.py", "2", "gone.py", "3"))
	cur := records("b.py", "2")

	cs := Detect(prev, cur, "a.py", "fresh.bin")

	assert.Equal(t, []string{"a.py"}, cs.Unknown)
	assert.Equal(t, []string{"gone.py"}, cs.Deleted)
	assert.Empty(t, cs.Added)
	assert.Equal(t, []string{"gone.py"}, cs.Changed())
	assert.Equal(t, 3, cs.Total())

	cs = Detect(prev, records("b.py", "2", "gone.py", "3"), "a.py")
	assert.True(t, cs.Empty())
}

func TestDetectPartitionsUnion(t *testing.T) {
	prev := baseline(records("a", "1", "b", "2", "c", "3"))
	cur := records("b", "2", "c", "9", "d", "4", "e", "5")

	cs := Detect(prev, cur)

	var all []string
	seen := map[string]int{}
	for _, set := range [][]string{cs.Added, cs.Modified, cs.Deleted, cs.Unchanged} {
		for _, p := range set {
			seen[p]++
			all = append(all, p)
		}
	}
	sort.Strings(all)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, all)
	for p, n := range seen {
		assert.Equal(t, 1, n, "path %s classified more than once", p)
	}
}

func TestDetectNoBaseline(t *testing.T) {
	cur := records("b.py", "2", "a.py", "1")

	tests := []struct {
		name string
		prev *state.DocState
		want Baseline
	}{
		{"missing", nil, BaselineMissing},
		{"schema mismatch", &state.DocState{SchemaVersion: 1}, BaselineSchemaMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := Detect(tt.prev, cur)
			assert.Equal(t, tt.want, cs.Baseline)
			assert.False(t, cs.HasBaseline())
			assert.Equal(t, []string{"a.py", "b.py"}, cs.Added)
			assert.Empty(t, cs.Modified)
			assert.Empty(t, cs.Deleted)
			assert.Empty(t, cs.Unchanged)
		})
	}
}

func TestDetectNoChanges(t *testing.T) {
	files := records("a.py", "1")
	cs := Detect(baseline(files), files)
	assert.True(t, cs.Empty())
	assert.Equal(t, 1, cs.Total())
}

func TestFromPatch(t *testing.T) {
	prev := baseline(records("a.py", "1", "b.py", "2", "c.py", "3", "d.py", "4"))

	cs := FromPatch(prev, []source.PatchChange{
		{Path: "b.py", Kind: source.PatchModified},
		{Path: "c.py", Kind: source.PatchDeleted},
		{Path: "e.py", Kind: source.PatchRenamed, OldPath: "d.py"},
		{Path: "new.py", Kind: source.PatchAdded},
		{Path: "ghost.py", Kind: source.PatchDeleted},
		{Path: "fresh.py", Kind: source.PatchModified},
	})

	assert.Equal(t, BaselineOK, cs.Baseline)
	assert.Equal(t, []string{"e.py", "fresh.py", "new.py"}, cs.Added)
	assert.Equal(t, []string{"b.py"}, cs.Modified)
	assert.Equal(t, []string{"c.py", "d.py"}, cs.Deleted)
	assert.Equal(t, []string{"a.py"}, cs.Unchanged)
}

func TestFromPatchNoBaseline(t *testing.T) {
	cs := FromPatch(nil, []source.PatchChange{
		{Path: "b.py", Kind: source.PatchModified},
		{Path: "c.py", Kind: source.PatchDeleted},
	})
	assert.Equal(t, BaselineMissing, cs.Baseline)
	assert.Equal(t, []string{"b.py"}, cs.Added)
	assert.Empty(t, cs.Deleted)
	assert.Empty(t, cs.Unchanged)
}
