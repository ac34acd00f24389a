// internal/merge/merge.go
package merge

import (
	"fmt"
	"sort"

	"docdelta/internal/errors"
	"docdelta/internal/impact"
	"docdelta/internal/state"
)

// PendingIndex names the k-th entry of Update.New before it has an index.
// Relationships in an Update use it to point at abstractions the merge is
// about to append.
func PendingIndex(k int) int {
	return -(k + 1)
}

func pendingSlot(i int) int {
	return -i - 1
}

// Update is the generated content for one run or one chunk.
type Update struct {
	// Abstractions replaces affected indices wholesale.
	Abstractions map[int]*state.Abstraction `json:"abstractions,omitempty"`
	// New abstractions are appended; their Index is assigned by the merge.
	New           []*state.Abstraction `json:"new,omitempty"`
	Relationships []state.Relationship `json:"relationships,omitempty"`
	Sections      map[string]string    `json:"sections,omitempty"`
}

// Empty reports whether u carries no content.
func (u *Update) Empty() bool {
	return u == nil || (len(u.Abstractions) == 0 && len(u.New) == 0 &&
		len(u.Relationships) == 0 && len(u.Sections) == 0)
}

type Result struct {
	Replaced             []int `json:"replaced"`
	Stale                []int `json:"stale"`
	Dropped              []int `json:"dropped"`
	Appended             []int `json:"appended"`
	RelationshipsKept    int   `json:"relationships_kept"`
	RelationshipsRemoved int   `json:"relationships_removed"`
	RelationshipsAdded   int   `json:"relationships_added"`
}

// Merge combines u with the untouched part of previous. previous is never
// modified; on any inconsistency no state is returned.
func Merge(previous *state.DocState, u *Update, report *impact.Report) (*state.DocState, *Result, error) {
	if !previous.Compatible() {
		return nil, nil, errors.BaselineError(nil, "selective merge needs a compatible baseline")
	}
	if u == nil {
		u = &Update{}
	}

	affected := toSet(report.Affected)
	orphaned := toSet(report.Orphaned)

	var problems []string
	for _, i := range sortedIndices(u.Abstractions) {
		switch {
		case i < 0 || i >= len(previous.Abstractions):
			problems = append(problems, fmt.Sprintf("update index %d out of range [0,%d)", i, len(previous.Abstractions)))
		case previous.Abstractions[i] == nil:
			problems = append(problems, fmt.Sprintf("update targets tombstoned index %d", i))
		case !affected[i]:
			problems = append(problems, fmt.Sprintf("update touches unaffected index %d", i))
		case orphaned[i]:
			problems = append(problems, fmt.Sprintf("update targets orphaned index %d", i))
		case u.Abstractions[i] == nil:
			problems = append(problems, fmt.Sprintf("update for index %d is empty", i))
		}
	}
	for k, a := range u.New {
		if a == nil {
			problems = append(problems, fmt.Sprintf("new abstraction %d is empty", k))
		}
	}
	if len(problems) > 0 {
		return nil, nil, errors.ConsistencyError(problems, "update rejected: %d problem(s)", len(problems))
	}

	next := previous.Clone()
	res := &Result{Replaced: []int{}, Stale: []int{}, Dropped: []int{}, Appended: []int{}}

	for _, i := range report.Affected {
		if !previous.IsLive(i) {
			continue
		}
		switch {
		case orphaned[i]:
			next.Abstractions[i] = nil
			res.Dropped = append(res.Dropped, i)
		case u.Abstractions[i] != nil:
			next.Abstractions[i] = withIndex(u.Abstractions[i], i)
			res.Replaced = append(res.Replaced, i)
		default:
			res.Stale = append(res.Stale, i)
		}
	}

	for _, a := range u.New {
		i := len(next.Abstractions)
		next.Abstractions = append(next.Abstractions, withIndex(a, i))
		res.Appended = append(res.Appended, i)
	}

	// Relationships touching replaced or dropped indices are superseded.
	superseded := toSet(res.Replaced)
	for _, i := range res.Dropped {
		superseded[i] = true
	}
	fresh := toSet(res.Appended)

	seen := make(map[state.Relationship]bool)
	kept := make([]state.Relationship, 0, len(previous.Relationships)+len(u.Relationships))
	for _, rel := range previous.Relationships {
		if superseded[rel.From] || superseded[rel.To] {
			res.RelationshipsRemoved++
			continue
		}
		if seen[rel] {
			continue
		}
		seen[rel] = true
		kept = append(kept, rel)
	}
	res.RelationshipsKept = len(kept)

	for _, rel := range u.Relationships {
		resolved, err := resolve(rel, res.Appended)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		if !affected[resolved.From] && !affected[resolved.To] && !fresh[resolved.From] && !fresh[resolved.To] {
			problems = append(problems, fmt.Sprintf("relationship %d->%d (%s) touches no affected or new abstraction", resolved.From, resolved.To, resolved.Label))
			continue
		}
		if seen[resolved] {
			continue
		}
		seen[resolved] = true
		kept = append(kept, resolved)
		res.RelationshipsAdded++
	}
	if len(problems) > 0 {
		return nil, nil, errors.ConsistencyError(problems, "update rejected: %d problem(s)", len(problems))
	}
	next.Relationships = kept

	for label, text := range u.Sections {
		next.Sections[label] = text
	}

	if err := next.Validate(); err != nil {
		return nil, nil, fmt.Errorf("merged state: %w", err)
	}
	return next, res, nil
}

// Rebuild builds a fresh arena from u.New for full regeneration.
// Relationships may use plain indices into u.New or pending refs.
func Rebuild(u *Update) (*state.DocState, error) {
	next := state.New("")
	if u == nil {
		return next, nil
	}
	if len(u.Abstractions) > 0 {
		return nil, errors.ConsistencyError(sortedIndices(u.Abstractions), "full regeneration cannot replace existing indices")
	}

	appended := make([]int, 0, len(u.New))
	for k, a := range u.New {
		if a == nil {
			return nil, errors.ConsistencyError(nil, "new abstraction %d is empty", k)
		}
		next.Abstractions = append(next.Abstractions, withIndex(a, k))
		appended = append(appended, k)
	}

	seen := make(map[state.Relationship]bool)
	for _, rel := range u.Relationships {
		resolved, err := resolve(rel, appended)
		if err != nil {
			return nil, errors.ConsistencyError(nil, "%s", err.Error())
		}
		if seen[resolved] {
			continue
		}
		seen[resolved] = true
		next.Relationships = append(next.Relationships, resolved)
	}

	for label, text := range u.Sections {
		next.Sections[label] = text
	}

	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("rebuilt state: %w", err)
	}
	return next, nil
}

// Carry appends to next every live abstraction of previous that documents
// one of paths while no abstraction of next does. Carried abstractions keep
// their content and the relationships among themselves. It returns their new
// indices, ascending.
func Carry(next, previous *state.DocState, paths []string) []int {
	if !previous.Compatible() || len(paths) == 0 {
		return nil
	}

	covered := make(map[string]bool)
	for _, i := range next.Live() {
		for _, f := range next.Abstractions[i].Files {
			covered[f] = true
		}
	}
	want := make(map[string]bool, len(paths))
	for _, p := range paths {
		if !covered[p] {
			want[p] = true
		}
	}

	remap := make(map[int]int)
	var carried []int
	for _, i := range previous.Live() {
		a := previous.Abstractions[i]
		for _, f := range a.Files {
			if want[f] {
				k := len(next.Abstractions)
				next.Abstractions = append(next.Abstractions, withIndex(a, k))
				remap[i] = k
				carried = append(carried, k)
				break
			}
		}
	}

	for _, rel := range previous.Relationships {
		from, okFrom := remap[rel.From]
		to, okTo := remap[rel.To]
		if okFrom && okTo {
			next.Relationships = append(next.Relationships, state.Relationship{From: from, To: to, Label: rel.Label})
		}
	}
	return carried
}

// resolve maps pending refs onto appended indices.
func resolve(rel state.Relationship, appended []int) (state.Relationship, error) {
	out := rel
	for _, end := range []*int{&out.From, &out.To} {
		if *end >= 0 {
			continue
		}
		k := pendingSlot(*end)
		if k >= len(appended) {
			return rel, fmt.Errorf("relationship %d->%d (%s) refers to missing new abstraction %d", rel.From, rel.To, rel.Label, k)
		}
		*end = appended[k]
	}
	return out, nil
}

func withIndex(a *state.Abstraction, i int) *state.Abstraction {
	c := *a
	c.Index = i
	c.Files = append([]string(nil), a.Files...)
	return &c
}

func toSet(xs []int) map[int]bool {
	m := make(map[int]bool, len(xs))
	for _, x := range xs {
		m[x] = true
	}
	return m
}

func sortedIndices(m map[int]*state.Abstraction) []int {
	out := make([]int, 0, len(m))
	for i := range m {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}
