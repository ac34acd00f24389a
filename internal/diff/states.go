package diff

import (
	"context"
	"slices"
	"sort"

	"docdelta/internal/change"
	"docdelta/internal/errors"
	"docdelta/internal/state"
)

type ChangeKind string

const (
	KindAdded   ChangeKind = "added"
	KindRemoved ChangeKind = "removed"
	KindChanged ChangeKind = "changed"
)

// AbstractionChange describes one index that differs between two states.
// Chapter is set when the chapter text was rewritten.
type AbstractionChange struct {
	Index        int        `json:"index"`
	Name         string     `json:"name"`
	Kind         ChangeKind `json:"kind"`
	Renamed      string     `json:"renamed_from,omitempty"`
	FilesChanged bool       `json:"files_changed,omitempty"`
	Chapter      *Result    `json:"chapter,omitempty"`
}

// StateDiff compares two saved documentation states.
type StateDiff struct {
	From                 string               `json:"from"`
	To                   string               `json:"to"`
	Files                *change.ChangeSet    `json:"files"`
	Abstractions         []AbstractionChange  `json:"abstractions"`
	RelationshipsAdded   []state.Relationship `json:"relationships_added,omitempty"`
	RelationshipsRemoved []state.Relationship `json:"relationships_removed,omitempty"`
}

// Empty reports whether the two states document the same thing.
func (d *StateDiff) Empty() bool {
	return d.Files.Empty() && len(d.Abstractions) == 0 &&
		len(d.RelationshipsAdded) == 0 && len(d.RelationshipsRemoved) == 0
}

// States diffs from against to. Abstraction indices are stable across runs,
// so abstractions are matched by index.
func (e *Engine) States(from, to *state.DocState) *StateDiff {
	d := &StateDiff{
		From:  from.Commit,
		To:    to.Commit,
		Files: change.Detect(from, to.Files),
	}

	n := max(len(from.Abstractions), len(to.Abstractions))
	for i := 0; i < n; i++ {
		before, hadBefore := from.Abstraction(i)
		after, hasAfter := to.Abstraction(i)

		switch {
		case !hadBefore && hasAfter:
			d.Abstractions = append(d.Abstractions, AbstractionChange{
				Index:   i,
				Name:    after.Name,
				Kind:    KindAdded,
				Chapter: e.chapter("", after.Chapter),
			})
		case hadBefore && !hasAfter:
			d.Abstractions = append(d.Abstractions, AbstractionChange{
				Index: i,
				Name:  before.Name,
				Kind:  KindRemoved,
			})
		case hadBefore && hasAfter:
			c := AbstractionChange{
				Index:        i,
				Name:         after.Name,
				Kind:         KindChanged,
				FilesChanged: !slices.Equal(before.Files, after.Files),
				Chapter:      e.chapter(before.Chapter, after.Chapter),
			}
			if before.Name != after.Name {
				c.Renamed = before.Name
			}
			if c.FilesChanged || c.Chapter != nil || c.Renamed != "" || before.Description != after.Description {
				d.Abstractions = append(d.Abstractions, c)
			}
		}
	}

	d.RelationshipsAdded = missing(to.Relationships, from.Relationships)
	d.RelationshipsRemoved = missing(from.Relationships, to.Relationships)
	return d
}

func (e *Engine) chapter(before, after string) *Result {
	r := e.Diff(before, after)
	if r.Empty() {
		return nil
	}
	return r
}

// missing returns the relationships of a absent from b, sorted.
func missing(a, b []state.Relationship) []state.Relationship {
	seen := make(map[state.Relationship]bool, len(b))
	for _, r := range b {
		seen[r] = true
	}
	var out []state.Relationship
	for _, r := range a {
		if !seen[r] {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		if out[i].To != out[j].To {
			return out[i].To < out[j].To
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// Between loads from (and to, or the current state when to is empty) from
// store and diffs them. Only archiving stores can resolve commits.
func (e *Engine) Between(ctx context.Context, store state.Store, from, to string) (*StateDiff, error) {
	hist, ok := store.(state.Historian)
	if !ok {
		return nil, errors.NotFound("state backend keeps no history")
	}

	before, err := hist.LoadCommit(ctx, from)
	if err != nil {
		return nil, err
	}

	var after *state.DocState
	if to == "" {
		after, err = store.Load(ctx)
		if err == nil && after == nil {
			err = errors.NotFound("no documentation state has been saved")
		}
	} else {
		after, err = hist.LoadCommit(ctx, to)
	}
	if err != nil {
		return nil, err
	}

	return e.States(before, after), nil
}
