package change

import (
	"docdelta/internal/source"
	"docdelta/internal/state"
)

// Detect classifies paths by hash only. A nil or incompatible previous state
// yields a no-baseline result with every current path added; Detect never
// fails. Skipped paths were present but could not be read this time: a
// tracked one is Unknown rather than Deleted.
func Detect(previous *state.DocState, current map[string]state.FileRecord, skipped ...string) *ChangeSet {
	cs := &ChangeSet{Baseline: baselineOf(previous)}

	if !cs.HasBaseline() {
		for path := range current {
			cs.Added = append(cs.Added, path)
		}
		cs.sort()
		return cs
	}

	for path, rec := range current {
		prev, ok := previous.Files[path]
		switch {
		case !ok:
			cs.Added = append(cs.Added, path)
		case prev.Hash != rec.Hash:
			cs.Modified = append(cs.Modified, path)
		default:
			cs.Unchanged = append(cs.Unchanged, path)
		}
	}
	unread := make(map[string]bool, len(skipped))
	for _, path := range skipped {
		unread[path] = true
	}
	for path := range previous.Files {
		if _, ok := current[path]; ok {
			continue
		}
		if unread[path] {
			cs.Unknown = append(cs.Unknown, path)
		} else {
			cs.Deleted = append(cs.Deleted, path)
		}
	}

	cs.sort()
	return cs
}

// FromPatch classifies a pull-request diff against previous. Renames are a
// delete plus an add; paths the diff does not touch are unchanged.
func FromPatch(previous *state.DocState, changes []source.PatchChange) *ChangeSet {
	cs := &ChangeSet{Baseline: baselineOf(previous)}

	known := func(path string) bool {
		if !cs.HasBaseline() {
			return false
		}
		_, ok := previous.Files[path]
		return ok
	}

	touched := make(map[string]bool, len(changes))
	classify := func(path string, deleted bool) {
		if touched[path] {
			return
		}
		touched[path] = true
		switch {
		case deleted && known(path):
			cs.Deleted = append(cs.Deleted, path)
		case deleted:
			// Deleting a file the baseline never tracked changes nothing.
		case known(path):
			cs.Modified = append(cs.Modified, path)
		default:
			cs.Added = append(cs.Added, path)
		}
	}

	for _, c := range changes {
		switch c.Kind {
		case source.PatchDeleted:
			classify(c.Path, true)
		case source.PatchRenamed:
			classify(c.OldPath, true)
			classify(c.Path, false)
		default:
			// An "added" file the baseline already tracks is a modification.
			classify(c.Path, false)
		}
	}

	if cs.HasBaseline() {
		for path := range previous.Files {
			if !touched[path] {
				cs.Unchanged = append(cs.Unchanged, path)
			}
		}
	}

	cs.sort()
	return cs
}

func baselineOf(previous *state.DocState) Baseline {
	switch {
	case previous == nil:
		return BaselineMissing
	case !previous.Compatible():
		return BaselineSchemaMismatch
	default:
		return BaselineOK
	}
}
