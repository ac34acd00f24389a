package source

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

type PatchKind string

const (
	PatchAdded    PatchKind = "added"
	PatchModified PatchKind = "modified"
	PatchDeleted  PatchKind = "deleted"
	PatchRenamed  PatchKind = "renamed"
)

// PatchChange is one file touched by a pull-request diff.
type PatchChange struct {
	Path    string    `json:"path"`
	OldPath string    `json:"old_path,omitempty"`
	Kind    PatchKind `json:"kind"`
}

const devNull = "/dev/null"

// ParsePatch extracts the touched paths from a unified multi-file diff.
// Paths rejected by policy are dropped so PR mode sees the same file
// universe as a snapshot walk.
func ParsePatch(data []byte, policy *Policy) ([]PatchChange, error) {
	fileDiffs, err := diff.ParseMultiFileDiff(data)
	if err != nil {
		return nil, fmt.Errorf("parsing patch: %w", err)
	}
	if policy == nil {
		policy = DefaultPolicy()
	}

	var changes []PatchChange
	for _, fd := range fileDiffs {
		oldPath := patchPath(fd.OrigName)
		newPath := patchPath(fd.NewName)

		var c PatchChange
		switch {
		case oldPath == "" && newPath == "":
			continue
		case oldPath == "":
			c = PatchChange{Path: newPath, Kind: PatchAdded}
		case newPath == "":
			c = PatchChange{Path: oldPath, Kind: PatchDeleted}
		case oldPath != newPath:
			c = PatchChange{Path: newPath, OldPath: oldPath, Kind: PatchRenamed}
		default:
			c = PatchChange{Path: newPath, Kind: PatchModified}
		}

		if !policy.Allow(c.Path) && (c.OldPath == "" || !policy.Allow(c.OldPath)) {
			continue
		}
		changes = append(changes, c)
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes, nil
}

func patchPath(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || name == devNull {
		return ""
	}
	if i := strings.IndexByte(name, '\t'); i >= 0 {
		name = name[:i]
	}
	for _, prefix := range []string{"a/", "b/"} {
		if strings.HasPrefix(name, prefix) {
			return name[len(prefix):]
		}
	}
	return name
}
