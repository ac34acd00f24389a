// internal/change/types.go
package change

import "sort"

// Baseline describes the prior state a ChangeSet was computed against.
type Baseline string

const (
	BaselineOK             Baseline = "ok"
	BaselineMissing        Baseline = "missing"
	BaselineSchemaMismatch Baseline = "schema_mismatch"
)

// ChangeSet partitions the union of previous and current paths into
// disjoint sorted lists. Without a usable baseline every current path is
// Added and the caller must regenerate fully. Unknown holds tracked paths
// the source skipped this time; they count as neither changed nor deleted.
type ChangeSet struct {
	Baseline  Baseline `json:"baseline"`
	Added     []string `json:"added"`
	Modified  []string `json:"modified"`
	Deleted   []string `json:"deleted"`
	Unchanged []string `json:"unchanged"`
	Unknown   []string `json:"unknown,omitempty"`
}

func (c *ChangeSet) HasBaseline() bool {
	return c.Baseline == BaselineOK
}

// Empty reports whether nothing was added, modified or deleted.
func (c *ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0
}

// Changed returns modified and deleted paths, the ones that can touch
// existing abstractions.
func (c *ChangeSet) Changed() []string {
	out := make([]string, 0, len(c.Modified)+len(c.Deleted))
	out = append(out, c.Modified...)
	out = append(out, c.Deleted...)
	sort.Strings(out)
	return out
}

// Total is the number of classified paths.
func (c *ChangeSet) Total() int {
	return len(c.Added) + len(c.Modified) + len(c.Deleted) + len(c.Unchanged) + len(c.Unknown)
}

func (c *ChangeSet) sort() {
	for _, s := range [][]string{c.Added, c.Modified, c.Deleted, c.Unchanged, c.Unknown} {
		sort.Strings(s)
	}
}
