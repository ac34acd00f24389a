package merge

import "docdelta/internal/state"

// Combine folds per-chunk outputs in chunk order into one Update. When two
// outputs replace the same index the later one wins, and relationships the
// earlier output attached to that index are discarded with it. Pending refs
// are re-based so they keep pointing at the right entry of the combined New.
func Combine(outputs ...*Update) *Update {
	out := &Update{
		Abstractions: make(map[int]*state.Abstraction),
		Sections:     make(map[string]string),
	}

	type owned struct {
		rel   state.Relationship
		chunk int
	}
	var rels []owned
	// owner records which output last replaced an index.
	owner := make(map[int]int)

	for n, u := range outputs {
		if u == nil {
			continue
		}
		offset := len(out.New)

		for i, a := range u.Abstractions {
			out.Abstractions[i] = a
			owner[i] = n
		}
		out.New = append(out.New, u.New...)

		for _, rel := range u.Relationships {
			rels = append(rels, owned{rel: rebase(rel, offset), chunk: n})
		}
		for label, text := range u.Sections {
			out.Sections[label] = text
		}
	}

	for _, r := range rels {
		if superseded(r.rel.From, r.chunk, owner) || superseded(r.rel.To, r.chunk, owner) {
			continue
		}
		out.Relationships = append(out.Relationships, r.rel)
	}
	return out
}

func superseded(i, chunk int, owner map[int]int) bool {
	if i < 0 {
		return false
	}
	last, ok := owner[i]
	return ok && last > chunk
}

func rebase(rel state.Relationship, offset int) state.Relationship {
	if rel.From < 0 {
		rel.From = PendingIndex(pendingSlot(rel.From) + offset)
	}
	if rel.To < 0 {
		rel.To = PendingIndex(pendingSlot(rel.To) + offset)
	}
	return rel
}
