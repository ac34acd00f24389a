package generate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"docdelta/internal/chunk"
	"docdelta/internal/impact"
	"docdelta/internal/merge"
	"docdelta/internal/state"
)

// Outline is a model-free generator: one abstraction per directory group,
// with a chapter listing its files. It lets the pipeline run end to end
// offline and gives tests a deterministic collaborator.
type Outline struct {
	GroupDepth int
}

func (o *Outline) Generate(ctx context.Context, req *Request) (*merge.Update, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokens := make(map[string]int, len(req.Files))
	for _, f := range req.Files {
		tokens[f.Path] = (len(f.Content) + 3) / 4
	}

	u := &merge.Update{
		Abstractions: make(map[int]*state.Abstraction),
		Sections: map[string]string{
			req.Chunk.Group: fmt.Sprintf("%d file(s), %d estimated tokens", len(req.Chunk.Paths), req.Chunk.Tokens),
		},
	}

	claimed := make(map[string]bool)
	if req.Mode == impact.StrategySelective && req.Previous != nil {
		inChunk := make(map[string]bool, len(req.Chunk.Paths))
		for _, p := range req.Chunk.Paths {
			inChunk[p] = true
		}
		orphaned := make(map[int]bool, len(req.Orphaned))
		for _, i := range req.Orphaned {
			orphaned[i] = true
		}

		for _, i := range req.Affected {
			a, ok := req.Previous.Abstraction(i)
			if !ok || orphaned[i] {
				continue
			}
			var files []string
			touches := false
			for _, f := range a.Files {
				if inChunk[f] {
					touches = true
					files = append(files, f)
					claimed[f] = true
				} else if _, ok := req.Current[f]; ok {
					files = append(files, f)
				}
			}
			if !touches {
				continue
			}
			u.Abstractions[i] = o.abstraction(a.Name, files, tokens)
		}

		owners := req.Previous.FileOwners()
		for p := range owners {
			claimed[p] = true
		}
	}

	groups := make(map[string][]string)
	for _, p := range req.Chunk.Paths {
		if claimed[p] {
			continue
		}
		k := chunk.GroupKey(p, o.GroupDepth)
		groups[k] = append(groups[k], p)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		u.New = append(u.New, o.abstraction(k, groups[k], tokens))
	}

	return u, nil
}

func (o *Outline) abstraction(name string, files []string, tokens map[string]int) *state.Abstraction {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", name)
	total := 0
	for _, f := range sorted {
		if n, ok := tokens[f]; ok {
			fmt.Fprintf(&b, "- %s (~%d tokens)\n", f, n)
			total += n
		} else {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}

	return &state.Abstraction{
		Name:        name,
		Description: fmt.Sprintf("%s: %d file(s), ~%d tokens in this run", name, len(sorted), total),
		Files:       sorted,
		Chapter:     b.String(),
	}
}
