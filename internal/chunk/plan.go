// internal/chunk/plan.go
package chunk

import (
	"fmt"
	"sort"
	"strings"

	"docdelta/internal/errors"
	"docdelta/internal/state"
)

// Level is the chunking strategy a chunk was produced by.
type Level int

const (
	LevelSingle Level = iota
	LevelGroup
	LevelPack
)

func (l Level) String() string {
	switch l {
	case LevelSingle:
		return "single"
	case LevelGroup:
		return "group"
	case LevelPack:
		return "pack"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	switch string(text) {
	case "single":
		*l = LevelSingle
	case "group":
		*l = LevelGroup
	case "pack":
		*l = LevelPack
	default:
		return fmt.Errorf("unknown chunk level %q", text)
	}
	return nil
}

// StrategyLevel maps a configured strategy onto the lowest level the planner
// may use. "single" still escalates when everything does not fit.
func StrategyLevel(strategy string) (Level, error) {
	switch strategy {
	case "", "auto", "single":
		return LevelSingle, nil
	case "group":
		return LevelGroup, nil
	case "pack":
		return LevelPack, nil
	default:
		return 0, errors.ValidationError(fmt.Sprintf("unknown chunking strategy %q", strategy), nil)
	}
}

// AllGroup labels the single chunk of a level-0 plan.
const AllGroup = "*"

// RootGroup holds files that live at the repository root.
const RootGroup = "."

type Options struct {
	Budget         int
	PromptOverhead int
	Overlap        int
	MinLevel       Level
	GroupDepth     int
}

// Capacity is the token room left for file content in each chunk.
func (o Options) Capacity() int {
	return o.Budget - o.PromptOverhead - o.Overlap
}

// Chunk is one generation call's worth of files. Tokens plus prompt overhead
// plus overlap stays within the budget unless Oversize is set.
type Chunk struct {
	ID       string   `json:"id"`
	Group    string   `json:"group"`
	Paths    []string `json:"paths"`
	Tokens   int      `json:"tokens"`
	Level    Level    `json:"level"`
	Oversize bool     `json:"oversize,omitempty"`
}

// GroupKey is the first depth directory components of path, or RootGroup for
// files with no directory.
func GroupKey(path string, depth int) string {
	if depth < 1 {
		depth = 1
	}
	parts := strings.Split(path, "/")
	dirs := parts[:len(parts)-1]
	if len(dirs) == 0 {
		return RootGroup
	}
	if len(dirs) > depth {
		dirs = dirs[:depth]
	}
	return strings.Join(dirs, "/")
}

// Plan partitions files into chunks, escalating from opts.MinLevel only as
// far as needed. Every file lands in exactly one chunk and the output is a
// pure function of the input set.
func Plan(files []state.FileRecord, opts Options) ([]Chunk, error) {
	capacity := opts.Capacity()
	if capacity <= 0 {
		return nil, errors.CapacityError(nil,
			"budget %d leaves no room after prompt overhead %d and overlap %d",
			opts.Budget, opts.PromptOverhead, opts.Overlap)
	}
	if len(files) == 0 {
		return []Chunk{}, nil
	}

	sorted := append([]state.FileRecord(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Path == sorted[i-1].Path {
			return nil, errors.ConsistencyError([]string{sorted[i].Path}, "file %s scoped twice", sorted[i].Path)
		}
	}

	var regular, oversize []state.FileRecord
	total := 0
	for _, f := range sorted {
		if f.Tokens > capacity {
			oversize = append(oversize, f)
			continue
		}
		regular = append(regular, f)
		total += f.Tokens
	}

	var chunks []Chunk
	switch {
	case opts.MinLevel <= LevelSingle && total <= capacity:
		if len(regular) > 0 {
			chunks = append(chunks, newChunk(AllGroup, regular, LevelSingle))
		}
		for _, f := range oversize {
			chunks = append(chunks, oversizeChunk(GroupKey(f.Path, opts.GroupDepth), f, LevelSingle))
		}
	default:
		chunks = planGroups(regular, oversize, capacity, opts)
	}

	for i := range chunks {
		chunks[i].ID = fmt.Sprintf("c%d", i+1)
	}
	return chunks, nil
}

func planGroups(regular, oversize []state.FileRecord, capacity int, opts Options) []Chunk {
	groups := make(map[string][]state.FileRecord)
	for _, f := range regular {
		k := GroupKey(f.Path, opts.GroupDepth)
		groups[k] = append(groups[k], f)
	}
	oversizeByGroup := make(map[string][]state.FileRecord)
	for _, f := range oversize {
		k := GroupKey(f.Path, opts.GroupDepth)
		oversizeByGroup[k] = append(oversizeByGroup[k], f)
	}

	keys := make([]string, 0, len(groups)+len(oversizeByGroup))
	for k := range groups {
		keys = append(keys, k)
	}
	for k := range oversizeByGroup {
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	level := opts.MinLevel
	if level < LevelGroup {
		level = LevelGroup
	}

	var chunks []Chunk
	for _, k := range keys {
		members := groups[k]
		if len(members) > 0 {
			if level == LevelGroup && sum(members) <= capacity {
				chunks = append(chunks, newChunk(k, members, LevelGroup))
			} else {
				chunks = append(chunks, pack(k, members, capacity)...)
			}
		}
		for _, f := range oversizeByGroup[k] {
			chunks = append(chunks, oversizeChunk(k, f, level))
		}
	}
	return chunks
}

type bin struct {
	files []state.FileRecord
	used  int
}

// pack is first-fit-decreasing: largest files first, ties by path.
func pack(group string, files []state.FileRecord, capacity int) []Chunk {
	ordered := append([]state.FileRecord(nil), files...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Tokens != ordered[j].Tokens {
			return ordered[i].Tokens > ordered[j].Tokens
		}
		return ordered[i].Path < ordered[j].Path
	})

	var bins []*bin
	for _, f := range ordered {
		placed := false
		for _, b := range bins {
			if b.used+f.Tokens <= capacity {
				b.files = append(b.files, f)
				b.used += f.Tokens
				placed = true
				break
			}
		}
		if !placed {
			bins = append(bins, &bin{files: []state.FileRecord{f}, used: f.Tokens})
		}
	}

	chunks := make([]Chunk, 0, len(bins))
	for _, b := range bins {
		chunks = append(chunks, newChunk(group, b.files, LevelPack))
	}
	return chunks
}

func newChunk(group string, files []state.FileRecord, level Level) Chunk {
	c := Chunk{Group: group, Level: level, Paths: make([]string, 0, len(files))}
	for _, f := range files {
		c.Paths = append(c.Paths, f.Path)
		c.Tokens += f.Tokens
	}
	sort.Strings(c.Paths)
	return c
}

func oversizeChunk(group string, f state.FileRecord, level Level) Chunk {
	return Chunk{
		Group:    group,
		Paths:    []string{f.Path},
		Tokens:   f.Tokens,
		Level:    level,
		Oversize: true,
	}
}

func sum(files []state.FileRecord) int {
	n := 0
	for _, f := range files {
		n += f.Tokens
	}
	return n
}

// Summary describes a plan for display.
type Summary struct {
	Chunks    int `json:"chunks"`
	Oversize  int `json:"oversize"`
	Files     int `json:"files"`
	Tokens    int `json:"tokens"`
	MaxTokens int `json:"max_chunk_tokens"`
}

func Summarize(chunks []Chunk) Summary {
	var s Summary
	s.Chunks = len(chunks)
	for _, c := range chunks {
		if c.Oversize {
			s.Oversize++
		}
		s.Files += len(c.Paths)
		s.Tokens += c.Tokens
		if c.Tokens > s.MaxTokens {
			s.MaxTokens = c.Tokens
		}
	}
	return s
}
