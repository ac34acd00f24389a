package state

import (
	"fmt"
	"sort"
	"time"

	"docdelta/internal/errors"
)

// CurrentSchemaVersion is the persisted layout this build reads and writes.
// A stored state with any other version is treated as no baseline.
const CurrentSchemaVersion = 2

// FileRecord is immutable for a given content hash.
type FileRecord struct {
	Path   string `json:"-"`
	Hash   string `json:"hash"`
	Tokens int    `json:"tokens"`
	Size   int64  `json:"size_bytes"`
	Exact  bool   `json:"exact"`
}

// Abstraction is a named conceptual unit backed by source files. Index is
// its position in DocState.Abstractions and never changes once assigned.
type Abstraction struct {
	Index       int      `json:"index"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Files       []string `json:"files"`
	Chapter     string   `json:"chapter,omitempty"`
}

func (a *Abstraction) clone() *Abstraction {
	if a == nil {
		return nil
	}
	c := *a
	c.Files = append([]string(nil), a.Files...)
	return &c
}

// Relationship is a directed, labelled edge From -> To. Identity is the
// whole triple.
type Relationship struct {
	From  int    `json:"from"`
	To    int    `json:"to"`
	Label string `json:"label"`
}

func (r Relationship) Touches(i int) bool {
	return r.From == i || r.To == i
}

// DocState is the unit of persistence and comparison between runs.
// Abstractions is an append-only arena: a nil entry is a tombstone.
type DocState struct {
	SchemaVersion int                   `json:"schema_version"`
	Commit        string                `json:"commit"`
	RunID         string                `json:"run_id,omitempty"`
	UpdatedAt     time.Time             `json:"updated_at"`
	Files         map[string]FileRecord `json:"files"`
	Abstractions  []*Abstraction        `json:"abstractions"`
	Relationships []Relationship        `json:"relationships"`
	Sections      map[string]string     `json:"sections,omitempty"`
}

func New(commit string) *DocState {
	return &DocState{
		SchemaVersion: CurrentSchemaVersion,
		Commit:        commit,
		Files:         make(map[string]FileRecord),
		Sections:      make(map[string]string),
	}
}

// Compatible reports whether s can serve as a baseline for this build.
func (s *DocState) Compatible() bool {
	return s != nil && s.SchemaVersion == CurrentSchemaVersion
}

// IsLive reports whether i names a non-tombstoned abstraction.
func (s *DocState) IsLive(i int) bool {
	return i >= 0 && i < len(s.Abstractions) && s.Abstractions[i] != nil
}

func (s *DocState) Abstraction(i int) (*Abstraction, bool) {
	if !s.IsLive(i) {
		return nil, false
	}
	return s.Abstractions[i], true
}

// Live returns live indices in ascending order.
func (s *DocState) Live() []int {
	var out []int
	for i, a := range s.Abstractions {
		if a != nil {
			out = append(out, i)
		}
	}
	return out
}

// NextIndex is the index the next appended abstraction receives.
func (s *DocState) NextIndex() int {
	return len(s.Abstractions)
}

// FileOwners maps each source path to the live abstractions citing it.
func (s *DocState) FileOwners() map[string][]int {
	owners := make(map[string][]int)
	for i, a := range s.Abstractions {
		if a == nil {
			continue
		}
		for _, f := range a.Files {
			owners[f] = append(owners[f], i)
		}
	}
	return owners
}

// Paths returns the tracked file paths in ascending order.
func (s *DocState) Paths() []string {
	paths := make([]string, 0, len(s.Files))
	for p := range s.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (s *DocState) Clone() *DocState {
	if s == nil {
		return nil
	}
	c := *s
	c.Files = make(map[string]FileRecord, len(s.Files))
	for k, v := range s.Files {
		c.Files[k] = v
	}
	c.Abstractions = make([]*Abstraction, len(s.Abstractions))
	for i, a := range s.Abstractions {
		c.Abstractions[i] = a.clone()
	}
	c.Relationships = append([]Relationship(nil), s.Relationships...)
	c.Sections = make(map[string]string, len(s.Sections))
	for k, v := range s.Sections {
		c.Sections[k] = v
	}
	return &c
}

// Validate checks the structural invariants: every live abstraction sits at
// its own index, every relationship endpoint is live and no triple repeats.
func (s *DocState) Validate() error {
	var problems []string

	for i, a := range s.Abstractions {
		if a != nil && a.Index != i {
			problems = append(problems, fmt.Sprintf("abstraction at position %d claims index %d", i, a.Index))
		}
	}

	seen := make(map[Relationship]bool, len(s.Relationships))
	for _, r := range s.Relationships {
		if !s.IsLive(r.From) || !s.IsLive(r.To) {
			problems = append(problems, fmt.Sprintf("relationship %d->%d (%s) references a missing abstraction", r.From, r.To, r.Label))
		}
		if seen[r] {
			problems = append(problems, fmt.Sprintf("duplicate relationship %d->%d (%s)", r.From, r.To, r.Label))
		}
		seen[r] = true
	}

	for path, rec := range s.Files {
		if rec.Hash == "" {
			problems = append(problems, fmt.Sprintf("file %s has no hash", path))
		}
	}

	if len(problems) > 0 {
		return errors.ConsistencyError(problems, "doc state violates %d invariant(s)", len(problems))
	}
	return nil
}
