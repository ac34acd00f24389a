// internal/diff/diff.go
package diff

import (
	"bytes"
	"fmt"
	"strings"
)

// Line represents a single line in a diff with its type and content.
// OldNum and NewNum are 1-based; zero means the line is absent on that side.
type Line struct {
	Type    LineType `json:"type"`
	Content string   `json:"content"`
	OldNum  int      `json:"old,omitempty"`
	NewNum  int      `json:"new,omitempty"`
}

// LineType indicates whether a line was added, removed, or is context
type LineType int

const (
	Context LineType = iota
	Addition
	Deletion
)

func (t LineType) String() string {
	switch t {
	case Addition:
		return "add"
	case Deletion:
		return "delete"
	default:
		return "context"
	}
}

func (t LineType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *LineType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "add":
		*t = Addition
	case "delete":
		*t = Deletion
	case "context":
		*t = Context
	default:
		return fmt.Errorf("unknown line type %q", text)
	}
	return nil
}

type Stats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
}

// Result contains the complete diff information
type Result struct {
	Hunks []Hunk `json:"hunks"`
	Stats Stats  `json:"stats"`
}

// Hunk represents a continuous section of changes plus surrounding context.
type Hunk struct {
	OldStart int    `json:"old_start"`
	OldLines int    `json:"old_lines"`
	NewStart int    `json:"new_start"`
	NewLines int    `json:"new_lines"`
	Lines    []Line `json:"lines"`
}

// Engine provides diffing capabilities
type Engine struct {
	contextLines int
}

// NewEngine creates a new diff engine with specified context lines
func NewEngine(contextLines int) *Engine {
	if contextLines < 0 {
		contextLines = 0
	}
	return &Engine{contextLines: contextLines}
}

// Diff generates a line-by-line diff between two texts.
func (e *Engine) Diff(oldText, newText string) *Result {
	oldLines := splitLines(oldText)
	newLines := splitLines(newText)

	ops := script(oldLines, newLines)

	result := &Result{Hunks: e.hunks(ops)}
	for _, op := range ops {
		switch op.Type {
		case Addition:
			result.Stats.Additions++
		case Deletion:
			result.Stats.Deletions++
		}
	}
	return result
}

// Empty reports whether the texts were identical.
func (r *Result) Empty() bool {
	return r.Stats.Additions == 0 && r.Stats.Deletions == 0
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

// script walks a longest-common-subsequence table into an edit script,
// preferring deletions before additions at each change.
func script(oldLines, newLines []string) []Line {
	n, m := len(oldLines), len(newLines)

	// lcs[i][j] is the LCS length of oldLines[i:] and newLines[j:].
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if oldLines[i] == newLines[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else {
				lcs[i][j] = max(lcs[i+1][j], lcs[i][j+1])
			}
		}
	}

	ops := make([]Line, 0, n+m)
	i, j := 0, 0
	for i < n || j < m {
		switch {
		case i < n && j < m && oldLines[i] == newLines[j]:
			ops = append(ops, Line{Type: Context, Content: oldLines[i], OldNum: i + 1, NewNum: j + 1})
			i++
			j++
		case i < n && (j == m || lcs[i+1][j] >= lcs[i][j+1]):
			ops = append(ops, Line{Type: Deletion, Content: oldLines[i], OldNum: i + 1})
			i++
		default:
			ops = append(ops, Line{Type: Addition, Content: newLines[j], NewNum: j + 1})
			j++
		}
	}
	return ops
}

// hunks groups changes separated by at most 2*contextLines of context.
func (e *Engine) hunks(ops []Line) []Hunk {
	// Lines consumed on each side before ops[i].
	oldBefore := make([]int, len(ops)+1)
	newBefore := make([]int, len(ops)+1)
	for i, op := range ops {
		oldBefore[i+1], newBefore[i+1] = oldBefore[i], newBefore[i]
		if op.Type != Addition {
			oldBefore[i+1]++
		}
		if op.Type != Deletion {
			newBefore[i+1]++
		}
	}

	var hunks []Hunk
	n := len(ops)
	for i := 0; i < n; {
		if ops[i].Type == Context {
			i++
			continue
		}

		start := max(0, i-e.contextLines)
		end := i + 1
		for j := i + 1; j < n; {
			if ops[j].Type != Context {
				end = j + 1
				j++
				continue
			}
			k := j
			for k < n && ops[k].Type == Context {
				k++
			}
			if k == n || k-j > 2*e.contextLines {
				break
			}
			j = k
		}
		stop := min(n, end+e.contextLines)

		h := Hunk{
			OldLines: oldBefore[stop] - oldBefore[start],
			NewLines: newBefore[stop] - newBefore[start],
			Lines:    append([]Line(nil), ops[start:stop]...),
		}
		h.OldStart = oldBefore[start]
		if h.OldLines > 0 {
			h.OldStart++
		}
		h.NewStart = newBefore[start]
		if h.NewLines > 0 {
			h.NewStart++
		}
		hunks = append(hunks, h)
		i = stop
	}
	return hunks
}

// Format returns a string representation of the diff
func (r *Result) Format() string {
	var buf bytes.Buffer

	for _, hunk := range r.Hunks {
		fmt.Fprintf(&buf, "@@ -%d,%d +%d,%d @@\n",
			hunk.OldStart, hunk.OldLines,
			hunk.NewStart, hunk.NewLines)

		for _, line := range hunk.Lines {
			switch line.Type {
			case Addition:
				buf.WriteString("+")
			case Deletion:
				buf.WriteString("-")
			case Context:
				buf.WriteString(" ")
			}
			buf.WriteString(line.Content)
			buf.WriteString("\n")
		}
	}

	return buf.String()
}
