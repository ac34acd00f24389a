package source

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"docdelta/internal/content"
	"docdelta/internal/logging"

	"go.uber.org/zap"
)

// File is one normalized, text-only file of a snapshot.
type File struct {
	Path    string `json:"path"`
	Content []byte `json:"-"`
	Hash    string `json:"hash"`
	Size    int64  `json:"size_bytes"`
}

// Skip records a file left out of a snapshot and why.
type Skip struct {
	Path   string     `json:"path"`
	Reason SkipReason `json:"reason"`
	Error  string     `json:"error,omitempty"`
}

// Snapshot is an ordered view of a repository at one version.
type Snapshot struct {
	Commit  string `json:"commit"`
	Files   []File `json:"files"`
	Skipped []Skip `json:"skipped,omitempty"`
}

// Hashes returns the path->hash map of the snapshot.
func (s *Snapshot) Hashes() map[string]string {
	out := make(map[string]string, len(s.Files))
	for _, f := range s.Files {
		out[f.Path] = f.Hash
	}
	return out
}

func (s *Snapshot) SkippedPaths() []string {
	out := make([]string, len(s.Skipped))
	for i, sk := range s.Skipped {
		out[i] = sk.Path
	}
	return out
}

// Lookup returns the file at path.
func (s *Snapshot) Lookup(path string) (File, bool) {
	i := sort.Search(len(s.Files), func(i int) bool { return s.Files[i].Path >= path })
	if i < len(s.Files) && s.Files[i].Path == path {
		return s.Files[i], true
	}
	return File{}, false
}

// Source supplies repository snapshots. Local walks a directory; other
// implementations (remote repository APIs) feed content through FromMap so
// the same Policy applies.
type Source interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

var ignoreDirs = map[string]bool{
	".git":         true,
	".docdelta":    true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
}

// ShouldIgnoreDir reports whether a directory name is never descended into.
func ShouldIgnoreDir(name string) bool {
	return ignoreDirs[name]
}

type Local struct {
	Root   string
	Policy *Policy
	Logger *logging.Logger
}

func NewLocal(root string, policy *Policy, logger *logging.Logger) (*Local, error) {
	if root == "" {
		return nil, fmt.Errorf("root path cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path for root %s: %w", root, err)
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Local{Root: abs, Policy: policy, Logger: logger.Or()}, nil
}

func (l *Local) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}

	err := filepath.WalkDir(l.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			if path != l.Root && ShouldIgnoreDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(l.Root, path)
		if err != nil {
			return fmt.Errorf("getting relative path: %w", err)
		}
		rel = filepath.ToSlash(rel)

		if !l.Policy.Allow(rel) {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			l.Logger.Warn("failed to read file", zap.String("path", rel), zap.Error(err))
			snap.Skipped = append(snap.Skipped, Skip{Path: rel, Reason: SkipUnreadable, Error: err.Error()})
			return nil
		}

		snap.add(l.Policy, rel, raw)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", l.Root, err)
	}

	snap.finish()
	snap.Commit = HeadCommit(l.Root)
	if snap.Commit == "" {
		snap.Commit = content.Fingerprint(snap.Hashes())
	}

	l.Logger.Debug("snapshot taken",
		zap.String("root", l.Root),
		zap.String("commit", snap.Commit),
		zap.Int("files", len(snap.Files)),
		zap.Int("skipped", len(snap.Skipped)))

	return snap, nil
}

// FromMap builds a snapshot from raw contents under the given policy. Paths
// rejected by the include/exclude filters are dropped silently, as a walk
// would.
func FromMap(commit string, files map[string][]byte, policy *Policy) *Snapshot {
	if policy == nil {
		policy = DefaultPolicy()
	}
	snap := &Snapshot{}
	for path, raw := range files {
		path = strings.TrimPrefix(filepath.ToSlash(path), "./")
		if !policy.Allow(path) {
			continue
		}
		snap.add(policy, path, raw)
	}
	snap.finish()
	snap.Commit = commit
	if snap.Commit == "" {
		snap.Commit = content.Fingerprint(snap.Hashes())
	}
	return snap
}

func (s *Snapshot) add(policy *Policy, path string, raw []byte) {
	normalized, reason := policy.Normalize(raw)
	if reason != SkipNone {
		s.Skipped = append(s.Skipped, Skip{Path: path, Reason: reason})
		return
	}
	s.Files = append(s.Files, File{
		Path:    path,
		Content: normalized,
		Hash:    content.Hash(normalized),
		Size:    int64(len(normalized)),
	})
}

func (s *Snapshot) finish() {
	sort.Slice(s.Files, func(i, j int) bool { return s.Files[i].Path < s.Files[j].Path })
	sort.Slice(s.Skipped, func(i, j int) bool { return s.Skipped[i].Path < s.Skipped[j].Path })
}
