package source

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/gobwas/glob"
)

const DefaultMaxFileSize = 100000

var DefaultInclude = []string{
	"*.py", "*.js", "*.jsx", "*.ts", "*.tsx", "*.go", "*.java", "*.pyi", "*.pyx",
	"*.c", "*.cc", "*.cpp", "*.h", "*.md", "*.rst", "*Dockerfile",
	"*Makefile", "*.yaml", "*.yml",
}

var DefaultExclude = []string{
	"assets/*", "data/*", "images/*", "public/*", "static/*", "temp/*",
	"*docs/*", "*venv/*", "*.venv/*", "*test*", "*tests/*", "*examples/*",
	"v1/*", "*dist/*", "*build/*", "*experimental/*", "*deprecated/*",
	"*misc/*", "*legacy/*", ".git/*", ".github/*", ".next/*", ".vscode/*",
	"*obj/*", "*bin/*", "*node_modules/*", "*.log",
}

// SkipReason explains why a file was left out of a snapshot.
type SkipReason string

const (
	SkipNone       SkipReason = ""
	SkipExcluded   SkipReason = "excluded"
	SkipTooLarge   SkipReason = "too_large"
	SkipBinary     SkipReason = "binary"
	SkipUnreadable SkipReason = "unreadable"
)

// sniffLen bounds the NUL-byte scan, as git does.
const sniffLen = 8000

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Policy is the single ignore/normalization routine shared by estimation,
// change detection and chunking. Patterns use fnmatch semantics: '*' also
// matches '/'.
type Policy struct {
	include     []glob.Glob
	exclude     []glob.Glob
	MaxFileSize int64
}

func NewPolicy(include, exclude []string, maxFileSize int64) (*Policy, error) {
	p := &Policy{MaxFileSize: maxFileSize}

	for _, pattern := range include {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling include pattern %q: %w", pattern, err)
		}
		p.include = append(p.include, g)
	}
	for _, pattern := range exclude {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling exclude pattern %q: %w", pattern, err)
		}
		p.exclude = append(p.exclude, g)
	}

	return p, nil
}

// DefaultPolicy mirrors the generator's built-in include/exclude sets.
func DefaultPolicy() *Policy {
	p, err := NewPolicy(DefaultInclude, DefaultExclude, DefaultMaxFileSize)
	if err != nil {
		panic(err)
	}
	return p
}

// Allow reports whether a slash-separated relative path passes the
// include/exclude filters. No include patterns means everything is included.
func (p *Policy) Allow(path string) bool {
	if path == "" {
		return false
	}

	included := len(p.include) == 0
	for _, g := range p.include {
		if g.Match(path) {
			included = true
			break
		}
	}
	if !included {
		return false
	}

	for _, g := range p.exclude {
		if g.Match(path) {
			return false
		}
	}
	return true
}

// Normalize returns the canonical form of raw (BOM stripped, CRLF folded to
// LF) or the reason the file cannot be used as text.
func (p *Policy) Normalize(raw []byte) ([]byte, SkipReason) {
	if p.MaxFileSize > 0 && int64(len(raw)) > p.MaxFileSize {
		return nil, SkipTooLarge
	}

	sniff := raw
	if len(sniff) > sniffLen {
		sniff = sniff[:sniffLen]
	}
	if bytes.IndexByte(sniff, 0) >= 0 || !utf8.Valid(raw) {
		return nil, SkipBinary
	}

	out := bytes.TrimPrefix(raw, utf8BOM)
	if bytes.Contains(out, []byte("\r\n")) {
		out = bytes.ReplaceAll(out, []byte("\r\n"), []byte("\n"))
	}
	return out, SkipNone
}
