package source

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// HeadCommit resolves the commit checked out at root by reading .git
// directly. It returns "" when root is not a git work tree or HEAD cannot be
// resolved.
func HeadCommit(root string) string {
	gitDir := filepath.Join(root, ".git")

	head, err := os.ReadFile(filepath.Join(gitDir, "HEAD"))
	if err != nil {
		return ""
	}
	line := strings.TrimSpace(string(head))

	ref, ok := strings.CutPrefix(line, "ref: ")
	if !ok {
		// Detached HEAD.
		return line
	}

	if data, err := os.ReadFile(filepath.Join(gitDir, filepath.FromSlash(ref))); err == nil {
		return strings.TrimSpace(string(data))
	}

	packed, err := os.Open(filepath.Join(gitDir, "packed-refs"))
	if err != nil {
		return ""
	}
	defer packed.Close()

	scanner := bufio.NewScanner(packed)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 2 && fields[1] == ref {
			return fields[0]
		}
	}
	return ""
}
