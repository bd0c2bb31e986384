package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Blacklist excludes relative paths from translation. A pattern ending in
// "/" excludes every path under that prefix; any other pattern excludes the
// exact path only.
type Blacklist struct {
	prefixes []string
	exact    map[string]bool
}

// LoadBlacklist reads newline-separated patterns from path. Blank lines and
// lines beginning with "#" are ignored. An empty path yields an empty
// blacklist.
func LoadBlacklist(path string) (*Blacklist, error) {
	bl := &Blacklist{exact: make(map[string]bool)}
	if path == "" {
		return bl, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read blacklist file: %w", err)
	}

	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasSuffix(line, "/") {
			bl.prefixes = append(bl.prefixes, line)
		} else {
			bl.exact[line] = true
		}
	}
	return bl, nil
}

// Match reports whether the relative path rel is blacklisted.
func (b *Blacklist) Match(rel string) bool {
	rel = filepath.ToSlash(rel)
	if b.exact[rel] {
		return true
	}
	for _, prefix := range b.prefixes {
		if strings.HasPrefix(rel, prefix) {
			return true
		}
	}
	return false
}

// Len returns the number of loaded patterns.
func (b *Blacklist) Len() int {
	return len(b.prefixes) + len(b.exact)
}
