package route

import (
	"errors"
	"fmt"
	"strings"
)

// PatternKind distinguishes literal paths from catch-all prefixes
type PatternKind int

const (
	// Literal matches exactly one path
	Literal PatternKind = iota
	// CatchAll matches a prefix plus an arbitrary trailing remainder
	CatchAll
)

func (k PatternKind) String() string {
	if k == CatchAll {
		return "catch-all"
	}
	return "literal"
}

// Pattern is a parsed path pattern. For a catch-all, Path holds the prefix
// without the trailing "/*" ("" for a root catch-all).
type Pattern struct {
	Kind PatternKind
	Path string
}

// ParsePattern parses "/a/b" (literal) or "/a/b/*" (catch-all). A "*" is only
// accepted as the whole final segment.
func ParsePattern(raw string) (Pattern, error) {
	if !strings.HasPrefix(raw, "/") {
		return Pattern{}, fmt.Errorf("pattern %q must start with /", raw)
	}
	if strings.Contains(raw, "?") || strings.Contains(raw, "#") {
		return Pattern{}, fmt.Errorf("pattern %q must not carry a query or fragment", raw)
	}

	kind := Literal
	path := raw
	if strings.HasSuffix(raw, "/*") {
		kind = CatchAll
		path = strings.TrimSuffix(raw, "/*")
	}
	if strings.Contains(path, "*") {
		return Pattern{}, errors.New("wildcard is only allowed as the final segment: " + raw)
	}
	if strings.Contains(path, "//") {
		return Pattern{}, fmt.Errorf("pattern %q contains an empty segment", raw)
	}

	path = NormalizePath(path)
	if kind == CatchAll && path == "/" {
		path = ""
	}
	return Pattern{Kind: kind, Path: path}, nil
}

// MustParsePattern is ParsePattern that panics on error, for static tables
func MustParsePattern(raw string) Pattern {
	p, err := ParsePattern(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// NormalizePath drops a single trailing slash so "/a/" and "/a" are equal
func NormalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		return path[:len(path)-1]
	}
	return path
}

// Match reports whether path matches and returns the captured remainder for a
// catch-all. Request exactly at the prefix yields an empty capture.
func (p Pattern) Match(path string) (string, bool) {
	np := NormalizePath(path)
	if p.Kind == Literal {
		return "", np == p.Path
	}

	if np == p.Path || (p.Path == "" && np == "/") {
		return "", true
	}
	if strings.HasPrefix(np, p.Path+"/") {
		return np[len(p.Path)+1:], true
	}
	return "", false
}

// Segments returns the number of fixed path segments
func (p Pattern) Segments() int {
	trimmed := strings.Trim(p.Path, "/")
	if trimmed == "" {
		return 0
	}
	return strings.Count(trimmed, "/") + 1
}

func (p Pattern) String() string {
	if p.Kind == CatchAll {
		return p.Path + "/*"
	}
	return p.Path
}
