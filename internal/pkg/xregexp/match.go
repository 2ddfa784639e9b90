// Package xregexp matches model names against catalog alias patterns. A
// pattern without regex metacharacters compares as a literal; anything else
// compiles once through regexp2, so aliases can use lookarounds, and stays
// cached for the catalog's resolution path.
package xregexp

import (
	"strings"

	regexp2 "github.com/dlclark/regexp2/v2"

	"github.com/switchyardai/switchyard/internal/pkg/xmap"
)

type aliasPattern struct {
	regex   *regexp2.Regexp
	literal bool
	bad     bool
}

var patterns = xmap.New[string, *aliasPattern]()

// MatchString reports whether the model name matches the alias pattern.
// Patterns are implicitly anchored to the whole name; an invalid pattern
// matches nothing.
func MatchString(pattern string, name string) bool {
	p := compile(pattern)

	switch {
	case p.bad:
		return false
	case p.literal:
		return pattern == name
	}

	ok, _ := p.regex.MatchString(name)

	return ok
}

func compile(pattern string) *aliasPattern {
	if p, ok := patterns.Load(pattern); ok {
		return p
	}

	p := &aliasPattern{}

	if !strings.ContainsAny(pattern, `*?+[]{}()^$.|\`) {
		p.literal = true
	} else if compiled, err := regexp2.Compile(ensureAnchored(pattern), regexp2.None); err != nil {
		p.bad = true
	} else {
		p.regex = compiled
	}

	patterns.Store(pattern, p)

	return p
}

// ensureAnchored pins the pattern to the whole model name. A leading inline
// modifier group such as (?i) is skipped when looking for an existing ^.
func ensureAnchored(pattern string) string {
	rest := pattern

	if strings.HasPrefix(rest, "(?") {
		if end := strings.IndexByte(rest, ')'); end > 2 && strings.Trim(rest[2:end], "ims") == "" {
			rest = rest[end+1:]
		}
	}

	if !strings.HasPrefix(rest, "^") {
		pattern = "^" + pattern
	}

	if !strings.HasSuffix(pattern, "$") {
		pattern += "$"
	}

	return pattern
}
