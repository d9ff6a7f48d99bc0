package github

import (
	"fmt"
	"regexp"
	"strings"
)

// ignoreSet matches repository paths against ignore globs. "**" crosses directories and "*" stays
// within one path segment; patterns are anchored at both ends.
type ignoreSet struct {
	patterns []*regexp.Regexp
}

func compileIgnore(globs []string) (*ignoreSet, error) {
	set := &ignoreSet{}
	for _, g := range globs {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		re, err := regexp.Compile("^" + globToRegexp(g) + "$")
		if err != nil {
			return nil, fmt.Errorf("ignore pattern %q: %w", g, err)
		}
		set.patterns = append(set.patterns, re)
	}
	return set, nil
}

func globToRegexp(glob string) string {
	var b strings.Builder
	for i := 0; i < len(glob); i++ {
		switch ch := glob[i]; ch {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				b.WriteString(".*")
				i++
				continue
			}
			b.WriteString("[^/]*")
		default:
			b.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	return b.String()
}

// Match reports whether path is ignored.
func (s *ignoreSet) Match(path string) bool {
	if s == nil {
		return false
	}
	for _, re := range s.patterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// filter drops ignored paths and reports whether anything was dropped.
func (s *ignoreSet) filter(paths []string) ([]string, bool) {
	if s == nil || len(s.patterns) == 0 {
		return paths, false
	}
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if !s.Match(p) {
			out = append(out, p)
		}
	}
	return out, len(out) != len(paths)
}
