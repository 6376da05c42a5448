package subscription

import (
	"fmt"

	"github.com/gobwas/glob"
)

// tableAllowlist restricts which tables may be subscribed. Patterns match
// either the bare table name or schema.table. An empty list allows all.
type tableAllowlist struct {
	patterns []glob.Glob
}

func newTableAllowlist(patterns []string) (*tableAllowlist, error) {
	a := &tableAllowlist{patterns: make([]glob.Glob, 0, len(patterns))}
	for _, p := range patterns {
		g, err := glob.Compile(p, '.')
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", errInvalidAllowlist, p, err)
		}
		a.patterns = append(a.patterns, g)
	}
	return a, nil
}

func (a *tableAllowlist) allowed(schema, table string) bool {
	if len(a.patterns) == 0 {
		return true
	}
	qualified := schema + "." + table
	for _, g := range a.patterns {
		if g.Match(table) || g.Match(qualified) {
			return true
		}
	}
	return false
}
