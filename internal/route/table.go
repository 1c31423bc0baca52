// Package route holds the gateway's route table and the resolver that picks
// the single best route for an incoming request.
//
// Precedence is a pure function of pattern specificity:
//
//  1. literal patterns outrank catch-all patterns
//  2. among catch-alls, the prefix with more segments wins
//  3. remaining ties go to the definition registered first
//
// Registration order never overrides specificity, so an alias such as
// "GET /api/equipos" stays reachable when "/api/equipos/*" was added before it.
package route

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ErrNoRoute is returned when no definition matches a request
var ErrNoRoute = errors.New("no route")

// ServiceResolver is the part of the service registry the table validates against
type ServiceResolver interface {
	Resolve(name string) (*url.URL, bool)
}

// Table is an ordered, append-at-startup collection of route definitions
type Table struct {
	defs []Definition
}

// NewTable returns a table holding defs in registration order
func NewTable(defs ...Definition) *Table {
	t := &Table{}
	t.Add(defs...)
	return t
}

// Add appends definitions. Only used while building the table at startup.
func (t *Table) Add(defs ...Definition) {
	t.defs = append(t.defs, defs...)
}

// Len returns the number of definitions
func (t *Table) Len() int {
	return len(t.defs)
}

// Definitions returns the definitions in registration order
func (t *Table) Definitions() []Definition {
	out := make([]Definition, len(t.defs))
	copy(out, t.defs)
	return out
}

// Services returns the distinct service names referenced by the table, sorted
func (t *Table) Services() []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range t.defs {
		if !seen[d.Service] {
			seen[d.Service] = true
			out = append(out, d.Service)
		}
	}
	sort.Strings(out)
	return out
}

// Validate checks that every referenced service resolves
func (t *Table) Validate(services ServiceResolver) error {
	var dangling []string
	for _, d := range t.defs {
		if _, ok := services.Resolve(d.Service); !ok {
			dangling = append(dangling, fmt.Sprintf("%s -> %s", d.Name, d.Service))
		}
	}
	if len(dangling) > 0 {
		return fmt.Errorf("routes reference unknown services: %s", strings.Join(dangling, "; "))
	}
	return nil
}

// Ordered returns the definitions sorted by precedence, most specific first
func (t *Table) Ordered() []Definition {
	out := t.Definitions()
	sort.SliceStable(out, func(i, j int) bool {
		return moreSpecific(out[i].Pattern, out[j].Pattern)
	})
	return out
}

// moreSpecific reports whether a strictly outranks b. Equal specificity
// returns false in both directions so a stable sort keeps registration order.
func moreSpecific(a, b Pattern) bool {
	if a.Kind != b.Kind {
		return a.Kind == Literal
	}
	if a.Kind == CatchAll {
		return a.Segments() > b.Segments()
	}
	return false
}
