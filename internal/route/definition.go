package route

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var validMethods = map[string]bool{
	"GET":     true,
	"POST":    true,
	"PUT":     true,
	"DELETE":  true,
	"PATCH":   true,
	"HEAD":    true,
	"OPTIONS": true,
}

// Definition binds a method set and a path pattern to a service and a target
// path template. "*" in Target is replaced with the catch-all capture.
type Definition struct {
	Name    string
	Methods []string
	Pattern Pattern
	Service string
	Target  string
}

// NewDefinition validates and normalizes a route definition
func NewDefinition(name string, methods []string, pattern, service, target string) (Definition, error) {
	p, err := ParsePattern(pattern)
	if err != nil {
		return Definition{}, err
	}
	if name == "" {
		name = strings.Join(methods, ",") + " " + pattern
	}

	if len(methods) == 0 {
		return Definition{}, fmt.Errorf("route %s: at least one method is required", name)
	}
	seen := make(map[string]bool, len(methods))
	norm := make([]string, 0, len(methods))
	for _, m := range methods {
		m = strings.ToUpper(strings.TrimSpace(m))
		if !validMethods[m] {
			return Definition{}, fmt.Errorf("route %s: invalid HTTP method: %s", name, m)
		}
		if !seen[m] {
			seen[m] = true
			norm = append(norm, m)
		}
	}
	sort.Strings(norm)

	if strings.TrimSpace(service) == "" {
		return Definition{}, fmt.Errorf("route %s: service cannot be empty", name)
	}

	target = strings.TrimPrefix(strings.TrimSpace(target), "/")
	switch n := strings.Count(target, "*"); {
	case n > 1:
		return Definition{}, fmt.Errorf("route %s: target %q references the wildcard more than once", name, target)
	case n == 1 && p.Kind == Literal:
		return Definition{}, errors.New("route " + name + ": literal pattern cannot reference a wildcard in its target")
	}

	return Definition{
		Name:    name,
		Methods: norm,
		Pattern: p,
		Service: service,
		Target:  target,
	}, nil
}

// MustDefinition is NewDefinition that panics on error, for static tables
func MustDefinition(name string, methods []string, pattern, service, target string) Definition {
	d, err := NewDefinition(name, methods, pattern, service, target)
	if err != nil {
		panic(err)
	}
	return d
}

// AllowsMethod reports whether method is in the definition's method set
func (d Definition) AllowsMethod(method string) bool {
	method = strings.ToUpper(method)
	for _, m := range d.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// TargetPath substitutes the captured wildcard into the target template.
// An empty capture drops a trailing "/*" so "equipos/*" becomes "equipos".
func (d Definition) TargetPath(wildcard string) string {
	if wildcard == "" {
		if d.Target == "*" {
			return ""
		}
		if strings.HasSuffix(d.Target, "/*") {
			return strings.TrimSuffix(d.Target, "/*")
		}
	}
	return strings.Replace(d.Target, "*", wildcard, 1)
}
