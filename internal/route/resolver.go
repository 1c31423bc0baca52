package route

// Match is a resolved route and the path remainder captured by its catch-all
type Match struct {
	Definition Definition
	Wildcard   string
}

// TargetPath returns the downstream path (without leading slash)
func (m Match) TargetPath() string {
	return m.Definition.TargetPath(m.Wildcard)
}

// Resolver picks the best route for a request. It holds the table's
// definitions in precedence order and is safe for concurrent use.
type Resolver struct {
	ordered []Definition
}

// NewResolver snapshots the table in precedence order
func NewResolver(t *Table) *Resolver {
	return &Resolver{ordered: t.Ordered()}
}

// Resolve returns the best match for method and path, or ErrNoRoute
func (r *Resolver) Resolve(method, path string) (Match, error) {
	for _, d := range r.ordered {
		if !d.AllowsMethod(method) {
			continue
		}
		if wildcard, ok := d.Pattern.Match(path); ok {
			return Match{Definition: d, Wildcard: wildcard}, nil
		}
	}
	return Match{}, ErrNoRoute
}

// Routes returns the definitions in the order they are tried
func (r *Resolver) Routes() []Definition {
	out := make([]Definition, len(r.ordered))
	copy(out, r.ordered)
	return out
}
