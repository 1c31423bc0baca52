// Package registry holds the startup-built mapping from logical service name
// to the base address of the collaborator serving it.
//
// A Registry is immutable once constructed and may be read from any number of
// goroutines without synchronization.
package registry

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// ErrServiceNotFound is returned when a name has no configured address
var ErrServiceNotFound = errors.New("service not found")

// ServiceEntry binds a logical service name to a base address
type ServiceEntry struct {
	Name        string
	BaseAddress *url.URL
}

// NewServiceEntry parses rawAddress and returns a validated entry
func NewServiceEntry(name, rawAddress string) (ServiceEntry, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ServiceEntry{}, errors.New("service name cannot be empty")
	}
	u, err := ParseBaseAddress(rawAddress)
	if err != nil {
		return ServiceEntry{}, fmt.Errorf("service %s: %w", name, err)
	}
	return ServiceEntry{Name: name, BaseAddress: u}, nil
}

// ParseBaseAddress parses an absolute http or https URL. Query and fragment
// are not allowed, a trailing slash on the path is dropped.
func ParseBaseAddress(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("address cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("address %q must use http or https", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("address %q has no host", raw)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return nil, fmt.Errorf("address %q must not carry a query or fragment", raw)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u, nil
}

// Registry is an immutable name -> address map
type Registry struct {
	entries map[string]ServiceEntry
}

// New builds a registry. Duplicate names or entries without an address are rejected.
func New(entries ...ServiceEntry) (*Registry, error) {
	m := make(map[string]ServiceEntry, len(entries))
	for _, e := range entries {
		if e.Name == "" {
			return nil, errors.New("service name cannot be empty")
		}
		if e.BaseAddress == nil {
			return nil, fmt.Errorf("service %s: %w", e.Name, ErrServiceNotFound)
		}
		if _, dup := m[e.Name]; dup {
			return nil, fmt.Errorf("service %s registered twice", e.Name)
		}
		u := *e.BaseAddress
		m[e.Name] = ServiceEntry{Name: e.Name, BaseAddress: &u}
	}
	return &Registry{entries: m}, nil
}

// Resolve returns a copy of the base address for name
func (r *Registry) Resolve(name string) (*url.URL, bool) {
	if r == nil {
		return nil, false
	}
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	u := *e.BaseAddress
	return &u, true
}

// Require returns an error naming every service without an address
func (r *Registry) Require(names ...string) error {
	var missing []string
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		if _, ok := r.Resolve(n); !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%w: no address configured for %s", ErrServiceNotFound, strings.Join(missing, ", "))
}

// Names returns the registered names in sorted order
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Entries returns copies of all entries sorted by name
func (r *Registry) Entries() []ServiceEntry {
	names := r.Names()
	out := make([]ServiceEntry, 0, len(names))
	for _, n := range names {
		u, _ := r.Resolve(n)
		out = append(out, ServiceEntry{Name: n, BaseAddress: u})
	}
	return out
}

// Len returns the number of registered services
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}
