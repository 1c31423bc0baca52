package discovery

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/moonkev/flexgw/internal/registry"
	"github.com/moonkev/flexgw/internal/route"
)

// Loader IDs, also the default address precedence (first wins)
const (
	LoaderEnv    = "env_loader"
	LoaderYAML   = "yaml_loader"
	LoaderConsul = "consul_loader"
	// LoaderDevDefaults only fills gaps left by the real loaders
	LoaderDevDefaults = "dev_defaults"
)

// DiscoveredServiceAggregator collects what each startup loader found and
// freezes it into a registry and a route table.
type DiscoveredServiceAggregator struct {
	mu                   sync.Mutex
	precedence           []string
	discoveredServiceMap map[string][]*DiscoveredService
	routeMap             map[string][]RoutePattern
}

// NewDiscoveredServiceAggregator returns an aggregator. Loaders listed first
// win address conflicts and register their routes first; unlisted loaders
// come last.
func NewDiscoveredServiceAggregator(precedence ...string) *DiscoveredServiceAggregator {
	if len(precedence) == 0 {
		precedence = []string{LoaderEnv, LoaderYAML, LoaderConsul, LoaderDevDefaults}
	}
	return &DiscoveredServiceAggregator{
		precedence:           precedence,
		discoveredServiceMap: make(map[string][]*DiscoveredService),
		routeMap:             make(map[string][]RoutePattern),
	}
}

// UpdateServices replaces the services reported by loaderId
func (a *DiscoveredServiceAggregator) UpdateServices(loaderId string, services []*DiscoveredService) error {
	for _, svc := range services {
		if svc == nil || svc.Name == "" {
			return fmt.Errorf("%s: service without a name", loaderId)
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.discoveredServiceMap[loaderId] = services
	a.ensureKnown(loaderId)
	return nil
}

// UpdateRoutes replaces the standalone routes reported by loaderId
func (a *DiscoveredServiceAggregator) UpdateRoutes(loaderId string, routes []RoutePattern) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.routeMap[loaderId] = routes
	a.ensureKnown(loaderId)
}

// Has reports whether any loader supplied an address for name
func (a *DiscoveredServiceAggregator) Has(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, svcList := range a.discoveredServiceMap {
		for _, svc := range svcList {
			if svc.Name == name && svc.Address != "" {
				return true
			}
		}
	}
	return false
}

func (a *DiscoveredServiceAggregator) ensureKnown(loaderId string) {
	for _, id := range a.precedence {
		if id == loaderId {
			return
		}
	}
	a.precedence = append(a.precedence, loaderId)
}

// Build freezes the aggregated state. base routes are registered before any
// loader-supplied route.
func (a *DiscoveredServiceAggregator) Build(base []route.Definition) (*registry.Registry, *route.Table, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var entries []registry.ServiceEntry
	source := make(map[string]string)
	table := route.NewTable(base...)

	for _, loaderId := range a.precedence {
		for _, svc := range a.discoveredServiceMap[loaderId] {
			if svc.Address != "" {
				if prev, ok := source[svc.Name]; ok {
					slog.Debug("Address already provided by higher precedence loader",
						"service", svc.Name, "loader", loaderId, "winner", prev)
				} else {
					entry, err := registry.NewServiceEntry(svc.Name, svc.Address)
					if err != nil {
						return nil, nil, fmt.Errorf("%s: %w", loaderId, err)
					}
					entries = append(entries, entry)
					source[svc.Name] = loaderId
				}
			}
			for _, rp := range svc.Routes {
				if rp.Service == "" {
					rp.Service = svc.Name
				}
				if err := addRoute(table, loaderId, rp); err != nil {
					return nil, nil, err
				}
			}
		}
		for _, rp := range a.routeMap[loaderId] {
			if err := addRoute(table, loaderId, rp); err != nil {
				return nil, nil, err
			}
		}
	}

	reg, err := registry.New(entries...)
	if err != nil {
		return nil, nil, err
	}
	for _, e := range reg.Entries() {
		slog.Info("Registered service", "service", e.Name, "address", e.BaseAddress.String(), "loader", source[e.Name])
	}
	return reg, table, nil
}

func addRoute(table *route.Table, loaderId string, rp RoutePattern) error {
	def, err := rp.Definition()
	if err != nil {
		return fmt.Errorf("%s: %w", loaderId, err)
	}
	table.Add(def)
	return nil
}
