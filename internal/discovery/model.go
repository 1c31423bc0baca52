package discovery

import (
	"github.com/moonkev/flexgw/internal/route"
)

// DiscoveredService is a service address reported by a loader
type DiscoveredService struct {
	Name    string
	Address string
	Routes  []RoutePattern // Routes carried in the service's own metadata
}

// RoutePattern is a loader-supplied route before validation
type RoutePattern struct {
	Name    string
	Methods []string
	Path    string
	Service string
	Target  string
}

// Definition validates the pattern into a route definition
func (rp RoutePattern) Definition() (route.Definition, error) {
	return route.NewDefinition(rp.Name, rp.Methods, rp.Path, rp.Service, rp.Target)
}
