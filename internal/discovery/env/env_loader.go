// Package env reads collaborator addresses from the process environment.
package env

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/moonkev/flexgw/internal/discovery"
)

// GenericPrefix registers any service: FLEXGW_SERVICE_<NAME>=<url>.
// <NAME> is lower-cased and underscores become hyphens.
const GenericPrefix = "FLEXGW_SERVICE_"

// Binding maps a logical service to the variable carrying its address
type Binding struct {
	Service    string
	EnvVar     string
	DevDefault string
}

// DefaultBindings are the back office collaborators
var DefaultBindings = []Binding{
	{Service: "equipos", EnvVar: "EQUIPOS_URL", DevDefault: "http://localhost:8001"},
	{Service: "proveedores", EnvVar: "PROVEEDORES_URL", DevDefault: "http://localhost:8002"},
	{Service: "mantenimientos", EnvVar: "MANTENIMIENTO_URL", DevDefault: "http://localhost:8003"},
	{Service: "reportes", EnvVar: "REPORTES_URL", DevDefault: "http://localhost:8004"},
	{Service: "agents", EnvVar: "AGENTS_URL", DevDefault: "http://localhost:8005"},
}

type Config struct {
	Bindings []Binding
	// Environ defaults to os.Environ()
	Environ []string
}

// Discover returns the services configured in the environment
func Discover(cfg Config) ([]*discovery.DiscoveredService, error) {
	environ := cfg.Environ
	if environ == nil {
		environ = os.Environ()
	}
	vars := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}

	found := make(map[string]string)
	for _, b := range cfg.Bindings {
		if v := strings.TrimSpace(vars[b.EnvVar]); v != "" {
			found[b.Service] = v
		}
	}

	for k, v := range vars {
		if !strings.HasPrefix(k, GenericPrefix) {
			continue
		}
		name := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(k, GenericPrefix)), "_", "-")
		if name == "" {
			return nil, fmt.Errorf("%s: empty service name", k)
		}
		if strings.TrimSpace(v) == "" {
			continue
		}
		if _, ok := found[name]; ok {
			slog.Debug("Generic variable overrides binding", "service", name, "envVar", k)
		}
		found[name] = strings.TrimSpace(v)
	}

	names := make([]string, 0, len(found))
	for n := range found {
		names = append(names, n)
	}
	sort.Strings(names)

	services := make([]*discovery.DiscoveredService, 0, len(names))
	for _, n := range names {
		services = append(services, &discovery.DiscoveredService{Name: n, Address: found[n]})
	}
	return services, nil
}

// LoadConfig pushes the environment's services into the aggregator
func LoadConfig(cfg Config, aggregator *discovery.DiscoveredServiceAggregator) error {
	services, err := Discover(cfg)
	if err != nil {
		return err
	}
	slog.Info("Loaded services from environment", "count", len(services))
	return aggregator.UpdateServices(discovery.LoaderEnv, services)
}

// LoadDevDefaults registers the localhost address of every binding no other
// loader has supplied. Run it after all real loaders; its entries rank last.
func LoadDevDefaults(bindings []Binding, aggregator *discovery.DiscoveredServiceAggregator) error {
	var services []*discovery.DiscoveredService
	for _, b := range bindings {
		if b.DevDefault == "" || aggregator.Has(b.Service) {
			continue
		}
		slog.Warn("Using development default address", "service", b.Service, "envVar", b.EnvVar, "address", b.DevDefault)
		services = append(services, &discovery.DiscoveredService{Name: b.Service, Address: b.DevDefault})
	}
	return aggregator.UpdateServices(discovery.LoaderDevDefaults, services)
}
