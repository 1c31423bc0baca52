package yaml

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/moonkev/flexgw/internal/common/config"
	"github.com/moonkev/flexgw/internal/discovery"
	"go.yaml.in/yaml/v2"
)

type Config struct {
	ConfigPath string
}

type Service struct {
	Name    string            `yaml:"name"`
	Address string            `yaml:"address"`
	Meta    map[string]string `yaml:"meta"`
}

type Route struct {
	Name    string   `yaml:"name"`
	Methods []string `yaml:"methods"`
	Path    string   `yaml:"path"`
	Service string   `yaml:"service"`
	Target  string   `yaml:"target"`
}

type File struct {
	Timeout  *config.Duration `yaml:"timeout"`
	Services []Service        `yaml:"services"`
	Routes   []Route          `yaml:"routes"`
}

// Settings are gateway options a YAML file may carry
type Settings struct {
	// Timeout is zero when the file does not set one
	Timeout time.Duration
}

// Parse decodes a services/routes document. Unknown keys are rejected.
func Parse(raw []byte) (*File, error) {
	var f File
	if err := yaml.UnmarshalStrict(raw, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

func LoadConfig(cfg Config, aggregator *discovery.DiscoveredServiceAggregator) (Settings, error) {
	rawYaml, err := os.ReadFile(cfg.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	f, err := Parse(rawYaml)
	if err != nil {
		return Settings{}, fmt.Errorf("%s: %w", cfg.ConfigPath, err)
	}

	var discoveredServices []*discovery.DiscoveredService
	for _, svc := range f.Services {
		discoveredServices = append(discoveredServices, &discovery.DiscoveredService{
			Name:    svc.Name,
			Address: svc.Address,
			Routes:  discovery.ParseServiceRoutes(svc.Name, svc.Meta),
		})
	}

	routes := make([]discovery.RoutePattern, 0, len(f.Routes))
	for _, r := range f.Routes {
		routes = append(routes, discovery.RoutePattern{
			Name:    r.Name,
			Methods: r.Methods,
			Path:    r.Path,
			Service: r.Service,
			Target:  r.Target,
		})
	}

	slog.Info("Loaded services from YAML config",
		"path", cfg.ConfigPath,
		"services", len(discoveredServices),
		"routes", len(routes))
	for i, ds := range discoveredServices {
		slog.Debug("Discovered service",
			"index", i,
			"name", ds.Name,
			"address", ds.Address,
			"routes", len(ds.Routes))
	}

	if err := aggregator.UpdateServices(discovery.LoaderYAML, discoveredServices); err != nil {
		return Settings{}, err
	}
	aggregator.UpdateRoutes(discovery.LoaderYAML, routes)

	return Settings{Timeout: f.Timeout.ToDuration()}, nil
}
