// Package consul resolves collaborator addresses and extra routes from the
// Consul catalog once, at startup.
package consul

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	consulapi "github.com/hashicorp/consul/api"
	"github.com/moonkev/flexgw/internal/discovery"
)

// Config holds the loader configuration
type Config struct {
	ConsulAddr  string
	WaitTimeSec int
	// Required services must have a healthy instance before LoadConfig returns
	Required []string
	// Timeout bounds the whole wait
	Timeout time.Duration
	// RetryInterval paces health re-checks while the catalog index is
	// unchanged. A check turning healthy does not bump the catalog index.
	RetryInterval time.Duration
}

const DefaultRetryInterval = time.Second

type HeaderRoundTripper struct {
	Rt http.RoundTripper
}

func (h *HeaderRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return h.Rt.RoundTrip(req)
}

// NewClient accepts "host:port" or a full http(s) URL
func NewClient(addr string) (*consulapi.Client, error) {
	consulCfg := consulapi.DefaultConfig()
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	consulCfg.Address = addr

	consulCfg.HttpClient = &http.Client{
		Transport: &HeaderRoundTripper{Rt: http.DefaultTransport},
	}
	return consulapi.NewClient(consulCfg)
}

type catalogAPI interface {
	Services(q *consulapi.QueryOptions) (map[string][]string, *consulapi.QueryMeta, error)
}

type healthAPI interface {
	Service(service, tag string, passingOnly bool, q *consulapi.QueryOptions) ([]*consulapi.ServiceEntry, *consulapi.QueryMeta, error)
}

type loader struct {
	catalog catalogAPI
	health  healthAPI
	cfg     Config
}

// LoadConfig waits until every required service has a healthy instance, then
// pushes all catalog services into the aggregator.
func LoadConfig(ctx context.Context, cfg Config, aggregator *discovery.DiscoveredServiceAggregator) error {
	client, err := NewClient(cfg.ConsulAddr)
	if err != nil {
		return fmt.Errorf("failed to create consul client: %w", err)
	}
	l := &loader{catalog: client.Catalog(), health: client.Health(), cfg: cfg}

	services, err := l.waitForServices(ctx)
	if err != nil {
		return err
	}
	slog.Info("Loaded services from consul", "count", len(services))
	return aggregator.UpdateServices(discovery.LoaderConsul, services)
}

// waitForServices issues blocking catalog queries until the required set is
// healthy or the timeout expires.
func (l *loader) waitForServices(ctx context.Context) ([]*discovery.DiscoveredService, error) {
	if l.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.Timeout)
		defer cancel()
	}

	var lastIndex uint64
	missing := missingServices(l.cfg.Required, nil)
	for {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("consul: services still missing after wait: %s", strings.Join(missing, ", "))
		}

		queryOpts := &consulapi.QueryOptions{
			WaitIndex: lastIndex,
			WaitTime:  time.Duration(l.cfg.WaitTimeSec) * time.Second,
		}
		queryOpts = queryOpts.WithContext(ctx)

		serviceMapping, meta, err := l.catalog.Services(queryOpts)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			slog.Error("Failed to fetch services", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		if lastIndex != 0 && meta.LastIndex == lastIndex {
			// Catalog unchanged, but health may have moved on
			select {
			case <-ctx.Done():
				continue
			case <-time.After(l.retryInterval()):
			}
		} else {
			slog.Debug("Detected catalog change", "lastIndex", lastIndex, "newIndex", meta.LastIndex)
			lastIndex = meta.LastIndex
		}

		services := l.fetchHealthy(ctx, filterServices(serviceMapping))
		missing = missingServices(l.cfg.Required, services)
		if len(missing) == 0 {
			return services, nil
		}
		slog.Info("Waiting for services in consul", "missing", missing)
	}
}

func (l *loader) retryInterval() time.Duration {
	if l.cfg.RetryInterval > 0 {
		return l.cfg.RetryInterval
	}
	return DefaultRetryInterval
}

func (l *loader) fetchHealthy(ctx context.Context, names []string) []*discovery.DiscoveredService {
	var discoveredServices []*discovery.DiscoveredService

	for _, svc := range names {
		entries, _, err := l.health.Service(svc, "", true, (&consulapi.QueryOptions{}).WithContext(ctx))
		if err != nil {
			slog.Error("Failed fetching healthy entries", "service", svc, "error", err)
			continue
		}
		if len(entries) == 0 {
			slog.Warn("Service has no healthy instances", "service", svc)
			continue
		}

		// Use the most recently modified instance
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].Service.ModifyIndex > entries[j].Service.ModifyIndex
		})
		head := entries[0]

		address := baseAddress(head)
		if address == "" {
			slog.Warn("Service instance has no address", "service", svc)
			continue
		}

		discoveredServices = append(discoveredServices, &discovery.DiscoveredService{
			Name:    svc,
			Address: address,
			Routes:  discovery.ParseServiceRoutes(svc, head.Service.Meta),
		})
	}
	return discoveredServices
}

func baseAddress(e *consulapi.ServiceEntry) string {
	host := e.Service.Address
	if host == "" && e.Node != nil {
		host = e.Node.Address
	}
	if host == "" {
		return ""
	}
	scheme := "http"
	if e.Service.Meta["scheme"] == "https" {
		scheme = "https"
	}
	if e.Service.Port > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(e.Service.Port))
	}
	return scheme + "://" + host
}

func missingServices(required []string, found []*discovery.DiscoveredService) []string {
	have := make(map[string]bool, len(found))
	for _, s := range found {
		have[s.Name] = true
	}
	var missing []string
	for _, r := range required {
		if !have[r] {
			missing = append(missing, r)
		}
	}
	sort.Strings(missing)
	return missing
}

// filterServices extracts service names from the Consul response, excluding "consul"
func filterServices(services map[string][]string) []string {
	svcList := make([]string, 0, len(services))
	for name := range services {
		if name != "consul" {
			svcList = append(svcList, name)
		}
	}
	sort.Strings(svcList)
	return svcList
}
