package xds

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	cluster "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	core "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	endpoint "github.com/envoyproxy/go-control-plane/envoy/config/endpoint/v3"
	listener "github.com/envoyproxy/go-control-plane/envoy/config/listener/v3"
	routev3 "github.com/envoyproxy/go-control-plane/envoy/config/route/v3"
	hcm "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/network/http_connection_manager/v3"
	tls "github.com/envoyproxy/go-control-plane/envoy/extensions/transport_sockets/tls/v3"
	matcher "github.com/envoyproxy/go-control-plane/envoy/type/matcher/v3"
	"github.com/envoyproxy/go-control-plane/pkg/cache/types"
	cachev3 "github.com/envoyproxy/go-control-plane/pkg/cache/v3"
	"github.com/envoyproxy/go-control-plane/pkg/resource/v3"
	xdstype "github.com/envoyproxy/go-control-plane/pkg/wellknown"
	"github.com/moonkev/flexgw/internal/common/telemetry"
	"github.com/moonkev/flexgw/internal/registry"
	"github.com/moonkev/flexgw/internal/route"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ReferenceNode holds the snapshot copied to every node that connects
const ReferenceNode = "__REFERENCE_SNAPSHOT__"

const (
	routeConfigName = "local_route"
	listenerName    = "listener_0"
)

var version uint64 = 0

// Options controls the generated listener and route actions
type Options struct {
	ListenerPort uint32
	// RouteTimeout mirrors the gateway's forward timeout
	RouteTimeout time.Duration
}

type SnapshotManager struct {
	cache cachev3.SnapshotCache
	opts  Options
}

func NewSnapshotManager(cache cachev3.SnapshotCache, opts Options) *SnapshotManager {
	if opts.ListenerPort == 0 {
		opts.ListenerPort = 18080
	}
	return &SnapshotManager{cache: cache, opts: opts}
}

// BuildAndPushSnapshot publishes the registry and route table to the
// reference node and every node already known to the cache.
func (s *SnapshotManager) BuildAndPushSnapshot(ctx context.Context, reg *registry.Registry, table *route.Table) error {
	snapVer := strconv.FormatUint(atomic.AddUint64(&version, 1), 10)
	snap, err := BuildSnapshot(snapVer, reg, table, s.opts)
	if err != nil {
		return err
	}

	if err := s.cache.SetSnapshot(ctx, ReferenceNode, snap); err != nil {
		return fmt.Errorf("failed setting reference snapshot: %w", err)
	}
	nodeIDs := s.cache.GetStatusKeys()
	slog.Debug("node IDs", "nodeIDs", nodeIDs)
	for _, nodeID := range nodeIDs {
		if err := s.cache.SetSnapshot(ctx, nodeID, snap); err != nil {
			slog.Error("Failed setting snapshot", "nodeID", nodeID, "error", err)
		}
	}

	slog.Info("Snapshot pushed",
		"version", snapVer,
		"clusters", len(snap.GetResources(resource.ClusterType)),
		"routes", table.Len())
	telemetry.MetricSnapshotsPushed.Inc()
	return nil
}

// BuildSnapshot translates the frozen routing state into a consistent xDS
// snapshot. Routes are emitted in resolver precedence order, since Envoy takes
// the first matching route.
func BuildSnapshot(snapVer string, reg *registry.Registry, table *route.Table, opts Options) (*cachev3.Snapshot, error) {
	var clusters []types.Resource
	var endpoints []types.Resource

	for _, entry := range reg.Entries() {
		cl, cla, err := buildCluster(entry)
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, cl)
		endpoints = append(endpoints, cla)
	}

	var allRoutes []*routev3.Route
	for _, def := range table.Ordered() {
		base, ok := reg.Resolve(def.Service)
		if !ok {
			return nil, fmt.Errorf("route %s references unknown service %s", def.Name, def.Service)
		}
		allRoutes = append(allRoutes, buildRoutes(def, strings.TrimSuffix(base.Path, "/"), opts.RouteTimeout)...)
	}

	routeCfg := &routev3.RouteConfiguration{
		Name: routeConfigName,
		VirtualHosts: []*routev3.VirtualHost{{
			Name:    "default",
			Domains: []string{"*"},
			Routes:  allRoutes,
		}},
	}

	ln, err := buildListener(opts.ListenerPort)
	if err != nil {
		return nil, err
	}

	snap, err := cachev3.NewSnapshot(snapVer, map[resource.Type][]types.Resource{
		resource.ClusterType:  clusters,
		resource.EndpointType: endpoints,
		resource.RouteType:    {routeCfg},
		resource.ListenerType: {ln},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot: %w", err)
	}
	return snap, nil
}

func buildCluster(entry registry.ServiceEntry) (*cluster.Cluster, *endpoint.ClusterLoadAssignment, error) {
	u := entry.BaseAddress
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	portNum, err := strconv.ParseUint(port, 10, 32)
	if err != nil {
		return nil, nil, fmt.Errorf("service %s: invalid port %q", entry.Name, port)
	}

	cla := &endpoint.ClusterLoadAssignment{
		ClusterName: entry.Name,
		Endpoints: []*endpoint.LocalityLbEndpoints{{
			LbEndpoints: []*endpoint.LbEndpoint{{
				HostIdentifier: &endpoint.LbEndpoint_Endpoint{
					Endpoint: &endpoint.Endpoint{
						Address: &core.Address{
							Address: &core.Address_SocketAddress{
								SocketAddress: &core.SocketAddress{
									Address:       host,
									PortSpecifier: &core.SocketAddress_PortValue{PortValue: uint32(portNum)},
								},
							},
						},
					},
				},
			}},
		}},
	}

	// STRICT_DNS so hostnames in base addresses resolve like the gateway's client
	cl := &cluster.Cluster{
		Name:           entry.Name,
		ConnectTimeout: durationpb.New(2 * time.Second),
		ClusterDiscoveryType: &cluster.Cluster_Type{
			Type: cluster.Cluster_STRICT_DNS,
		},
		LoadAssignment:  cla,
		LbPolicy:        cluster.Cluster_ROUND_ROBIN,
		DnsLookupFamily: cluster.Cluster_V4_ONLY,
		DnsRefreshRate:  durationpb.New(60 * time.Second),
	}
	if ip := net.ParseIP(host); ip != nil {
		cl.ClusterDiscoveryType = &cluster.Cluster_Type{Type: cluster.Cluster_STATIC}
		cl.DnsLookupFamily = cluster.Cluster_AUTO
		cl.DnsRefreshRate = nil
	}

	if u.Scheme == "https" {
		slog.Debug("configuring TLS support", "service", entry.Name)
		tlsContextAny, err := anypb.New(&tls.UpstreamTlsContext{Sni: host})
		if err != nil {
			return nil, nil, err
		}
		cl.TransportSocket = &core.TransportSocket{
			Name: "envoy.transport_sockets.tls",
			ConfigType: &core.TransportSocket_TypedConfig{
				TypedConfig: tlsContextAny,
			},
		}
	}
	return cl, cla, nil
}

// buildRoutes emits one route for a literal and two for a catch-all: the bare
// prefix (empty capture) and the prefix with a remainder.
func buildRoutes(def route.Definition, basePath string, timeout time.Duration) []*routev3.Route {
	methods := methodMatcher(def.Methods)
	prefix := regexp.QuoteMeta(strings.TrimSuffix(def.Pattern.Path, "/"))

	if def.Pattern.Kind == route.Literal {
		return []*routev3.Route{
			newRoute(def, "^"+prefix+"/?$", basePath+"/"+def.TargetPath(""), methods, timeout),
		}
	}

	withCapture := basePath + "/" + strings.Replace(def.Target, "*", `\1`, 1)
	return []*routev3.Route{
		newRoute(def, "^"+prefix+"/?$", basePath+"/"+def.TargetPath(""), methods, timeout),
		newRoute(def, "^"+prefix+"/(.+?)/?$", withCapture, methods, timeout),
	}
}

func newRoute(def route.Definition, pathRegex, rewrite string, methods *routev3.HeaderMatcher, timeout time.Duration) *routev3.Route {
	ra := &routev3.RouteAction{
		ClusterSpecifier: &routev3.RouteAction_Cluster{Cluster: def.Service},
		RegexRewrite: &matcher.RegexMatchAndSubstitute{
			Pattern:      &matcher.RegexMatcher{Regex: pathRegex},
			Substitution: rewrite,
		},
		HostRewriteSpecifier: &routev3.RouteAction_AutoHostRewrite{AutoHostRewrite: wrapperspb.Bool(true)},
	}
	if timeout > 0 {
		ra.Timeout = durationpb.New(timeout)
	}
	return &routev3.Route{
		Name: def.Name,
		Match: &routev3.RouteMatch{
			PathSpecifier: &routev3.RouteMatch_SafeRegex{
				SafeRegex: &matcher.RegexMatcher{Regex: pathRegex},
			},
			Headers: []*routev3.HeaderMatcher{methods},
		},
		Action: &routev3.Route_Route{Route: ra},
	}
}

func methodMatcher(methods []string) *routev3.HeaderMatcher {
	return &routev3.HeaderMatcher{
		Name: ":method",
		HeaderMatchSpecifier: &routev3.HeaderMatcher_StringMatch{
			StringMatch: &matcher.StringMatcher{
				MatchPattern: &matcher.StringMatcher_SafeRegex{
					SafeRegex: &matcher.RegexMatcher{Regex: "^(" + strings.Join(methods, "|") + ")$"},
				},
			},
		},
	}
}

func buildListener(port uint32) (*listener.Listener, error) {
	hcmCfg := &hcm.HttpConnectionManager{
		StatPrefix: "ingress_http",
		CodecType:  hcm.HttpConnectionManager_AUTO,
		RouteSpecifier: &hcm.HttpConnectionManager_Rds{
			Rds: &hcm.Rds{
				ConfigSource: &core.ConfigSource{
					ResourceApiVersion: core.ApiVersion_V3,
					ConfigSourceSpecifier: &core.ConfigSource_Ads{
						Ads: &core.AggregatedConfigSource{},
					},
				},
				RouteConfigName: routeConfigName,
			},
		},
		HttpFilters: []*hcm.HttpFilter{{
			Name: "envoy.filters.http.router",
			ConfigType: &hcm.HttpFilter_TypedConfig{
				TypedConfig: &anypb.Any{
					TypeUrl: "type.googleapis.com/envoy.extensions.filters.http.router.v3.Router",
				},
			},
		}},
	}

	hcmAny, err := anypb.New(hcmCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal HCM: %w", err)
	}

	return &listener.Listener{
		Name: listenerName,
		Address: &core.Address{Address: &core.Address_SocketAddress{SocketAddress: &core.SocketAddress{
			Address:       "0.0.0.0",
			PortSpecifier: &core.SocketAddress_PortValue{PortValue: port},
		}}},
		FilterChains: []*listener.FilterChain{{
			Filters: []*listener.Filter{{
				Name:       xdstype.HTTPConnectionManager,
				ConfigType: &listener.Filter_TypedConfig{TypedConfig: hcmAny},
			}},
		}},
	}, nil
}
