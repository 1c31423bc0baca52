package xds

import (
	"context"
	"testing"
	"time"

	cluster "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	routev3 "github.com/envoyproxy/go-control-plane/envoy/config/route/v3"
	cachev3 "github.com/envoyproxy/go-control-plane/pkg/cache/v3"
	"github.com/envoyproxy/go-control-plane/pkg/resource/v3"
	"github.com/moonkev/flexgw/internal/registry"
	"github.com/moonkev/flexgw/internal/route"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testState(t *testing.T) (*registry.Registry, *route.Table) {
	t.Helper()
	equipos, err := registry.NewServiceEntry("equipos", "http://equipos:8001/v1")
	require.NoError(t, err)
	reportes, err := registry.NewServiceEntry("reportes", "https://10.0.0.9")
	require.NoError(t, err)
	reg, err := registry.New(equipos, reportes)
	require.NoError(t, err)

	table := route.NewTable(
		route.MustDefinition("equipos-proxy", []string{"GET", "POST"}, "/api/equipos/*", "equipos", "equipos/*"),
		route.MustDefinition("equipos-list", []string{"GET"}, "/api/equipos", "equipos", "equipos"),
		route.MustDefinition("reportes-dashboard", []string{"GET"}, "/api/reportes/dashboard", "reportes", "dashboard"),
	)
	return reg, table
}

func routeConfig(t *testing.T, snap *cachev3.Snapshot) *routev3.RouteConfiguration {
	t.Helper()
	res := snap.GetResources(resource.RouteType)
	require.Len(t, res, 1)
	rc, ok := res[routeConfigName].(*routev3.RouteConfiguration)
	require.True(t, ok)
	return rc
}

func TestBuildSnapshotIsConsistent(t *testing.T) {
	reg, table := testState(t)

	snap, err := BuildSnapshot("1", reg, table, Options{ListenerPort: 18080, RouteTimeout: 30 * time.Second})
	require.NoError(t, err)
	require.NoError(t, snap.Consistent())

	assert.Len(t, snap.GetResources(resource.ClusterType), 2)
	assert.Len(t, snap.GetResources(resource.EndpointType), 2)
	assert.Len(t, snap.GetResources(resource.ListenerType), 1)
}

func TestBuildSnapshotRouteOrder(t *testing.T) {
	reg, table := testState(t)

	snap, err := BuildSnapshot("1", reg, table, Options{})
	require.NoError(t, err)

	routes := routeConfig(t, snap).VirtualHosts[0].Routes
	require.Len(t, routes, 4)

	// literals first, then the catch-all pair
	assert.Equal(t, "equipos-list", routes[0].Name)
	assert.Equal(t, "reportes-dashboard", routes[1].Name)
	assert.Equal(t, "equipos-proxy", routes[2].Name)
	assert.Equal(t, "equipos-proxy", routes[3].Name)

	list := routes[0].GetRoute()
	assert.Equal(t, "^/api/equipos/?$", routes[0].Match.GetSafeRegex().Regex)
	assert.Equal(t, "/v1/equipos", list.RegexRewrite.Substitution)
	assert.Equal(t, "equipos", list.GetCluster())

	bare := routes[2].GetRoute()
	assert.Equal(t, "/v1/equipos", bare.RegexRewrite.Substitution)

	nested := routes[3]
	assert.Equal(t, "^/api/equipos/(.+?)/?$", nested.Match.GetSafeRegex().Regex)
	assert.Equal(t, `/v1/equipos/\1`, nested.GetRoute().RegexRewrite.Substitution)
	assert.Equal(t, "^(GET|POST)$", nested.Match.Headers[0].GetStringMatch().GetSafeRegex().Regex)
}

func TestBuildSnapshotClusters(t *testing.T) {
	reg, table := testState(t)

	snap, err := BuildSnapshot("1", reg, table, Options{})
	require.NoError(t, err)
	clusters := snap.GetResources(resource.ClusterType)

	eq := clusters["equipos"].(*cluster.Cluster)
	assert.Equal(t, cluster.Cluster_STRICT_DNS, eq.GetType())
	assert.Nil(t, eq.TransportSocket)
	port := eq.LoadAssignment.Endpoints[0].LbEndpoints[0].GetEndpoint().Address.GetSocketAddress().GetPortValue()
	assert.Equal(t, uint32(8001), port)

	rep := clusters["reportes"].(*cluster.Cluster)
	assert.Equal(t, cluster.Cluster_STATIC, rep.GetType())
	assert.NotNil(t, rep.TransportSocket)
	port = rep.LoadAssignment.Endpoints[0].LbEndpoints[0].GetEndpoint().Address.GetSocketAddress().GetPortValue()
	assert.Equal(t, uint32(443), port)
}

func TestBuildSnapshotRejectsDanglingService(t *testing.T) {
	reg, _ := testState(t)
	table := route.NewTable(route.MustDefinition("x", []string{"GET"}, "/api/x", "agents", "x"))

	_, err := BuildSnapshot("1", reg, table, Options{})
	assert.ErrorContains(t, err, "agents")
}

func TestBuildAndPushSnapshotSetsReferenceNode(t *testing.T) {
	reg, table := testState(t)
	cache := cachev3.NewSnapshotCache(true, cachev3.IDHash{}, nil)
	mgr := NewSnapshotManager(cache, Options{})

	require.NoError(t, mgr.BuildAndPushSnapshot(context.Background(), reg, table))

	snap, err := cache.GetSnapshot(ReferenceNode)
	require.NoError(t, err)
	assert.NotEmpty(t, snap.GetVersion(resource.ClusterType))
}
