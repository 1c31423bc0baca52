package consul

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/moonkev/flexgw/internal/discovery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInstance struct {
	NodeAddress string
	Address     string
	Port        int
	Meta        map[string]string
	ModifyIndex uint64
}

type fakeConsul struct {
	catalog map[string][]fakeInstance
	// fixedIndex pins X-Consul-Index; zero bumps it on every request
	fixedIndex uint64
	// healthy gates the health endpoint; nil reports every instance
	healthy func(name string) bool

	index       atomic.Uint64
	healthCalls atomic.Int32
}

func newFakeConsul(t *testing.T, catalog map[string][]fakeInstance) *httptest.Server {
	t.Helper()
	return (&fakeConsul{catalog: catalog}).start(t)
}

func (f *fakeConsul) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeConsul) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	idx := f.fixedIndex
	if idx == 0 {
		idx = f.index.Add(1)
	}
	w.Header().Set("X-Consul-Index", strconv.FormatUint(idx, 10))
	w.Header().Set("X-Consul-KnownLeader", "true")
	w.Header().Set("X-Consul-LastContact", "0")
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.URL.Path == "/v1/catalog/services":
		out := map[string][]string{"consul": {}}
		for name := range f.catalog {
			out[name] = []string{}
		}
		_ = json.NewEncoder(w).Encode(out)
	case strings.HasPrefix(r.URL.Path, "/v1/health/service/"):
		f.healthCalls.Add(1)
		name := strings.TrimPrefix(r.URL.Path, "/v1/health/service/")
		entries := make([]map[string]any, 0)
		if f.healthy == nil || f.healthy(name) {
			for i, inst := range f.catalog[name] {
				entries = append(entries, map[string]any{
					"Node": map[string]any{"Node": "node" + strconv.Itoa(i), "Address": inst.NodeAddress},
					"Service": map[string]any{
						"ID":          name + strconv.Itoa(i),
						"Service":     name,
						"Address":     inst.Address,
						"Port":        inst.Port,
						"Meta":        inst.Meta,
						"ModifyIndex": inst.ModifyIndex,
					},
					"Checks": []any{},
				})
			}
		}
		_ = json.NewEncoder(w).Encode(entries)
	default:
		http.NotFound(w, r)
	}
}

func TestLoadConfigRegistersHealthyServices(t *testing.T) {
	srv := newFakeConsul(t, map[string][]fakeInstance{
		"equipos": {
			{Address: "10.0.0.1", Port: 8001, ModifyIndex: 3},
			{Address: "10.0.0.2", Port: 8001, ModifyIndex: 9, Meta: map[string]string{
				"route_1_path":    "/api/export/equipos",
				"route_1_methods": "GET",
				"route_1_target":  "equipos/export",
			}},
		},
		"reportes": {
			{NodeAddress: "10.0.1.5", Port: 8443, Meta: map[string]string{"scheme": "https"}},
		},
	})

	agg := discovery.NewDiscoveredServiceAggregator(discovery.LoaderConsul)
	err := LoadConfig(context.Background(), Config{
		ConsulAddr:  srv.URL,
		WaitTimeSec: 1,
		Required:    []string{"equipos", "reportes"},
		Timeout:     5 * time.Second,
	}, agg)
	require.NoError(t, err)

	reg, table, err := agg.Build(nil)
	require.NoError(t, err)

	base, ok := reg.Resolve("equipos")
	require.True(t, ok)
	assert.Equal(t, "http://10.0.0.2:8001", base.String())

	base, ok = reg.Resolve("reportes")
	require.True(t, ok)
	assert.Equal(t, "https://10.0.1.5:8443", base.String())

	_, ok = reg.Resolve("consul")
	assert.False(t, ok)

	defs := table.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "/api/export/equipos", defs[0].Pattern.String())
	assert.Equal(t, "equipos", defs[0].Service)
}

func TestLoadConfigTimesOutOnMissingService(t *testing.T) {
	srv := newFakeConsul(t, map[string][]fakeInstance{
		"equipos": {{Address: "10.0.0.1", Port: 8001}},
		"agents":  {},
	})

	agg := discovery.NewDiscoveredServiceAggregator(discovery.LoaderConsul)
	err := LoadConfig(context.Background(), Config{
		ConsulAddr:  srv.URL,
		WaitTimeSec: 1,
		Required:    []string{"agents", "equipos"},
		Timeout:     200 * time.Millisecond,
	}, agg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agents")
	assert.NotContains(t, err.Error(), "equipos")
	assert.False(t, agg.Has("equipos"))
}

func TestLoadConfigRechecksHealthWhileCatalogIsUnchanged(t *testing.T) {
	healthyAt := time.Now().Add(300 * time.Millisecond)
	fake := &fakeConsul{
		catalog:    map[string][]fakeInstance{"equipos": {{Address: "10.0.0.1", Port: 8001}}},
		fixedIndex: 7,
		healthy: func(string) bool {
			return time.Now().After(healthyAt)
		},
	}
	srv := fake.start(t)

	agg := discovery.NewDiscoveredServiceAggregator(discovery.LoaderConsul)
	err := LoadConfig(context.Background(), Config{
		ConsulAddr:    srv.URL,
		WaitTimeSec:   1,
		Required:      []string{"equipos"},
		Timeout:       3 * time.Second,
		RetryInterval: 50 * time.Millisecond,
	}, agg)
	require.NoError(t, err)
	assert.True(t, agg.Has("equipos"))
	assert.Greater(t, fake.healthCalls.Load(), int32(1))
}

func TestMissingAndFilterServices(t *testing.T) {
	assert.Empty(t, missingServices([]string{"a"}, []*discovery.DiscoveredService{{Name: "a"}}))
	assert.Equal(t, []string{"b"}, missingServices([]string{"b", "a"}, []*discovery.DiscoveredService{{Name: "a"}}))
	assert.Equal(t, []string{"a", "b"}, filterServices(map[string][]string{"consul": nil, "b": nil, "a": nil}))
}

func TestNewClientAcceptsBareHostPort(t *testing.T) {
	c, err := NewClient("127.0.0.1:8500")
	require.NoError(t, err)
	assert.NotNil(t, c)
}
