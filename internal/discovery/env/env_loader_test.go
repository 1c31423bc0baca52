package env

import (
	"testing"

	"github.com/moonkev/flexgw/internal/discovery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(services []*discovery.DiscoveredService) map[string]string {
	out := make(map[string]string, len(services))
	for _, s := range services {
		out[s.Name] = s.Address
	}
	return out
}

func TestDiscoverBindings(t *testing.T) {
	services, err := Discover(Config{
		Bindings: DefaultBindings,
		Environ: []string{
			"EQUIPOS_URL=http://equipos:8001",
			"MANTENIMIENTO_URL=http://mant:8003",
			"REPORTES_URL=",
			"PATH=/usr/bin",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"equipos":        "http://equipos:8001",
		"mantenimientos": "http://mant:8003",
	}, names(services))
}

func TestLoadDevDefaultsFillsOnlyGaps(t *testing.T) {
	agg := discovery.NewDiscoveredServiceAggregator()
	require.NoError(t, LoadConfig(Config{
		Bindings: DefaultBindings,
		Environ:  []string{"AGENTS_URL=http://agents:9000"},
	}, agg))
	require.NoError(t, agg.UpdateServices(discovery.LoaderYAML, []*discovery.DiscoveredService{
		{Name: "equipos", Address: "http://equipos.internal:8001"},
	}))
	assert.False(t, agg.Has("reportes"))

	require.NoError(t, LoadDevDefaults(DefaultBindings, agg))

	reg, _, err := agg.Build(nil)
	require.NoError(t, err)
	assert.Equal(t, 5, reg.Len())

	base, _ := reg.Resolve("agents")
	assert.Equal(t, "http://agents:9000", base.String())
	base, _ = reg.Resolve("equipos")
	assert.Equal(t, "http://equipos.internal:8001", base.String())
	base, _ = reg.Resolve("reportes")
	assert.Equal(t, "http://localhost:8004", base.String())
}

func TestDiscoverIgnoresDevDefaults(t *testing.T) {
	services, err := Discover(Config{Bindings: DefaultBindings, Environ: []string{}})
	require.NoError(t, err)
	assert.Empty(t, services)
}

func TestDiscoverGenericPrefix(t *testing.T) {
	services, err := Discover(Config{
		Bindings: DefaultBindings,
		Environ: []string{
			"EQUIPOS_URL=http://old",
			"FLEXGW_SERVICE_EQUIPOS=http://new",
			"FLEXGW_SERVICE_INVENTARIO_V2=http://inv:8010",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"equipos":       "http://new",
		"inventario-v2": "http://inv:8010",
	}, names(services))

	_, err = Discover(Config{Environ: []string{"FLEXGW_SERVICE_=http://x"}})
	assert.Error(t, err)
}

func TestLoadConfigFeedsAggregator(t *testing.T) {
	agg := discovery.NewDiscoveredServiceAggregator()
	require.NoError(t, LoadConfig(Config{
		Bindings: DefaultBindings,
		Environ:  []string{"EQUIPOS_URL=http://equipos:8001"},
	}, agg))

	assert.True(t, agg.Has("equipos"))
	assert.False(t, agg.Has("agents"))
}
