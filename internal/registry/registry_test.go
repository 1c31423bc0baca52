package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEntry(t *testing.T, name, addr string) ServiceEntry {
	t.Helper()
	e, err := NewServiceEntry(name, addr)
	require.NoError(t, err)
	return e
}

func TestNewServiceEntry(t *testing.T) {
	e := mustEntry(t, "equipos", "http://equipos:8001/")
	assert.Equal(t, "http://equipos:8001", e.BaseAddress.String())

	e = mustEntry(t, "reportes", "https://reports.internal/v1/")
	assert.Equal(t, "/v1", e.BaseAddress.Path)

	for _, bad := range []string{"", "equipos:8001", "ftp://x", "http://", "http://x?y=1"} {
		_, err := NewServiceEntry("svc", bad)
		assert.Error(t, err, bad)
	}
	_, err := NewServiceEntry(" ", "http://x")
	assert.Error(t, err)
}

func TestRegistryResolve(t *testing.T) {
	reg, err := New(mustEntry(t, "equipos", "http://svcA"), mustEntry(t, "agents", "http://svcB:8005"))
	require.NoError(t, err)

	u, ok := reg.Resolve("equipos")
	require.True(t, ok)
	assert.Equal(t, "http://svcA", u.String())

	// Returned URLs are copies
	u.Host = "mutated"
	u2, _ := reg.Resolve("equipos")
	assert.Equal(t, "svcA", u2.Host)

	_, ok = reg.Resolve("proveedores")
	assert.False(t, ok)

	assert.Equal(t, []string{"agents", "equipos"}, reg.Names())
	assert.Equal(t, 2, reg.Len())
	assert.Len(t, reg.Entries(), 2)
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := New(mustEntry(t, "equipos", "http://a"), mustEntry(t, "equipos", "http://b"))
	assert.Error(t, err)

	_, err = New(ServiceEntry{Name: "equipos"})
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestRegistryRequire(t *testing.T) {
	reg, err := New(mustEntry(t, "equipos", "http://a"))
	require.NoError(t, err)

	assert.NoError(t, reg.Require("equipos", "equipos"))

	err = reg.Require("reportes", "equipos", "agents")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrServiceNotFound))
	assert.Contains(t, err.Error(), "agents, reportes")
}

func TestRegistryConcurrentReads(t *testing.T) {
	reg, err := New(mustEntry(t, "equipos", "http://a"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, ok := reg.Resolve("equipos")
				assert.True(t, ok)
			}
		}()
	}
	wg.Wait()
}

func TestNilRegistry(t *testing.T) {
	var reg *Registry
	_, ok := reg.Resolve("x")
	assert.False(t, ok)
	assert.Empty(t, reg.Names())
	assert.Equal(t, 0, reg.Len())
}
