package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/moonkev/flexgw/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T, addrs map[string]string) *registry.Registry {
	t.Helper()
	var entries []registry.ServiceEntry
	for name, addr := range addrs {
		e, err := registry.NewServiceEntry(name, addr)
		require.NoError(t, err)
		entries = append(entries, e)
	}
	reg, err := registry.New(entries...)
	require.NoError(t, err)
	return reg
}

func healthServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckAllHealthy(t *testing.T) {
	a := healthServer(t, http.StatusOK)
	b := healthServer(t, http.StatusOK)
	reg := newRegistry(t, map[string]string{"equipos": a.URL, "reportes": b.URL})

	report := NewChecker(reg, http.DefaultClient, time.Second).Check(context.Background())

	assert.True(t, report.Healthy)
	require.Len(t, report.Services, 2)
	assert.Equal(t, "equipos", report.Services[0].Name)
	assert.Equal(t, http.StatusOK, report.Services[0].StatusCode)
	assert.Equal(t, a.URL+"/health", report.Services[0].URL)
}

func TestCheckReportsFailures(t *testing.T) {
	ok := healthServer(t, http.StatusOK)
	bad := healthServer(t, http.StatusInternalServerError)
	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL
	down.Close()

	reg := newRegistry(t, map[string]string{"agents": downURL, "equipos": ok.URL, "reportes": bad.URL})
	report := NewChecker(reg, http.DefaultClient, time.Second).Check(context.Background())

	assert.False(t, report.Healthy)
	require.Len(t, report.Services, 3)

	byName := make(map[string]ServiceStatus)
	for _, s := range report.Services {
		byName[s.Name] = s
	}
	assert.False(t, byName["agents"].Healthy)
	assert.NotEmpty(t, byName["agents"].Error)
	assert.True(t, byName["equipos"].Healthy)
	assert.False(t, byName["reportes"].Healthy)
	assert.Equal(t, http.StatusInternalServerError, byName["reportes"].StatusCode)
}

func TestCheckHonorsProbeTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(slow.Close)
	reg := newRegistry(t, map[string]string{"equipos": slow.URL})

	start := time.Now()
	report := NewChecker(reg, http.DefaultClient, 100*time.Millisecond).Check(context.Background())

	assert.False(t, report.Healthy)
	assert.Less(t, time.Since(start), time.Second)
}
