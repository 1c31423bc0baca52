package server

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/moonkev/flexgw/internal/health"
	"github.com/moonkev/flexgw/internal/registry"
	"github.com/moonkev/flexgw/internal/route"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker probes the collaborators
type HealthChecker interface {
	Check(ctx context.Context) health.Report
}

// AdminConfig is the frozen state exposed on the admin port
type AdminConfig struct {
	Registry *registry.Registry
	Routes   []route.Definition // precedence order
	Health   HealthChecker
}

type routeView struct {
	Name    string   `json:"name"`
	Methods []string `json:"methods"`
	Pattern string   `json:"pattern"`
	Kind    string   `json:"kind"`
	Service string   `json:"service"`
	Target  string   `json:"target"`
}

type serviceView struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// NewAdminRouter serves metrics, liveness and read-only views of the routing
// state.
func NewAdminRouter(cfg AdminConfig) *mux.Router {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")

	routes := make([]routeView, 0, len(cfg.Routes))
	for _, d := range cfg.Routes {
		routes = append(routes, routeView{
			Name:    d.Name,
			Methods: d.Methods,
			Pattern: d.Pattern.String(),
			Kind:    d.Pattern.Kind.String(),
			Service: d.Service,
			Target:  d.Target,
		})
	}
	r.HandleFunc("/routes", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, routes)
	}).Methods("GET")

	services := make([]serviceView, 0, cfg.Registry.Len())
	for _, e := range cfg.Registry.Entries() {
		services = append(services, serviceView{Name: e.Name, Address: e.BaseAddress.String()})
	}
	r.HandleFunc("/services", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, services)
	}).Methods("GET")
	r.HandleFunc("/services/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		base, ok := cfg.Registry.Resolve(name)
		if !ok {
			writeError(w, http.StatusNotFound, "Service not found")
			return
		}
		writeJSON(w, http.StatusOK, serviceView{Name: name, Address: base.String()})
	}).Methods("GET")

	if cfg.Health != nil {
		r.HandleFunc("/health/services", func(w http.ResponseWriter, r *http.Request) {
			report := cfg.Health.Check(r.Context())
			status := http.StatusOK
			if !report.Healthy {
				status = http.StatusServiceUnavailable
			}
			writeJSON(w, status, report)
		}).Methods("GET")
	}

	return r
}
