package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	cachev3 "github.com/envoyproxy/go-control-plane/pkg/cache/v3"
	"github.com/moonkev/flexgw/internal/common/config"
	"github.com/moonkev/flexgw/internal/common/telemetry"
	"github.com/moonkev/flexgw/internal/discovery"
	"github.com/moonkev/flexgw/internal/discovery/consul"
	"github.com/moonkev/flexgw/internal/discovery/env"
	"github.com/moonkev/flexgw/internal/discovery/yaml"
	"github.com/moonkev/flexgw/internal/forward"
	"github.com/moonkev/flexgw/internal/health"
	"github.com/moonkev/flexgw/internal/route"
	"github.com/moonkev/flexgw/internal/server"
	"github.com/moonkev/flexgw/internal/xds"
)

func main() {

	var listenAddr = ":8000"
	var adminPort = 19005
	var adsPort = 0
	var logLevel = config.LogLevelFlag(slog.LevelInfo)
	var timeout = forward.DefaultTimeout
	var maxConnsPerHost = forward.DefaultMaxConnsPerHost
	var maxResponseBytes int64 = forward.DefaultMaxResponseBytes
	var propagateStatus = false
	var devDefaults = false
	var requiredServices config.StringSliceFlag
	var yamlFile = ""
	var consulDiscovery = false
	var consulAddr = "http://localhost:8500"
	var consulWait = 60 * time.Second

	flag.StringVar(&listenAddr, "listen", listenAddr, "gateway listen address")
	flag.IntVar(&adminPort, "admin-port", adminPort, "admin port (metrics, routes, health)")
	flag.IntVar(&adsPort, "ads-port", adsPort, "ADS gRPC port mirroring the route table to Envoy (0 disables)")
	flag.Var(&logLevel, "log-level", "log level: debug, info, warn, error (default: info)")
	flag.DurationVar(&timeout, "timeout", timeout, "downstream request timeout")
	flag.IntVar(&maxConnsPerHost, "max-conns-per-host", maxConnsPerHost, "max concurrent connections per downstream host")
	flag.Int64Var(&maxResponseBytes, "max-response-bytes", maxResponseBytes, "largest downstream body relayed")
	flag.BoolVar(&propagateStatus, "propagate-status", false, "relay downstream status codes instead of answering 200")
	flag.BoolVar(&devDefaults, "dev-defaults", false, "fall back to localhost:8001..8005 for unset service addresses")
	flag.Var(&requiredServices, "services", "comma-separated list of required services (default: every service the route table references)")
	flag.StringVar(&yamlFile, "yaml-file", "", "path to YAML file with extra services and routes")
	flag.BoolVar(&consulDiscovery, "consul", false, "resolve services from Consul at startup")
	flag.StringVar(&consulAddr, "consul-addr", consulAddr, "consul HTTP address (host:port)")
	flag.DurationVar(&consulWait, "consul-wait", consulWait, "how long to wait for required services in Consul")
	flag.Parse()

	timeoutSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "timeout" {
			timeoutSet = true
		}
	})

	// Configure structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel.Level()}))
	slog.SetDefault(logger)

	// Initialize metrics
	telemetry.InitMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	aggregator := discovery.NewDiscoveredServiceAggregator(discovery.LoaderEnv, discovery.LoaderYAML, discovery.LoaderConsul, discovery.LoaderDevDefaults)

	if err := env.LoadConfig(env.Config{Bindings: env.DefaultBindings}, aggregator); err != nil {
		slog.Error("failed to load services from environment", "error", err)
		os.Exit(1)
	}

	if yamlFile != "" {
		settings, err := yaml.LoadConfig(yaml.Config{ConfigPath: yamlFile}, aggregator)
		if err != nil {
			slog.Error("failed to load YAML config", "error", err)
			os.Exit(1)
		}
		if settings.Timeout > 0 && !timeoutSet {
			timeout = settings.Timeout
		}
	}

	required := []string(requiredServices)
	if len(required) == 0 {
		required = route.NewTable(route.DefaultDefinitions()...).Services()
	}

	if consulDiscovery {
		var pending []string
		for _, name := range required {
			if !aggregator.Has(name) {
				pending = append(pending, name)
			}
		}
		consulConfig := consul.Config{
			ConsulAddr:  consulAddr,
			WaitTimeSec: 2,
			Required:    pending,
			Timeout:     consulWait,
		}
		if err := consul.LoadConfig(ctx, consulConfig, aggregator); err != nil {
			slog.Error("failed to load services from consul", "error", err)
			os.Exit(1)
		}
	}

	if devDefaults {
		if err := env.LoadDevDefaults(env.DefaultBindings, aggregator); err != nil {
			slog.Error("failed to apply development defaults", "error", err)
			os.Exit(1)
		}
	}

	reg, table, err := aggregator.Build(route.DefaultDefinitions())
	if err != nil {
		slog.Error("failed to build routing state", "error", err)
		os.Exit(1)
	}
	if err := reg.Require(required...); err != nil {
		slog.Error("required service missing", "error", err)
		os.Exit(1)
	}
	if err := table.Validate(reg); err != nil {
		slog.Error("invalid route table", "error", err)
		os.Exit(1)
	}
	telemetry.MetricServicesRegistered.Set(float64(reg.Len()))
	telemetry.MetricRoutesRegistered.Set(float64(table.Len()))

	resolver := route.NewResolver(table)
	for _, d := range resolver.Routes() {
		slog.Debug("Route", "name", d.Name, "methods", d.Methods, "pattern", d.Pattern.String(), "service", d.Service, "target", d.Target)
	}

	if propagateStatus {
		slog.Warn("propagate-status enabled: downstream status codes are relayed instead of 200")
	}

	client := forward.NewClient(maxConnsPerHost)
	engine := forward.NewEngine(reg, client, forward.Options{
		Timeout:          timeout,
		PropagateStatus:  propagateStatus,
		MaxResponseBytes: maxResponseBytes,
		Logger:           logger,
	})
	slog.Info("gateway configured",
		"services", reg.Len(),
		"routes", table.Len(),
		"timeout", engine.Timeout(),
		"maxConnsPerHost", maxConnsPerHost)

	var wg sync.WaitGroup

	// Optional route mirror for Envoy sidecars
	if adsPort > 0 {
		snapshotCache := cachev3.NewSnapshotCache(true, cachev3.IDHash{}, nil)
		snapshotManager := xds.NewSnapshotManager(snapshotCache, xds.Options{RouteTimeout: timeout})
		if err := snapshotManager.BuildAndPushSnapshot(ctx, reg, table); err != nil {
			slog.Error("failed to build xDS snapshot", "error", err)
			os.Exit(1)
		}
		adsServer := xds.NewADSServer(ctx, snapshotCache)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := xds.RunGRPC(ctx, adsServer, adsPort); err != nil {
				slog.Error("ADS server failed", "error", err)
				os.Exit(1)
			}
		}()
	}

	// Set up admin/metrics HTTP server
	adminRouter := server.NewAdminRouter(server.AdminConfig{
		Registry: reg,
		Routes:   resolver.Routes(),
		Health:   health.NewChecker(reg, client, health.DefaultProbeTimeout),
	})
	admin := &http.Server{Addr: fmt.Sprintf(":%d", adminPort), Handler: adminRouter}
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("starting admin http server", "port", adminPort)
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("admin server failed", "error", err)
			os.Exit(1)
		}
	}()

	gateway := server.NewGateway(resolver, engine, logger)
	public := &http.Server{
		Addr:              listenAddr,
		Handler:           gateway.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("starting gateway", "addr", listenAddr)
		if err := public.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("gateway server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for a shutdown signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	slog.Info("shutdown signal received, shutting down services")
	cancel()

	shutdownCtx, cancel2 := context.WithTimeout(context.Background(), timeout+5*time.Second)
	defer cancel2()
	if err := public.Shutdown(shutdownCtx); err != nil {
		slog.Error("gateway shutdown error", "error", err)
	}
	if err := admin.Shutdown(shutdownCtx); err != nil {
		slog.Error("admin server shutdown error", "error", err)
	}

	// Wait for all goroutines with a timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("all services stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("shutdown timeout exceeded, forcing exit")
	}

	client.CloseIdleConnections()
	slog.Info("exiting")
}
