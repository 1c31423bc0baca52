package xds

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	core "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	discovery "github.com/envoyproxy/go-control-plane/envoy/service/discovery/v3"
	cachev3 "github.com/envoyproxy/go-control-plane/pkg/cache/v3"
	serverv3 "github.com/envoyproxy/go-control-plane/pkg/server/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

// Envoy sidecars hold one long-lived ADS stream each
var grpcOptions = []grpc.ServerOption{
	grpc.KeepaliveParams(keepalive.ServerParameters{
		Time:    30 * time.Second,
		Timeout: 5 * time.Second,
	}),
	grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
		MinTime:             30 * time.Second,
		PermitWithoutStream: true,
	}),
}

// NewADSServer returns an ADS server that hands the reference snapshot to
// every node on its first request. The routing state never changes after
// startup, so a node only needs seeding once.
func NewADSServer(ctx context.Context, cache cachev3.SnapshotCache) serverv3.Server {
	return serverv3.NewServer(ctx, cache, mirrorCallbacks(cache))
}

func mirrorCallbacks(cache cachev3.SnapshotCache) serverv3.CallbackFuncs {
	return serverv3.CallbackFuncs{
		StreamOpenFunc: func(_ context.Context, streamID int64, typeURL string) error {
			slog.Debug("ADS stream opened", "streamID", streamID, "typeURL", typeURL)
			return nil
		},
		StreamClosedFunc: func(streamID int64, node *core.Node) {
			slog.Debug("ADS stream closed", "streamID", streamID, "nodeID", node.GetId())
		},
		StreamRequestFunc: func(streamID int64, req *discovery.DiscoveryRequest) error {
			slog.Debug("ADS request",
				"streamID", streamID,
				"nodeID", req.GetNode().GetId(),
				"typeURL", req.GetTypeUrl(),
				"version", req.GetVersionInfo())
			return seedNode(cache, req.GetNode().GetId())
		},
	}
}

// seedNode copies the reference snapshot to nodeID unless it already has one
func seedNode(cache cachev3.SnapshotCache, nodeID string) error {
	if _, err := cache.GetSnapshot(nodeID); err == nil {
		return nil
	}
	snapshot, err := cache.GetSnapshot(ReferenceNode)
	if err != nil {
		return fmt.Errorf("no reference snapshot for node %s: %w", nodeID, err)
	}
	if err := cache.SetSnapshot(context.Background(), nodeID, snapshot); err != nil {
		return fmt.Errorf("seeding node %s: %w", nodeID, err)
	}
	slog.Info("Seeded Envoy node with route mirror", "nodeID", nodeID)
	return nil
}

// RunGRPC serves ADS on port until ctx is cancelled
func RunGRPC(ctx context.Context, adsServer serverv3.Server, port int) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen on %d: %w", port, err)
	}
	return serveGRPC(ctx, adsServer, lis)
}

// serveGRPC registers only the aggregated service: the published listener
// and clusters point Envoy at ADS for everything.
func serveGRPC(ctx context.Context, adsServer serverv3.Server, lis net.Listener) error {
	grpcServer := grpc.NewServer(grpcOptions...)
	discovery.RegisterAggregatedDiscoveryServiceServer(grpcServer, adsServer)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("ADS server listening", "addr", lis.Addr().String())
		serveErr <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		grpcServer.GracefulStop()
		<-serveErr
		slog.Info("ADS server stopped")
		return nil
	case err := <-serveErr:
		return fmt.Errorf("ads serve: %w", err)
	}
}
