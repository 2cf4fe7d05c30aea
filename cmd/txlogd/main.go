package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/pairdb/txlog/internal/config"
	"github.com/devrev/pairdb/txlog/internal/handle"
	"github.com/devrev/pairdb/txlog/internal/locality"
	"github.com/devrev/pairdb/txlog/internal/logset"
	"github.com/devrev/pairdb/txlog/internal/logsystem"
	"github.com/devrev/pairdb/txlog/internal/membership"
	"github.com/devrev/pairdb/txlog/internal/policy"
	"github.com/devrev/pairdb/txlog/internal/tag"
	"github.com/devrev/pairdb/txlog/internal/telemetry"
	"github.com/devrev/pairdb/txlog/internal/txerr"
	"github.com/devrev/pairdb/txlog/internal/version"
)

func main() {
	logger, err := initLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.String("node_id", cfg.Server.NodeID),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port))

	registry, err := membership.NewRegistry(&membership.Config{
		BindPort:       cfg.Membership.BindPort,
		SeedNodes:      cfg.Membership.SeedNodes,
		GossipInterval: cfg.Membership.GossipInterval,
		ProbeTimeout:   cfg.Membership.ProbeTimeout,
		ProbeInterval:  cfg.Membership.ProbeInterval,
	}, cfg.Server.NodeID, logger)
	if err != nil {
		logger.Fatal("failed to initialize membership registry", zap.Error(err))
	}
	defer registry.Shutdown()

	sets, err := buildLogSets(cfg, registry)
	if err != nil {
		logger.Fatal("failed to build log sets from configuration", zap.Error(err))
	}

	metrics := telemetry.NewMetrics(cfg.Server.NodeID)

	client := &unimplementedTransport{}
	ls := logsystem.New(logger, 0, sets, nil, client, client)

	telemetrySrv := telemetry.NewServer(&telemetry.ServerConfig{
		Port: cfg.Metrics.Port,
		Path: cfg.Metrics.Path,
	}, logger, func() error {
		return ls.ConfirmEpochLive(context.Background())
	})
	telemetrySrv.Start()

	stopMembershipMetrics := make(chan struct{})
	go reportMembershipMetrics(registry, metrics, stopMembershipMetrics)
	defer close(stopMembershipMetrics)

	logger.Info("txlogd started",
		zap.String("node_id", cfg.Server.NodeID),
		zap.Int("log_sets", len(sets)))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := telemetrySrv.Stop(ctx); err != nil {
		logger.Error("failed to stop telemetry server", zap.Error(err))
	}
}

// buildLogSets constructs one logset.LogSet per config.LogSetConfig
// entry, registering each configured server with the membership registry
// so gossip events drive its handle.
func buildLogSets(cfg *config.Config, registry *membership.Registry) ([]*logset.LogSet, error) {
	sets := make([]*logset.LogSet, 0, len(cfg.LogSets))
	for _, lsCfg := range cfg.LogSets {
		handles := make([]*handle.Handle, len(lsCfg.ServerIDs))
		localities := make([]locality.Data, len(lsCfg.ServerIDs))
		for i, id := range lsCfg.ServerIDs {
			loc := locality.Data{}
			h, ok := registry.Handle(id)
			if !ok {
				h = registry.Register(id, loc)
			}
			handles[i] = h
			localities[i] = loc
		}

		pol, err := buildPolicy(lsCfg)
		if err != nil {
			return nil, err
		}

		bestPolicy := logset.HasBestPolicyNone
		if lsCfg.HasBestPolicy {
			bestPolicy = logset.HasBestPolicyID
		}

		set, err := logset.New(handles, localities, lsCfg.ReplicationFactor, lsCfg.AntiQuorum, pol, tag.Locality(lsCfg.Locality), lsCfg.IsLocal, bestPolicy)
		if err != nil {
			return nil, err
		}
		set.UpdateLocalitySet()
		sets = append(sets, set)
	}
	return sets, nil
}

func buildPolicy(lsCfg config.LogSetConfig) (policy.Policy, error) {
	switch lsCfg.Policy {
	case "", "any_n":
		return policy.AnyN{N: lsCfg.Count}, nil
	case "across_zones":
		return policy.AcrossZones{ZoneKey: lsCfg.ZoneKey, Zones: lsCfg.Zones, Count: lsCfg.Count}, nil
	default:
		return nil, fmt.Errorf("unknown log set policy %q", lsCfg.Policy)
	}
}

// unimplementedTransport stands in for the wire transport this subsystem
// intentionally leaves out of scope (spec §1): the retrieval pack ships
// no corresponding protobuf service for it, so wiring a real RPC client
// here would mean fabricating one. A real deployment supplies its own
// logsystem.PushClient/PopClient.
type unimplementedTransport struct{}

func (unimplementedTransport) Push(ctx context.Context, iface handle.Interface, ver uint64, buf []byte, tagOffsets map[tag.Tag][]int) error {
	return txerr.NotActive("push transport not configured", nil)
}

func (unimplementedTransport) Pop(ctx context.Context, iface handle.Interface, t tag.Tag, upTo version.MessageVersion) error {
	return txerr.NotActive("pop transport not configured", nil)
}

// reportMembershipMetrics periodically samples the membership registry
// into the present/absent server gauges until stop is closed.
func reportMembershipMetrics(registry *membership.Registry, metrics *telemetry.Metrics, stop <-chan struct{}) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			present, absent := registry.Counts()
			metrics.UpdateMembership(present, absent)
		case <-stop:
			return
		}
	}
}

func initLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	return cfg.Build()
}
