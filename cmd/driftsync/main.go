package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/driftsync/driftsync/internal/config"
	"github.com/driftsync/driftsync/internal/delta"
	"github.com/driftsync/driftsync/internal/metrics"
	"github.com/driftsync/driftsync/internal/model"
	"github.com/driftsync/driftsync/internal/scheduler"
	"github.com/driftsync/driftsync/internal/server"
	"github.com/driftsync/driftsync/internal/store"
	"github.com/driftsync/driftsync/internal/syncmgr"
	"github.com/driftsync/driftsync/internal/transport"
)

// snapshotPayload is the full-sync payload: every entity of one type
type snapshotPayload struct {
	EntityType string                    `json:"entity_type"`
	Entities   map[string]delta.Document `json:"entities"`
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("device_id", cfg.Node.DeviceID),
		zap.String("transport", cfg.Transport.Kind),
		zap.String("store", cfg.Store.Backend))

	snapshots, err := initStore(cfg.Store)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}
	defer snapshots.Close()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	engine, err := delta.NewEngine(&delta.Config{
		ReplicaID:         cfg.Node.DeviceID,
		MaxHistoryCount:   cfg.Delta.MaxHistoryCount,
		ChunkSize:         cfg.Delta.ChunkSize,
		ChecksumCacheSize: cfg.Delta.ChecksumCacheSize,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize delta engine", zap.Error(err))
	}
	engine.SetMetrics(m)

	tr, err := initTransport(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize transport", zap.Error(err))
	}
	defer tr.Close()

	app := &replica{
		deviceID: cfg.Node.DeviceID,
		engine:   engine,
		store:    snapshots,
		logger:   logger,
	}

	manager, err := syncmgr.NewManager(syncmgr.Config{
		DeviceID:          cfg.Node.DeviceID,
		DeviceName:        cfg.Node.DeviceName,
		Platform:          cfg.Node.Platform,
		Capabilities:      cfg.Node.Capabilities,
		HeartbeatInterval: cfg.Sync.HeartbeatInterval,
		MaxDevices:        cfg.Sync.MaxDevices,
		DispatchWorkers:   cfg.Sync.DispatchWorkers,
		DispatchQueueSize: cfg.Sync.DispatchQueueSize,
	}, tr, app.handleMessage, m, logger)
	if err != nil {
		logger.Fatal("Failed to create sync manager", zap.Error(err))
	}
	app.manager = manager

	if err := manager.Start(context.Background()); err != nil {
		logger.Fatal("Failed to start sync manager", zap.Error(err))
	}
	defer manager.Stop(context.Background())

	syncLoop := scheduler.New(scheduler.Config{
		Interval:       cfg.Scheduler.Interval,
		InitialBackoff: cfg.Scheduler.InitialBackoff,
		MaxBackoff:     cfg.Scheduler.MaxBackoff,
		MaxRetries:     cfg.Scheduler.MaxRetries,
	}, app.syncRound, logger)
	syncLoop.Start()
	defer syncLoop.Stop()

	if cfg.Metrics.Enabled {
		metricsServer := server.NewMetricsServer(&server.MetricsServerConfig{
			Port: cfg.Metrics.Port,
			Path: cfg.Metrics.Path,
		}, registry, logger)
		if err := metricsServer.Start(); err != nil {
			logger.Fatal("Failed to start metrics server", zap.Error(err))
		}
		defer metricsServer.Stop()
	}

	logger.Info("Sync replica running", zap.String("device_id", cfg.Node.DeviceID))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")
}

// replica ties the sync manager to the delta engine and the snapshot store
type replica struct {
	deviceID string
	engine   *delta.Engine
	store    store.Store
	manager  *syncmgr.Manager
	logger   *zap.Logger
}

// handleMessage applies incoming sync payloads
func (r *replica) handleMessage(ctx context.Context, msg *model.SyncMessage) error {
	switch msg.Type {
	case model.MsgDeltaSync:
		var changes []*model.DeltaChange
		if err := json.Unmarshal(msg.Payload, &changes); err != nil {
			return fmt.Errorf("malformed delta payload: %w", err)
		}
		// Remote changes go to the durable log only; putting them in the
		// engine's pending log would echo them back on the next round
		if err := r.store.AppendChanges(ctx, changes...); err != nil {
			return err
		}
		r.logger.Info("Applied remote changes",
			zap.String("source", msg.SourceDeviceID),
			zap.Int("count", len(changes)))
		return nil

	case model.MsgFullSync:
		var snapshot snapshotPayload
		if err := json.Unmarshal(msg.Payload, &snapshot); err != nil {
			return fmt.Errorf("malformed snapshot payload: %w", err)
		}
		for id, doc := range snapshot.Entities {
			if err := r.store.PutEntity(ctx, snapshot.EntityType, id, doc); err != nil {
				return err
			}
		}
		r.logger.Info("Applied full snapshot",
			zap.String("source", msg.SourceDeviceID),
			zap.String("entity_type", snapshot.EntityType),
			zap.Int("entities", len(snapshot.Entities)))
		return nil

	case model.MsgSyncRequest:
		var req struct {
			EntityType string `json:"entity_type"`
		}
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return fmt.Errorf("malformed sync request: %w", err)
		}
		entities, err := r.store.ListEntities(ctx, req.EntityType)
		if err != nil {
			return err
		}
		_, err = r.manager.SendFullSync(ctx, msg.SourceDeviceID, snapshotPayload{
			EntityType: req.EntityType,
			Entities:   entities,
		})
		return err

	case model.MsgConflictResolution:
		var resolution model.Resolution
		if err := json.Unmarshal(msg.Payload, &resolution); err != nil {
			return fmt.Errorf("malformed resolution payload: %w", err)
		}
		r.logger.Info("Received conflict resolution",
			zap.String("entity_id", resolution.EntityID),
			zap.String("winner", resolution.WinningDeviceID))
		return nil
	}
	return nil
}

// syncRound broadcasts pending local changes and clears them once sent
func (r *replica) syncRound(ctx context.Context) error {
	pending := r.engine.PendingChanges()
	if len(pending) == 0 {
		return nil
	}

	if _, err := r.manager.SendDelta(ctx, "", pending); err != nil {
		return err
	}
	if err := r.store.AppendChanges(ctx, pending...); err != nil {
		return err
	}

	var maxVersion uint64
	for _, change := range pending {
		if change.Version > maxVersion {
			maxVersion = change.Version
		}
	}
	r.engine.ClearSyncedChanges(maxVersion)

	r.logger.Info("Broadcast pending changes", zap.Int("count", len(pending)))
	return nil
}

func initStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		return store.NewSQLite(store.DefaultSQLiteConfig(cfg.Path))
	default:
		return store.NewMemory(), nil
	}
}

func initTransport(cfg *config.Config, logger *zap.Logger) (transport.Transport, error) {
	switch cfg.Transport.Kind {
	case "gossip":
		return transport.NewGossip(&transport.GossipConfig{
			BindPort:  cfg.Transport.Gossip.BindPort,
			SeedNodes: cfg.Transport.Gossip.SeedNodes,
		}, cfg.Node.DeviceID, logger)

	case "websocket":
		hubURL := cfg.Transport.WebSocket.HubURL
		if addr := cfg.Transport.WebSocket.ListenAddr; addr != "" {
			hub := transport.NewWebSocketHub(logger)
			go func() {
				if err := http.ListenAndServe(addr, hub); err != nil {
					logger.Error("WebSocket hub failed", zap.Error(err))
				}
			}()
			if hubURL == "" {
				hubURL = "ws://localhost" + addr
			}
		}
		return transport.DialWebSocket(hubURL, cfg.Node.DeviceID, logger)

	default:
		hub := transport.NewLoopbackHub(logger)
		return hub.Attach(cfg.Node.DeviceID), nil
	}
}

// initLogger initializes the zap logger from the logging config
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapConfig zap.Config
	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zapConfig.Level = level

	return zapConfig.Build()
}
