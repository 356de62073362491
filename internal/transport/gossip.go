package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"

	"github.com/driftsync/driftsync/internal/model"
	"github.com/driftsync/driftsync/internal/syncerr"
)

// GossipConfig holds gossip transport configuration
type GossipConfig struct {
	BindPort       int
	SeedNodes      []string
	GossipInterval time.Duration
	ProbeTimeout   time.Duration
	ProbeInterval  time.Duration
}

// Gossip carries sync messages over a memberlist cluster. Each replica is a
// memberlist node named by its device ID; frames travel over the reliable
// TCP channel, never the UDP gossip packets, so large deltas survive intact.
type Gossip struct {
	deviceID   string
	memberlist *memberlist.Memberlist
	logger     *zap.Logger

	mu       sync.RWMutex
	receiver ReceiverFunc
}

// NewGossip creates the transport and joins the seed nodes
func NewGossip(cfg *GossipConfig, deviceID string, logger *zap.Logger) (*Gossip, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &Gossip{
		deviceID: deviceID,
		logger:   logger,
	}

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = deviceID
	mlConfig.BindPort = cfg.BindPort
	if cfg.GossipInterval > 0 {
		mlConfig.GossipInterval = cfg.GossipInterval
	}
	if cfg.ProbeTimeout > 0 {
		mlConfig.ProbeTimeout = cfg.ProbeTimeout
	}
	if cfg.ProbeInterval > 0 {
		mlConfig.ProbeInterval = cfg.ProbeInterval
	}
	mlConfig.Delegate = g
	mlConfig.Events = &gossipEvents{logger: logger}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	g.memberlist = ml

	if len(cfg.SeedNodes) > 0 {
		if _, err := ml.Join(cfg.SeedNodes); err != nil {
			logger.Warn("Failed to join some seed nodes", zap.Error(err))
		}
	}
	return g, nil
}

// Send delivers the message to the named cluster member
func (g *Gossip) Send(ctx context.Context, deviceID string, msg *model.SyncMessage) error {
	frame, err := EncodeFrame(msg)
	if err != nil {
		return err
	}

	for _, member := range g.memberlist.Members() {
		if member.Name == deviceID {
			return g.memberlist.SendReliable(member, frame)
		}
	}
	return syncerr.UnknownDevice(deviceID)
}

// Broadcast delivers the message to every other cluster member
func (g *Gossip) Broadcast(ctx context.Context, msg *model.SyncMessage) error {
	frame, err := EncodeFrame(msg)
	if err != nil {
		return err
	}

	var lastErr error
	for _, member := range g.memberlist.Members() {
		if member.Name == g.deviceID {
			continue
		}
		if err := g.memberlist.SendReliable(member, frame); err != nil {
			g.logger.Warn("Broadcast delivery failed",
				zap.String("member", member.Name),
				zap.Error(err))
			lastErr = err
		}
	}
	return lastErr
}

// SetReceiver installs the handler for incoming messages
func (g *Gossip) SetReceiver(fn ReceiverFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.receiver = fn
}

// Close leaves the cluster and shuts the memberlist down
func (g *Gossip) Close() error {
	if err := g.memberlist.Leave(time.Second); err != nil {
		g.logger.Warn("Failed to leave cluster cleanly", zap.Error(err))
	}
	return g.memberlist.Shutdown()
}

// NodeMeta implements memberlist.Delegate
func (g *Gossip) NodeMeta(limit int) []byte {
	return nil
}

// NotifyMsg implements memberlist.Delegate: every reliable frame lands here.
// Memberlist starts delivering as soon as Create returns, possibly before a
// receiver is installed; frames arriving in that window are dropped.
func (g *Gossip) NotifyMsg(data []byte) {
	g.mu.RLock()
	receiver := g.receiver
	g.mu.RUnlock()
	if receiver == nil {
		return
	}

	msg, err := DecodeFrame(data)
	if err != nil {
		g.logger.Warn("Dropping undecodable frame", zap.Error(err))
		return
	}
	if err := receiver(context.Background(), msg); err != nil {
		g.logger.Warn("Receiver rejected message",
			zap.String("message_id", msg.ID),
			zap.Error(err))
	}
}

// GetBroadcasts implements memberlist.Delegate
func (g *Gossip) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

// LocalState implements memberlist.Delegate
func (g *Gossip) LocalState(join bool) []byte {
	return nil
}

// MergeRemoteState implements memberlist.Delegate
func (g *Gossip) MergeRemoteState(buf []byte, join bool) {
}

// gossipEvents logs cluster membership transitions
type gossipEvents struct {
	logger *zap.Logger
}

// NotifyJoin is called when a node joins
func (e *gossipEvents) NotifyJoin(node *memberlist.Node) {
	e.logger.Info("Replica joined cluster",
		zap.String("device_id", node.Name),
		zap.String("addr", node.Addr.String()))
}

// NotifyLeave is called when a node leaves
func (e *gossipEvents) NotifyLeave(node *memberlist.Node) {
	e.logger.Info("Replica left cluster", zap.String("device_id", node.Name))
}

// NotifyUpdate is called when a node is updated
func (e *gossipEvents) NotifyUpdate(node *memberlist.Node) {
	e.logger.Debug("Replica updated", zap.String("device_id", node.Name))
}
