package syncmgr

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/driftsync/driftsync/internal/clock"
	"github.com/driftsync/driftsync/internal/metrics"
	"github.com/driftsync/driftsync/internal/model"
	"github.com/driftsync/driftsync/internal/syncerr"
	"github.com/driftsync/driftsync/internal/transport"
	"github.com/driftsync/driftsync/internal/util/workerpool"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultMaxDevices        = 16
	// offlineMultiplier scales the heartbeat interval into the soft
	// offline-detection timeout
	offlineMultiplier = 3
)

// MessageHandler processes full-sync, delta-sync, request, and
// conflict-resolution payloads on behalf of the application. It runs on a
// dispatch pool, never on the manager's serialized state.
type MessageHandler func(ctx context.Context, msg *model.SyncMessage) error

// Config holds sync manager configuration
type Config struct {
	DeviceID          string
	DeviceName        string
	Platform          string
	Capabilities      []string
	HeartbeatInterval time.Duration
	MaxDevices        int
	DispatchWorkers   int
	DispatchQueueSize int
}

// Manager is the top-level orchestrator of a replica: it owns the local
// vector clock, the device registry, and the pending-message log, speaks
// the sync message protocol, and detects concurrent-edit conflicts.
//
// All mutable state is mutex-guarded; the manager is a single serialized
// execution context. Transport sends and handler dispatches happen outside
// the lock so the serialized context never blocks on an async boundary.
type Manager struct {
	cfg       Config
	transport transport.Transport
	handler   MessageHandler
	metrics   *metrics.Metrics
	logger    *zap.Logger

	mu          sync.Mutex
	vectorClock *clock.VectorClock
	registry    *Registry
	pending     map[string]*model.SyncMessage
	running     bool
	stopCh      chan struct{}

	dispatch *workerpool.Pool
	wg       sync.WaitGroup
}

// ackPayload carries the acknowledged message ID
type ackPayload struct {
	AckID string `json:"ack_id"`
}

// requestPayload narrows a sync request to one entity type (empty means all)
type requestPayload struct {
	EntityType   string `json:"entity_type,omitempty"`
	SinceVersion uint64 `json:"since_version,omitempty"`
}

// NewManager creates a sync manager in the stopped state
func NewManager(cfg Config, tr transport.Transport, handler MessageHandler,
	m *metrics.Metrics, logger *zap.Logger) (*Manager, error) {

	if cfg.DeviceID == "" {
		return nil, syncerr.InvalidArgument("device id is required", nil)
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.MaxDevices <= 0 {
		cfg.MaxDevices = defaultMaxDevices
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	manager := &Manager{
		cfg:         cfg,
		transport:   tr,
		handler:     handler,
		metrics:     m,
		logger:      logger,
		vectorClock: clock.New(),
		registry:    NewRegistry(cfg.MaxDevices, logger),
		pending:     make(map[string]*model.SyncMessage),
	}
	if m != nil {
		manager.registry.OnEvict(m.DevicesEvicted.Inc)
	}
	return manager, nil
}

// Start registers this replica with the cluster and begins heartbeating
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return syncerr.InvalidArgument("sync manager already running", nil)
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.dispatch = workerpool.New("sync-dispatch",
		m.cfg.DispatchWorkers, m.cfg.DispatchQueueSize, m.logger)

	registration, err := m.selfMessageLocked(model.MsgRegistration, "")
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.transport.SetReceiver(m.HandleIncoming)
	if err := m.transport.Broadcast(ctx, registration); err != nil {
		m.logger.Warn("Registration broadcast failed", zap.Error(err))
	}
	m.countSent(registration.Type)

	m.wg.Add(1)
	go m.heartbeatLoop()

	m.logger.Info("Sync manager started",
		zap.String("device_id", m.cfg.DeviceID),
		zap.Duration("heartbeat_interval", m.cfg.HeartbeatInterval))
	return nil
}

// Stop deregisters the replica and cancels the heartbeat loop. Messages
// already in flight are not retracted; receivers may process them after
// this replica has stopped and that must be tolerated on their side.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	deregistration, err := m.selfMessageLocked(model.MsgDeregistration, "")
	close(m.stopCh)
	m.mu.Unlock()

	if err == nil {
		if err := m.transport.Broadcast(ctx, deregistration); err != nil {
			m.logger.Warn("Deregistration broadcast failed", zap.Error(err))
		}
		m.countSent(deregistration.Type)
	}

	m.wg.Wait()
	m.dispatch.Stop()
	m.logger.Info("Sync manager stopped", zap.String("device_id", m.cfg.DeviceID))
	return nil
}

// heartbeatLoop broadcasts this replica's DeviceInfo every interval and
// sweeps the registry for devices unseen past the soft timeout
func (m *Manager) heartbeatLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.mu.Lock()
			heartbeat, err := m.selfMessageLocked(model.MsgHeartbeat, "")
			m.mu.Unlock()
			if err != nil {
				m.logger.Error("Failed to build heartbeat", zap.Error(err))
				continue
			}

			if err := m.transport.Broadcast(context.Background(), heartbeat); err != nil {
				m.logger.Warn("Heartbeat broadcast failed", zap.Error(err))
			}
			m.countSent(heartbeat.Type)
			if m.metrics != nil {
				m.metrics.HeartbeatsSentTotal.Inc()
			}

			cutoff := time.Now().Add(-offlineMultiplier * m.cfg.HeartbeatInterval)
			for _, deviceID := range m.registry.SweepOffline(cutoff) {
				m.logger.Info("Device went offline",
					zap.String("device_id", deviceID))
			}
			m.updateDeviceGauges()
		}
	}
}

// selfMessageLocked builds a message carrying this replica's DeviceInfo.
// Callers must hold m.mu.
func (m *Manager) selfMessageLocked(msgType model.MessageType, targetID string) (*model.SyncMessage, error) {
	payload, err := json.Marshal(m.selfInfoLocked())
	if err != nil {
		return nil, syncerr.Internal("failed to encode device info", err)
	}
	return m.newMessageLocked(msgType, targetID, payload), nil
}

func (m *Manager) selfInfoLocked() *model.DeviceInfo {
	return &model.DeviceInfo{
		ID:           m.cfg.DeviceID,
		Name:         m.cfg.DeviceName,
		Platform:     m.cfg.Platform,
		LastSeen:     time.Now().UTC(),
		SyncVersion:  m.vectorClock.Timestamp(m.cfg.DeviceID),
		IsOnline:     true,
		Capabilities: m.cfg.Capabilities,
	}
}

// newMessageLocked mints a sealed message. Sending is itself a causal
// event, so the local clock ticks first and a snapshot rides along.
// Callers must hold m.mu.
func (m *Manager) newMessageLocked(msgType model.MessageType, targetID string, payload []byte) *model.SyncMessage {
	m.vectorClock.Increment(m.cfg.DeviceID)
	msg := &model.SyncMessage{
		ID:             uuid.NewString(),
		SourceDeviceID: m.cfg.DeviceID,
		TargetDeviceID: targetID,
		Type:           msgType,
		Payload:        payload,
		Timestamp:      time.Now().UTC(),
		VectorClock:    m.vectorClock.Copy(),
	}
	msg.Seal()
	return msg
}

// HandleIncoming processes one message from the transport.
//
// The checksum is verified before any state mutation: a mismatch poisons
// the message and must not be retried with the same bytes. On success the
// incoming clock is merged and the local clock self-incremented (every
// receive is itself an event), the message is dispatched by type, and an
// acknowledgment is always sent back, even for types with no business
// effect. Acknowledgments themselves are the one exception, otherwise two
// replicas would ack each other forever.
func (m *Manager) HandleIncoming(ctx context.Context, msg *model.SyncMessage) error {
	if !msg.VerifyChecksum() {
		if m.metrics != nil {
			m.metrics.MessagesRejectedTotal.Inc()
		}
		m.logger.Error("Rejected message with bad checksum",
			zap.String("message_id", msg.ID),
			zap.String("source", msg.SourceDeviceID))
		return syncerr.ChecksumMismatch("incoming message "+msg.ID, msg.Checksum, "recomputed differs")
	}

	m.mu.Lock()
	m.vectorClock.Merge(msg.VectorClock)
	m.vectorClock.Increment(m.cfg.DeviceID)

	var outbound []*model.SyncMessage
	if err := m.dispatchLocked(msg); err != nil {
		m.mu.Unlock()
		return err
	}
	if msg.Type != model.MsgAcknowledgment {
		ack, err := m.ackMessageLocked(msg)
		if err == nil {
			outbound = append(outbound, ack)
		}
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.MessagesReceivedTotal.WithLabelValues(string(msg.Type)).Inc()
	}
	m.updateDeviceGauges()

	for _, out := range outbound {
		if err := m.transport.Send(ctx, msg.SourceDeviceID, out); err != nil {
			m.logger.Warn("Acknowledgment send failed",
				zap.String("target", msg.SourceDeviceID),
				zap.Error(err))
		}
		m.countSent(out.Type)
	}
	return nil
}

// dispatchLocked routes a verified message by type. Callers must hold m.mu.
func (m *Manager) dispatchLocked(msg *model.SyncMessage) error {
	switch msg.Type {
	case model.MsgRegistration, model.MsgHeartbeat:
		var info model.DeviceInfo
		if err := json.Unmarshal(msg.Payload, &info); err != nil {
			return syncerr.InvalidArgument("malformed device info payload", err)
		}
		// Register refreshes every DeviceInfo field for known devices, so
		// heartbeats pick up sync version and capability changes too
		if err := m.registry.Register(&info); err != nil {
			return err
		}

	case model.MsgDeregistration:
		m.registry.MarkOffline(msg.SourceDeviceID)

	case model.MsgAcknowledgment:
		var ack ackPayload
		if err := json.Unmarshal(msg.Payload, &ack); err != nil {
			return syncerr.InvalidArgument("malformed acknowledgment payload", err)
		}
		delete(m.pending, ack.AckID)
		if m.metrics != nil {
			m.metrics.PendingMessages.Set(float64(len(m.pending)))
		}
		m.registry.Touch(msg.SourceDeviceID, msg.Timestamp)

	case model.MsgFullSync, model.MsgDeltaSync, model.MsgSyncRequest, model.MsgConflictResolution:
		m.registry.Touch(msg.SourceDeviceID, msg.Timestamp)
		if m.handler == nil {
			m.logger.Warn("No message handler installed, dropping payload",
				zap.String("type", string(msg.Type)))
			return nil
		}
		// Hand the payload to the external handler off the serialized
		// context; further incoming messages queue behind the pool.
		handler := m.handler
		return m.dispatch.Submit(workerpool.Task{
			ID: msg.ID,
			Fn: func(ctx context.Context) error {
				return handler(ctx, msg)
			},
		})

	default:
		return syncerr.InvalidArgument("unknown message type: "+string(msg.Type), nil)
	}
	return nil
}

func (m *Manager) ackMessageLocked(msg *model.SyncMessage) (*model.SyncMessage, error) {
	payload, err := json.Marshal(ackPayload{AckID: msg.ID})
	if err != nil {
		return nil, syncerr.Internal("failed to encode acknowledgment", err)
	}
	return m.newMessageLocked(model.MsgAcknowledgment, msg.SourceDeviceID, payload), nil
}

// SendDelta sends recorded changes to one replica (or broadcasts when the
// target is empty) and tracks the message until acknowledged
func (m *Manager) SendDelta(ctx context.Context, targetID string, changes []*model.DeltaChange) (string, error) {
	payload, err := json.Marshal(changes)
	if err != nil {
		return "", syncerr.Internal("failed to encode delta changes", err)
	}
	return m.sendTracked(ctx, model.MsgDeltaSync, targetID, payload)
}

// SendFullSync sends a complete entity snapshot to one replica
func (m *Manager) SendFullSync(ctx context.Context, targetID string, snapshot interface{}) (string, error) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return "", syncerr.Internal("failed to encode snapshot", err)
	}
	return m.sendTracked(ctx, model.MsgFullSync, targetID, payload)
}

// RequestFullSync asks a replica to send its state for the entity type
func (m *Manager) RequestFullSync(ctx context.Context, targetID, entityType string) (string, error) {
	payload, err := json.Marshal(requestPayload{EntityType: entityType})
	if err != nil {
		return "", syncerr.Internal("failed to encode sync request", err)
	}
	return m.sendTracked(ctx, model.MsgSyncRequest, targetID, payload)
}

func (m *Manager) sendTracked(ctx context.Context, msgType model.MessageType, targetID string, payload []byte) (string, error) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return "", syncerr.Stopped("sync manager")
	}
	msg := m.newMessageLocked(msgType, targetID, payload)
	m.pending[msg.ID] = msg
	pendingCount := len(m.pending)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.PendingMessages.Set(float64(pendingCount))
	}

	var err error
	if msg.IsBroadcast() {
		err = m.transport.Broadcast(ctx, msg)
	} else {
		err = m.transport.Send(ctx, targetID, msg)
	}
	if err != nil {
		return "", err
	}
	m.countSent(msgType)
	return msg.ID, nil
}

// DetectConflict checks a local and remote copy of one entity for a
// concurrent-edit conflict
func (m *Manager) DetectConflict(entityID, entityType, remoteDeviceID string,
	localClock, remoteClock *clock.VectorClock,
	localData, remoteData map[string]interface{}) *model.DeviceConflict {

	conflict := DetectConflict(entityID, entityType, m.cfg.DeviceID, remoteDeviceID,
		localClock, remoteClock, localData, remoteData)
	if conflict != nil {
		if m.metrics != nil {
			m.metrics.ConflictsDetectedTotal.Inc()
		}
		m.logger.Info("Conflict detected",
			zap.String("entity_id", entityID),
			zap.String("remote_device", remoteDeviceID),
			zap.String("local_clock", localClock.String()),
			zap.String("remote_clock", remoteClock.String()))
	}
	return conflict
}

// ResolveConflict resolves a detected conflict with the given strategy
func (m *Manager) ResolveConflict(conflict *model.DeviceConflict, strategy model.ResolutionStrategy) (*model.Resolution, error) {
	resolution, err := ResolveConflict(conflict, strategy)
	if err != nil {
		if m.metrics != nil && syncerr.GetCode(err) == syncerr.ErrCodeManualResolutionRequired {
			m.metrics.ManualResolutionsTotal.Inc()
		}
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.ConflictsResolvedTotal.WithLabelValues(string(strategy)).Inc()
	}
	return resolution, nil
}

// PendingMessages returns the messages still awaiting acknowledgment
func (m *Manager) PendingMessages() []*model.SyncMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*model.SyncMessage, 0, len(m.pending))
	for _, msg := range m.pending {
		out = append(out, msg)
	}
	return out
}

// Devices returns a snapshot of the registry
func (m *Manager) Devices() []*model.DeviceInfo {
	return m.registry.Snapshot()
}

// VectorClock returns a copy of the local clock
func (m *Manager) VectorClock() *clock.VectorClock {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vectorClock.Copy()
}

// Running reports whether the manager has been started
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) countSent(msgType model.MessageType) {
	if m.metrics != nil {
		m.metrics.MessagesSentTotal.WithLabelValues(string(msgType)).Inc()
	}
}

func (m *Manager) updateDeviceGauges() {
	if m.metrics == nil {
		return
	}
	total, online := m.registry.Counts()
	m.metrics.DevicesKnown.Set(float64(total))
	m.metrics.DevicesOnline.Set(float64(online))
}
