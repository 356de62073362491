package transport

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/driftsync/driftsync/internal/model"
	"github.com/driftsync/driftsync/internal/syncerr"
)

// LoopbackHub connects loopback transports in process. Messages still pass
// through the full wire codec so tests exercise the same framing as the
// network transports.
type LoopbackHub struct {
	mu     sync.RWMutex
	nodes  map[string]*Loopback
	logger *zap.Logger
}

// NewLoopbackHub creates an empty hub
func NewLoopbackHub(logger *zap.Logger) *LoopbackHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoopbackHub{
		nodes:  make(map[string]*Loopback),
		logger: logger,
	}
}

// Attach creates a transport for the given device and joins it to the hub
func (h *LoopbackHub) Attach(deviceID string) *Loopback {
	h.mu.Lock()
	defer h.mu.Unlock()

	node := &Loopback{hub: h, deviceID: deviceID}
	h.nodes[deviceID] = node
	return node
}

func (h *LoopbackHub) deliver(ctx context.Context, targetID string, frame []byte) error {
	h.mu.RLock()
	target, ok := h.nodes[targetID]
	h.mu.RUnlock()
	if !ok {
		return syncerr.UnknownDevice(targetID)
	}
	return target.receive(ctx, frame)
}

func (h *LoopbackHub) fanOut(ctx context.Context, sourceID string, frame []byte) {
	h.mu.RLock()
	targets := make([]*Loopback, 0, len(h.nodes))
	for id, node := range h.nodes {
		if id != sourceID {
			targets = append(targets, node)
		}
	}
	h.mu.RUnlock()

	for _, target := range targets {
		if err := target.receive(ctx, frame); err != nil {
			h.logger.Warn("Loopback delivery failed",
				zap.String("target", target.deviceID),
				zap.Error(err))
		}
	}
}

func (h *LoopbackHub) detach(deviceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.nodes, deviceID)
}

// Loopback is an in-process transport bound to one device on a hub
type Loopback struct {
	hub      *LoopbackHub
	deviceID string

	mu       sync.RWMutex
	receiver ReceiverFunc
}

// Send delivers the message to a single hub member
func (t *Loopback) Send(ctx context.Context, deviceID string, msg *model.SyncMessage) error {
	frame, err := EncodeFrame(msg)
	if err != nil {
		return err
	}
	return t.hub.deliver(ctx, deviceID, frame)
}

// Broadcast delivers the message to every other hub member
func (t *Loopback) Broadcast(ctx context.Context, msg *model.SyncMessage) error {
	frame, err := EncodeFrame(msg)
	if err != nil {
		return err
	}
	t.hub.fanOut(ctx, t.deviceID, frame)
	return nil
}

// SetReceiver installs the handler for incoming messages
func (t *Loopback) SetReceiver(fn ReceiverFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.receiver = fn
}

func (t *Loopback) receive(ctx context.Context, frame []byte) error {
	msg, err := DecodeFrame(frame)
	if err != nil {
		return err
	}

	t.mu.RLock()
	receiver := t.receiver
	t.mu.RUnlock()
	if receiver == nil {
		return nil
	}
	return receiver(ctx, msg)
}

// Close detaches the transport from its hub
func (t *Loopback) Close() error {
	t.hub.detach(t.deviceID)
	return nil
}
