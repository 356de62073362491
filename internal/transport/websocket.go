package transport

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/driftsync/driftsync/internal/model"
	"github.com/driftsync/driftsync/internal/syncerr"
)

// WebSocketHub is an http.Handler relaying wire frames between connected
// replicas. Frames are routed by the target device ID in a small routing
// header; the hub never inspects or rewrites the frame bytes themselves.
type WebSocketHub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu    sync.RWMutex
	conns map[string]*hubConn
}

type hubConn struct {
	deviceID string
	conn     *websocket.Conn
	writeMu  sync.Mutex
}

// routedFrame is the hub envelope: routing metadata plus the opaque frame
type routedFrame struct {
	TargetID string `json:"target_id,omitempty"` // empty means broadcast
	SourceID string `json:"source_id"`
	Frame    []byte `json:"frame"`
}

// NewWebSocketHub creates a hub ready to be mounted on an HTTP server
func NewWebSocketHub(logger *zap.Logger) *WebSocketHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: logger,
		conns:  make(map[string]*hubConn),
	}
}

// ServeHTTP upgrades the connection and pumps frames until the peer leaves.
// The device identifies itself with a ?device_id= query parameter.
func (h *WebSocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		http.Error(w, "device_id is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	member := &hubConn{deviceID: deviceID, conn: conn}
	h.mu.Lock()
	h.conns[deviceID] = member
	h.mu.Unlock()
	h.logger.Info("Device connected", zap.String("device_id", deviceID))

	defer func() {
		h.mu.Lock()
		delete(h.conns, deviceID)
		h.mu.Unlock()
		conn.Close()
		h.logger.Info("Device disconnected", zap.String("device_id", deviceID))
	}()

	for {
		var routed routedFrame
		if err := conn.ReadJSON(&routed); err != nil {
			return
		}
		routed.SourceID = deviceID
		h.route(&routed)
	}
}

func (h *WebSocketHub) route(routed *routedFrame) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if routed.TargetID != "" {
		if member, ok := h.conns[routed.TargetID]; ok {
			h.writeTo(member, routed)
		}
		return
	}
	for deviceID, member := range h.conns {
		if deviceID != routed.SourceID {
			h.writeTo(member, routed)
		}
	}
}

func (h *WebSocketHub) writeTo(member *hubConn, routed *routedFrame) {
	member.writeMu.Lock()
	defer member.writeMu.Unlock()
	if err := member.conn.WriteJSON(routed); err != nil {
		h.logger.Warn("Frame delivery failed",
			zap.String("target", member.deviceID),
			zap.Error(err))
	}
}

// WebSocket is a client transport speaking to a WebSocketHub
type WebSocket struct {
	deviceID string
	conn     *websocket.Conn
	logger   *zap.Logger

	writeMu  sync.Mutex
	mu       sync.RWMutex
	receiver ReceiverFunc
	closed   chan struct{}
}

// DialWebSocket connects to a hub at the given URL (ws://host/path)
func DialWebSocket(hubURL, deviceID string, logger *zap.Logger) (*WebSocket, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, _, err := websocket.DefaultDialer.Dial(hubURL+"?device_id="+deviceID, nil)
	if err != nil {
		return nil, syncerr.New(syncerr.ErrCodeUnavailable, "failed to reach sync hub", err)
	}

	t := &WebSocket{
		deviceID: deviceID,
		conn:     conn,
		logger:   logger,
		closed:   make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func (t *WebSocket) readLoop() {
	for {
		var routed routedFrame
		if err := t.conn.ReadJSON(&routed); err != nil {
			select {
			case <-t.closed:
			default:
				t.logger.Warn("Hub connection lost", zap.Error(err))
			}
			return
		}

		msg, err := DecodeFrame(routed.Frame)
		if err != nil {
			t.logger.Warn("Dropping undecodable frame", zap.Error(err))
			continue
		}

		t.mu.RLock()
		receiver := t.receiver
		t.mu.RUnlock()
		if receiver == nil {
			continue
		}
		if err := receiver(context.Background(), msg); err != nil {
			t.logger.Warn("Receiver rejected message",
				zap.String("message_id", msg.ID),
				zap.Error(err))
		}
	}
}

func (t *WebSocket) write(targetID string, msg *model.SyncMessage) error {
	frame, err := EncodeFrame(msg)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteJSON(&routedFrame{
		TargetID: targetID,
		SourceID: t.deviceID,
		Frame:    frame,
	})
}

// Send delivers the message to a single replica via the hub
func (t *WebSocket) Send(ctx context.Context, deviceID string, msg *model.SyncMessage) error {
	return t.write(deviceID, msg)
}

// Broadcast delivers the message to all other replicas via the hub
func (t *WebSocket) Broadcast(ctx context.Context, msg *model.SyncMessage) error {
	return t.write("", msg)
}

// SetReceiver installs the handler for incoming messages
func (t *WebSocket) SetReceiver(fn ReceiverFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.receiver = fn
}

// Close shuts the hub connection down
func (t *WebSocket) Close() error {
	close(t.closed)
	return t.conn.Close()
}
