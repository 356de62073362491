// Package transport carries serialized sync messages between replicas. The
// sync engine itself performs no network I/O; these adapters implement the
// transport collaborator boundary. Message bytes are preserved exactly end
// to end since checksums are computed over the serialized payload.
package transport

import (
	"context"

	"github.com/driftsync/driftsync/internal/model"
)

// ReceiverFunc is invoked for every message delivered to this replica
type ReceiverFunc func(ctx context.Context, msg *model.SyncMessage) error

// Transport delivers sync messages to one or all reachable replicas
type Transport interface {
	// Send delivers the message to a single replica
	Send(ctx context.Context, deviceID string, msg *model.SyncMessage) error
	// Broadcast delivers the message to all reachable replicas
	Broadcast(ctx context.Context, msg *model.SyncMessage) error
	// SetReceiver installs the handler for incoming messages
	SetReceiver(fn ReceiverFunc)
	// Close tears the transport down
	Close() error
}
