package model

import (
	"time"

	"github.com/driftsync/driftsync/internal/clock"
	"github.com/driftsync/driftsync/internal/util"
)

// MessageType identifies the protocol message kind
type MessageType string

const (
	MsgHeartbeat          MessageType = "heartbeat"
	MsgRegistration       MessageType = "registration"
	MsgDeregistration     MessageType = "deregistration"
	MsgFullSync           MessageType = "full_sync"
	MsgDeltaSync          MessageType = "delta_sync"
	MsgSyncRequest        MessageType = "sync_request"
	MsgAcknowledgment     MessageType = "acknowledgment"
	MsgConflictResolution MessageType = "conflict_resolution"
)

// SyncMessage is the immutable unit of exchange between replicas.
// Checksum is computed as hash(payload || id) and verified on receipt;
// a mismatch is a hard integrity failure, not a retriable error.
type SyncMessage struct {
	ID             string             `json:"id"`
	SourceDeviceID string             `json:"source_device_id"`
	TargetDeviceID string             `json:"target_device_id,omitempty"` // empty means broadcast
	Type           MessageType        `json:"type"`
	Payload        []byte             `json:"payload,omitempty"`
	Timestamp      time.Time          `json:"timestamp"`
	VectorClock    *clock.VectorClock `json:"vector_clock"`
	Checksum       string             `json:"checksum"`
}

// Seal computes and stores the message checksum over the current payload
func (m *SyncMessage) Seal() {
	m.Checksum = util.MessageChecksum(m.Payload, m.ID)
}

// VerifyChecksum recomputes the checksum and compares it to the stored one
func (m *SyncMessage) VerifyChecksum() bool {
	return m.Checksum == util.MessageChecksum(m.Payload, m.ID)
}

// IsBroadcast reports whether the message targets all reachable replicas
func (m *SyncMessage) IsBroadcast() bool {
	return m.TargetDeviceID == ""
}
