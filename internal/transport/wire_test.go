package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/driftsync/driftsync/internal/clock"
	"github.com/driftsync/driftsync/internal/model"
	"github.com/driftsync/driftsync/internal/syncerr"
)

func testMessage(id, source string) *model.SyncMessage {
	vc := clock.New()
	vc.Increment(source)
	msg := &model.SyncMessage{
		ID:             id,
		SourceDeviceID: source,
		Type:           model.MsgDeltaSync,
		Payload:        []byte(`{"entity_id":"note-1","title":"hello"}`),
		Timestamp:      time.Now().UTC(),
		VectorClock:    vc,
	}
	msg.Seal()
	return msg
}

func TestFrameRoundTrip(t *testing.T) {
	original := testMessage("m1", "device-a")

	frame, err := EncodeFrame(original)
	require.NoError(t, err)

	decoded, err := DecodeFrame(frame)
	require.NoError(t, err)

	assert.Equal(t, original.ID, decoded.ID)
	assert.Equal(t, original.Payload, decoded.Payload)
	assert.Equal(t, original.Checksum, decoded.Checksum)
	assert.True(t, original.VectorClock.Equals(decoded.VectorClock))
	assert.True(t, decoded.VerifyChecksum(), "payload bytes must be preserved exactly")
}

func TestDecodeFrameRejectsCorruption(t *testing.T) {
	frame, err := EncodeFrame(testMessage("m1", "device-a"))
	require.NoError(t, err)

	frame[0] ^= 0xFF
	_, err = DecodeFrame(frame)
	require.Error(t, err)
	assert.True(t, syncerr.IsIntegrity(err))
}

func TestLoopbackSendAndBroadcast(t *testing.T) {
	hub := NewLoopbackHub(zap.NewNop())
	a := hub.Attach("a")
	b := hub.Attach("b")
	c := hub.Attach("c")

	var mu sync.Mutex
	received := make(map[string][]string) // device -> message ids
	receiverFor := func(device string) ReceiverFunc {
		return func(ctx context.Context, msg *model.SyncMessage) error {
			mu.Lock()
			defer mu.Unlock()
			received[device] = append(received[device], msg.ID)
			return nil
		}
	}
	a.SetReceiver(receiverFor("a"))
	b.SetReceiver(receiverFor("b"))
	c.SetReceiver(receiverFor("c"))

	require.NoError(t, a.Send(context.Background(), "b", testMessage("direct", "a")))
	require.NoError(t, a.Broadcast(context.Background(), testMessage("fanout", "a")))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"direct", "fanout"}, received["b"])
	assert.Equal(t, []string{"fanout"}, received["c"])
	assert.Empty(t, received["a"], "broadcast must not echo to the sender")
}

func TestLoopbackSendToUnknownDevice(t *testing.T) {
	hub := NewLoopbackHub(zap.NewNop())
	a := hub.Attach("a")

	err := a.Send(context.Background(), "ghost", testMessage("m1", "a"))
	require.Error(t, err)
	assert.Equal(t, syncerr.ErrCodeUnknownDevice, syncerr.GetCode(err))
}

func TestLoopbackCloseDetaches(t *testing.T) {
	hub := NewLoopbackHub(zap.NewNop())
	a := hub.Attach("a")
	b := hub.Attach("b")
	require.NoError(t, b.Close())

	err := a.Send(context.Background(), "b", testMessage("m1", "a"))
	require.Error(t, err)
}
