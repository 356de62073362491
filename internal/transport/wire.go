package transport

import (
	"encoding/json"

	"github.com/golang/snappy"

	"github.com/driftsync/driftsync/internal/model"
	"github.com/driftsync/driftsync/internal/syncerr"
	"github.com/driftsync/driftsync/internal/util"
)

// Wire framing: a sync message is encoded as self-describing JSON (patches
// must be able to address entity fields by path, so no positional binary
// encoding), snappy-compressed, and finished with a CRC32 trailer. The frame
// checksum guards the hop; the message's own checksum guards the payload
// end to end.

// EncodeFrame serializes a message for the wire
func EncodeFrame(msg *model.SyncMessage) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, syncerr.Internal("failed to encode sync message", err)
	}
	compressed := snappy.Encode(nil, data)
	return util.AppendCRC32(compressed), nil
}

// DecodeFrame parses a wire frame back into a message
func DecodeFrame(frame []byte) (*model.SyncMessage, error) {
	compressed, valid := util.ValidateAndStripCRC32(frame)
	if !valid {
		return nil, syncerr.ChecksumMismatch("wire frame", "crc32 trailer", "corrupted")
	}

	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, syncerr.CorruptedPatch("failed to decompress wire frame", err)
	}

	var msg model.SyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, syncerr.CorruptedPatch("failed to decode sync message", err)
	}
	return &msg, nil
}
