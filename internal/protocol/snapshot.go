package protocol

import (
	"encoding/binary"
	"fmt"
)

// SnapshotVersion is the version byte written first in every snapshot frame (§6: "version byte 0x01 first").
const SnapshotVersion byte = 0x01

// EncodeSnapshot frames an already-serialized cache projection as a versioned, length-prefixed binary buffer. The
// framing here is protocol-agnostic; callers (the bus publisher, for snapshot content the store package) own the
// encoding of body itself.
func EncodeSnapshot(body []byte) []byte {
	out := make([]byte, 1+4+len(body))
	out[0] = SnapshotVersion
	binary.BigEndian.PutUint32(out[1:5], uint32(len(body)))
	copy(out[5:], body)
	return out
}

// DecodeSnapshot validates the version byte and length prefix and returns the body.
func DecodeSnapshot(frame []byte) ([]byte, error) {
	if len(frame) < 5 {
		return nil, fmt.Errorf("protocol: snapshot frame too short (%d bytes)", len(frame))
	}
	if frame[0] != SnapshotVersion {
		return nil, fmt.Errorf("protocol: unsupported snapshot version %#x", frame[0])
	}
	n := binary.BigEndian.Uint32(frame[1:5])
	if uint32(len(frame)-5) != n {
		return nil, fmt.Errorf("protocol: snapshot length mismatch: header says %d, got %d", n, len(frame)-5)
	}
	return frame[5:], nil
}
