package bus

import (
	"encoding/binary"
	"fmt"
)

// joinEnvelope packs address and frame into a single NATS payload:
// a 2-byte big-endian address length, the address bytes, then the
// frame verbatim. Keeping this out of JSON avoids re-encoding the
// already-serialized envelope frame.
func joinEnvelope(address string, frame []byte) []byte {
	out := make([]byte, 2+len(address)+len(frame))
	binary.BigEndian.PutUint16(out[:2], uint16(len(address)))
	copy(out[2:], address)
	copy(out[2+len(address):], frame)
	return out
}

func splitEnvelope(data []byte) (address string, frame []byte, err error) {
	if len(data) < 2 {
		return "", nil, fmt.Errorf("bus: message too short")
	}
	addrLen := int(binary.BigEndian.Uint16(data[:2]))
	if len(data) < 2+addrLen {
		return "", nil, fmt.Errorf("bus: truncated address")
	}
	address = string(data[2 : 2+addrLen])
	frame = data[2+addrLen:]
	return address, frame, nil
}
