package persistence

import (
	"encoding/binary"
	"fmt"
)

// Command payloads are a counted sequence of length-prefixed byte strings,
// the command name first:
//
//	[Count(2)] then Count times [Len(4)][Bytes(Len)]
//
// Arguments are raw bytes, so vectors, JSON blobs and digests travel without
// any escaping.

// FormatCommand encodes a command and its arguments into a complete AOF
// frame, ready to append to the log.
func FormatCommand(name string, args ...[]byte) []byte {
	size := 2
	size += 4 + len(name)
	for _, arg := range args {
		size += 4 + len(arg)
	}

	payload := make([]byte, 0, size)
	payload = binary.LittleEndian.AppendUint16(payload, uint16(1+len(args)))
	payload = binary.LittleEndian.AppendUint32(payload, uint32(len(name)))
	payload = append(payload, name...)
	for _, arg := range args {
		payload = binary.LittleEndian.AppendUint32(payload, uint32(len(arg)))
		payload = append(payload, arg...)
	}

	return EncodeFrame(payload)
}

// ParseCommand decodes a frame payload produced by FormatCommand back into
// the command name and its arguments.
func ParseCommand(payload []byte) (string, [][]byte, error) {
	if len(payload) < 2 {
		return "", nil, fmt.Errorf("command payload too short: %d bytes", len(payload))
	}
	count := int(binary.LittleEndian.Uint16(payload[:2]))
	if count == 0 {
		return "", nil, fmt.Errorf("command payload has no elements")
	}
	offset := 2

	elements := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		if len(payload)-offset < 4 {
			return "", nil, fmt.Errorf("truncated length prefix for element %d", i)
		}
		elemLen := int(binary.LittleEndian.Uint32(payload[offset : offset+4]))
		offset += 4
		if len(payload)-offset < elemLen {
			return "", nil, fmt.Errorf("truncated element %d: want %d bytes, have %d", i, elemLen, len(payload)-offset)
		}
		elements = append(elements, payload[offset:offset+elemLen])
		offset += elemLen
	}
	if offset != len(payload) {
		return "", nil, fmt.Errorf("%d trailing bytes after last element", len(payload)-offset)
	}

	return string(elements[0]), elements[1:], nil
}
