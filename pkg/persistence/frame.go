// Package persistence implements the append-only file (AOF) varanus uses for
// durability. Every mutation is encoded as a binary frame:
//
//	[Magic(1)][OpCode(1)][Length(4)][CRC32(4)][Payload(N)]
//
// Length and CRC are little-endian. The magic byte marks frame starts so a
// reader can detect desynchronization, and the checksum catches payload
// corruption before a record is replayed.
package persistence

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

// Constants for the AOF binary protocol.
const (
	// MagicByte marks the start of a valid frame.
	MagicByte = 0xA5

	// HeaderSize is the fixed size of the frame metadata:
	// 1 byte (Magic) + 1 byte (OpCode) + 4 bytes (Length) + 4 bytes (CRC32).
	HeaderSize = 10

	// OpCodeCommand is a logged engine command (QADD, SET, CCREATE, ...).
	OpCodeCommand = 0x01
)

var (
	// ErrInvalidMagic indicates the stream lost synchronization or the file
	// is not an AOF.
	ErrInvalidMagic = errors.New("invalid magic byte")
	// ErrChecksumMismatch indicates payload corruption within a frame.
	ErrChecksumMismatch = errors.New("crc32 checksum mismatch")
	// ErrIncompleteFrame indicates the file ended mid-frame, typically a
	// write torn by a crash.
	ErrIncompleteFrame = errors.New("incomplete frame")
)

// EncodeFrame wraps a payload in a complete binary frame, header included.
// The returned slice is safe to hand to a buffered writer as one unit, which
// keeps header and payload in a single write.
func EncodeFrame(payload []byte) []byte {
	frame := make([]byte, HeaderSize+len(payload))

	frame[0] = MagicByte
	frame[1] = OpCodeCommand
	binary.LittleEndian.PutUint32(frame[2:6], uint32(len(payload)))
	binary.LittleEndian.PutUint32(frame[6:10], crc32.ChecksumIEEE(payload))
	copy(frame[HeaderSize:], payload)

	return frame
}

// ReadFrame reads and validates the next frame from the reader.
// It returns the payload, the total bytes consumed (header + payload), and an
// error. A clean io.EOF at a frame boundary is returned as io.EOF; running
// out of bytes anywhere else is ErrIncompleteFrame.
func ReadFrame(r io.Reader) ([]byte, int, error) {
	header := make([]byte, HeaderSize)

	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return nil, 0, io.EOF
		}
		// Partial header (e.g. 5 bytes then EOF) means a torn write.
		return nil, 0, ErrIncompleteFrame
	}

	if header[0] != MagicByte {
		return nil, HeaderSize, ErrInvalidMagic
	}

	length := binary.LittleEndian.Uint32(header[2:6])
	expectedCRC := binary.LittleEndian.Uint32(header[6:10])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		// EOF here still means corruption: the header promised more bytes.
		return nil, HeaderSize, ErrIncompleteFrame
	}

	if crc32.ChecksumIEEE(payload) != expectedCRC {
		return nil, HeaderSize + int(length), ErrChecksumMismatch
	}

	return payload, HeaderSize + int(length), nil
}
