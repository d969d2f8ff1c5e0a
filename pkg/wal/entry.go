package wal

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// LengthPrefixSize is the size, in bytes, of a frame's leading size field.
const LengthPrefixSize = 4

// CRCSize is the size, in bytes, of a frame's trailing checksum.
const CRCSize = 4

// EncodeFrame serializes rec as msgpack and wraps it in the
// [size:u32_be][payload][crc32c:u32_be] framing: the size field covers
// only the payload, and the trailing CRC is computed over the payload.
func EncodeFrame(rec *Record) ([]byte, error) {
	payload, err := msgpack.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("wal: encode record: %w", err)
	}
	crc := CalculateCRC32(payload)

	frame := make([]byte, LengthPrefixSize+len(payload)+CRCSize)
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(payload)))
	copy(frame[4:4+len(payload)], payload)
	binary.BigEndian.PutUint32(frame[4+len(payload):], crc)
	return frame, nil
}

// WriteFrame writes a pre-encoded frame to w.
func WriteFrame(w io.Writer, frame []byte) (int, error) {
	return w.Write(frame)
}

// ReadFrame reads one frame from r and returns the decoded record. It
// returns io.EOF cleanly when r is exhausted exactly at a frame boundary,
// and a non-EOF error for a truncated or corrupt frame (a torn write from
// a crash mid-append), which callers must treat as "stop replaying here",
// not "engine is broken".
func ReadFrame(r io.Reader) (*Record, error) {
	var sizeBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(sizeBuf[:])

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wal: truncated payload: %w", io.ErrUnexpectedEOF)
	}

	var crcBuf [CRCSize]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		return nil, fmt.Errorf("wal: truncated checksum: %w", io.ErrUnexpectedEOF)
	}
	crc := binary.BigEndian.Uint32(crcBuf[:])
	if !ValidateCRC32(payload, crc) {
		return nil, fmt.Errorf("wal: checksum mismatch: %w", ErrCorruptFrame)
	}

	var rec Record
	if err := msgpack.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("wal: decode record: %w", err)
	}
	return &rec, nil
}

// ErrCorruptFrame marks a frame whose checksum did not validate.
var ErrCorruptFrame = fmt.Errorf("wal: corrupt frame")
