package wal

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
)

// SegmentReader reads frames sequentially from one WAL segment file. It
// stops cleanly at the first framing or CRC error: a crash mid-append
// leaves a partial frame (a torn tail), never a corrupt engine.
type SegmentReader struct {
	f *os.File
}

func OpenSegmentReader(path string) (*SegmentReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &SegmentReader{f: f}, nil
}

// Next returns the next record, io.EOF at a clean end, or a non-nil err
// wrapping ErrCorruptFrame / io.ErrUnexpectedEOF for a torn tail — the
// caller must treat the latter as "stop here", not "abort recovery".
func (r *SegmentReader) Next() (*Record, error) {
	return ReadFrame(r.f)
}

func (r *SegmentReader) Close() error { return r.f.Close() }

// ReadAll drains every well-formed record from path in order, stopping
// silently at the first torn/corrupt frame or end of file.
func ReadAll(path string) ([]*Record, error) {
	r, err := OpenSegmentReader(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer r.Close()

	var out []*Record
	for {
		rec, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			// Torn tail or corrupt frame: stop replaying this segment,
			// keep everything read so far.
			return out, nil
		}
		out = append(out, rec)
	}
}

// LastPayloadCRC returns the CRC of the last intact record payload in
// the segment at path, so a reopened partition can resume its CRC chain
// where the previous process left it. Returns false if the segment holds
// no intact record at all.
func LastPayloadCRC(path string) (uint32, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	var crc uint32
	found := false
	for {
		var sizeBuf [LengthPrefixSize]byte
		if _, err := io.ReadFull(f, sizeBuf[:]); err != nil {
			return crc, found
		}
		payload := make([]byte, binary.BigEndian.Uint32(sizeBuf[:]))
		if _, err := io.ReadFull(f, payload); err != nil {
			return crc, found
		}
		var crcBuf [CRCSize]byte
		if _, err := io.ReadFull(f, crcBuf[:]); err != nil {
			return crc, found
		}
		want := binary.BigEndian.Uint32(crcBuf[:])
		if !ValidateCRC32(payload, want) {
			return crc, found
		}
		crc = want
		found = true
	}
}

// ReadPartition drains every record from every segment of a single
// partition, in segment-then-in-file order — the partition's own total
// order.
func ReadPartition(part *Partition) ([]*Record, error) {
	var out []*Record
	for _, path := range part.SegmentPaths() {
		recs, err := ReadAll(path)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
		// A torn tail ends only this segment's records; later segments
		// are still read.
	}
	return out, nil
}
