package checkpoint

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/otterbrix/kernel/pkg/index"
	"github.com/otterbrix/kernel/pkg/types"
)

const indexFileName = "index.otbx"

var indexCRCTable = crc32.MakeTable(crc32.Castagnoli)

// IndexEntryDoc is one mirrored index entry: the key plus the same
// row-id/timestamp triple the in-memory index carries.
type IndexEntryDoc struct {
	_msgpack struct{} `msgpack:",as_array"`

	Key      types.LogicalValue
	RowID    uint64
	InsertID uint64
	DeleteID uint64
}

// IndexPath returns the mirror file path for one index of a collection:
// <collectionDir>/<indexName>/index.otbx.
func IndexPath(collectionDir, indexName string) string {
	return filepath.Join(collectionDir, indexName, indexFileName)
}

// WriteIndex dumps ix's committed entries into the per-index mirror file
// using the same [size:u32_be][payload][crc32c:u32_be] framing the WAL
// uses, one frame per entry, published atomically like the table image.
func WriteIndex(collectionDir, indexName string, ix *index.Index) error {
	dir := filepath.Join(collectionDir, indexName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("checkpoint: mkdir index dir: %w", err)
	}

	var buf []byte
	var encodeErr error
	ix.Dump(func(key types.Comparable, e index.IndexEntry) bool {
		lv, ok := key.(types.LogicalValue)
		if !ok {
			encodeErr = fmt.Errorf("checkpoint: unsupported index key type %T", key)
			return false
		}
		payload, err := msgpack.Marshal(IndexEntryDoc{
			Key:      lv,
			RowID:    e.RowID,
			InsertID: e.InsertID,
			DeleteID: e.DeleteID,
		})
		if err != nil {
			encodeErr = err
			return false
		}
		frame := make([]byte, 4+len(payload)+4)
		binary.BigEndian.PutUint32(frame[0:4], uint32(len(payload)))
		copy(frame[4:], payload)
		binary.BigEndian.PutUint32(frame[4+len(payload):], crc32.Checksum(payload, indexCRCTable))
		buf = append(buf, frame...)
		return true
	})
	if encodeErr != nil {
		return encodeErr
	}

	path := IndexPath(collectionDir, indexName)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf, 0644); err != nil {
		return fmt.Errorf("checkpoint: write index temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("checkpoint: rename index file: %w", err)
	}
	return nil
}

// LoadIndex reads a per-index mirror file back, stopping silently at the
// first torn or corrupt frame the same way WAL replay does. A missing
// file returns (nil, false): the caller rebuilds the index from the
// table instead.
func LoadIndex(logger *zap.Logger, collectionDir, indexName string) ([]IndexEntryDoc, bool) {
	f, err := os.Open(IndexPath(collectionDir, indexName))
	if err != nil {
		return nil, false
	}
	defer f.Close()

	var out []IndexEntryDoc
	for {
		var sizeBuf [4]byte
		if _, err := io.ReadFull(f, sizeBuf[:]); err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn("checkpoint: torn index mirror tail", zap.String("index", indexName))
			}
			return out, true
		}
		payload := make([]byte, binary.BigEndian.Uint32(sizeBuf[:]))
		if _, err := io.ReadFull(f, payload); err != nil {
			logger.Warn("checkpoint: torn index mirror frame", zap.String("index", indexName))
			return out, true
		}
		var crcBuf [4]byte
		if _, err := io.ReadFull(f, crcBuf[:]); err != nil {
			logger.Warn("checkpoint: torn index mirror checksum", zap.String("index", indexName))
			return out, true
		}
		if crc32.Checksum(payload, indexCRCTable) != binary.BigEndian.Uint32(crcBuf[:]) {
			logger.Warn("checkpoint: index mirror checksum mismatch", zap.String("index", indexName))
			return out, true
		}
		var doc IndexEntryDoc
		if err := msgpack.Unmarshal(payload, &doc); err != nil {
			logger.Warn("checkpoint: undecodable index mirror entry", zap.String("index", indexName), zap.Error(err))
			return out, true
		}
		out = append(out, doc)
	}
}
