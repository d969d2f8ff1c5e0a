// Package checkpoint implements the table.otbx on-disk format: a
// point-in-time durable image of one disk-backed collection (header,
// schema, row groups, footer), published atomically via
// write-temp-then-rename and tolerant of a corrupt or torn file on
// load.
package checkpoint

import (
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/otterbrix/kernel/pkg/rowgroup"
	"github.com/otterbrix/kernel/pkg/table"
	"github.com/otterbrix/kernel/pkg/txn"
	"github.com/otterbrix/kernel/pkg/types"
)

const fileName = "table.otbx"

// magic identifies a well-formed table.otbx header; guards against
// loading an unrelated file as a checkpoint.
const magic uint32 = 0x4F54_4258 // "OTBX"

// footer is written at the end of the file and records what the
// checkpoint covers.
type footer struct {
	MaxWalIDIncluded uint64
	RowCount         int
}

// document is the full msgpack-serialized content of a table.otbx file:
// header fields inline, schema, row groups, and the footer.
type document struct {
	Magic    uint32
	Schema   *types.Schema
	RowGroup []rowGroupDoc
	Footer   footer
	CRC32    uint32 // computed over every field above except this one
}

type rowGroupDoc struct {
	Index    int
	Rows     [][]byte // msgpack-encoded LogicalValue slice, one per slot
	InsertID []uint64
	DeleteID []uint64
	Dead     []bool
}

// Path returns the table.otbx path for a collection directory.
func Path(collectionDir string) string {
	return filepath.Join(collectionDir, fileName)
}

// Write serializes tbl's state and publishes it atomically to
// collectionDir/table.otbx. maxWalIDIncluded is the highest wal_id this
// image reflects, the watermark WAL truncation and recovery both key off
// of.
func Write(collectionDir string, tbl *table.Table, maxWalIDIncluded uint64) error {
	if err := os.MkdirAll(collectionDir, 0755); err != nil {
		return fmt.Errorf("checkpoint: mkdir: %w", err)
	}

	doc := document{
		Magic:  magic,
		Schema: tbl.Schema,
	}
	rowCount := 0
	for _, rg := range tbl.RowGroups {
		n := rg.NumRows()
		rgd := rowGroupDoc{
			Index:    rg.Index,
			Rows:     make([][]byte, 0, n),
			InsertID: make([]uint64, 0, n),
			DeleteID: make([]uint64, 0, n),
			Dead:     make([]bool, 0, n),
		}
		// Every slot is kept, dead ones included, so slot numbering (and
		// with it every row id referenced by WAL records written after
		// this image) survives the round trip unchanged.
		for slot := 0; slot < n; slot++ {
			insertID, deleteID := rg.Versions(slot)
			dead := rg.IsDead(slot)
			if txn.IsTxnID(insertID) {
				// An in-flight insert at image time: its commit marker may
				// never arrive, so the slot is a placeholder only.
				dead = true
			}
			if txn.IsTxnID(deleteID) {
				deleteID = 0 // in-flight delete, not yet committed state
			}
			row := rg.Row(slot)
			encoded, err := msgpack.Marshal(row)
			if err != nil {
				return fmt.Errorf("checkpoint: encode row: %w", err)
			}
			rgd.Rows = append(rgd.Rows, encoded)
			rgd.InsertID = append(rgd.InsertID, insertID)
			rgd.DeleteID = append(rgd.DeleteID, deleteID)
			rgd.Dead = append(rgd.Dead, dead)
			if !dead {
				rowCount++
			}
		}
		doc.RowGroup = append(doc.RowGroup, rgd)
	}
	doc.Footer = footer{MaxWalIDIncluded: maxWalIDIncluded, RowCount: rowCount}

	body, err := msgpack.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("checkpoint: encode document: %w", err)
	}
	doc.CRC32 = crc32.ChecksumIEEE(body)
	final, err := msgpack.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("checkpoint: encode final document: %w", err)
	}

	path := Path(collectionDir)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, final, 0644); err != nil {
		return fmt.Errorf("checkpoint: write temp file: %w", err)
	}
	f, err := os.Open(tmpPath)
	if err == nil {
		_ = f.Sync()
		f.Close()
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("checkpoint: rename: %w", err)
	}
	return nil
}

// Load reads collectionDir/table.otbx and rebuilds a Table from it. If
// the file is absent, Load returns (nil, 0, false) without logging; if it
// is unreadable, missing its header, truncated, or fails its CRC, Load
// returns (nil, 0, false) and logs a warning instead of erroring. Either
// way the caller starts the collection empty and lets WAL replay
// reconstruct it.
func Load(logger *zap.Logger, collectionDir string) (tbl *table.Table, maxWalIDIncluded uint64, ok bool) {
	path := Path(collectionDir)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("checkpoint: read failed, starting empty", zap.String("path", path), zap.Error(err))
		}
		return nil, 0, false
	}

	var doc document
	if err := msgpack.Unmarshal(data, &doc); err != nil {
		logger.Warn("checkpoint: corrupt document, starting empty", zap.String("path", path), zap.Error(err))
		return nil, 0, false
	}
	if doc.Magic != magic {
		logger.Warn("checkpoint: bad magic, starting empty", zap.String("path", path))
		return nil, 0, false
	}

	wantCRC := doc.CRC32
	doc.CRC32 = 0
	body, err := msgpack.Marshal(&doc)
	if err != nil {
		logger.Warn("checkpoint: re-encode for CRC failed, starting empty", zap.Error(err))
		return nil, 0, false
	}
	if crc32.ChecksumIEEE(body) != wantCRC {
		logger.Warn("checkpoint: CRC mismatch (torn file), starting empty", zap.String("path", path))
		return nil, 0, false
	}

	tbl = table.New("", doc.Schema)
	tbl.RowGroups = tbl.RowGroups[:0]
	for _, rgd := range doc.RowGroup {
		rg := rowgroup.New(doc.Schema, rgd.Index)
		for i, encoded := range rgd.Rows {
			var row []types.LogicalValue
			if err := msgpack.Unmarshal(encoded, &row); err != nil {
				logger.Warn("checkpoint: corrupt row, truncating load here", zap.Error(err))
				break
			}
			slot := rg.AppendRaw(row, rgd.InsertID[i], rgd.DeleteID[i])
			if i < len(rgd.Dead) && rgd.Dead[i] {
				rg.MarkDead(slot)
			}
		}
		tbl.RowGroups = append(tbl.RowGroups, rg)
	}
	if len(tbl.RowGroups) == 0 {
		tbl.RowGroups = append(tbl.RowGroups, rowgroup.New(doc.Schema, 0))
	}
	return tbl, doc.Footer.MaxWalIDIncluded, true
}
