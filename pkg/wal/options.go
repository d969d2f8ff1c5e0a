package wal

import "time"

// SyncPolicy selects the durability strategy.
type SyncPolicy int

const (
	// SyncEveryWrite fsyncs after every append. Safest, slowest.
	SyncEveryWrite SyncPolicy = iota
	// SyncInterval fsyncs on a background timer. Balanced.
	SyncInterval
	// SyncBatch fsyncs once accumulated bytes cross a threshold. Fastest.
	SyncBatch
)

// Options configures the WAL partition pool.
type Options struct {
	// DirPath is the directory WAL partitions are stored under.
	DirPath string

	// Partitions is W, the number of independent append-only partitions
	// writes are hash-routed across.
	Partitions int

	// BufferSize is the bufio buffer size in front of each partition's
	// active segment file.
	BufferSize int

	SyncPolicy           SyncPolicy
	SyncIntervalDuration time.Duration
	SyncBatchBytes       int64

	// MaxSegmentSize triggers rotation to a new segment file per
	// partition once exceeded.
	MaxSegmentSize int64
}

// DefaultOptions returns a safe, modest configuration.
func DefaultOptions() Options {
	return Options{
		DirPath:              "./wal_data",
		Partitions:           4,
		BufferSize:           64 * 1024,
		SyncPolicy:           SyncInterval,
		SyncIntervalDuration: 200 * time.Millisecond,
		SyncBatchBytes:       1 * 1024 * 1024,
		MaxSegmentSize:       64 * 1024 * 1024,
	}
}
