package wal

import (
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
)

// Pool owns the W partitions a kernel writes WAL records across. A single
// shared counter mints the global wal_id every record carries, so the W
// partitions can always be merged back into one total order at recovery
// time.
type Pool struct {
	opts       Options
	partitions []*Partition
	nextWalID  uint64
	rr         uint64 // round-robin counter for callers with no routing key
}

// Open creates (or reopens) a pool of opts.Partitions partitions rooted at
// opts.DirPath.
func Open(opts Options) (*Pool, error) {
	if opts.Partitions <= 0 {
		opts.Partitions = 1
	}
	p := &Pool{opts: opts}
	for i := 0; i < opts.Partitions; i++ {
		part, err := newPartition(i, opts.DirPath, opts)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.partitions = append(p.partitions, part)
	}
	return p, nil
}

// Partitions returns the number of WAL partitions (W).
func (p *Pool) Partitions() int { return len(p.partitions) }

// Partition returns the i'th partition, for recovery's sequential replay.
func (p *Pool) Partition(i int) *Partition { return p.partitions[i] }

// partitionFor hash-routes a (database, collection) pair to a stable
// partition index, so every mutation against one collection lands in a
// single partition's total order (simpler replay). A caller with no key
// (key == "") is routed round-robin.
func (p *Pool) partitionFor(key string) int {
	if key == "" {
		n := atomic.AddUint64(&p.rr, 1)
		return int(n % uint64(len(p.partitions)))
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.partitions)))
}

// Append writes rec to the partition owned by (database, collection),
// assigning it a fresh globally-monotonic wal_id first. Returns the
// assigned wal_id.
func (p *Pool) Append(rec *Record) (uint64, error) {
	walID := atomic.AddUint64(&p.nextWalID, 1) - 1
	rec.WalID = walID

	key := rec.Database + "/" + rec.Collection
	if rec.Database == "" && rec.Collection == "" {
		key = ""
	}
	part := p.partitions[p.partitionFor(key)]
	if err := part.Append(rec); err != nil {
		return 0, fmt.Errorf("wal: append to partition %d: %w", part.id, err)
	}
	return walID, nil
}

// LastWalID returns the most recently assigned wal_id, or 0 if nothing
// has been appended yet. Used by checkpoint to stamp the footer's
// max_wal_id_included and as the truncation watermark.
func (p *Pool) LastWalID() uint64 {
	n := atomic.LoadUint64(&p.nextWalID)
	if n == 0 {
		return 0
	}
	return n - 1
}

// Sync fsyncs every partition.
func (p *Pool) Sync() error {
	for _, part := range p.partitions {
		if err := part.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// ObserveWalID advances the shared wal_id counter past a value seen
// during recovery, so ids minted after replay never collide with a
// replayed one.
func (p *Pool) ObserveWalID(id uint64) {
	for {
		cur := atomic.LoadUint64(&p.nextWalID)
		if id < cur {
			return
		}
		if atomic.CompareAndSwapUint64(&p.nextWalID, cur, id+1) {
			return
		}
	}
}

// Close closes every partition, continuing past individual errors so one
// stuck file handle does not leak the rest.
func (p *Pool) Close() error {
	var first error
	for _, part := range p.partitions {
		if err := part.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// TruncateBefore removes every segment file of every partition whose
// highest contained wal_id is <= safeWalID, the checkpoint truncation
// step. Segments are only dropped if every record they contain is
// covered; the active (last) segment of a partition is never dropped.
func (p *Pool) TruncateBefore(safeWalID uint64) error {
	var wg sync.WaitGroup
	errs := make([]error, len(p.partitions))
	for i, part := range p.partitions {
		wg.Add(1)
		go func(i int, part *Partition) {
			defer wg.Done()
			errs[i] = part.truncateBefore(safeWalID)
		}(i, part)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
