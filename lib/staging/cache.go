// Copyright (C) 2026  lfstage contributors
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package staging implements the two-stage, ordered-key staging cache: a
// key-ordered data list and an aging list, both lfdlist.Lists, coordinated
// by a per-entry state machine and four worker roles (Inserter, Reader,
// Evictor, Ager).
package staging

import (
	"sync"
	"sync/atomic"

	"git.lukeshu.com/go/typedsync"

	"github.com/lfstage/lfstage/lib/containers"
	"github.com/lfstage/lfstage/lib/lfdlist"
)

// Config holds the cache's runtime-tunable parameters. These are spec-level
// constants rendered as configuration fields (rather than compile-time
// constants) so the CLI can set them from flags.
type Config struct {
	// MaxItemCount is the total number of keys ever assigned; Inserters
	// stop once the fetched key reaches this value.
	MaxItemCount int32
	// ReaderCount is the number of reader goroutines the Evictor expects
	// every live key to have been visited by before it is eligible for
	// eviction. Zero means 1.
	ReaderCount int32
	// ThresholdWorkingSlowEvictor is the data-list occupancy at or below
	// which the Evictor interleaves extra back-off to yield bandwidth to
	// Inserters. Zero means 64.
	ThresholdWorkingSlowEvictor int32
	// DataBackoffMax and AgingBackoffMax bound the randomized spin count
	// used by each list's back-off generator. Zero means 700 and 1000
	// respectively.
	DataBackoffMax  uint32
	AgingBackoffMax uint32
}

func (c *Config) setDefaults() {
	if c.ThresholdWorkingSlowEvictor == 0 {
		c.ThresholdWorkingSlowEvictor = 64
	}
	if c.DataBackoffMax == 0 {
		c.DataBackoffMax = 700
	}
	if c.AgingBackoffMax == 0 {
		c.AgingBackoffMax = 1000
	}
	if c.ReaderCount == 0 {
		c.ReaderCount = 1
	}
}

// Cache is the twin-list staging structure. Its zero value is not usable;
// construct one with New.
type Cache struct {
	cfg Config

	data  *lfdlist.List[*Entry]
	aging *lfdlist.List[*Entry]
	pool  typedsync.Pool[*Entry]

	dataListCount  atomic.Int32
	agingListCount atomic.Int32
	totalAged      atomic.Int32
	nextKey        atomic.Int32

	done     chan struct{}
	doneOnce sync.Once

	dumpPool containers.SlicePool[DumpEntry]
}

// New constructs an empty Cache. Zero-valued fields of cfg that have a
// default documented on Config take that default.
func New(cfg Config) *Cache {
	cfg.setDefaults()
	return &Cache{
		cfg:   cfg,
		data:  lfdlist.New[*Entry](cfg.DataBackoffMax),
		aging: lfdlist.New[*Entry](cfg.AgingBackoffMax),
		pool: typedsync.Pool[*Entry]{
			New: func() *Entry { return new(Entry) },
		},
		done: make(chan struct{}),
	}
}

// Done returns a channel that is closed once the Ager has observed every
// key aged and every Inserter finished handing out keys (see ager.go for
// why this differs from a literal reading of the early-exit heuristic).
// This is lfstage's rendition of the "global boolean exit flag" of
// spec.md §5 — every worker loop selects on it alongside its own context.
func (c *Cache) Done() <-chan struct{} { return c.done }

func (c *Cache) finish() { c.doneOnce.Do(func() { close(c.done) }) }

// DataListCount, AgingListCount, and TotalAged expose the shared counters
// spec.md §5 requires to be manipulated only via atomic fetch-and-add/sub.
func (c *Cache) DataListCount() int32  { return c.dataListCount.Load() }
func (c *Cache) AgingListCount() int32 { return c.agingListCount.Load() }
func (c *Cache) TotalAged() int32      { return c.totalAged.Load() }

// MaxItemCount returns the configured total key count.
func (c *Cache) MaxItemCount() int32 { return c.cfg.MaxItemCount }

// DumpEntry is a point-in-time snapshot of one node, used for SIGUSR1 dumps
// and tests; it never aliases live atomic state.
type DumpEntry struct {
	Key        int32
	State      State
	NextMarked bool
	PrevMarked bool
}

// DumpDataList and DumpAgingList walk their respective list forward,
// single-threaded-safe only insofar as lfdlist's traversal helpers always
// are (they tolerate concurrent mutation; the returned snapshot is simply
// a best-effort point-in-time view, matching spec.md §6's SIGUSR1 dump).
// The returned slice is drawn from c's dump pool; callers should pass it
// to ReleaseDump once they're done printing it, though it is not a bug to
// let it be collected instead.
func (c *Cache) DumpDataList() []DumpEntry  { return c.dumpList(c.data, c.DataListCount()) }
func (c *Cache) DumpAgingList() []DumpEntry { return c.dumpList(c.aging, c.AgingListCount()) }

// ReleaseDump returns a slice obtained from DumpDataList/DumpAgingList to
// the pool, for reuse by the next dump (SIGUSR1 can fire many times over
// a long run).
func (c *Cache) ReleaseDump(entries []DumpEntry) { c.dumpPool.Put(entries) }

func (c *Cache) dumpList(l *lfdlist.List[*Entry], sizeHint int32) []DumpEntry {
	out := c.dumpPool.Get(int(sizeHint))[:0]
	cur := l.OpenCursor(lfdlist.Forward)
	defer cur.Close()
	for !cur.IsEOL() {
		n := cur.Next()
		if n == nil || cur.IsEOL() {
			break
		}
		e := entryOf(n)
		out = append(out, DumpEntry{
			Key:        e.Key,
			State:      e.State(),
			NextMarked: n.NextMarked(),
			PrevMarked: n.PrevMarked(),
		})
	}
	return out
}

// Peek reports the state of the data-list entry for key, if present. It is
// a point-in-time snapshot for tests and diagnostics, not part of any
// worker's hot path.
func (c *Cache) Peek(key int32) containers.Optional[State] {
	cur := c.data.OpenCursor(lfdlist.Forward)
	defer cur.Close()
	for !cur.IsEOL() {
		n := cur.Next()
		if n == nil || cur.IsEOL() {
			break
		}
		if e := entryOf(n); e.Key == key {
			return containers.Optional[State]{OK: true, Val: e.State()}
		}
	}
	return containers.Optional[State]{}
}
