// Copyright (C) 2026  lfstage contributors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package staging

import (
	"context"
	"errors"

	"github.com/datawire/dlib/dlog"

	"github.com/lfstage/lfstage/lib/backoff"
	"github.com/lfstage/lfstage/lib/lfdlist"
)

// Evictor runs the single evictor worker. Each pass sweeps forward from
// head looking for the first node whose read quota is satisfied, promotes
// it to NEED_EVICT, unlinks it from the data list, waits out any in-flight
// readers, then relinks it at the tail of the aging list (spec.md §4.7).
// After every successful eviction the sweep restarts from head, which is a
// correctness requirement, not an optimization — see the single-hop rule
// in spec.md §5/§9.
func (c *Cache) Evictor(ctx context.Context) error {
	rng := backoff.New(c.cfg.DataBackoffMax)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.Done():
			return nil
		default:
		}

		if c.DataListCount() == 0 {
			rng.Spin()
			continue
		}

		cur := c.data.OpenCursor(lfdlist.Forward)
		candidate := c.findEvictCandidate(cur)
		cur.Close()

		if candidate == nil {
			rng.Spin()
			continue
		}

		if err := c.evictOne(ctx, candidate, rng); err != nil {
			return err
		}
	}
}

// findEvictCandidate walks cur forward looking for the first node with
// state < NEED_EVICT. If that node's read quota is not yet satisfied, the
// whole sweep must restart from head (nil, nil candidate); nodes already
// at NEED_EVICT or later are skipped in place.
func (c *Cache) findEvictCandidate(cur *lfdlist.Cursor[*Entry]) *Entry {
	for {
		n := cur.Next()
		if n == nil || cur.IsEOL() {
			return nil
		}
		e := entryOf(n)
		if e.State() >= StateNeedEvict {
			continue
		}
		if e.ReadCnt.Load() < c.cfg.ReaderCount {
			return nil
		}
		if e.advance(StateNeedEvict) {
			return e
		}
		return nil
	}
}

// evictOne carries one already-NEED_EVICT entry through unlink, latch
// drain, and relink onto the aging list.
func (c *Cache) evictOne(ctx context.Context, e *Entry, rng *backoff.RNG) error {
	c.maybeYield(rng)

	if err := c.data.Delete(&e.data); err != nil {
		return err
	}

	for e.ReadLatch.Load() != 0 {
		rng.Spin()
	}

	for {
		c.maybeYield(rng)
		err := c.aging.InsertBefore(c.aging.Tail(), &e.aging)
		if err == nil {
			break
		}
		if !errors.Is(err, lfdlist.ErrMergeInProgress) {
			return err
		}
	}

	e.advance(StateEvicted)
	c.dataListCount.Add(-1)
	c.agingListCount.Add(1)
	dlog.Debugf(dlog.WithField(ctx, "lfstage.key", e.Key), "evictor: evicted")
	return nil
}

// maybeYield interleaves extra back-off under low data-list occupancy, so
// the evictor does not starve inserters still filling a near-empty list.
func (c *Cache) maybeYield(rng *backoff.RNG) {
	if c.DataListCount() <= c.cfg.ThresholdWorkingSlowEvictor {
		rng.Spin()
	}
}
