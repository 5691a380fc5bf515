// Copyright (C) 2026  lfstage contributors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package staging

import (
	"context"

	"github.com/datawire/dlib/dlog"

	"github.com/lfstage/lfstage/lib/backoff"
	"github.com/lfstage/lfstage/lib/lfdlist"
)

// Ager runs the single ager worker. Each pass sweeps forward over the
// aging list, claims the first EVICTED node it finds, waits out any
// in-flight readers, unlinks it, and returns it to the entry pool
// (spec.md §4.8).
//
// spec.md §4.8 trips the exit flag once TotalAged reaches MaxItemCount-5,
// a slack meant to tolerate a race against the last few inserts in an
// allocator-exhaustion-sensitive C harness. lfstage has no such pressure —
// pool reuse is GC-backed — and spec.md §8's end-to-end scenarios require
// exact completion (residual counts of 0, TotalAged == MaxItemCount), so
// Ager instead waits for the literal drain condition before closing Done;
// see DESIGN.md.
func (c *Cache) Ager(ctx context.Context) error {
	rng := backoff.New(c.cfg.AgingBackoffMax)

	for {
		if c.TotalAged() >= c.cfg.MaxItemCount && c.nextKey.Load() >= c.cfg.MaxItemCount {
			c.finish()
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-c.Done():
			return nil
		default:
		}

		if c.AgingListCount() == 0 {
			rng.Spin()
			continue
		}

		cur := c.aging.OpenCursor(lfdlist.Forward)
		candidate := c.findAgeCandidate(cur)
		cur.Close()

		if candidate == nil {
			rng.Spin()
			continue
		}

		c.ageOne(ctx, candidate, rng)
	}
}

// findAgeCandidate walks cur forward looking for the first EVICTED node to
// claim. A node not yet EVICTED forces a full sweep restart (nil); a node
// already claimed by a losing CAS just causes us to move on to the next
// one, per spec.md §4.8.
func (c *Cache) findAgeCandidate(cur *lfdlist.Cursor[*Entry]) *Entry {
	for {
		n := cur.Next()
		if n == nil || cur.IsEOL() {
			return nil
		}
		e := entryOf(n)
		switch {
		case e.State() < StateEvicted:
			return nil
		case e.State() >= StateOnAging:
			continue
		case e.advance(StateOnAging):
			return e
		default:
			continue
		}
	}
}

func (c *Cache) ageOne(ctx context.Context, e *Entry, rng *backoff.RNG) {
	for e.ReadLatch.Load() != 0 {
		rng.Spin()
	}

	_ = c.aging.Delete(&e.aging)

	c.pool.Put(e)
	c.agingListCount.Add(-1)
	c.totalAged.Add(1)
	dlog.Debugf(dlog.WithField(ctx, "lfstage.key", e.Key), "ager: reclaimed")
}
