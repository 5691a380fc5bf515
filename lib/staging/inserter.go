// Copyright (C) 2026  lfstage contributors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package staging

import (
	"context"
	"errors"

	"github.com/datawire/dlib/dlog"

	"github.com/lfstage/lfstage/lib/lfdlist"
)

// Inserter runs one inserter worker until it has claimed a key at or past
// MaxItemCount, the cache signals Done, or ctx is cancelled. Each claimed
// key is inserted into the data list in ascending order (spec.md §4.5).
func (c *Cache) Inserter(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.Done():
			return nil
		default:
		}

		key := c.nextKey.Add(1) - 1
		if key >= c.cfg.MaxItemCount {
			return nil
		}

		entry, _ := c.pool.Get()
		entry.reset(key)

		if err := c.insertOrdered(entry); err != nil {
			return err
		}

		entry.advance(StateAvail)
		c.dataListCount.Add(1)
		dlog.Debugf(dlog.WithField(ctx, "lfstage.key", key), "inserter: published")
	}
}

// insertOrdered walks backward from the data list's tail looking for the
// first node with a smaller key, then inserts entry's data node
// immediately after it, retrying the whole walk on a lost race.
func (c *Cache) insertOrdered(entry *Entry) error {
	node := &entry.data
	key := entry.Key

	for {
		pivot := c.findInsertPivot(key)

		err := c.data.InsertAfter(pivot, node)
		if err == nil {
			return nil
		}
		if !errors.Is(err, lfdlist.ErrMergeInProgress) {
			return err
		}
		// retry the whole walk with a freshly opened cursor
	}
}

func (c *Cache) findInsertPivot(key int32) *lfdlist.Node[*Entry] {
	cur := c.data.OpenCursor(lfdlist.Backward)
	defer cur.Close()

	for {
		n := cur.Prev()
		if n == nil {
			return c.data.Head()
		}
		if cur.IsEOL() || entryOf(n).Key < key {
			return n
		}
	}
}
