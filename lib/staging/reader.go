// Copyright (C) 2026  lfstage contributors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package staging

import (
	"context"
	"fmt"
	"time"

	"github.com/datawire/dlib/dlog"

	"github.com/lfstage/lfstage/lib/backoff"
	"github.com/lfstage/lfstage/lib/lfdlist"
)

const readerIdleSleep = 200 * time.Microsecond

// maxReaderWindow bounds how far ahead of search_key a reader will scan
// before concluding its target has not been inserted yet (spec.md §4.6).
const maxReaderWindow = 128

// Reader runs one reader worker. It holds its own forward cursor and a
// local search_key advancing from 0; on success it calls onRead (if
// non-nil) once per key, in key order, exactly once. Reader returns when
// search_key reaches MaxItemCount, ctx is cancelled, or the cache signals
// Done.
func (c *Cache) Reader(ctx context.Context, id int, onRead func(key int32)) error {
	cur := c.data.OpenCursor(lfdlist.Forward)
	defer cur.Close()

	rng := backoff.New(c.cfg.DataBackoffMax)
	searchKey := int32(0)

	for searchKey < c.cfg.MaxItemCount {
		select {
		case <-ctx.Done():
			return nil
		case <-c.Done():
			return nil
		default:
		}

		if c.DataListCount() == 0 {
			time.Sleep(readerIdleSleep)
			continue
		}

		n := cur.Next()
		if n == nil || cur.IsEOL() {
			cur.Reset()
			continue
		}
		e := entryOf(n)

		e.latch()
		switch {
		case e.Key == searchKey:
			switch e.State() {
			case StateAvail:
				e.unlatch()
				if onRead != nil {
					onRead(e.Key)
				}
				e.latch()
				e.ReadCnt.Add(1)
				e.unlatch()
				searchKey++
			case StateInit:
				e.unlatch()
				cur.Reset()
			default:
				e.unlatch()
				panic(fmt.Sprintf(
					"staging: reader %d observed key=%d in state %s, want AVAIL",
					id, e.Key, e.State()))
			}

		case e.Key > searchKey+window(c.DataListCount()):
			e.unlatch()
			cur.Reset()
			rng.Spin()

		default:
			e.unlatch()
		}
	}

	dlog.Debugf(dlog.WithField(ctx, "lfstage.key", searchKey), "reader %d: done", id)
	return nil
}

func window(dataListCount int32) int32 {
	w := dataListCount - 1
	if w > maxReaderWindow {
		return maxReaderWindow
	}
	if w < 0 {
		return 0
	}
	return w
}
