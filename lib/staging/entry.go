// Copyright (C) 2026  lfstage contributors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package staging

import (
	"fmt"
	"sync/atomic"

	"github.com/lfstage/lfstage/lib/lfdlist"
)

// State is an Entry's position in the advance-only state machine:
//
//	INIT ── Inserter publishes ──► AVAIL
//	AVAIL ── Evictor decides ──► NEED_EVICT
//	NEED_EVICT ── Evictor links to aging ──► EVICTED
//	EVICTED ── Ager claims ──► ON_AGING ── Ager frees ──► (reclaimed)
type State int32

const (
	StateInit State = iota
	StateAvail
	StateNeedEvict
	StateEvicted
	StateOnAging
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateAvail:
		return "AVAIL"
	case StateNeedEvict:
		return "NEED_EVICT"
	case StateEvicted:
		return "EVICTED"
	case StateOnAging:
		return "ON_AGING"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Entry is the cache payload. It embeds two lfdlist nodes, one per list it
// may belong to: data holds its place in the key-ordered data list, aging
// holds its place in the aging list once evicted. Both nodes' Value always
// points back at the same Entry, which is how an aging-list walker recovers
// the payload from the node it is holding (the Go rendition of "convert the
// aging-embedded link back to the payload address using the known
// offset").
type Entry struct {
	Key int32

	ReadCnt   atomic.Int32
	ReadLatch atomic.Int32
	state     atomic.Int32

	data  lfdlist.Node[*Entry]
	aging lfdlist.Node[*Entry]
}

// State returns the entry's current state.
func (e *Entry) State() State { return State(e.state.Load()) }

// advance CASes the entry to next, looping until it either succeeds or
// observes that the state has already advanced at least as far as next.
// It reports whether this call is the one that performed the transition.
func (e *Entry) advance(next State) bool {
	for {
		old := State(e.state.Load())
		if next <= old {
			return false
		}
		if e.state.CompareAndSwap(int32(old), int32(next)) {
			return true
		}
	}
}

// reset reinitializes a pooled Entry for reuse under a new key. It must
// only be called by the Inserter that just obtained the entry from the
// pool, before the entry is reachable from any list.
func (e *Entry) reset(key int32) {
	e.Key = key
	e.ReadCnt.Store(0)
	e.ReadLatch.Store(0)
	e.state.Store(int32(StateInit))
	e.data = lfdlist.Node[*Entry]{}
	e.aging = lfdlist.Node[*Entry]{}
	e.data.Value = e
	e.aging.Value = e
}

func (e *Entry) latch()   { e.ReadLatch.Add(1) }
func (e *Entry) unlatch() { e.ReadLatch.Add(-1) }

func entryOf(n *lfdlist.Node[*Entry]) *Entry {
	if n == nil {
		return nil
	}
	return n.Value
}
