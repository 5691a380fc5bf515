// Copyright (C) 2026  lfstage contributors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package containers

import (
	lru "github.com/hashicorp/golang-lru"
)

// DumpHistory is a small bounded ring recording when past SIGUSR1 list
// dumps fired, keyed by dump sequence number. It exists so a long-running
// lfstage process can answer "how many dumps, and when was the last one"
// at shutdown without an unbounded slice growing over the run.
type DumpHistory[V any] struct {
	inner *lru.ARCCache
}

// NewDumpHistory builds a history ring holding at most size entries; once
// full, the least recently touched entry is evicted first.
func NewDumpHistory[V any](size int) *DumpHistory[V] {
	inner, _ := lru.NewARC(size)
	return &DumpHistory[V]{inner: inner}
}

// Record adds one dump's value under its sequence number.
func (h *DumpHistory[V]) Record(seq int32, val V) {
	h.inner.Add(seq, val)
}

// Count reports how many dumps are currently retained in the ring.
func (h *DumpHistory[V]) Count() int {
	return h.inner.Len()
}
