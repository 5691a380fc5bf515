// Copyright (C) 2026  lfstage contributors
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package lfdlist implements a lock-free doubly linked list using
// single-word compare-and-swap with a logical-deletion mark, after Hakan
// Sundell and Philippas Tsigas, "Lock-free deques and doubly linked lists",
// J. Parallel Distrib. Comput. 68, 7 (2008).
//
// Rather than stealing bits out of a real Go pointer (which the garbage
// collector does not tolerate, and which Go gives no portable alignment
// guarantee for in the first place), each prev/next link is a small
// comparable value pair {node, deleted} swapped atomically through
// atomic.Value. One CAS still moves the address and the deletion mark
// together, which is the property the algorithm actually depends on.
package lfdlist

import (
	"errors"
	"fmt"

	"github.com/lfstage/lfstage/lib/backoff"
)

// ErrMergeInProgress is returned by Insert* when a concurrent update raced
// the caller; it is always transient and the caller is expected to retry
// (with back-off). It is never a terminal error.
var ErrMergeInProgress = errors.New("lfdlist: merge in progress")

// Node is an intrusive list cell. A payload type embeds one Node per list
// it participates in; Value holds a reference to the owning payload (in
// practice, instantiations of List are nearly always over a pointer type,
// so that the same payload can be threaded onto more than one List at
// once — see lib/staging, where an Entry has both a data-list Node and an
// aging-list Node that both carry the same *Entry as Value).
type Node[T any] struct {
	prev, next link[T]

	Value T
}

// link is a tagged pointer: an address (*Node[T]) plus a single logical
// "deleted" mark bit, CASed as one atomic unit.
type link[T any] struct {
	v atomicLinkValue[T]
}

type linkValue[T any] struct {
	node    *Node[T]
	deleted bool
}

func (lk *link[T]) load() (*Node[T], bool) {
	lv, ok := lk.v.Load()
	if !ok {
		return nil, false
	}
	return lv.node, lv.deleted
}

func (lk *link[T]) store(node *Node[T], deleted bool) {
	lk.v.Store(linkValue[T]{node: node, deleted: deleted})
}

func (lk *link[T]) cas(oldNode *Node[T], oldDeleted bool, newNode *Node[T], newDeleted bool) bool {
	return lk.v.CompareAndSwap(
		linkValue[T]{node: oldNode, deleted: oldDeleted},
		linkValue[T]{node: newNode, deleted: newDeleted},
	)
}

// List holds a pair of sentinel nodes (never user-visible, never deleted)
// and the back-off generator used by every operation on this list.
type List[T any] struct {
	head, tail *Node[T]
	rng        *backoff.RNG
}

// New returns an empty list. backoffMax bounds the randomized spin count
// used by this list's back-off (spec.md §4.2: 700 for a typical data list,
// 1000 for a typical aging list; callers choose).
func New[T any](backoffMax uint32) *List[T] {
	l := &List[T]{
		head: &Node[T]{},
		tail: &Node[T]{},
		rng:  backoff.New(backoffMax),
	}
	l.head.next.store(l.tail, false)
	l.tail.prev.store(l.head, false)
	return l
}

// Head and Tail return the list's sentinel nodes. Neither is ever deleted,
// and callers may use them as pivots for InsertBefore/InsertAfter.
func (l *List[T]) Head() *Node[T] { return l.head }
func (l *List[T]) Tail() *Node[T] { return l.tail }

// IsSentinel reports whether node is this list's head or tail.
func (l *List[T]) IsSentinel(node *Node[T]) bool {
	return node == l.head || node == l.tail
}

// NextMarked and PrevMarked report the current deleted-mark bit of node's
// forward/backward link, for diagnostics (e.g. a SIGUSR1 dump rendering
// each link's deletion mark). They are
// inherently racy snapshots, like every other read in this package.
func (n *Node[T]) NextMarked() bool { _, marked := n.next.load(); return marked }
func (n *Node[T]) PrevMarked() bool { _, marked := n.prev.load(); return marked }

// NewNode allocates a fresh, unlinked node carrying value. The node must be
// linked into a list (InsertBefore/InsertAfter) before any of its fields
// are read by another goroutine.
func NewNode[T any](value T) *Node[T] {
	return &Node[T]{Value: value}
}

func (l *List[T]) backoff() { l.rng.Spin() }

// GetNext returns the first live node strictly after node, walking past (and
// helping unlink) any logically-deleted nodes it passes. When no live node
// follows, it returns the tail sentinel; it returns nil when node is the
// tail itself.
func (l *List[T]) GetNext(node *Node[T]) *Node[T] {
	for node != l.tail {
		next, _ := node.next.load()
		if next == nil {
			return nil
		}
		nextNext, nextNextMarked := next.next.load()
		if nextNextMarked {
			// next is itself logically deleted (its own forward link
			// carries the mark); help splice it out if our link to it
			// hasn't already been updated by another helper.
			curNext, curMarked := node.next.load()
			if curNext == next && !curMarked {
				node.next.cas(next, false, nextNext, false)
			}
			continue
		}
		return next
	}
	return nil
}

// GetPrev returns the first live node strictly before node, repairing the
// reverse link via correctPrev when it is found stale. When no live node
// precedes, it returns the head sentinel; it returns nil when node is the
// head itself.
func (l *List[T]) GetPrev(node *Node[T]) *Node[T] {
	for node != l.head {
		prev, _ := node.prev.load()
		if prev == nil {
			return nil
		}
		prevNext, _ := prev.next.load()
		_, nodeDeleted := node.next.load()
		switch {
		case prevNext == node && !nodeDeleted:
			return prev
		case nodeDeleted:
			next := l.GetNext(node)
			if next == nil {
				return nil
			}
			node = next
		default:
			l.correctPrev(prev, node)
		}
	}
	return nil
}

// InsertBefore links node immediately before pivot. Inserting before head
// degenerates to InsertAfter(head, node), per spec.md §4.3.
//
// On success pivot's reverse link is repaired via correctPrev to point at
// the new node before InsertBefore returns. On a lost race it returns
// ErrMergeInProgress; the caller is expected to retry the whole operation
// (re-deriving its pivot) after a back-off.
func (l *List[T]) InsertBefore(pivot, node *Node[T]) error {
	if pivot == l.head {
		return l.InsertAfter(pivot, node)
	}

	pivotPrev, _ := pivot.prev.load()
	for {
		_, pivotDeleted := pivot.next.load()
		if pivotDeleted {
			next := l.GetNext(pivot)
			if next == nil {
				return ErrMergeInProgress
			}
			pivotPrev = l.correctPrev(pivotPrev, next)
			pivot = next
			continue
		}

		node.prev.store(pivotPrev, false)
		node.next.store(pivot, false)

		if pivotPrev.next.cas(pivot, false, node, false) {
			break
		}

		l.correctPrev(pivotPrev, pivot)
		l.backoff()
		return ErrMergeInProgress
	}

	l.correctPrev(pivotPrev, pivot)
	return nil
}

// InsertAfter links node immediately after prev. Inserting after tail
// degenerates to InsertBefore(tail, node), per spec.md §4.3.
func (l *List[T]) InsertAfter(prev, node *Node[T]) error {
	if prev == l.tail {
		return l.InsertBefore(prev, node)
	}

	prevNext, prevDeleted := prev.next.load()
	node.prev.store(prev, false)
	node.next.store(prevNext, false)

	if prev.next.cas(prevNext, false, node, false) {
		l.correctPrev(prev, prevNext)
		return nil
	}

	if prevDeleted {
		return ErrMergeInProgress
	}
	l.backoff()
	return ErrMergeInProgress
}

// Delete logically removes node from the list in two phases (mark forward,
// then mark backward), then repairs the neighborhood's reverse link.
// Deleting an already-deleted node is a no-op that returns nil, matching
// spec.md §4.3/§8. Sentinels are never deleted; Delete is a no-op for them.
func (l *List[T]) Delete(node *Node[T]) error {
	if l.IsSentinel(node) {
		return nil
	}

	var nodeNext *Node[T]
	for {
		next, marked := node.next.load()
		if marked {
			return nil
		}
		if node.next.cas(next, false, next, true) {
			nodeNext = next
			break
		}
	}

	var nodePrev *Node[T]
	for {
		prev, marked := node.prev.load()
		if marked {
			nodePrev = prev
			break
		}
		if node.prev.cas(prev, false, prev, true) {
			nodePrev = prev
			break
		}
	}

	l.correctPrev(nodePrev, nodeNext)
	return nil
}

// correctPrev is the protocol's chain-correction helper: it walks forward
// from prev until it finds a live predecessor p such that p.next == node,
// then CASes node.prev to point at p. It returns the corrected (or
// already-correct) predecessor.
func (l *List[T]) correctPrev(prev, node *Node[T]) *Node[T] {
	var lastLink *Node[T]
	for {
		link1, link1Marked := node.prev.load()
		if link1Marked {
			// node is gone; no correction is possible.
			break
		}
		if prev == nil {
			return nil
		}

		prevNext, prevNextMarked := prev.next.load()
		if prevNextMarked {
			if lastLink != nil {
				// Help finish prev's own deletion before splicing
				// lastLink past it.
				if pp, ppMarked := prev.prev.load(); !ppMarked {
					prev.prev.cas(pp, false, pp, true)
				}
				lastLink.next.cas(prev, false, prevNext, false)
				prev = lastLink
				lastLink = nil
				continue
			}
			pp, _ := prev.prev.load()
			prev = pp
			continue
		}

		if prevNext != node {
			lastLink = prev
			prev = prevNext
			continue
		}

		if prev == link1 {
			// Already correct.
			break
		}

		if node.prev.cas(link1, false, prev, false) {
			if _, prevGoneNow := prev.prev.load(); prevGoneNow {
				// prev was itself deleted concurrently; the
				// correction we just installed may already be
				// stale, so go around again.
				continue
			}
			break
		}
		l.backoff()
	}
	return prev
}

// CorrectNext is the forward-walking symmetric counterpart to correctPrev,
// re-knitting forward links past a freshly deleted successor. spec.md §9
// leaves it an open question whether the live delete path should use this
// or the backward correctPrev walk; lfstage's Delete uses correctPrev (see
// DESIGN.md). CorrectNext is exported for direct testing and for callers
// that want the forward variant explicitly.
func (l *List[T]) CorrectNext(node *Node[T]) *Node[T] {
	for node != l.tail {
		next, _ := node.next.load()
		if next == nil {
			return nil
		}
		nextNext, nextNextMarked := next.next.load()
		if nextNextMarked {
			if pp, ppMarked := next.prev.load(); !ppMarked {
				next.prev.cas(pp, false, pp, true)
			}
			curNext, curMarked := node.next.load()
			if curNext == next && !curMarked {
				node.next.cas(next, false, nextNext, false)
			}
			continue
		}
		return next
	}
	return nil
}

// SanityCheck walks the list from head to tail (single-threaded use only;
// it performs no helping and tolerates no concurrent mutation) and verifies
// the steady-state invariants of spec.md §3: no sentinel carries the
// deleted mark, head.prev and tail.next are nil, and every adjacent pair's
// forward/backward links agree.
func (l *List[T]) SanityCheck() error {
	if p, marked := l.head.prev.load(); p != nil || marked {
		return fmt.Errorf("lfdlist: head.prev is not nil/unmarked: %v marked=%v", p, marked)
	}
	if n, marked := l.tail.next.load(); n != nil || marked {
		return fmt.Errorf("lfdlist: tail.next is not nil/unmarked: %v marked=%v", n, marked)
	}

	node := l.head
	for {
		next, marked := node.next.load()
		if marked {
			return fmt.Errorf("lfdlist: deleted mark observed mid-traversal at %p", node)
		}
		if next == nil {
			return fmt.Errorf("lfdlist: nil next before reaching tail at %p", node)
		}
		prevOfNext, nextPrevMarked := next.prev.load()
		if nextPrevMarked {
			return fmt.Errorf("lfdlist: deleted mark on prev link at %p", next)
		}
		if prevOfNext != node {
			return fmt.Errorf("lfdlist: reverse-link mismatch: %p.prev = %p, want %p", next, prevOfNext, node)
		}
		if next == l.tail {
			return nil
		}
		node = next
	}
}
