// Copyright (C) 2026  lfstage contributors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package lfdlist_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lfstage/lfstage/lib/lfdlist"
)

func collectForward(l *lfdlist.List[int]) []int {
	var out []int
	c := l.OpenCursor(lfdlist.Forward)
	for !c.IsEOL() {
		n := c.Next()
		if n == nil || c.IsEOL() {
			break
		}
		out = append(out, n.Value)
	}
	return out
}

func collectBackward(l *lfdlist.List[int]) []int {
	var out []int
	c := l.OpenCursor(lfdlist.Backward)
	for !c.IsEOL() {
		n := c.Prev()
		if n == nil || c.IsEOL() {
			break
		}
		out = append(out, n.Value)
	}
	return out
}

func TestEmptyListIsEOLImmediately(t *testing.T) {
	t.Parallel()
	l := lfdlist.New[int](16)
	require.NoError(t, l.SanityCheck())
	assert.Empty(t, collectForward(l))
	assert.Empty(t, collectBackward(l))
}

func TestInsertAfterHeadThenForwardOrder(t *testing.T) {
	t.Parallel()
	l := lfdlist.New[int](16)

	n3 := lfdlist.NewNode(3)
	require.NoError(t, l.InsertAfter(l.Head(), n3))
	n2 := lfdlist.NewNode(2)
	require.NoError(t, l.InsertAfter(l.Head(), n2))
	n1 := lfdlist.NewNode(1)
	require.NoError(t, l.InsertAfter(l.Head(), n1))

	require.NoError(t, l.SanityCheck())
	assert.Equal(t, []int{1, 2, 3}, collectForward(l))
	assert.Equal(t, []int{3, 2, 1}, collectBackward(l))
}

func TestInsertBeforeTailThenForwardOrder(t *testing.T) {
	t.Parallel()
	l := lfdlist.New[int](16)

	for _, v := range []int{1, 2, 3} {
		require.NoError(t, l.InsertBefore(l.Tail(), lfdlist.NewNode(v)))
	}

	require.NoError(t, l.SanityCheck())
	assert.Equal(t, []int{1, 2, 3}, collectForward(l))
}

func TestInsertBeforeHeadDegeneratesToInsertAfterHead(t *testing.T) {
	t.Parallel()
	l := lfdlist.New[int](16)
	require.NoError(t, l.InsertBefore(l.Tail(), lfdlist.NewNode(2)))
	require.NoError(t, l.InsertBefore(l.Head(), lfdlist.NewNode(1)))
	assert.Equal(t, []int{1, 2}, collectForward(l))
}

func TestInsertAfterTailDegeneratesToInsertBeforeTail(t *testing.T) {
	t.Parallel()
	l := lfdlist.New[int](16)
	require.NoError(t, l.InsertAfter(l.Head(), lfdlist.NewNode(1)))
	require.NoError(t, l.InsertAfter(l.Tail(), lfdlist.NewNode(2)))
	assert.Equal(t, []int{1, 2}, collectForward(l))
}

func TestDeleteMiddleNode(t *testing.T) {
	t.Parallel()
	l := lfdlist.New[int](16)
	for _, v := range []int{1, 2, 3} {
		require.NoError(t, l.InsertBefore(l.Tail(), lfdlist.NewNode(v)))
	}

	c := l.OpenCursor(lfdlist.Forward)
	c.Next() // 1
	two := c.Next()
	require.Equal(t, 2, two.Value)

	require.NoError(t, l.Delete(two))
	require.NoError(t, l.SanityCheck())
	assert.Equal(t, []int{1, 3}, collectForward(l))
	assert.Equal(t, []int{3, 1}, collectBackward(l))
}

func TestDeleteIsIdempotent(t *testing.T) {
	t.Parallel()
	l := lfdlist.New[int](16)
	n := lfdlist.NewNode(1)
	require.NoError(t, l.InsertBefore(l.Tail(), n))
	require.NoError(t, l.Delete(n))
	require.NoError(t, l.Delete(n))
	assert.Empty(t, collectForward(l))
}

func TestDeleteSentinelIsNoop(t *testing.T) {
	t.Parallel()
	l := lfdlist.New[int](16)
	require.NoError(t, l.Delete(l.Head()))
	require.NoError(t, l.Delete(l.Tail()))
	require.NoError(t, l.SanityCheck())
}

func TestDeleteHeadAndTailNeighbors(t *testing.T) {
	t.Parallel()
	l := lfdlist.New[int](16)
	n1 := lfdlist.NewNode(1)
	n2 := lfdlist.NewNode(2)
	require.NoError(t, l.InsertBefore(l.Tail(), n1))
	require.NoError(t, l.InsertBefore(l.Tail(), n2))

	require.NoError(t, l.Delete(n1))
	require.NoError(t, l.SanityCheck())
	assert.Equal(t, []int{2}, collectForward(l))

	require.NoError(t, l.Delete(n2))
	require.NoError(t, l.SanityCheck())
	assert.Empty(t, collectForward(l))
}

func TestCorrectNextAfterDelete(t *testing.T) {
	t.Parallel()
	l := lfdlist.New[int](16)
	n1 := lfdlist.NewNode(1)
	n2 := lfdlist.NewNode(2)
	n3 := lfdlist.NewNode(3)
	require.NoError(t, l.InsertBefore(l.Tail(), n1))
	require.NoError(t, l.InsertBefore(l.Tail(), n2))
	require.NoError(t, l.InsertBefore(l.Tail(), n3))

	require.NoError(t, l.Delete(n2))
	next := l.CorrectNext(n1)
	require.NotNil(t, next)
	assert.Equal(t, 3, next.Value)
}

func TestConcurrentInsertAndDeleteLeavesConsistentList(t *testing.T) {
	const workers = 8
	const perWorker = 200

	l := lfdlist.New[int](128)

	var wg sync.WaitGroup
	nodes := make([][]*lfdlist.Node[int], workers)
	for w := 0; w < workers; w++ {
		w := w
		nodes[w] = make([]*lfdlist.Node[int], perWorker)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				n := lfdlist.NewNode(w*perWorker + i)
				nodes[w][i] = n
				for {
					if err := l.InsertBefore(l.Tail(), n); err == nil {
						break
					}
				}
			}
		}()
	}
	wg.Wait()

	seen := map[int]bool{}
	for _, got := range collectForward(l) {
		assert.False(t, seen[got], "duplicate value %d in forward traversal", got)
		seen[got] = true
	}
	assert.Len(t, seen, workers*perWorker)
	require.NoError(t, l.SanityCheck())

	var wg2 sync.WaitGroup
	for w := 0; w < workers; w++ {
		w := w
		wg2.Add(1)
		go func() {
			defer wg2.Done()
			for i := 0; i < perWorker; i += 2 {
				require.NoError(t, l.Delete(nodes[w][i]))
			}
		}()
	}
	wg2.Wait()

	remaining := collectForward(l)
	assert.Len(t, remaining, workers*perWorker/2)
	require.NoError(t, l.SanityCheck())
}
