// Copyright (C) 2026  lfstage contributors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package staging_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lfstage/lfstage/lib/containers"
	"github.com/lfstage/lfstage/lib/staging"
)

// runPipeline launches numInserters inserters, numReaders readers, and the
// single evictor/ager, then waits for them all to return (inserters and
// readers return once their keys run out, the evictor and ager once the
// cache signals Done, and all of them if ctx is cancelled).
func runPipeline(t *testing.T, cfg staging.Config, numInserters, numReaders int) (*staging.Cache, map[int][]int32) {
	t.Helper()
	cfg.ReaderCount = int32(numReaders)
	c := staging.New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var mu sync.Mutex
	seen := make(map[int][]int32, numReaders)

	var wg sync.WaitGroup
	errs := make(chan error, numInserters+numReaders+2)

	for i := 0; i < numInserters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.Inserter(ctx)
		}()
	}
	for r := 0; r < numReaders; r++ {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.Reader(ctx, r, func(key int32) {
				mu.Lock()
				seen[r] = append(seen[r], key)
				mu.Unlock()
			})
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- c.Evictor(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- c.Ager(ctx)
	}()

	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.NoError(t, ctx.Err(), "pipeline did not complete before timeout")
	return c, seen
}

func TestEndToEndSingleInserterSingleReader(t *testing.T) {
	cfg := staging.Config{MaxItemCount: 10}
	c, seen := runPipeline(t, cfg, 1, 1)

	assert.Equal(t, int32(0), c.DataListCount())
	assert.Equal(t, int32(0), c.AgingListCount())
	assert.Equal(t, int32(10), c.TotalAged())

	got := append([]int32(nil), seen[0]...)
	want := []int32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	assert.Equal(t, want, got, "a single reader must observe keys in ascending order exactly once each")
}

func TestEndToEndManyInsertersManyReaders(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping larger concurrency run in -short mode")
	}

	const n = 2000
	cfg := staging.Config{MaxItemCount: n}
	c, seen := runPipeline(t, cfg, 8, 4)

	assert.Equal(t, int32(0), c.DataListCount())
	assert.Equal(t, int32(0), c.AgingListCount())
	assert.Equal(t, int32(n), c.TotalAged())

	want := containers.NewSet[int32]()
	for k := int32(0); k < n; k++ {
		want.Insert(k)
	}

	for r, keys := range seen {
		require.Len(t, keys, n, "reader %d should observe every key exactly once", r)
		got := containers.NewSet(keys...)
		require.Len(t, got, n, "reader %d: a duplicate key was observed", r)
		got.DeleteFrom(want)
		require.Empty(t, got, "reader %d: observed a key outside [0, %d)", r, n)

		sorted := append([]int32(nil), keys...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		for i, k := range sorted {
			require.Equal(t, int32(i), k, "reader %d: gap or duplicate around key %d", r, i)
		}
	}
}

func TestLowOccupancyThrottleDoesNotDeadlock(t *testing.T) {
	cfg := staging.Config{MaxItemCount: 64, ThresholdWorkingSlowEvictor: 64}
	c, _ := runPipeline(t, cfg, 1, 1)

	assert.Equal(t, int32(64), c.TotalAged())
}

func TestDumpDuringRunIsConsistent(t *testing.T) {
	cfg := staging.Config{MaxItemCount: 500}
	cfg.ReaderCount = 1
	c := staging.New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); _ = c.Inserter(ctx) }()
	go func() { defer wg.Done(); _ = c.Reader(ctx, 0, nil) }()
	go func() { defer wg.Done(); _ = c.Evictor(ctx) }()
	wg.Add(1)
	go func() { defer wg.Done(); _ = c.Ager(ctx) }()

	// Dump mid-run; this must never panic or race, regardless of timing.
	time.Sleep(time.Millisecond)
	for i := 0; i < 5; i++ {
		for _, e := range c.DumpDataList() {
			_ = fmt.Sprintf("%d:%s", e.Key, e.State)
		}
		for _, e := range c.DumpAgingList() {
			_ = fmt.Sprintf("%d:%s", e.Key, e.State)
		}
	}

	wg.Wait()
	assert.Equal(t, int32(500), c.TotalAged())
}
