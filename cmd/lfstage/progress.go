// Copyright (C) 2026  lfstage contributors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/datawire/dlib/dlog"

	"github.com/lfstage/lfstage/lib/staging"
	"github.com/lfstage/lfstage/lib/textui"
)

// memSample rate-limits runtime.ReadMemStats (which stops the world) and
// reports the one figure the staging pipeline's progress line cares about:
// live heap bytes, as a running check that the Evictor and Ager are
// actually keeping the working set bounded rather than the process growing
// without limit over a long --item-count run.
type memSample struct {
	mu    sync.Mutex
	stats runtime.MemStats
	last  time.Time
}

const memSampleInterval = time.Second

func (m *memSample) heapInUse() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if now := time.Now(); now.Sub(m.last) > memSampleInterval {
		runtime.ReadMemStats(&m.stats)
		m.last = now
	}
	return m.stats.HeapInuse
}

type progressStats struct {
	aged, dataLen, agingLen, max int32
	heapInUse                    uint64
}

var _ fmt.Stringer = progressStats{}

func (s progressStats) String() string {
	return fmt.Sprintf("aged %d/%d (data=%d aging=%d) heap=%s",
		s.aged, s.max, s.dataLen, s.agingLen, textui.IEC(s.heapInUse, "B"))
}

// progressPollInterval is how often the reporter samples the cache's
// counters. lfstage polls on a timer rather than hooking every ager
// transition; poll hands a new line to textui.Progress only when TotalAged
// has crossed another multiple of MaxItemCount/1000 (at least 100) aged
// items, and once more when the cache signals Done.
const progressPollInterval = 20 * time.Millisecond

type progressReporter struct {
	p   *textui.Progress[progressStats]
	mem *memSample
}

func newProgressReporter(ctx context.Context, cache *staging.Cache) *progressReporter {
	p := textui.NewProgress[progressStats](ctx, dlog.LogLevelInfo, progressPollInterval)
	r := &progressReporter{p: p, mem: &memSample{}}
	go r.poll(ctx, cache)
	return r
}

func (r *progressReporter) snapshot(cache *staging.Cache) progressStats {
	return progressStats{
		aged: cache.TotalAged(), dataLen: cache.DataListCount(),
		agingLen: cache.AgingListCount(), max: cache.MaxItemCount(),
		heapInUse: r.mem.heapInUse(),
	}
}

func (r *progressReporter) poll(ctx context.Context, cache *staging.Cache) {
	step := cache.MaxItemCount() / 1000
	if step < 100 {
		step = 100
	}
	lastStep := int32(-1)
	ticker := time.NewTicker(progressPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-cache.Done():
			r.p.Set(r.snapshot(cache))
			return
		case <-ticker.C:
			if s := r.snapshot(cache); s.aged/step != lastStep {
				lastStep = s.aged / step
				r.p.Set(s)
			}
		}
	}
}

func (r *progressReporter) Done() { r.p.Done() }
