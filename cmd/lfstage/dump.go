// Copyright (C) 2026  lfstage contributors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"git.lukeshu.com/go/lowmemjson"
	"github.com/davecgh/go-spew/spew"
	"github.com/datawire/dlib/dlog"

	"github.com/lfstage/lfstage/lib/containers"
	"github.com/lfstage/lfstage/lib/fmtutil"
	"github.com/lfstage/lfstage/lib/staging"
)

// linkFlagNames labels the two deletion-mark bits a dumped node can carry:
// bit 0 is its forward link's mark, bit 1 is its backward link's mark (the
// two phases of lfdlist.Delete). spec.md §3 reserves a DIRTY bit alongside
// DELETED in the packed link word; lfstage's Go rendition keeps the mark as
// a struct field rather than a packed bit, so there is nothing to show in
// that slot here.
var linkFlagNames = []string{"FWD_DEL", "BWD_DEL"}

// dumpFormat selects how dumper renders a SIGUSR1 snapshot.
type dumpFormat string

const (
	dumpFormatText dumpFormat = "text"
	dumpFormatJSON dumpFormat = "json"
)

func parseDumpFormat(s string) (dumpFormat, error) {
	switch dumpFormat(s) {
	case dumpFormatText, dumpFormatJSON:
		return dumpFormat(s), nil
	default:
		return "", fmt.Errorf("--dump-format must be %q or %q, got %q", dumpFormatText, dumpFormatJSON, s)
	}
}

// dumpSnapshot is the --dump-format=json rendering of one SIGUSR1 dump: a
// point-in-time view of both lists, keyed by the same sequence number
// reported in the text format's log line.
type dumpSnapshot struct {
	Seq       int32               `json:"seq"`
	DataList  []staging.DumpEntry `json:"data_list"`
	AgingList []staging.DumpEntry `json:"aging_list"`
}

// dumper owns the SIGUSR1 list-dump handler (spec.md §6) plus small
// auxiliary bookkeeping: the last key each reader has observed, and a
// bounded history of when past dumps fired.
type dumper struct {
	cache   *staging.Cache
	verbose bool
	format  dumpFormat

	lastRead containers.SyncMap[int, int32]
	lastDump containers.SyncValue[time.Time]
	history  *containers.DumpHistory[time.Time]

	seq atomic.Int32
}

// newDumper builds a SIGUSR1 dump handler. verbose additionally spews the
// raw DumpEntry struct per node in text mode (intended for --log-level=debug
// or finer), the way the rest of this codebase's ancestry reaches for
// go-spew when a formatted one-liner isn't enough detail to debug a stuck
// run; format selects text or json rendering (--dump-format).
func newDumper(cache *staging.Cache, verbose bool, format dumpFormat) *dumper {
	return &dumper{
		cache:   cache,
		verbose: verbose,
		format:  format,
		history: containers.NewDumpHistory[time.Time](32),
	}
}

func (d *dumper) recordRead(readerID int, key int32) {
	d.lastRead.Store(readerID, key)
}

// Run waits for SIGUSR1 and dumps both lists to stderr in forward order,
// one node per line, until ctx is cancelled.
func (d *dumper) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.cache.Done():
			return nil
		case <-sigCh:
			d.dump(ctx)
		}
	}
}

func (d *dumper) dump(ctx context.Context) {
	now := time.Now()
	seq := d.seq.Add(1)
	d.lastDump.Store(now)
	d.history.Record(seq, now)

	dlog.Infof(ctx, "SIGUSR1: dump #%d", seq)

	data := d.cache.DumpDataList()
	defer d.cache.ReleaseDump(data)
	aging := d.cache.DumpAgingList()
	defer d.cache.ReleaseDump(aging)

	if d.format == dumpFormatJSON {
		if err := lowmemjson.Encode(os.Stderr, dumpSnapshot{Seq: seq, DataList: data, AgingList: aging}); err != nil {
			dlog.Errorf(ctx, "SIGUSR1: encoding dump #%d as json: %v", seq, err)
			return
		}
		fmt.Fprintln(os.Stderr)
		return
	}

	fmt.Fprintf(os.Stderr, "-- data list (%d entries) --\n", len(data))
	dumpEntriesText(os.Stderr, data, d.verbose)

	fmt.Fprintf(os.Stderr, "-- aging list (%d entries) --\n", len(aging))
	dumpEntriesText(os.Stderr, aging, d.verbose)

	d.lastRead.Range(func(readerID int, key int32) bool {
		fmt.Fprintf(os.Stderr, "reader %d last read key=%d\n", readerID, key)
		return true
	})
}

func dumpEntriesText(w *os.File, entries []staging.DumpEntry, verbose bool) {
	s := spew.NewDefaultConfig()
	s.DisablePointerAddresses = true
	for _, e := range entries {
		var flags uint8
		if e.NextMarked {
			flags |= 1 << 0
		}
		if e.PrevMarked {
			flags |= 1 << 1
		}
		fmt.Fprintf(w, "  key=%d state=%s flags=%s\n",
			e.Key, e.State, fmtutil.BitfieldString(flags, linkFlagNames, fmtutil.HexNone))
		if verbose {
			s.Fdump(w, e)
		}
	}
}

// Stop reports a short summary of how many dumps fired over the run, for
// the user's benefit once the process is about to exit.
func (d *dumper) Stop() {
	if n := d.history.Count(); n > 0 {
		if last, ok := d.lastDump.Load(); ok {
			fmt.Fprintf(os.Stderr, "lfstage: %d SIGUSR1 dump(s), last at %s\n", n, last.Format(time.RFC3339))
		}
	}
}
