// Copyright (C) 2026  lfstage contributors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"
	"github.com/datawire/ocibuild/pkg/cliutil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lfstage/lfstage/lib/profile"
	"github.com/lfstage/lfstage/lib/staging"
	"github.com/lfstage/lfstage/lib/textui"
)

func main() {
	logLevelFlag := textui.LogLevelFlag{Level: dlog.LogLevelInfo}

	var numInserters, numReaders int
	var itemCount int32
	var verboseSimple bool
	var dumpFormatStr string

	argparser := &cobra.Command{
		Use:   "lfstage [flags]",
		Short: "Drive the lock-free staging cache pipeline to completion",

		Args: cliutil.WrapPositionalArgs(cobra.NoArgs),

		SilenceErrors: true, // main() will handle this after .ExecuteContext() returns
		SilenceUsage:  true, // our FlagErrorFunc will handle it

		CompletionOptions: cobra.CompletionOptions{ //nolint:exhaustivestruct
			DisableDefaultCmd: true,
		},
	}
	argparser.SetFlagErrorFunc(cliutil.FlagErrorFunc)
	argparser.SetHelpTemplate(cliutil.HelpTemplate)

	flags := argparser.Flags()
	flags.IntVarP(&numInserters, "num-thr-insert", "i", 1, "number of inserter threads")
	flags.IntVarP(&numReaders, "num-thr-read", "r", 1, "number of reader threads")
	flags.Int32VarP(&itemCount, "item-count", "n", 0, "total items to insert and consume")
	if err := argparser.MarkFlagRequired("item-count"); err != nil {
		panic(err)
	}
	flags.BoolVarP(&verboseSimple, "verbose-simple", "v", false, "emit a progress line periodically as items are aged")
	flags.Var(&logLevelFlag, "log-level", "set the log level (error|warn|info|debug|trace)")
	flags.StringVar(&dumpFormatStr, "dump-format", string(dumpFormatText), "SIGUSR1 dump rendering: text|json")

	// cache is assigned once RunE constructs it; stageSnapshot is only
	// ever invoked at shutdown, by which point it is non-nil.
	var cache *staging.Cache
	stageSnapshot := func() string {
		if cache == nil {
			return ""
		}
		return fmt.Sprintf("data=%d aging=%d aged=%d/%d\n",
			cache.DataListCount(), cache.AgingListCount(), cache.TotalAged(), cache.MaxItemCount())
	}
	stopProfiling := profile.AddProfileFlags(flags, "profile-", stageSnapshot)

	argparser.RunE = func(cmd *cobra.Command, _ []string) error {
		if numInserters < 1 {
			return fmt.Errorf("--num-thr-insert must be >= 1, got %d", numInserters)
		}
		if numReaders < 1 {
			return fmt.Errorf("--num-thr-read must be >= 1, got %d", numReaders)
		}
		if itemCount < 1 {
			return fmt.Errorf("--item-count must be >= 1, got %d", itemCount)
		}
		format, err := parseDumpFormat(dumpFormatStr)
		if err != nil {
			return err
		}

		logger := logrus.New()
		logger.SetLevel(toLogrusLevel(logLevelFlag.Level))
		ctx := dlog.WithLogger(cmd.Context(), dlog.WrapLogrus(logger))
		defer func() {
			if err := stopProfiling(); err != nil {
				dlog.Errorf(ctx, "stopping profiles: %v", err)
			}
		}()

		cache = staging.New(staging.Config{
			MaxItemCount: itemCount,
			ReaderCount:  int32(numReaders),
		})

		d := newDumper(cache, logLevelFlag.Level >= dlog.LogLevelDebug, format)
		defer d.Stop()

		grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{
			EnableSignalHandling: true,
		})

		grp.Go("dump-on-sigusr1", func(ctx context.Context) error {
			return d.Run(withRole(ctx, "dumper", -1))
		})

		for i := 0; i < numInserters; i++ {
			i := i
			grp.Go(fmt.Sprintf("inserter-%d", i), func(ctx context.Context) error {
				return cache.Inserter(withRole(ctx, "inserter", i))
			})
		}
		for r := 0; r < numReaders; r++ {
			r := r
			grp.Go(fmt.Sprintf("reader-%d", r), func(ctx context.Context) error {
				return cache.Reader(withRole(ctx, "reader", r), r, func(key int32) {
					d.recordRead(r, key)
				})
			})
		}
		grp.Go("evictor", func(ctx context.Context) error {
			return cache.Evictor(withRole(ctx, "evictor", -1))
		})

		if verboseSimple {
			progress := newProgressReporter(ctx, cache)
			defer progress.Done()
		}

		grp.Go("ager", func(ctx context.Context) error {
			return cache.Ager(withRole(ctx, "ager", -1))
		})

		if err := grp.Wait(); err != nil {
			return err
		}

		return checkFinalState(cache)
	}

	if err := argparser.ExecuteContext(context.Background()); err != nil {
		textui.Fprintf(os.Stderr, "%v: error: %v\n", argparser.CommandPath(), err)
		os.Exit(1)
	}
	fmt.Println("SUCCESS!")
}

// withRole tags ctx's logger with lfstage.role (and lfstage.id, for the
// roles that run more than one instance) so every log line a worker emits
// can be filtered or grouped by which goroutine produced it. id < 0 means
// the role has a single instance and carries no id field.
func withRole(ctx context.Context, role string, id int) context.Context {
	ctx = dlog.WithField(ctx, "lfstage.role", role)
	if id >= 0 {
		ctx = dlog.WithField(ctx, "lfstage.id", id)
	}
	return ctx
}

func toLogrusLevel(lvl dlog.LogLevel) logrus.Level {
	switch lvl {
	case dlog.LogLevelError:
		return logrus.ErrorLevel
	case dlog.LogLevelWarn:
		return logrus.WarnLevel
	case dlog.LogLevelInfo:
		return logrus.InfoLevel
	case dlog.LogLevelDebug:
		return logrus.DebugLevel
	case dlog.LogLevelTrace:
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

// checkFinalState re-asserts the end-to-end invariants of a completed run:
// both lists drained and every item aged exactly once.
func checkFinalState(cache *staging.Cache) error {
	if got := cache.DataListCount(); got != 0 {
		return fmt.Errorf("data list not drained: %d entries remain", got)
	}
	if got := cache.AgingListCount(); got != 0 {
		return fmt.Errorf("aging list not drained: %d entries remain", got)
	}
	if got, want := cache.TotalAged(), cache.MaxItemCount(); got != want {
		return fmt.Errorf("total aged = %d, want %d", got, want)
	}
	return nil
}
