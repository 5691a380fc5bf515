// Copyright (C) 2026  lfstage contributors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package backoff_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lfstage/lfstage/lib/backoff"
)

func TestGenerateBounded(t *testing.T) {
	t.Parallel()
	rng := backoff.New(700)
	for i := 0; i < 10000; i++ {
		v := rng.Generate()
		assert.Less(t, v, uint32(700))
	}
}

func TestGenerateZeroMaxIsUnbounded(t *testing.T) {
	t.Parallel()
	rng := backoff.New(0)
	// Just exercise the path; an unbounded generator has no upper bound to
	// assert against, but it must terminate and not panic.
	for i := 0; i < 1000; i++ {
		_ = rng.Generate()
	}
}

func TestSpinTerminates(t *testing.T) {
	t.Parallel()
	rng := backoff.New(16)
	for i := 0; i < 100; i++ {
		rng.Spin()
	}
}

func TestTwoRNGsDiverge(t *testing.T) {
	t.Parallel()
	a := backoff.New(1 << 30)
	b := backoff.New(1 << 30)
	same := true
	for i := 0; i < 8; i++ {
		if a.Generate() != b.Generate() {
			same = false
			break
		}
	}
	assert.False(t, same, "independently-seeded generators should not produce identical streams")
}
