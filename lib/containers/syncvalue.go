// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package containers

import (
	"sync"
)

// SyncValue is a typed, mutex-backed equivalent of sync/atomic.Value, used
// by dumper to record the timestamp of the last SIGUSR1 dump without an
// allocation per store.
type SyncValue[T comparable] struct {
	mu  sync.Mutex
	ok  bool
	val T
}

func (v *SyncValue[T]) Load() (val T, ok bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.val, v.ok
}

func (v *SyncValue[T]) Store(val T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.val, v.ok = val, true
}
