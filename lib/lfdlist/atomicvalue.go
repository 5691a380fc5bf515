// Copyright (C) 2026  lfstage contributors
//
// SPDX-License-Identifier: GPL-2.0-or-later

package lfdlist

import "sync/atomic"

// atomicLinkValue is a typed wrapper around atomic.Value holding a
// linkValue[T]. atomic.Value requires every Store/CompareAndSwap on a given
// instance to use the same concrete type, which a bare atomic.Value cannot
// express at compile time; wrapping it here keeps that invariant local to
// one small type instead of relying on every call site getting it right.
type atomicLinkValue[T any] struct {
	v atomic.Value
}

// Load returns the stored value and true, or the zero value and false if
// nothing has been stored yet.
func (a *atomicLinkValue[T]) Load() (linkValue[T], bool) {
	v := a.v.Load()
	if v == nil {
		return linkValue[T]{}, false
	}
	return v.(linkValue[T]), true
}

// Store unconditionally installs val.
func (a *atomicLinkValue[T]) Store(val linkValue[T]) {
	a.v.Store(val)
}

// CompareAndSwap swaps old for new only if the currently stored value
// equals old. linkValue[T] is always comparable: its fields are a pointer
// and a bool, regardless of what T is.
func (a *atomicLinkValue[T]) CompareAndSwap(old, new linkValue[T]) bool {
	return a.v.CompareAndSwap(old, new)
}
