// Copyright (C) 2022-2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package containers

import (
	"sort"

	"git.lukeshu.com/go/typedsync"
)

// SyncMap is a typedsync.Map that can also snapshot its contents.
// The zero SyncMap is empty and ready for use.
type SyncMap[K comparable, V any] struct {
	inner typedsync.Map[K, V]
}

func (m *SyncMap[K, V]) Delete(key K) {
	m.inner.Delete(key)
}

func (m *SyncMap[K, V]) Load(key K) (value V, ok bool) {
	return m.inner.Load(key)
}

func (m *SyncMap[K, V]) LoadAndDelete(key K) (value V, loaded bool) {
	return m.inner.LoadAndDelete(key)
}

func (m *SyncMap[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	return m.inner.LoadOrStore(key, value)
}

func (m *SyncMap[K, V]) Range(f func(key K, value V) bool) {
	m.inner.Range(f)
}

func (m *SyncMap[K, V]) Store(key K, value V) {
	m.inner.Store(key, value)
}

// Values returns the values in the map, ordered by less.  Entries
// stored or deleted concurrently may or may not be included.
func (m *SyncMap[K, V]) Values(less func(a, b V) bool) []V {
	var ret []V
	m.inner.Range(func(_ K, value V) bool {
		ret = append(ret, value)
		return true
	})
	sort.Slice(ret, func(i, j int) bool {
		return less(ret[i], ret[j])
	})
	return ret
}
