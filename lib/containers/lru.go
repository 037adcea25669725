// Copyright (C) 2022-2024  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package containers

import (
	lru "github.com/hashicorp/golang-lru"
)

// LRUCache is a least-recently-used cache.  A zero LRUCache is not
// usable; it must be initialized with NewLRUCache.
//
// The cache never evicts on its own while Len() < size; callers that
// must act on eviction (write back a dirty entry, say) can keep below
// that bound and use Oldest and Remove themselves.
type LRUCache[K comparable, V any] struct {
	inner *lru.Cache
}

// NewLRUCache returns a cache that holds up to size entries.  size
// must be positive.
func NewLRUCache[K comparable, V any](size int) (*LRUCache[K, V], error) {
	inner, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &LRUCache[K, V]{inner: inner}, nil
}

func (c *LRUCache[K, V]) Add(key K, value V) {
	c.inner.Add(key, value)
}

func (c *LRUCache[K, V]) Contains(key K) bool {
	return c.inner.Contains(key)
}

// Get returns the value for key and marks it as recently used.
func (c *LRUCache[K, V]) Get(key K) (value V, ok bool) {
	_value, ok := c.inner.Get(key)
	if ok {
		//nolint:forcetypeassert // Typed wrapper around untyped lib.
		value = _value.(V)
	}
	return value, ok
}

// Peek is like Get, but does not update recency.
func (c *LRUCache[K, V]) Peek(key K) (value V, ok bool) {
	_value, ok := c.inner.Peek(key)
	if ok {
		//nolint:forcetypeassert // Typed wrapper around untyped lib.
		value = _value.(V)
	}
	return value, ok
}

// Oldest returns the least recently used entry without updating its
// recency.
func (c *LRUCache[K, V]) Oldest() (key K, value V, ok bool) {
	_key, _value, ok := c.inner.GetOldest()
	if ok {
		//nolint:forcetypeassert // Typed wrapper around untyped lib.
		key = _key.(K)
		//nolint:forcetypeassert // Typed wrapper around untyped lib.
		value = _value.(V)
	}
	return key, value, ok
}

// Keys returns the keys in the cache, from oldest to newest.
func (c *LRUCache[K, V]) Keys() []K {
	untyped := c.inner.Keys()
	typed := make([]K, len(untyped))
	for i := range untyped {
		//nolint:forcetypeassert // Typed wrapper around untyped lib.
		typed[i] = untyped[i].(K)
	}
	return typed
}

func (c *LRUCache[K, V]) Len() int {
	return c.inner.Len()
}

func (c *LRUCache[K, V]) Remove(key K) {
	c.inner.Remove(key)
}

func (c *LRUCache[K, V]) Purge() {
	c.inner.Purge()
}
