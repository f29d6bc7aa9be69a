// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package timecache provides an ordered mapping from connection id to
// expiry timestamp.
package timecache

import "container/list"

type entry struct {
	id        uint64
	expiresAt int64
}

// Cache is an ordered mapping from connection id to expiry timestamp.
// Renewing an entry moves it to the tail of the order. Because every
// renewal uses now + a constant timeout with a non-decreasing now,
// iteration order equals non-decreasing expiry order, so expiry scans
// can stop at the first non-expired entry.
//
// Cache is not safe for concurrent use.
type Cache struct {
	order   *list.List
	entries map[uint64]*list.Element
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{
		order:   list.New(),
		entries: make(map[uint64]*list.Element),
	}
}

// Renew inserts id with the given expiry, or moves an existing entry to
// the tail of the order with the new expiry.
func (c *Cache) Renew(id uint64, expiresAt int64) {
	if e, ok := c.entries[id]; ok {
		e.Value.(*entry).expiresAt = expiresAt
		c.order.MoveToBack(e)
		return
	}
	c.entries[id] = c.order.PushBack(&entry{id: id, expiresAt: expiresAt})
}

// Clear removes the entry for id. It is a no-op if id is absent.
func (c *Cache) Clear(id uint64) {
	e, ok := c.entries[id]
	if !ok {
		return
	}
	delete(c.entries, id)
	c.order.Remove(e)
}

// Iterate yields entries in order, oldest renewal first, until f
// returns false.
func (c *Cache) Iterate(f func(id uint64, expiresAt int64) bool) {
	for e := c.order.Front(); e != nil; {
		// f may Clear the current entry, so advance first.
		next := e.Next()
		ent := e.Value.(*entry)
		if !f(ent.id, ent.expiresAt) {
			return
		}
		e = next
	}
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	return len(c.entries)
}
