// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package timecache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func collect(c *Cache) []uint64 {
	var ids []uint64
	c.Iterate(func(id uint64, _ int64) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

func TestCacheRenew(t *testing.T) {
	t.Run("will keep insertion order", func(t *testing.T) {
		t.Run("if every id is renewed once", func(t *testing.T) {
			c := New()
			c.Renew(1, 10)
			c.Renew(2, 11)
			c.Renew(3, 12)

			if !assert.Equal(t, []uint64{1, 2, 3}, collect(c)) {
				return
			}
		})
	})

	t.Run("will move the entry to the tail", func(t *testing.T) {
		t.Run("if an existing id is renewed", func(t *testing.T) {
			c := New()
			c.Renew(1, 10)
			c.Renew(2, 11)
			c.Renew(3, 12)
			c.Renew(1, 13)

			if !assert.Equal(t, []uint64{2, 3, 1}, collect(c)) {
				return
			}
			if !assert.Equal(t, 3, c.Len()) {
				return
			}
		})
	})
}

func TestCacheClear(t *testing.T) {
	t.Run("will remove the entry", func(t *testing.T) {
		t.Run("if the id is present", func(t *testing.T) {
			c := New()
			c.Renew(1, 10)
			c.Renew(2, 11)
			c.Clear(1)

			if !assert.Equal(t, []uint64{2}, collect(c)) {
				return
			}
		})
	})

	t.Run("will be a no-op", func(t *testing.T) {
		t.Run("if the id is absent", func(t *testing.T) {
			c := New()
			c.Renew(1, 10)
			c.Clear(2)

			if !assert.Equal(t, 1, c.Len()) {
				return
			}
		})
	})
}

func TestCacheIterate(t *testing.T) {
	t.Run("will stop early", func(t *testing.T) {
		t.Run("if the callback returns false", func(t *testing.T) {
			c := New()
			c.Renew(1, 10)
			c.Renew(2, 11)
			c.Renew(3, 12)

			var seen []uint64
			c.Iterate(func(id uint64, expiresAt int64) bool {
				if expiresAt > 10 {
					return false
				}
				seen = append(seen, id)
				return true
			})

			if !assert.Equal(t, []uint64{1}, seen) {
				return
			}
		})
	})

	t.Run("will support removal during iteration", func(t *testing.T) {
		t.Run("if the callback clears the current entry", func(t *testing.T) {
			c := New()
			c.Renew(1, 10)
			c.Renew(2, 11)
			c.Renew(3, 12)

			c.Iterate(func(id uint64, _ int64) bool {
				c.Clear(id)
				return true
			})

			if !assert.Equal(t, 0, c.Len()) {
				return
			}
		})
	})
}
