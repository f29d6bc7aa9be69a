// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package bastion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeReferenceNow(t *testing.T) {
	t.Run("will report elapsed whole seconds", func(t *testing.T) {
		t.Run("if time has passed since construction", func(t *testing.T) {
			tr := newTimeReference()
			tr.base = time.Now().Add(-5 * time.Second)

			tr.publish()

			if !assert.GreaterOrEqual(t, tr.Now(), int64(5)) {
				return
			}
		})
	})

	t.Run("will not advance", func(t *testing.T) {
		t.Run("if the tick has not started", func(t *testing.T) {
			tr := newTimeReference()
			if !assert.Equal(t, int64(0), tr.Now()) {
				return
			}
		})
	})
}

func TestTimeReferenceSubscribe(t *testing.T) {
	t.Run("will run subscribers in registration order", func(t *testing.T) {
		t.Run("if multiple subscribers are registered", func(t *testing.T) {
			tr := newTimeReference()

			var seq []int
			tr.Subscribe(func(_ int64) {
				seq = append(seq, 1)
			})
			tr.Subscribe(func(_ int64) {
				seq = append(seq, 2)
			})

			tr.publish()
			tr.publish()

			if !assert.Equal(t, []int{1, 2, 1, 2}, seq) {
				return
			}
		})
	})
}

func TestTimeReferenceLifecycle(t *testing.T) {
	t.Run("will tick", func(t *testing.T) {
		t.Run("if the reference has been started", func(t *testing.T) {
			tr := newTimeReference()
			tr.interval = time.Millisecond

			var mu sync.Mutex
			ticks := 0
			tr.Subscribe(func(_ int64) {
				mu.Lock()
				defer mu.Unlock()
				ticks++
			})

			require.Nil(t, tr.OnStart(context.Background(), nil))

			assert.Eventually(t, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return ticks > 0
			}, time.Second, time.Millisecond)

			require.Nil(t, tr.OnStop(context.Background(), nil))
		})
	})

	t.Run("will stop ticking", func(t *testing.T) {
		t.Run("if the reference has been stopped", func(t *testing.T) {
			tr := newTimeReference()
			tr.interval = time.Millisecond

			var mu sync.Mutex
			ticks := 0
			tr.Subscribe(func(_ int64) {
				mu.Lock()
				defer mu.Unlock()
				ticks++
			})

			require.Nil(t, tr.OnStart(context.Background(), nil))
			require.Eventually(t, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return ticks > 0
			}, time.Second, time.Millisecond)
			require.Nil(t, tr.OnStop(context.Background(), nil))

			mu.Lock()
			after := ticks
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)

			mu.Lock()
			defer mu.Unlock()
			if !assert.Equal(t, after, ticks) {
				return
			}
		})
	})

	t.Run("will tick again", func(t *testing.T) {
		t.Run("if the reference is restarted after a stop", func(t *testing.T) {
			tr := newTimeReference()
			tr.interval = time.Millisecond

			var mu sync.Mutex
			ticks := 0
			tr.Subscribe(func(_ int64) {
				mu.Lock()
				defer mu.Unlock()
				ticks++
			})

			require.Nil(t, tr.OnStart(context.Background(), nil))
			require.Eventually(t, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return ticks > 0
			}, time.Second, time.Millisecond)
			require.Nil(t, tr.OnStop(context.Background(), nil))

			mu.Lock()
			after := ticks
			mu.Unlock()

			require.Nil(t, tr.OnStart(context.Background(), nil))
			assert.Eventually(t, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return ticks > after
			}, time.Second, time.Millisecond)
			require.Nil(t, tr.OnStop(context.Background(), nil))
		})
	})
}
