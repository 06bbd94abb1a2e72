// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testConfig struct {
	key string
	gen int
}

func TestManager_RestartWaitsForPreviousStop(t *testing.T) {
	var starts int32
	var stopOrder []int
	var mu sync.Mutex

	start := func(ctx context.Context, cfg testConfig) (*StatusHandle, error) {
		gen := cfg.gen
		atomic.AddInt32(&starts, 1)
		h := NewStatusHandle(cfg.key)
		h.Set(StatusStaring)
		h.Set(StatusRunning)
		go func() {
			<-ctx.Done()
		}()
		go func() {
			// Simulate the actor's own shutdown hook observing Stopping.
			for h.Status() != StatusStopping {
				time.Sleep(time.Millisecond)
			}
			mu.Lock()
			stopOrder = append(stopOrder, gen)
			mu.Unlock()
			h.Set(StatusStop)
		}()
		return h, nil
	}

	m := New[string, testConfig](context.Background(), "test", start, func(c testConfig) string { return c.key })
	m.Update(testConfig{key: "eth0", gen: 1})

	require.Eventually(t, func() bool {
		h, ok := m.Handle("eth0")
		return ok && h.Status() == StatusRunning
	}, time.Second, time.Millisecond)

	m.Update(testConfig{key: "eth0", gen: 2})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(stopOrder) == 1 && stopOrder[0] == 1
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		h, ok := m.Handle("eth0")
		return ok && h.Status() == StatusRunning
	}, time.Second, time.Millisecond)

	m.StopAll()
}

func TestManager_DropsConfigWhenSlotOccupied(t *testing.T) {
	block := make(chan struct{})
	start := func(ctx context.Context, cfg testConfig) (*StatusHandle, error) {
		h := NewStatusHandle(cfg.key)
		h.Set(StatusStaring)
		<-block
		h.Set(StatusRunning)
		go func() {
			for h.Status() != StatusStopping {
				time.Sleep(time.Millisecond)
			}
			h.Set(StatusStop)
		}()
		return h, nil
	}

	m := New[string, testConfig](context.Background(), "test", start, func(c testConfig) string { return c.key })
	m.Update(testConfig{key: "eth0", gen: 1})

	// While the first actor is blocked mid-start, two more updates race
	// for the single slot; only one should be retained.
	m.Update(testConfig{key: "eth0", gen: 2})
	m.Update(testConfig{key: "eth0", gen: 3})

	close(block)
	m.StopAll()
}
