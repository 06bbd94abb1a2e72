// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/zhaojindong1001/landscape-sub000/internal/logging"
)

// Starter starts one actor instance for cfg and returns the handle the
// manager will watch. Every service kind (DHCPv4 client, PD client, RA
// announcer, DHCPv4 server, PPPoE, DNS chain) implements the same
// start-and-return-status contract; the manager never type-switches on
// what kind of service it is running.
type Starter[C any] func(ctx context.Context, cfg C) (*StatusHandle, error)

// KeyFunc projects a config value to the key its actor is addressed by
// (typically the interface name plus service kind).
type KeyFunc[K comparable, C any] func(cfg C) K

type entry[C any] struct {
	handle *StatusHandle
	cfgCh  chan C
}

// Manager is the generic per-key actor supervisor: it spawns one task
// per (service-kind, key), forwards config updates through a
// single-slot channel, and guarantees the previous actor at a key fully
// reaches Stop before its successor leaves Staring.
type Manager[K comparable, C any] struct {
	start Starter[C]
	key   KeyFunc[K, C]
	log   *logging.Logger

	mu      sync.Mutex
	actors  map[K]*entry[C]
	wg      sync.WaitGroup
	rootCtx context.Context
	cancel  context.CancelFunc
}

// New creates a Manager. ctx bounds the lifetime of every actor it
// spawns; cancelling ctx is equivalent to calling StopAll.
func New[K comparable, C any](ctx context.Context, name string, start Starter[C], key KeyFunc[K, C]) *Manager[K, C] {
	rootCtx, cancel := context.WithCancel(ctx)
	return &Manager[K, C]{
		start:   start,
		key:     key,
		log:     logging.WithComponent(name),
		actors:  make(map[K]*entry[C]),
		rootCtx: rootCtx,
		cancel:  cancel,
	}
}

// Init spawns one actor per element of initialConfigs.
func (m *Manager[K, C]) Init(initialConfigs []C) {
	for _, cfg := range initialConfigs {
		m.Update(cfg)
	}
}

// Update derives k = key(cfg). If an actor for k already exists, cfg is
// pushed into its single-slot config channel; if the slot is already
// occupied by an unconsumed update, the new one is dropped with a
// warning (drop-newest backpressure) rather than blocking the caller.
// If no actor exists for k, one is spawned.
func (m *Manager[K, C]) Update(cfg C) {
	k := m.key(cfg)

	m.mu.Lock()
	e, ok := m.actors[k]
	if !ok {
		e = &entry[C]{handle: NewStatusHandle(nameOf(k)), cfgCh: make(chan C, 1)}
		m.actors[k] = e
		m.mu.Unlock()

		m.wg.Add(1)
		go m.run(k, e)

		e.cfgCh <- cfg
		return
	}
	m.mu.Unlock()

	select {
	case e.cfgCh <- cfg:
	default:
		m.log.Warn("dropping config update: previous update for this key has not been consumed yet", "key", nameOf(k))
	}
}

func (m *Manager[K, C]) run(k K, e *entry[C]) {
	defer m.wg.Done()
	var prev *StatusHandle

	for {
		select {
		case <-m.rootCtx.Done():
			if prev != nil {
				prev.WaitStop()
			}
			return
		case cfg, ok := <-e.cfgCh:
			if !ok {
				if prev != nil {
					prev.WaitStop()
				}
				return
			}

			if prev != nil {
				prev.WaitStop()
			}

			m.mu.Lock()
			if _, stillPresent := m.actors[k]; !stillPresent {
				m.mu.Unlock()
				return
			}
			m.mu.Unlock()

			handle, err := m.start(m.rootCtx, cfg)
			if err != nil {
				m.log.WithError(err).Error("actor start failed", "key", nameOf(k))
				prev = nil
				continue
			}
			prev = handle

			m.mu.Lock()
			if present, stillPresent := m.actors[k]; stillPresent {
				present.handle = handle
			}
			m.mu.Unlock()
		}
	}
}

// Stop removes k's entry and awaits its actor reaching Stop.
func (m *Manager[K, C]) Stop(k K) {
	m.mu.Lock()
	e, ok := m.actors[k]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.actors, k)
	close(e.cfgCh)
	m.mu.Unlock()

	e.handle.WaitStop()
}

// StopAll stops every actor in parallel and waits for all of them.
func (m *Manager[K, C]) StopAll() {
	m.mu.Lock()
	keys := make([]K, 0, len(m.actors))
	for k := range m.actors {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, k := range keys {
		k := k
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Stop(k)
		}()
	}
	wg.Wait()
	m.cancel()
	m.wg.Wait()
}

// Handle returns the current StatusHandle for k, if any.
func (m *Manager[K, C]) Handle(k K) (*StatusHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.actors[k]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

// Keys returns every key with a currently running actor, in no
// particular order — used for crash-diagnostic reporting, not for
// control flow.
func (m *Manager[K, C]) Keys() []K {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]K, 0, len(m.actors))
	for k := range m.actors {
		keys = append(keys, k)
	}
	return keys
}

func nameOf(k any) string {
	return fmt.Sprintf("%v", k)
}
