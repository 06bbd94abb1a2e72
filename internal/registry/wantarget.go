// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package registry

import (
	"sort"
	"sync"

	"github.com/zhaojindong1001/landscape-sub000/internal/flow"
)

// wanKey identifies one live target by iface name AND address family —
// a dual-stack WAN (DHCPv4 + DHCPv6-PD on the same interface) publishes
// two distinct entries, matching fastpath's separate v4/v6 rt-target
// maps.
type wanKey struct {
	iface string
	proto flow.L3Proto
}

// WanTargetRegistry is the analogue of PrefixRegistry for live WAN
// egress candidates: every WAN client (DHCPv4, DHCPv6-PD, PPPoE)
// publishes its bound target here on entering its Bound state and
// withdraws it on stop, decoupling FlowAssembler from any of them.
type WanTargetRegistry struct {
	mu      sync.RWMutex
	byIface map[wanKey]flow.WanTarget
	subs    []chan struct{}
}

// NewWanTargets returns an empty WanTargetRegistry.
func NewWanTargets() *WanTargetRegistry {
	return &WanTargetRegistry{byIface: make(map[wanKey]flow.WanTarget)}
}

// Publish records iface's current live target for its Proto and
// notifies every watcher that the overall target set has changed.
func (r *WanTargetRegistry) Publish(t flow.WanTarget) {
	r.mu.Lock()
	r.byIface[wanKey{t.IfaceName, t.Proto}] = t
	chans := append([]chan struct{}(nil), r.subs...)
	r.mu.Unlock()
	notifyAll(chans)
}

// Withdraw removes iface's target for proto.
func (r *WanTargetRegistry) Withdraw(iface string, proto flow.L3Proto) {
	r.mu.Lock()
	k := wanKey{iface, proto}
	_, existed := r.byIface[k]
	delete(r.byIface, k)
	chans := append([]chan struct{}(nil), r.subs...)
	r.mu.Unlock()
	if existed {
		notifyAll(chans)
	}
}

// Current returns iface's live target for proto, if any.
func (r *WanTargetRegistry) Current(iface string, proto flow.L3Proto) (flow.WanTarget, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byIface[wanKey{iface, proto}]
	return t, ok
}

// All returns every live target, sorted by descending Weight then by
// IfaceName — the order FlowAssembler walks when seeding flow 0 from
// every default-route WAN.
func (r *WanTargetRegistry) All() []flow.WanTarget {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]flow.WanTarget, 0, len(r.byIface))
	for _, t := range r.byIface {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].IfaceName < out[j].IfaceName
	})
	return out
}

// Watch registers a channel that receives a (coalesced) notification on
// every Publish/Withdraw. The returned cancel func unregisters it.
func (r *WanTargetRegistry) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	r.mu.Lock()
	r.subs = append(r.subs, ch)
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, c := range r.subs {
			if c == ch {
				r.subs = append(r.subs[:i], r.subs[i+1:]...)
				break
			}
		}
	}
	return ch, cancel
}

func notifyAll(chans []chan struct{}) {
	for _, ch := range chans {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
