// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package flowassembler computes the rt-cache inputs FastPathMaps
// consumes: per-flow match entries, destination-IP verdict tables (with
// geo-ip dataset expansion), and the live WAN target each flow should
// egress through. It is the control-side writer; the kernel classifier
// only ever reads what this package publishes.
package flowassembler

import (
	"context"
	"sort"

	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
	"github.com/zhaojindong1001/landscape-sub000/internal/fastpath"
	"github.com/zhaojindong1001/landscape-sub000/internal/flow"
	"github.com/zhaojindong1001/landscape-sub000/internal/geostore"
	"github.com/zhaojindong1001/landscape-sub000/internal/logging"
	"github.com/zhaojindong1001/landscape-sub000/internal/nat"
	"github.com/zhaojindong1001/landscape-sub000/internal/registry"
	"github.com/zhaojindong1001/landscape-sub000/internal/store"
)

// dataSource is the subset of *store.Store the assembler reads,
// narrowed so tests can supply a fake.
type dataSource interface {
	ListFlows() ([]flow.Flow, error)
	ListIPRules() ([]flow.IPRule, error)
	ListStaticNATMappings() ([]store.StaticNATMapping, error)
}

// ipKey pairs a FlowIPKey with the address family it was built for —
// FlowIPKey alone doesn't disambiguate a v4 entry from a v6 entry that
// happens to share the same prefix length and low bytes.
type ipKey struct {
	proto fastpath.L3
	key   fastpath.FlowIPKey
}

// flowState is what the assembler last installed for one flow, kept in
// memory so a rebuild can diff against it instead of re-reading the
// kernel maps.
type flowState struct {
	matches    map[fastpath.FlowMatchKey]struct{}
	ipVerdicts map[ipKey]struct{}
	hasTarget  bool
}

// Assembler rebuilds FastPathMaps' flow tables from store configuration
// whenever a flow, its rules, the geo-ip datasets, or the set of live
// WAN targets changes.
type Assembler struct {
	store dataSource
	maps  *fastpath.Maps
	geo   *geostore.Store
	wt    *registry.WanTargetRegistry
	nat   *nat.Reconciler
	log   *logging.Logger

	applied map[flow.ID]*flowState
}

// New builds an Assembler. geo and wt may be nil (disables geo-ip
// expansion and WAN target resolution respectively — useful for
// isolating the rule-table logic in tests).
func New(src dataSource, maps *fastpath.Maps, geo *geostore.Store, wt *registry.WanTargetRegistry) *Assembler {
	return &Assembler{
		store:   src,
		maps:    maps,
		geo:     geo,
		wt:      wt,
		nat:     nat.NewReconciler(maps),
		log:     logging.WithComponent("flowassembler"),
		applied: make(map[flow.ID]*flowState),
	}
}

// Run rebuilds on every signal delivered over triggers (a config-change
// notification, a geostore GeositeUpdated/GeoIpUpdated event, or a WAN
// target set change) until ctx is canceled. It rebuilds once
// immediately on entry.
func (a *Assembler) Run(ctx context.Context, triggers <-chan struct{}) {
	a.RebuildAll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-triggers:
			a.RebuildAll()
		}
	}
}

// RebuildAll reloads every flow, its destination-IP rules, and the
// static-NAT table from the store, and reconciles every fast-path
// table to match.
func (a *Assembler) RebuildAll() {
	flows, err := a.store.ListFlows()
	if err != nil {
		a.log.WithError(err).Error("list flows failed")
		return
	}
	ipRules, err := a.store.ListIPRules()
	if err != nil {
		a.log.WithError(err).Error("list ip rules failed")
		return
	}
	byFlow := make(map[flow.ID][]flow.IPRule)
	for _, r := range ipRules {
		byFlow[r.FlowID] = append(byFlow[r.FlowID], r)
	}

	seen := make(map[flow.ID]struct{}, len(flows))
	for _, f := range flows {
		seen[f.ID] = struct{}{}
		if err := a.rebuildFlow(f, byFlow[f.ID]); err != nil {
			a.log.WithError(err).Error("rebuild flow failed", "flow_id", f.ID)
		}
	}
	for id := range a.applied {
		if _, ok := seen[id]; !ok {
			a.teardownFlow(id)
		}
	}

	a.rebuildDefaultTarget(flows)

	if mappings, err := a.store.ListStaticNATMappings(); err != nil {
		a.log.WithError(err).Error("list static nat mappings failed")
	} else if err := a.nat.Apply(mappings); err != nil {
		a.log.WithError(err).Error("apply static nat mappings failed")
	}
}

func (a *Assembler) rebuildFlow(f flow.Flow, rules []flow.IPRule) error {
	prev := a.applied[f.ID]
	if prev == nil {
		prev = &flowState{matches: map[fastpath.FlowMatchKey]struct{}{}, ipVerdicts: map[ipKey]struct{}{}}
	}

	matches := a.buildMatchKeys(f)
	ipVerdicts := a.buildIPVerdicts(f.ID, rules)

	for k := range prev.matches {
		if _, ok := matches[k]; !ok {
			if err := a.maps.DeleteFlowMatch(k); err != nil {
				return flywallerrors.Wrap(err, flywallerrors.KindInternal, "delete stale flow match")
			}
		}
	}
	for k := range matches {
		if err := a.maps.UpsertFlowMatch(k, uint32(f.ID)); err != nil {
			return flywallerrors.Wrap(err, flywallerrors.KindInternal, "upsert flow match")
		}
	}

	changed := false
	for k := range prev.ipVerdicts {
		if _, ok := ipVerdicts[k]; !ok {
			changed = true
			if err := a.maps.DeleteFlowIP(k.proto, k.key); err != nil {
				return flywallerrors.Wrap(err, flywallerrors.KindInternal, "delete stale flow ip verdict")
			}
		}
	}
	for k, v := range ipVerdicts {
		changed = true
		if err := a.maps.UpsertFlowIP(k.proto, k.key, v); err != nil {
			return flywallerrors.Wrap(err, flywallerrors.KindInternal, "upsert flow ip verdict")
		}
	}

	if changed {
		if err := a.maps.PurgeRtCacheForFlow(fastpath.L3IPv4, uint8(f.ID)); err != nil {
			a.log.WithError(err).Warn("purge rt-cache v4 failed", "flow_id", f.ID)
		}
		if err := a.maps.PurgeRtCacheForFlow(fastpath.L3IPv6, uint8(f.ID)); err != nil {
			a.log.WithError(err).Warn("purge rt-cache v6 failed", "flow_id", f.ID)
		}
	}

	hasTarget := a.rebuildTarget(f)

	a.applied[f.ID] = &flowState{
		matches:    matches,
		ipVerdicts: ipVerdictKeys(ipVerdicts),
		hasTarget:  hasTarget,
	}
	return nil
}

func (a *Assembler) teardownFlow(id flow.ID) {
	st := a.applied[id]
	if st == nil {
		return
	}
	for k := range st.matches {
		_ = a.maps.DeleteFlowMatch(k)
	}
	for k := range st.ipVerdicts {
		_ = a.maps.DeleteFlowIP(k.proto, k.key)
	}
	if st.hasTarget {
		_ = a.maps.DeleteRtTarget(fastpath.L3IPv4, uint8(id))
		_ = a.maps.DeleteRtTarget(fastpath.L3IPv6, uint8(id))
	}
	delete(a.applied, id)
}

func ipVerdictKeys(m map[ipKey]fastpath.FlowVerdict) map[ipKey]struct{} {
	out := make(map[ipKey]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

// sortRulesByPriority orders rules ascending by priority, preserving
// configured (insertion) order among ties — so a later-configured rule
// naturally overwrites an earlier one when both produce the same key,
// the documented tie-break.
func sortRulesByPriority(rules []flow.IPRule) []flow.IPRule {
	out := append([]flow.IPRule(nil), rules...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}
