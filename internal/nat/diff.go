// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package nat is the NAT reconciliation layer: a pure diff engine that
// turns a desired static-mapping set into add/delete sets against
// whatever was previously applied, plus a conntrack-backed dynamic NAT
// drift watcher.
package nat

import "github.com/zhaojindong1001/landscape-sub000/internal/store"

// Diff computes the symmetric difference between desired and applied,
// keyed by StaticNATMapping.Key(). Duplicate keys within desired are
// collapsed to their last occurrence, satisfying the round-trip law:
// applying Diff(desired, nil) to an empty state yields exactly the
// (deduplicated) items in desired.
//
// Key() deliberately excludes ToPort/ToAddr (it identifies a mapping by
// its matchable from-tuple, not its destination), so a mapping present
// under the same key in both sets is also compared field-by-field: an
// edit that only re-points a mapping's destination must still surface
// as an add, since upsertMapping overwrites by from-tuple and would
// otherwise never be told the destination changed.
func Diff(desired, applied []store.StaticNATMapping) (add, del []store.StaticNATMapping) {
	wantByKey := make(map[string]store.StaticNATMapping, len(desired))
	var order []string
	for _, m := range desired {
		k := m.Key()
		if _, seen := wantByKey[k]; !seen {
			order = append(order, k)
		}
		wantByKey[k] = m
	}

	haveByKey := make(map[string]store.StaticNATMapping, len(applied))
	for _, m := range applied {
		haveByKey[m.Key()] = m
	}

	for _, k := range order {
		want := wantByKey[k]
		have, ok := haveByKey[k]
		if !ok || !sameDestination(want, have) {
			add = append(add, want)
		}
	}
	for _, m := range applied {
		if _, ok := wantByKey[m.Key()]; !ok {
			del = append(del, m)
		}
	}
	return add, del
}

// sameDestination reports whether two mappings sharing the same Key()
// also agree on where they route to.
func sameDestination(a, b store.StaticNATMapping) bool {
	return a.ToPort == b.ToPort && a.ToAddr.Equal(b.ToAddr)
}
