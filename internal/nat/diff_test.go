// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nat

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhaojindong1001/landscape-sub000/internal/fastpath"
	"github.com/zhaojindong1001/landscape-sub000/internal/flow"
	"github.com/zhaojindong1001/landscape-sub000/internal/store"
)

func mapping(id string, fromPort uint16) store.StaticNATMapping {
	return store.StaticNATMapping{
		ID:       id,
		L3Proto:  flow.L3IPv4,
		Gress:    uint8(fastpath.GressIngress),
		L4Proto:  6,
		FromPort: fromPort,
		FromAddr: net.ParseIP("203.0.113.5"),
		ToPort:   8080,
		ToAddr:   net.ParseIP("192.168.1.10"),
	}
}

func TestDiff_EmptyAppliedYieldsExactlyDesired(t *testing.T) {
	desired := []store.StaticNATMapping{mapping("a", 80), mapping("b", 443)}
	add, del := Diff(desired, nil)
	require.Len(t, add, 2)
	require.Empty(t, del)
}

func TestDiff_DuplicateKeysCollapseToOne(t *testing.T) {
	a := mapping("a", 80)
	dup := mapping("dup-of-a", 80) // same Key() fields as a: same L3/gress/l4proto/fromAddr/fromPort
	add, del := Diff([]store.StaticNATMapping{a, dup}, nil)
	require.Len(t, add, 1, "duplicate keys in desired must collapse to one add entry")
	require.Empty(t, del)
}

func TestDiff_UnchangedMappingProducesNoOps(t *testing.T) {
	a := mapping("a", 80)
	add, del := Diff([]store.StaticNATMapping{a}, []store.StaticNATMapping{a})
	require.Empty(t, add)
	require.Empty(t, del)
}

func TestDiff_DestinationOnlyEditReappearsInAddSet(t *testing.T) {
	old := mapping("a", 80)
	edited := old
	edited.ToAddr = net.ParseIP("192.168.1.99")

	add, del := Diff([]store.StaticNATMapping{edited}, []store.StaticNATMapping{old})
	require.Len(t, add, 1, "same from-tuple but a new destination must still be pushed as an upsert")
	require.Equal(t, edited.ToAddr, add[0].ToAddr)
	require.Empty(t, del)
}

func TestDiff_RemovedMappingAppearsInDeleteSet(t *testing.T) {
	a := mapping("a", 80)
	b := mapping("b", 443)
	add, del := Diff([]store.StaticNATMapping{b}, []store.StaticNATMapping{a, b})
	require.Empty(t, add)
	require.Len(t, del, 1)
	require.Equal(t, a.Key(), del[0].Key())
}

func TestReconciler_ApplyIsNilSafeWithoutKernelMaps(t *testing.T) {
	r := NewReconciler(&fastpath.Maps{})
	err := r.Apply([]store.StaticNATMapping{mapping("a", 80)})
	require.NoError(t, err)

	err = r.Apply(nil)
	require.NoError(t, err)
}
