// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flowassembler

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhaojindong1001/landscape-sub000/internal/fastpath"
	"github.com/zhaojindong1001/landscape-sub000/internal/flow"
	"github.com/zhaojindong1001/landscape-sub000/internal/identity"
	"github.com/zhaojindong1001/landscape-sub000/internal/logging"
	"github.com/zhaojindong1001/landscape-sub000/internal/registry"
)

func newTestAssembler() *Assembler {
	return &Assembler{
		maps: &fastpath.Maps{},
		wt:   registry.NewWanTargets(),
		log:  logging.WithComponent("flowassembler-test"),
	}
}

func TestBuildMatchKeys_MACMode(t *testing.T) {
	a := newTestAssembler()
	mac := identity.MacAddr{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01}
	f := flow.Flow{ID: 3, Matches: []flow.Match{{Mode: flow.MatchByMAC, MAC: mac, FlowID: 3}}}

	keys := a.buildMatchKeys(f)
	require.Len(t, keys, 1)
	for k := range keys {
		require.Equal(t, uint32(fastpath.PrefixLenMAC), k.PrefixLen)
		require.False(t, k.IsMatchIP)
		require.Equal(t, mac[:], k.Key[:6])
	}
}

func TestBuildMatchKeys_IPModeV4AndV6(t *testing.T) {
	a := newTestAssembler()
	_, v4, err := net.ParseCIDR("10.1.0.0/16")
	require.NoError(t, err)
	_, v6, err := net.ParseCIDR("2001:db8::/48")
	require.NoError(t, err)

	f := flow.Flow{ID: 1, Matches: []flow.Match{
		{Mode: flow.MatchByIP, Prefix: *v4, FlowID: 1},
		{Mode: flow.MatchByIP, Prefix: *v6, FlowID: 1},
	}}

	keys := a.buildMatchKeys(f)
	require.Len(t, keys, 2)

	var sawV4, sawV6 bool
	for k := range keys {
		require.True(t, k.IsMatchIP)
		switch k.L3Proto {
		case fastpath.L3IPv4:
			require.Equal(t, uint32(fastpath.PrefixLenIPv4-32+16), k.PrefixLen)
			sawV4 = true
		case fastpath.L3IPv6:
			require.Equal(t, uint32(fastpath.PrefixLenIPv6-64+48), k.PrefixLen)
			sawV6 = true
		}
	}
	require.True(t, sawV4)
	require.True(t, sawV6)
}

func TestRebuildTarget_ResolvesFirstLiveCandidateInOrder(t *testing.T) {
	a := newTestAssembler()
	a.wt.Publish(flow.WanTarget{IfaceName: "wan1", Proto: flow.L3IPv4, IfIndex: 7, Weight: 5})

	f := flow.Flow{ID: 2, Targets: []flow.Target{
		{Kind: flow.TargetInterface, Name: "wan0"}, // not live
		{Kind: flow.TargetInterface, Name: "wan1"}, // live
	}}

	require.True(t, a.rebuildTarget(f))
}

func TestRebuildTarget_NoLiveTargetReturnsFalse(t *testing.T) {
	a := newTestAssembler()
	f := flow.Flow{ID: 2, Targets: []flow.Target{{Kind: flow.TargetInterface, Name: "wan0"}}}
	require.False(t, a.rebuildTarget(f))
}

func TestRebuildDefaultTarget_PicksHighestWeightDefaultRouteCandidate(t *testing.T) {
	a := newTestAssembler()
	a.wt.Publish(flow.WanTarget{IfaceName: "wan0", Proto: flow.L3IPv4, Weight: 1, DefaultRoute: true})
	a.wt.Publish(flow.WanTarget{IfaceName: "wan1", Proto: flow.L3IPv4, Weight: 10, DefaultRoute: true})
	a.wt.Publish(flow.WanTarget{IfaceName: "wan2", Proto: flow.L3IPv4, Weight: 99, DefaultRoute: false})

	// Exercised indirectly through the public entrypoint; no panic and
	// no explicit flow-0 configuration present means it always runs.
	a.rebuildDefaultTarget(nil)
}

func TestRebuildDefaultTarget_SkipsWhenFlowZeroConfiguredExplicitly(t *testing.T) {
	a := newTestAssembler()
	flows := []flow.Flow{{ID: flow.DefaultFlow}}
	// Should return immediately without consulting a.wt at all.
	a.rebuildDefaultTarget(flows)
}
