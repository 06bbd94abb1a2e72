// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flowassembler

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhaojindong1001/landscape-sub000/internal/fastpath"
	"github.com/zhaojindong1001/landscape-sub000/internal/flow"
	"github.com/zhaojindong1001/landscape-sub000/internal/store"
)

type fakeSource struct {
	flows   []flow.Flow
	ipRules []flow.IPRule
	natRows []store.StaticNATMapping
}

func (f *fakeSource) ListFlows() ([]flow.Flow, error)     { return f.flows, nil }
func (f *fakeSource) ListIPRules() ([]flow.IPRule, error) { return f.ipRules, nil }
func (f *fakeSource) ListStaticNATMappings() ([]store.StaticNATMapping, error) {
	return f.natRows, nil
}

func TestRebuildAll_TracksAppliedStateAndTearsDownRemovedFlows(t *testing.T) {
	src := &fakeSource{flows: []flow.Flow{{ID: 1, Name: "gaming"}}}
	a := New(src, &fastpath.Maps{}, nil, nil)

	a.RebuildAll()
	require.Contains(t, a.applied, flow.ID(1))

	src.flows = nil
	a.RebuildAll()
	require.NotContains(t, a.applied, flow.ID(1))
}

func TestRebuildAll_RecordsMatchAndIPVerdictState(t *testing.T) {
	mac := [6]byte{1, 2, 3, 4, 5, 6}
	src := &fakeSource{
		flows: []flow.Flow{{
			ID:      4,
			Matches: []flow.Match{{Mode: flow.MatchByMAC, MAC: mac}},
		}},
		ipRules: []flow.IPRule{{ID: "r1", Enable: true, FlowID: 4, Prefix: mustCIDR(t, "10.0.0.0/24")}},
	}
	a := New(src, &fastpath.Maps{}, nil, nil)

	a.RebuildAll()

	st := a.applied[4]
	require.NotNil(t, st)
	require.Len(t, st.matches, 1)
	require.Len(t, st.ipVerdicts, 1)
}

func mustCIDR(t *testing.T, s string) net.IPNet {
	t.Helper()
	_, n, err := net.ParseCIDR(s)
	require.NoError(t, err)
	return *n
}
