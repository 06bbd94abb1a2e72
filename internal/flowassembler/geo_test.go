// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flowassembler

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhaojindong1001/landscape-sub000/internal/clock"
	"github.com/zhaojindong1001/landscape-sub000/internal/fastpath"
	"github.com/zhaojindong1001/landscape-sub000/internal/flow"
	"github.com/zhaojindong1001/landscape-sub000/internal/geostore"
	"github.com/zhaojindong1001/landscape-sub000/internal/store"
)

// fakeGeoConfig serves three fixed direct-source geoip tags so tests
// can exercise dataset/tag expansion without a database.
type fakeGeoConfig struct{}

func (fakeGeoConfig) ListGeoSite() ([]store.GeoDataset, error) { return nil, nil }

func (fakeGeoConfig) ListGeoIP() ([]store.GeoDataset, error) {
	direct := func(tag string, cidrs ...string) store.GeoDataset {
		return store.GeoDataset{
			DatasetName: "geoip",
			Tag:         tag,
			Source:      store.GeoSource{Type: "direct", Data: cidrs},
		}
	}
	return []store.GeoDataset{
		direct("CN", "1.0.0.0/24", "1.0.1.0/24"),
		direct("US", "2.0.0.0/24"),
		direct("JP", "3.0.0.0/24"),
	}, nil
}

func (fakeGeoConfig) UpsertGeoSite(store.GeoDataset) error { return nil }
func (fakeGeoConfig) UpsertGeoIP(store.GeoDataset) error   { return nil }

func newTestGeoStore(t *testing.T) *geostore.Store {
	t.Helper()
	gs, err := geostore.New("", fakeGeoConfig{}, clock.Real)
	require.NoError(t, err)
	gs.RefreshAll(false)
	return gs
}

func TestResolveRuleCIDRs_LiteralPrefix(t *testing.T) {
	a := &Assembler{}
	_, prefix, err := net.ParseCIDR("10.0.0.0/8")
	require.NoError(t, err)
	rule := flow.IPRule{Prefix: *prefix}

	got := a.resolveRuleCIDRs(rule)
	require.Len(t, got, 1)
	require.Equal(t, *prefix, got[0])
}

func TestResolveRuleCIDRs_DirectGeoTag(t *testing.T) {
	a := &Assembler{geo: newTestGeoStore(t)}
	rule := flow.IPRule{GeoDataset: "geoip", GeoTag: "cn"}

	got := a.resolveRuleCIDRs(rule)
	require.Len(t, got, 2)
}

func TestResolveRuleCIDRs_InverseGeoTag_UnionsEveryOtherTag(t *testing.T) {
	a := &Assembler{geo: newTestGeoStore(t)}
	rule := flow.IPRule{GeoDataset: "geoip", GeoTag: "CN", GeoInverse: true}

	got := a.resolveRuleCIDRs(rule)
	require.Len(t, got, 2) // US + JP, CN excluded

	var hasUS, hasJP, hasCN bool
	for _, c := range got {
		switch c.String() {
		case "2.0.0.0/24":
			hasUS = true
		case "3.0.0.0/24":
			hasJP = true
		case "1.0.0.0/24", "1.0.1.0/24":
			hasCN = true
		}
	}
	require.True(t, hasUS)
	require.True(t, hasJP)
	require.False(t, hasCN)
}

func TestBuildIPVerdicts_LaterPriorityRuleOverwritesOnKeyCollision(t *testing.T) {
	a := &Assembler{}
	_, prefix, err := net.ParseCIDR("10.0.0.0/24")
	require.NoError(t, err)

	rules := []flow.IPRule{
		{ID: "a", Enable: true, Priority: 10, Prefix: *prefix, Mark: 1, FlowID: 2},
		{ID: "b", Enable: true, Priority: 20, Prefix: *prefix, Mark: 2, FlowID: 2},
	}

	out := a.buildIPVerdicts(2, rules)
	require.Len(t, out, 1)
	for _, v := range out {
		require.Equal(t, uint32(2), v.Mark)
	}
}

func TestBuildIPVerdicts_SkipsDisabledRules(t *testing.T) {
	a := &Assembler{}
	_, prefix, err := net.ParseCIDR("10.0.0.0/24")
	require.NoError(t, err)

	rules := []flow.IPRule{{ID: "a", Enable: false, Priority: 10, Prefix: *prefix, Mark: 1}}
	out := a.buildIPVerdicts(1, rules)
	require.Empty(t, out)
}

func TestIPNetToFlowIPKey_V4AndV6(t *testing.T) {
	_, v4, err := net.ParseCIDR("192.168.1.0/24")
	require.NoError(t, err)
	k4, ok := ipNetToFlowIPKey(5, *v4)
	require.True(t, ok)
	require.Equal(t, fastpath.L3IPv4, k4.proto)
	require.Equal(t, uint32(24), k4.key.PrefixLen)
	require.Equal(t, uint8(5), k4.key.FlowID)

	_, v6, err := net.ParseCIDR("2001:db8::/32")
	require.NoError(t, err)
	k6, ok := ipNetToFlowIPKey(5, *v6)
	require.True(t, ok)
	require.Equal(t, fastpath.L3IPv6, k6.proto)
	require.Equal(t, uint32(32), k6.key.PrefixLen)
}
