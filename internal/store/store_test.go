// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhaojindong1001/landscape-sub000/internal/flow"
	"github.com/zhaojindong1001/landscape-sub000/internal/identity"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "landscape.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_AppliesSchemaAndMigrations(t *testing.T) {
	s := openTestStore(t)

	applied, err := s.isApplied("0002_geo_source_json")
	require.NoError(t, err)
	require.True(t, applied, "migration should be recorded as applied on a fresh database")

	flows, err := s.ListFlows()
	require.NoError(t, err)
	require.Empty(t, flows)
}

func TestFlow_UpsertAndList(t *testing.T) {
	s := openTestStore(t)

	mac := identity.MustParseMacAddr("aa:bb:cc:dd:ee:ff")
	_, prefix, err := net.ParseCIDR("10.0.0.0/24")
	require.NoError(t, err)

	f := flow.Flow{
		ID:   1,
		Name: "gaming",
		Matches: []flow.Match{
			{Mode: flow.MatchByMAC, MAC: mac, FlowID: 1},
			{Mode: flow.MatchByIP, Prefix: *prefix, FlowID: 1},
		},
		Targets: []flow.Target{
			{Kind: flow.TargetInterface, Name: "wan0"},
			{Kind: flow.TargetInterface, Name: "wan1"},
		},
	}
	require.NoError(t, s.UpsertFlow(f))

	flows, err := s.ListFlows()
	require.NoError(t, err)
	require.Len(t, flows, 1)
	require.Equal(t, "gaming", flows[0].Name)
	require.Len(t, flows[0].Matches, 2)
	require.Len(t, flows[0].Targets, 2)
	require.Equal(t, "wan0", flows[0].Targets[0].Name)
	require.True(t, flows[0].Matches[0].MAC.IsUniversallyAdministered() == mac.IsUniversallyAdministered())

	require.NoError(t, s.DeleteFlow(1))
	flows, err = s.ListFlows()
	require.NoError(t, err)
	require.Empty(t, flows)
}

func TestDNSRule_UpsertAndList(t *testing.T) {
	s := openTestStore(t)

	dm, err := flow.NewDomainMatcher(flow.MatchDomain, "example.com")
	require.NoError(t, err)

	rule := flow.Rule{
		ID:       "r1",
		Name:     "block-ads",
		Priority: 10,
		Enable:   true,
		Filter:   flow.FilterOnlyIPv4,
		Source:   []flow.DomainMatcher{dm},
		Upstream: "u1",
		Mark:     flow.DNSMark(flow.ActionRedirect, 3),
		FlowID:   1,
	}
	require.NoError(t, s.UpsertDNSRule(rule))

	rules, err := s.ListDNSRules()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.Equal(t, "block-ads", rules[0].Name)
	require.Len(t, rules[0].Source, 1)
	require.True(t, rules[0].Source[0].Match("www.example.com"))
	require.Equal(t, flow.ActionRedirect, rules[0].Mark.Action())
	require.True(t, rules[0].Mark.ReusePort())

	require.NoError(t, s.DeleteDNSRule("r1"))
	rules, err = s.ListDNSRules()
	require.NoError(t, err)
	require.Empty(t, rules)
}

func TestGeoSourceJSONMigration_RevertIsExact(t *testing.T) {
	s := openTestStore(t)

	d := GeoDataset{
		DatasetName: "geosite.dat",
		Tag:         "netflix",
		Source: GeoSource{
			Type:         "url",
			URL:          "https://example.com/geosite.dat",
			NextUpdateAt: 1700000000,
			GeoKeys:      []string{"netflix", "cn"},
		},
	}
	require.NoError(t, s.UpsertGeoSite(d))

	require.NoError(t, s.Revert("0002_geo_source_json"))

	var url string
	var nextUpdateAt int64
	var geoKeysJSON string
	err := s.db.QueryRow(`SELECT url, next_update_at, geo_keys FROM geo_site WHERE dataset_name = ? AND tag = ?`,
		d.DatasetName, d.Tag).Scan(&url, &nextUpdateAt, &geoKeysJSON)
	require.NoError(t, err)
	require.Equal(t, d.Source.URL, url)
	require.Equal(t, d.Source.NextUpdateAt, nextUpdateAt)

	require.NoError(t, s.runMigrations())
	sites, err := s.ListGeoSite()
	require.NoError(t, err)
	require.Len(t, sites, 1)
	require.Equal(t, d.Source.URL, sites[0].Source.URL)
	require.Equal(t, d.Source.GeoKeys, sites[0].Source.GeoKeys)
}

func TestStaticNATMapping_RoundTrip(t *testing.T) {
	s := openTestStore(t)

	m := StaticNATMapping{
		ID:       "nat1",
		L3Proto:  flow.L3IPv4,
		Gress:    1,
		L4Proto:  6,
		FromPort: 8080,
		FromAddr: net.ParseIP("192.168.1.10"),
		ToPort:   80,
		ToAddr:   net.ParseIP("203.0.113.5"),
	}
	require.NoError(t, s.UpsertStaticNATMapping(m))

	mappings, err := s.ListStaticNATMappings()
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	require.Equal(t, m.Key(), mappings[0].Key())

	require.NoError(t, s.DeleteStaticNATMapping("nat1"))
	mappings, err = s.ListStaticNATMappings()
	require.NoError(t, err)
	require.Empty(t, mappings)
}
