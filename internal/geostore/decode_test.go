// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package geostore

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/zhaojindong1001/landscape-sub000/internal/flow"
)

func appendDomain(b []byte, typ int, value string) []byte {
	var d []byte
	d = protowire.AppendTag(d, fieldDomainType, protowire.VarintType)
	d = protowire.AppendVarint(d, uint64(typ))
	d = protowire.AppendTag(d, fieldDomainValue, protowire.BytesType)
	d = protowire.AppendString(d, value)

	b = protowire.AppendTag(b, fieldSiteDomain, protowire.BytesType)
	b = protowire.AppendBytes(b, d)
	return b
}

func buildGeoSiteList(countryCode string, domains [][2]any) []byte {
	var entry []byte
	entry = protowire.AppendTag(entry, fieldSiteCountry, protowire.BytesType)
	entry = protowire.AppendString(entry, countryCode)
	for _, d := range domains {
		entry = appendDomain(entry, d[0].(int), d[1].(string))
	}

	var list []byte
	list = protowire.AppendTag(list, fieldListEntry, protowire.BytesType)
	list = protowire.AppendBytes(list, entry)
	return list
}

func TestDecodeGeoSite_ExtractsRequestedTagOnly(t *testing.T) {
	bundle := buildGeoSiteList("GOOGLE", [][2]any{
		{domainTypeFull, "google.com"},
		{domainTypeRootDomain, "gstatic.com"},
	})

	found, err := decodeGeoSite(bundle, map[string]bool{"GOOGLE": true})
	require.NoError(t, err)
	require.Contains(t, found, "GOOGLE")
	require.Len(t, found["GOOGLE"].Domains, 2)
	require.Equal(t, flow.MatchFull, found["GOOGLE"].Domains[0].Kind)
	require.Equal(t, flow.MatchDomain, found["GOOGLE"].Domains[1].Kind)
}

func TestDecodeGeoSite_SkipsUnrequestedTags(t *testing.T) {
	bundle := buildGeoSiteList("NETFLIX", [][2]any{{domainTypeFull, "netflix.com"}})

	found, err := decodeGeoSite(bundle, map[string]bool{"GOOGLE": true})
	require.NoError(t, err)
	require.NotContains(t, found, "NETFLIX")
}

func buildGeoIPList(countryCode string, cidrs []string, inverse bool) []byte {
	var entry []byte
	entry = protowire.AppendTag(entry, fieldIPCountry, protowire.BytesType)
	entry = protowire.AppendString(entry, countryCode)
	for _, c := range cidrs {
		ip, ipNet, err := net.ParseCIDR(c)
		if err != nil {
			continue
		}
		ones, _ := ipNet.Mask.Size()
		raw := ip.To4()
		if raw == nil {
			raw = ip.To16()
		}
		var cidrBytes []byte
		cidrBytes = protowire.AppendTag(cidrBytes, fieldCIDRIP, protowire.BytesType)
		cidrBytes = protowire.AppendBytes(cidrBytes, raw)
		cidrBytes = protowire.AppendTag(cidrBytes, fieldCIDRPrefix, protowire.VarintType)
		cidrBytes = protowire.AppendVarint(cidrBytes, uint64(ones))

		entry = protowire.AppendTag(entry, fieldIPCidr, protowire.BytesType)
		entry = protowire.AppendBytes(entry, cidrBytes)
	}
	if inverse {
		entry = protowire.AppendTag(entry, fieldIPInverseMatch, protowire.VarintType)
		entry = protowire.AppendVarint(entry, 1)
	}

	var list []byte
	list = protowire.AppendTag(list, fieldListEntry, protowire.BytesType)
	list = protowire.AppendBytes(list, entry)
	return list
}

func TestDecodeGeoIP_ExtractsCIDRsAndInverseFlag(t *testing.T) {
	bundle := buildGeoIPList("CN", []string{"1.2.3.0/24"}, true)

	found, err := decodeGeoIP(bundle, map[string]bool{"CN": true})
	require.NoError(t, err)
	require.Contains(t, found, "CN")
	require.True(t, found["CN"].InverseMatch)
	require.Len(t, found["CN"].CIDRs, 1)
	ones, _ := found["CN"].CIDRs[0].Mask.Size()
	require.Equal(t, 24, ones)
}

func TestParseDirectDomainRule_RecognizesPrefixes(t *testing.T) {
	m, err := parseDirectDomainRule("full:api.example.com")
	require.NoError(t, err)
	require.Equal(t, flow.MatchFull, m.Kind)

	m, err = parseDirectDomainRule("plainvalue")
	require.NoError(t, err)
	require.Equal(t, flow.MatchPlain, m.Kind)
}
