// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flowassembler

import (
	"net"

	"github.com/zhaojindong1001/landscape-sub000/internal/fastpath"
	"github.com/zhaojindong1001/landscape-sub000/internal/flow"
)

// buildIPVerdicts expands every enabled IP rule attached to flowID into
// the set of flow4_ip_map/flow6_ip_map entries it should produce,
// resolving GeoDataset/GeoTag/GeoInverse rules against the live geo-ip
// cache. Rules are applied in ascending-priority order so a
// later-configured rule's verdict overwrites an earlier one's at a
// colliding key, the same tie-break sortRulesByPriority documents.
func (a *Assembler) buildIPVerdicts(flowID flow.ID, rules []flow.IPRule) map[ipKey]fastpath.FlowVerdict {
	out := make(map[ipKey]fastpath.FlowVerdict)
	for _, rule := range sortRulesByPriority(rules) {
		if !rule.Enable {
			continue
		}
		verdict := fastpath.FlowVerdict{
			Mark:     uint32(rule.Mark),
			Priority: uint16(rule.Priority),
		}
		for _, cidr := range a.resolveRuleCIDRs(rule) {
			k, ok := ipNetToFlowIPKey(flowID, cidr)
			if !ok {
				continue
			}
			out[k] = verdict
		}
	}
	return out
}

// resolveRuleCIDRs returns the concrete prefixes a rule expands to: its
// literal Prefix if set, or the geo-ip dataset's tag CIDRs (direct or,
// for GeoInverse, every other loaded tag's CIDRs unioned together).
func (a *Assembler) resolveRuleCIDRs(rule flow.IPRule) []net.IPNet {
	if !rule.HasGeoSource() {
		if rule.Prefix.IP == nil {
			return nil
		}
		return []net.IPNet{rule.Prefix}
	}
	if a.geo == nil {
		return nil
	}
	if !rule.GeoInverse {
		entry, ok := a.geo.GeoIP(rule.GeoDataset, rule.GeoTag)
		if !ok {
			return nil
		}
		return entry.CIDRs
	}

	seen := make(map[string]struct{})
	var out []net.IPNet
	for _, tag := range a.geo.GeoIPTags(rule.GeoDataset) {
		if tag == rule.GeoTag {
			continue
		}
		entry, ok := a.geo.GeoIP(rule.GeoDataset, tag)
		if !ok {
			continue
		}
		for _, cidr := range entry.CIDRs {
			key := cidr.String()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, cidr)
		}
	}
	return out
}

// ipNetToFlowIPKey converts a destination CIDR to the keyed form
// flow4_ip_map/flow6_ip_map store, alongside the address family it was
// built for.
func ipNetToFlowIPKey(flowID flow.ID, n net.IPNet) (ipKey, bool) {
	ones, bits := n.Mask.Size()
	var addr [16]byte
	var proto fastpath.L3
	switch bits {
	case 32:
		proto = fastpath.L3IPv4
		copy(addr[:4], n.IP.To4())
	case 128:
		proto = fastpath.L3IPv6
		copy(addr[:16], n.IP.To16())
	default:
		return ipKey{}, false
	}
	return ipKey{
		proto: proto,
		key: fastpath.FlowIPKey{
			FlowID:    uint8(flowID),
			PrefixLen: uint32(ones),
			Addr:      addr,
		},
	}, true
}
