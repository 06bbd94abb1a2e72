// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flowassembler

import (
	"net"

	"github.com/zhaojindong1001/landscape-sub000/internal/fastpath"
	"github.com/zhaojindong1001/landscape-sub000/internal/flow"
)

// buildMatchKeys turns a flow's configured source selectors into the
// flow_match_map keys that should exist for it.
func (a *Assembler) buildMatchKeys(f flow.Flow) map[fastpath.FlowMatchKey]struct{} {
	out := make(map[fastpath.FlowMatchKey]struct{}, len(f.Matches))
	for _, m := range f.Matches {
		switch m.Mode {
		case flow.MatchByMAC:
			var key [16]byte
			copy(key[:6], m.MAC[:])
			out[fastpath.FlowMatchKey{
				PrefixLen: fastpath.PrefixLenMAC,
				IsMatchIP: false,
				Key:       key,
			}] = struct{}{}
		case flow.MatchByIP:
			k, ok := ipNetToMatchKey(m.Prefix)
			if !ok {
				a.log.Warn("skip unroutable flow match prefix", "flow_id", f.ID, "prefix", m.Prefix.String())
				continue
			}
			out[k] = struct{}{}
		}
	}
	return out
}

// ipNetToMatchKey converts a source CIDR to a FlowMatchKey, picking the
// v4 or v6 prefixlen convention by the network's address length.
func ipNetToMatchKey(n net.IPNet) (fastpath.FlowMatchKey, bool) {
	ones, bits := n.Mask.Size()
	var key [16]byte
	var proto fastpath.L3
	var base uint32
	switch bits {
	case 32:
		proto = fastpath.L3IPv4
		base = fastpath.PrefixLenIPv4 - 32
		copy(key[:4], n.IP.To4())
	case 128:
		proto = fastpath.L3IPv6
		base = fastpath.PrefixLenIPv6 - 64
		if ones > 64 {
			ones = 64
		}
		copy(key[:16], n.IP.To16())
	default:
		return fastpath.FlowMatchKey{}, false
	}
	return fastpath.FlowMatchKey{
		PrefixLen: base + uint32(ones),
		IsMatchIP: true,
		L3Proto:   proto,
		Key:       key,
	}, true
}

// rebuildTarget resolves the first live WAN target among f's configured
// targets (in configured order) per address family and publishes it to
// rt4_target_map/rt6_target_map. It reports whether at least one
// resolved.
func (a *Assembler) rebuildTarget(f flow.Flow) bool {
	if a.wt == nil || len(f.Targets) == 0 {
		return false
	}
	resolvedAny := false
	for _, proto := range [...]flow.L3Proto{flow.L3IPv4, flow.L3IPv6} {
		target, ok := a.firstLiveTarget(f.Targets, proto)
		fproto := fastpath.L3(proto)
		if !ok {
			_ = a.maps.DeleteRtTarget(fproto, uint8(f.ID))
			continue
		}
		resolvedAny = true
		val := fastpath.RtTargetValue{
			IfIndex:  uint32(target.IfIndex),
			IsDocker: target.IsDocker,
		}
		if target.GatewayIP != nil {
			copy(val.GateAddr[:], addrBytes(target.GatewayIP, proto))
		}
		if target.HasMAC() {
			val.HasMAC = true
			val.MAC = [6]byte(*target.MAC)
		}
		if err := a.maps.UpsertRtTarget(fproto, uint8(f.ID), val); err != nil {
			a.log.WithError(err).Error("upsert rt target failed", "flow_id", f.ID, "proto", proto)
		}
	}
	return resolvedAny
}

func (a *Assembler) firstLiveTarget(targets []flow.Target, proto flow.L3Proto) (flow.WanTarget, bool) {
	for _, t := range targets {
		if live, ok := a.wt.Current(t.Name, proto); ok {
			return live, true
		}
	}
	return flow.WanTarget{}, false
}

// rebuildDefaultTarget seeds flow.DefaultFlow's rt-target from the
// highest-weight live WAN carrying DefaultRoute, per address family —
// the egress every packet uses before any FlowMatch has redirected it.
func (a *Assembler) rebuildDefaultTarget(flows []flow.Flow) {
	if a.wt == nil {
		return
	}
	for _, seen := range flows {
		if seen.ID == flow.DefaultFlow {
			// An explicit flow-0 configuration (rare, but legal) owns its
			// own rt-target through rebuildFlow/rebuildTarget instead.
			return
		}
	}
	for _, proto := range [...]flow.L3Proto{flow.L3IPv4, flow.L3IPv6} {
		fproto := fastpath.L3(proto)
		var chosen *flow.WanTarget
		for _, t := range a.wt.All() {
			if t.Proto != proto || !t.DefaultRoute {
				continue
			}
			tCopy := t
			chosen = &tCopy
			break
		}
		if chosen == nil {
			_ = a.maps.DeleteRtTarget(fproto, uint8(flow.DefaultFlow))
			continue
		}
		val := fastpath.RtTargetValue{IfIndex: uint32(chosen.IfIndex), IsDocker: chosen.IsDocker}
		if chosen.GatewayIP != nil {
			copy(val.GateAddr[:], addrBytes(chosen.GatewayIP, proto))
		}
		if chosen.HasMAC() {
			val.HasMAC = true
			val.MAC = [6]byte(*chosen.MAC)
		}
		if err := a.maps.UpsertRtTarget(fproto, uint8(flow.DefaultFlow), val); err != nil {
			a.log.WithError(err).Error("upsert default rt target failed", "proto", proto)
		}
	}
}

// addrBytes lays ip out in the 16-byte fast-path convention: IPv4 in
// the low 4 bytes, IPv6 filling all 16.
func addrBytes(ip net.IP, proto flow.L3Proto) []byte {
	var out [16]byte
	if proto == flow.L3IPv4 {
		if v4 := ip.To4(); v4 != nil {
			copy(out[:4], v4)
		}
	} else if v6 := ip.To16(); v6 != nil {
		copy(out[:], v6)
	}
	return out[:]
}
