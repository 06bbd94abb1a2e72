// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package fastpath is the typed map facade FlowAssembler and the WAN/LAN
// state machines use to rendezvous with the kernel packet classifier.
// The control plane never touches kernel map primitives directly — every
// read or write goes through one of the typed Upsert/Lookup/Delete calls
// below, keeping the prefixlen and byte-order conventions in one place.
package fastpath

// Gress distinguishes the ingress/egress direction a NAT mapping
// applies to.
type Gress uint8

const (
	GressIngress Gress = iota
	GressEgress
)

// L3 mirrors flow.L3Proto for the fast-path key encodings (kept
// independent so this package has no import-cycle risk against flow).
type L3 uint8

const (
	L3IPv4 L3 = 4
	L3IPv6 L3 = 6
)

// Prefixlen conventions for flow_match_map: MAC match sets
// prefixlen=80 (48 match bits + 32 fixed header bits), IPv4 uses 64
// (32 fixed + 32 addr), IPv6 uses 96 (32 fixed + 64 addr-prefix bits
// reserved for the widest V6 LPM key this facade stores).
const (
	PrefixLenMAC  = 80
	PrefixLenIPv4 = 64
	PrefixLenIPv6 = 96
)

// WanIPBindingKey keys the wan_ip_binding map.
type WanIPBindingKey struct {
	IfIndex  uint32
	L3Proto  L3
	_        [3]byte
}

// WanIPBindingValue is the value half of wan_ip_binding.
type WanIPBindingValue struct {
	Addr    [16]byte // IPv4 stored in the low 4 bytes, big-endian
	Gateway [16]byte
	Mask    uint8
	HasMAC  bool
	MAC     [6]byte
}

// Nat4MappingKey keys nat4_mappings.
type Nat4MappingKey struct {
	Gress      Gress
	L4Proto    uint8
	FromPortBE uint16
	FromAddrBE uint32
}

// NatMappingValue is the value half of both nat4_mappings and
// nat6_static_mappings.
type NatMappingValue struct {
	PortBE   uint16
	Addr     [16]byte
	IsStatic bool
}

// Nat6StaticMappingKey keys nat6_static_mappings, an LPM map.
type Nat6StaticMappingKey struct {
	PrefixLen  uint32
	L3Proto    L3
	Gress      Gress
	L4Proto    uint8
	PortBE     uint16
	Addr       [16]byte
}

// FlowMatchKey keys flow_match_map, an LPM map over either a MAC or an
// IP, discriminated by IsMatchIP and PrefixLen (see the PrefixLen*
// constants above).
type FlowMatchKey struct {
	PrefixLen uint32
	IsMatchIP bool
	L3Proto   L3
	Key       [16]byte // MAC in the first 6 bytes, or an IPv4/IPv6 address
}

// FlowVerdict is the shared value shape of flow4_ip_map, flow4_dns_map,
// and their v6 analogues: a packed Mark plus the rule priority that
// produced it (so FlowAssembler's diff-apply can break mark ties
// deterministically by priority without a second table round-trip).
type FlowVerdict struct {
	Mark     uint32
	Priority uint16
}

// FlowIPKey keys flow4_ip_map[flow_id] / flow6_ip_map[flow_id] — an LPM
// trie over destination prefix within one flow's table.
type FlowIPKey struct {
	FlowID    uint8
	PrefixLen uint32
	Addr      [16]byte
}

// FlowDNSKey keys flow4_dns_map[flow_id] / flow6_dns_map[flow_id] — an
// exact-address table within one flow's table (DNS answers are host
// addresses, not prefixes).
type FlowDNSKey struct {
	FlowID uint8
	Addr   [16]byte
}

// RtCacheKey keys rt4_cache_map[flow_id] / rt6_cache_map[flow_id].
type RtCacheKey struct {
	FlowID uint8
	SrcBE  [16]byte
	DstBE  [16]byte
}

// RtCacheValue is the per-(src,dst) memoized verdict.
type RtCacheValue struct {
	MarkValue uint32
}

// RtTargetKey keys rt4_target_map / rt6_target_map.
type RtTargetKey struct {
	FlowID uint8
}

// RtTargetValue is a flow's resolved live WAN egress target.
type RtTargetValue struct {
	IfIndex  uint32
	GateAddr [16]byte
	MAC      [6]byte
	HasMAC   bool
	IsDocker bool
}

// RtLanKey keys rt4_lan_map / rt6_lan_map — an LPM trie over on-link
// destination prefix.
type RtLanKey struct {
	PrefixLen uint32
	Addr      [16]byte
}

// RtLanValue describes how to reach an on-link destination.
type RtLanValue struct {
	IfIndex  uint32
	Addr     [16]byte
	MAC      [6]byte
	HasMAC   bool
	IsNextHop bool
}

// FirewallAllowKey keys firewall_allow_rules_map, an LPM map.
type FirewallAllowKey struct {
	PrefixLen    uint32
	IPType       L3
	IPProto      uint8
	LocalPortBE  uint16
	Addr         [16]byte
}

// FirewallAllowValue carries the mark a matched firewall-allow rule
// emits.
type FirewallAllowValue struct {
	Mark uint32
}

// FirewallBlockIPKey keys firewall_block_ip4 / firewall_block_ip6, an
// LPM map with no value payload (presence is the verdict).
type FirewallBlockIPKey struct {
	PrefixLen uint32
	Addr      [16]byte
}
