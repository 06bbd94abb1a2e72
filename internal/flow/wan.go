// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flow

import (
	"net"

	"github.com/zhaojindong1001/landscape-sub000/internal/identity"
)

// L3Proto distinguishes the v4/v6 variant of a keyed fast-path record.
type L3Proto uint8

const (
	L3IPv4 L3Proto = 4
	L3IPv6 L3Proto = 6
)

// WanTarget is a fast-path record describing one WAN egress candidate.
// Docker-sourced targets carry a dummy MAC and unspecified addresses.
type WanTarget struct {
	IfIndex      int
	IfaceName    string
	Proto        L3Proto
	Weight       int
	MAC          *identity.MacAddr
	IfaceIP      net.IP
	GatewayIP    net.IP
	DefaultRoute bool
	IsDocker     bool
}

// HasMAC reports whether MAC is populated (some docker targets have
// none).
func (t WanTarget) HasMAC() bool {
	return t.MAC != nil
}

// RouteMode distinguishes an on-link LAN route from one reached via an
// explicit next hop.
type RouteMode uint8

const (
	RouteReachable RouteMode = iota
	RouteNextHop
)

// LanRoute is a fast-path record describing how to reach an on-link
// destination on a LAN interface.
type LanRoute struct {
	IfIndex   int
	IfaceName string
	IfaceIP   net.IP
	MAC       *identity.MacAddr
	Prefix    net.IPNet
	Mode      RouteMode
	NextHop   net.IP // only meaningful when Mode == RouteNextHop
}

// IsSameSubnet reports whether l and other describe the same prefix —
// reflexive, symmetric, and consistent with the /0-matches-all,
// /32-or-/128-exact-only prefix semantics below. Two /0 routes of the
// same address family are always the same subnet (routes of different
// families never are); a /32 or /128 requires the host bits to match
// exactly as well as the prefix length.
func (l LanRoute) IsSameSubnet(other LanRoute) bool {
	ones1, bits1 := l.Prefix.Mask.Size()
	ones2, bits2 := other.Prefix.Mask.Size()
	if bits1 != bits2 || ones1 != ones2 {
		return false
	}
	if ones1 == 0 {
		return true
	}
	return l.Prefix.IP.Mask(l.Prefix.Mask).Equal(other.Prefix.IP.Mask(other.Prefix.Mask))
}
