// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package linkctl wraps vishvananda/netlink for the handful of
// operations the WAN/LAN state machines need: installing an address a
// DHCP lease or RA prefix granted, adding the LAN route for an
// allocated subnet, and pointing the default route at the winning WAN
// target. Every call is idempotent — installing an address or route
// that already exists is not an error.
package linkctl

import (
	"net"
	"os"

	"github.com/vishvananda/netlink"

	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
)

// AddAddr assigns prefix to iface, tolerating EEXIST.
func AddAddr(ifaceName string, prefix net.IPNet) error {
	link, err := netlink.LinkByName(ifaceName)
	if err != nil {
		return flywallerrors.Wrapf(err, flywallerrors.KindNotFound, "link %s", ifaceName)
	}
	addr := &netlink.Addr{IPNet: &prefix}
	if err := netlink.AddrAdd(link, addr); err != nil && !os.IsExist(err) {
		return flywallerrors.Wrapf(err, flywallerrors.KindInternal, "add addr %s to %s", prefix.String(), ifaceName)
	}
	return nil
}

// DelAddr removes prefix from iface, tolerating ESRCH/ENOENT (already
// gone).
func DelAddr(ifaceName string, prefix net.IPNet) error {
	link, err := netlink.LinkByName(ifaceName)
	if err != nil {
		return flywallerrors.Wrapf(err, flywallerrors.KindNotFound, "link %s", ifaceName)
	}
	addr := &netlink.Addr{IPNet: &prefix}
	if err := netlink.AddrDel(link, addr); err != nil {
		return flywallerrors.Wrapf(err, flywallerrors.KindInternal, "del addr %s from %s", prefix.String(), ifaceName)
	}
	return nil
}

// AddRoute installs a route to dst via gateway (gateway may be nil for
// an on-link route) on iface, replacing any existing route to the same
// destination so a renewed lease's changed gateway takes effect
// immediately.
func AddRoute(ifaceName string, dst *net.IPNet, gateway net.IP) error {
	link, err := netlink.LinkByName(ifaceName)
	if err != nil {
		return flywallerrors.Wrapf(err, flywallerrors.KindNotFound, "link %s", ifaceName)
	}
	route := &netlink.Route{
		LinkIndex: link.Attrs().Index,
		Dst:       dst,
		Gw:        gateway,
	}
	if err := netlink.RouteReplace(route); err != nil {
		return flywallerrors.Wrapf(err, flywallerrors.KindInternal, "add route to %s via %s on %s", dst, gateway, ifaceName)
	}
	return nil
}

// DelRoute removes a previously installed route, tolerating "no such
// process" (already gone).
func DelRoute(ifaceName string, dst *net.IPNet) error {
	link, err := netlink.LinkByName(ifaceName)
	if err != nil {
		return flywallerrors.Wrapf(err, flywallerrors.KindNotFound, "link %s", ifaceName)
	}
	route := &netlink.Route{LinkIndex: link.Attrs().Index, Dst: dst}
	if err := netlink.RouteDel(route); err != nil {
		return flywallerrors.Wrapf(err, flywallerrors.KindInternal, "del route to %s on %s", dst, ifaceName)
	}
	return nil
}

// SetDefaultRoute installs (or replaces) the IPv4/IPv6 default route
// via gateway on iface.
func SetDefaultRoute(ifaceName string, gateway net.IP) error {
	_, dst, _ := net.ParseCIDR(defaultDstFor(gateway))
	return AddRoute(ifaceName, dst, gateway)
}

func defaultDstFor(gateway net.IP) string {
	if gateway.To4() != nil {
		return "0.0.0.0/0"
	}
	return "::/0"
}

// LinkIndex resolves an interface name to its kernel ifindex.
func LinkIndex(ifaceName string) (int, error) {
	link, err := netlink.LinkByName(ifaceName)
	if err != nil {
		return 0, flywallerrors.Wrapf(err, flywallerrors.KindNotFound, "link %s", ifaceName)
	}
	return link.Attrs().Index, nil
}

// SetUp brings an interface up (used when landscaped creates br_lan
// in auto mode).
func SetUp(ifaceName string) error {
	link, err := netlink.LinkByName(ifaceName)
	if err != nil {
		return flywallerrors.Wrapf(err, flywallerrors.KindNotFound, "link %s", ifaceName)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return flywallerrors.Wrapf(err, flywallerrors.KindInternal, "set %s up", ifaceName)
	}
	return nil
}

// EnsureBridge creates a Linux bridge named name if it does not
// already exist, for auto-mode br_lan bootstrap.
func EnsureBridge(name string) error {
	if _, err := netlink.LinkByName(name); err == nil {
		return nil
	}
	br := &netlink.Bridge{LinkAttrs: netlink.LinkAttrs{Name: name}}
	if err := netlink.LinkAdd(br); err != nil && !os.IsExist(err) {
		return flywallerrors.Wrapf(err, flywallerrors.KindInternal, "create bridge %s", name)
	}
	return SetUp(name)
}
