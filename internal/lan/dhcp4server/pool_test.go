// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dhcp4server

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhaojindong1001/landscape-sub000/internal/clock"
	"github.com/zhaojindong1001/landscape-sub000/internal/identity"
)

func testConfig() Config {
	_, subnet, _ := net.ParseCIDR("192.168.1.0/24")
	return Config{
		IfaceName:    "br_lan",
		RangeStart:   net.ParseIP("192.168.1.10"),
		RangeEnd:     net.ParseIP("192.168.1.250"),
		Subnet:       subnet,
		RouterIP:     net.ParseIP("192.168.1.1"),
		LeaseSeconds: 3600,
	}
}

func TestPool_AllocateIsStableForSameMAC(t *testing.T) {
	clk := clock.NewMockClock(clock.Now())
	p := NewPool(testConfig(), clk)
	mac := identity.MustParseMacAddr("aa:bb:cc:dd:ee:01")

	ip1, err := p.Allocate(mac)
	require.NoError(t, err)
	ip2, err := p.Allocate(mac)
	require.NoError(t, err)
	require.True(t, ip1.Equal(ip2))
}

func TestPool_AllocateNeverCollides(t *testing.T) {
	clk := clock.NewMockClock(clock.Now())
	p := NewPool(testConfig(), clk)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		mac := identity.MacAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, byte(i)}
		ip, err := p.Allocate(mac)
		require.NoError(t, err)
		require.False(t, seen[ip.String()], "ip %s allocated twice", ip)
		seen[ip.String()] = true
	}
}

func TestPool_StaticBindingTakesPrecedence(t *testing.T) {
	mac := identity.MustParseMacAddr("aa:bb:cc:dd:ee:02")
	cfg := testConfig()
	cfg.StaticBindings = map[identity.MacAddr]net.IP{mac: net.ParseIP("192.168.1.99")}
	p := NewPool(cfg, clock.NewMockClock(clock.Now()))

	ip, err := p.Allocate(mac)
	require.NoError(t, err)
	require.Equal(t, "192.168.1.99", ip.String())
}

func TestPool_DeclineBlocksReissue(t *testing.T) {
	clk := clock.NewMockClock(clock.Now())
	p := NewPool(testConfig(), clk)
	mac := identity.MustParseMacAddr("aa:bb:cc:dd:ee:03")

	ip, err := p.Allocate(mac)
	require.NoError(t, err)
	p.Decline(ip)

	other := identity.MustParseMacAddr("aa:bb:cc:dd:ee:04")
	ip2, err := p.Allocate(other)
	require.NoError(t, err)
	require.False(t, ip.Equal(ip2))
}

func TestCheckRangeConflicts_DetectsOverlapAcrossInterfaces(t *testing.T) {
	a := testConfig()
	a.IfaceName = "br_lan0"
	b := testConfig()
	b.IfaceName = "br_lan1"
	b.RangeStart = net.ParseIP("192.168.1.200")
	b.RangeEnd = net.ParseIP("192.168.1.254")

	err := CheckRangeConflicts([]Config{a, b})
	require.Error(t, err)
}

func TestCheckRangeConflicts_AllowsDisjointRanges(t *testing.T) {
	a := testConfig()
	a.IfaceName = "br_lan0"
	b := testConfig()
	b.IfaceName = "br_lan1"
	b.RangeStart = net.ParseIP("10.0.0.10")
	b.RangeEnd = net.ParseIP("10.0.0.250")

	require.NoError(t, CheckRangeConflicts([]Config{a, b}))
}
