// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flow

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateSubnet_ScenarioD(t *testing.T) {
	subnet, router, err := AllocateSubnet(net.ParseIP("2001:db8::"), 48, 64, 2)
	require.NoError(t, err)
	require.Equal(t, "2001:db8:0:2::", subnet.String())
	require.Equal(t, "2001:db8:0:2::1", router.String())
}

func TestAllocateSubnet_NoOverlap(t *testing.T) {
	base := net.ParseIP("2001:db8::")
	seen := map[string]bool{}
	for i := 0; i < 16; i++ {
		subnet, router, err := AllocateSubnet(base, 48, 52, i)
		require.NoError(t, err)
		require.False(t, seen[subnet.String()], "index %d collided with a previous subnet", i)
		seen[subnet.String()] = true
		require.NotEqual(t, subnet.String(), router.String())
	}
}

func TestAllocateSubnet_IndexOutOfRange(t *testing.T) {
	_, _, err := AllocateSubnet(net.ParseIP("2001:db8::"), 48, 50, 4)
	require.Error(t, err)
}

func TestLanRoute_IsSameSubnet(t *testing.T) {
	_, p1, _ := net.ParseCIDR("10.0.0.0/24")
	_, p2, _ := net.ParseCIDR("10.0.0.0/24")
	_, p3, _ := net.ParseCIDR("10.0.1.0/24")

	a := LanRoute{Prefix: *p1}
	b := LanRoute{Prefix: *p2}
	c := LanRoute{Prefix: *p3}

	require.True(t, a.IsSameSubnet(a), "reflexive")
	require.True(t, a.IsSameSubnet(b))
	require.True(t, b.IsSameSubnet(a), "symmetric")
	require.False(t, a.IsSameSubnet(c))

	_, zero4, _ := net.ParseCIDR("0.0.0.0/0")
	_, zero4b, _ := net.ParseCIDR("10.9.9.0/0")
	require.True(t, LanRoute{Prefix: *zero4}.IsSameSubnet(LanRoute{Prefix: *zero4b}), "/0 is all-match")
}
