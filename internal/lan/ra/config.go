// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ra is the per-LAN-interface ICMPv6 Router Advertisement
// announcer: it joins ff02::2, advertises sub-prefixes sourced from
// static configuration and delegated-prefix subscriptions, and tracks
// neighbors observed via incoming Neighbor Advertisements.
package ra

import (
	"net"
	"time"

	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
)

// StaticSource is an explicit (base_prefix, sub_prefix_len, sub_index)
// carve-out, independent of any delegated prefix.
type StaticSource struct {
	BasePrefix net.IP
	BaseLen    int
	SubLen     int
	SubIndex   int
}

// PDSource subscribes to an upstream WAN interface's delegated prefix
// and carves a sub-prefix of SubLen at SubIndex out of whatever that
// interface currently holds.
type PDSource struct {
	UpstreamIface string
	SubLen        int
	SubIndex      int
}

// Config is one LAN interface's RA announcer configuration.
type Config struct {
	IfaceName       string
	AdIntervalSecs  int
	MTU             uint32
	StaticSources   []StaticSource
	PDSources       []PDSource
	RecursiveDNS    []net.IP
}

// Validate rejects duplicate sub_index values across the combined
// source set, per the shared sub-prefix addressing space.
func (c Config) Validate() error {
	seen := make(map[int]bool)
	for _, s := range c.StaticSources {
		if seen[s.SubIndex] {
			return flywallerrors.Errorf(flywallerrors.KindValidation, "ra: duplicate sub_index %d on %s", s.SubIndex, c.IfaceName)
		}
		seen[s.SubIndex] = true
	}
	for _, s := range c.PDSources {
		if seen[s.SubIndex] {
			return flywallerrors.Errorf(flywallerrors.KindValidation, "ra: duplicate sub_index %d on %s", s.SubIndex, c.IfaceName)
		}
		seen[s.SubIndex] = true
	}
	return nil
}

func (c Config) adInterval() time.Duration {
	if c.AdIntervalSecs <= 0 {
		return 600 * time.Second
	}
	return time.Duration(c.AdIntervalSecs) * time.Second
}
