// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package pppoe is the WAN-side PPPoE client: discovery
// (PADI/PADO/PADR/PADS) over raw Ethernet, followed by PPP LCP, an
// optional PAP authentication exchange, and IPCP to obtain the WAN
// address, one instance per WAN interface configured for PPPoE.
package pppoe

import "github.com/zhaojindong1001/landscape-sub000/internal/identity"

// Config is one PPPoE WAN interface's client configuration.
type Config struct {
	IfaceName    string
	MAC          identity.MacAddr
	Username     string // empty disables PAP authentication
	Password     string
	ServiceName  string // empty matches any service
	DefaultRoute bool
	Weight       int
}
