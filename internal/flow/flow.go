// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flow

import (
	"net"

	"github.com/zhaojindong1001/landscape-sub000/internal/identity"
)

// MatchMode distinguishes a FlowMatch keyed by hardware address from
// one keyed by a source IP/CIDR.
type MatchMode uint8

const (
	MatchByMAC MatchMode = iota
	MatchByIP
)

// Match binds a source selector (MAC or IP/CIDR) to a flow id.
type Match struct {
	Mode   MatchMode
	MAC    identity.MacAddr
	Prefix net.IPNet
	FlowID ID
}

// TargetKind distinguishes an egress target that is a plain host
// interface from one that reaches into a Docker network namespace.
type TargetKind uint8

const (
	TargetInterface TargetKind = iota
	TargetNetns
)

// Target is one of a flow's configured egress targets, resolved later
// to a concrete live WanTarget by FlowAssembler.
type Target struct {
	Kind      TargetKind
	Name      string // interface name, or the netns/container name
}

// Rule is a flow's DNS rule: a prioritized domain matcher producing a
// resolve action plus the Mark seeded into rt-cache.
type Rule struct {
	ID       string
	Name     string
	Priority int
	Enable   bool
	Filter   Filter
	Source   []DomainMatcher
	Upstream string
	Mark     Mark
	FlowID   ID
}

// Filter restricts which record types a DNS rule's resolve step keeps.
type Filter uint8

const (
	FilterNone Filter = iota
	FilterOnlyIPv4
	FilterOnlyIPv6
)

// IPRule is a flow's destination-IP rule (same matcher/mark shape as a
// DNS rule but keyed by CIDR instead of domain name). A rule names
// either a literal Prefix or a GeoDataset/GeoTag pair that
// FlowAssembler expands into concrete prefixes at rule-build time;
// GeoInverse requests every prefix in the dataset EXCEPT the named tag.
type IPRule struct {
	ID         string
	Priority   int
	Enable     bool
	Prefix     net.IPNet
	GeoDataset string
	GeoTag     string
	GeoInverse bool
	Mark       Mark
	FlowID     ID
}

// HasGeoSource reports whether r names a geo-ip dataset instead of (or
// in addition to) a literal Prefix.
func (r IPRule) HasGeoSource() bool {
	return r.GeoDataset != "" && r.GeoTag != ""
}

// Flow is a logical egress policy: a numbered bundle of match entries,
// egress targets, DNS rules, and destination-IP rules.
type Flow struct {
	ID      ID
	Name    string
	Matches []Match
	Targets []Target
	DNS     []Rule
	IPRules []IPRule
}
