// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package geostore holds the disk-persistent geosite/geoip datasets
// FlowAssembler and DNSChain expand inverse-match and domain-set rules
// against. Entries are keyed by (dataset_name, tag) and refreshed from
// either a remote URL bundle or an inline "direct" source.
package geostore

import (
	"net"

	"github.com/zhaojindong1001/landscape-sub000/internal/flow"
)

// Kind distinguishes a geosite (domain) dataset from a geoip (CIDR)
// dataset — the two entry shapes below.
type Kind uint8

const (
	KindGeoSite Kind = iota
	KindGeoIP
)

// SiteEntry is one geosite tag's domain rule set, decoded from the
// v2ray-format geosite.dat wire layout or supplied directly.
type SiteEntry struct {
	Domains []flow.DomainMatcher
}

// IPEntry is one geoip tag's CIDR set.
type IPEntry struct {
	CIDRs        []net.IPNet
	InverseMatch bool
}

// key identifies one (dataset_name, tag) pair in the keyed store.
type key struct {
	Dataset string
	Tag     string
}
