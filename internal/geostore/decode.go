// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package geostore

import (
	"net"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"

	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
	"github.com/zhaojindong1001/landscape-sub000/internal/flow"
)

// The geosite/geoip bundle formats below mirror the widely used
// v2ray-core domain.proto wire layout:
//
//	message Domain { Type type = 1; string value = 2; }
//	message GeoSite { string country_code = 1; repeated Domain domain = 2; }
//	message GeoSiteList { repeated GeoSite entry = 1; }
//
//	message CIDR { bytes ip = 1; uint32 prefix = 2; }
//	message GeoIP { string country_code = 1; repeated CIDR cidr = 2; bool inverse_match = 3; }
//	message GeoIPList { repeated GeoIP entry = 1; }
//
// Rather than generate full message types, entries are scanned
// directly off the wire with protowire so a refresh only pays to
// decode the tags actually requested.
const (
	fieldListEntry     = protowire.Number(1)
	fieldSiteCountry    = protowire.Number(1)
	fieldSiteDomain     = protowire.Number(2)
	fieldDomainType     = protowire.Number(1)
	fieldDomainValue    = protowire.Number(2)
	fieldIPCountry      = protowire.Number(1)
	fieldIPCidr         = protowire.Number(2)
	fieldIPInverseMatch = protowire.Number(3)
	fieldCIDRIP         = protowire.Number(1)
	fieldCIDRPrefix     = protowire.Number(2)
)

// v2ray Domain.Type enum values, mapped onto flow.MatcherKind.
const (
	domainTypePlain      = 0
	domainTypeRegex      = 1
	domainTypeRootDomain = 2
	domainTypeFull       = 3
)

// decodeGeoSite scans a GeoSiteList bundle for the requested tags
// (case-insensitive) and returns one SiteEntry per tag found.
func decodeGeoSite(data []byte, wantTags map[string]bool) (map[string]SiteEntry, error) {
	out := make(map[string]SiteEntry)
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, flywallerrors.New(flywallerrors.KindValidation, "geostore: malformed geosite bundle tag")
		}
		b = b[n:]
		if num != fieldListEntry || typ != protowire.BytesType {
			skip, err := skipField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[skip:]
			continue
		}
		entry, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, flywallerrors.New(flywallerrors.KindValidation, "geostore: malformed geosite entry")
		}
		b = b[n:]

		tag, domains, err := decodeGeoSiteEntry(entry)
		if err != nil {
			return nil, err
		}
		if wantTags != nil && !wantTags[strings.ToUpper(tag)] {
			continue
		}
		out[strings.ToUpper(tag)] = SiteEntry{Domains: domains}
	}
	return out, nil
}

func decodeGeoSiteEntry(entry []byte) (string, []flow.DomainMatcher, error) {
	var country string
	var domains []flow.DomainMatcher
	b := entry
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", nil, flywallerrors.New(flywallerrors.KindValidation, "geostore: malformed GeoSite field")
		}
		b = b[n:]
		switch {
		case num == fieldSiteCountry && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return "", nil, flywallerrors.New(flywallerrors.KindValidation, "geostore: malformed country_code")
			}
			country = string(v)
			b = b[n:]
		case num == fieldSiteDomain && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return "", nil, flywallerrors.New(flywallerrors.KindValidation, "geostore: malformed domain entry")
			}
			b = b[n:]
			m, err := decodeDomain(v)
			if err != nil {
				return "", nil, err
			}
			domains = append(domains, m)
		default:
			skip, err := skipField(b, typ)
			if err != nil {
				return "", nil, err
			}
			b = b[skip:]
		}
	}
	return country, domains, nil
}

func decodeDomain(entry []byte) (flow.DomainMatcher, error) {
	var typ int
	var value string
	b := entry
	for len(b) > 0 {
		num, wt, n := protowire.ConsumeTag(b)
		if n < 0 {
			return flow.DomainMatcher{}, flywallerrors.New(flywallerrors.KindValidation, "geostore: malformed Domain field")
		}
		b = b[n:]
		switch {
		case num == fieldDomainType && wt == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return flow.DomainMatcher{}, flywallerrors.New(flywallerrors.KindValidation, "geostore: malformed Domain.type")
			}
			typ = int(v)
			b = b[n:]
		case num == fieldDomainValue && wt == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return flow.DomainMatcher{}, flywallerrors.New(flywallerrors.KindValidation, "geostore: malformed Domain.value")
			}
			value = string(v)
			b = b[n:]
		default:
			skip, err := skipField(b, wt)
			if err != nil {
				return flow.DomainMatcher{}, err
			}
			b = b[skip:]
		}
	}

	var kind flow.MatcherKind
	switch typ {
	case domainTypeRegex:
		kind = flow.MatchRegex
	case domainTypeRootDomain:
		kind = flow.MatchDomain
	case domainTypeFull:
		kind = flow.MatchFull
	default:
		kind = flow.MatchPlain
	}
	return flow.NewDomainMatcher(kind, value)
}

// decodeGeoIP scans a GeoIPList bundle for the requested tags.
func decodeGeoIP(data []byte, wantTags map[string]bool) (map[string]IPEntry, error) {
	out := make(map[string]IPEntry)
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, flywallerrors.New(flywallerrors.KindValidation, "geostore: malformed geoip bundle tag")
		}
		b = b[n:]
		if num != fieldListEntry || typ != protowire.BytesType {
			skip, err := skipField(b, typ)
			if err != nil {
				return nil, err
			}
			b = b[skip:]
			continue
		}
		entry, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return nil, flywallerrors.New(flywallerrors.KindValidation, "geostore: malformed geoip entry")
		}
		b = b[n:]

		tag, ipEntry, err := decodeGeoIPEntry(entry)
		if err != nil {
			return nil, err
		}
		if wantTags != nil && !wantTags[strings.ToUpper(tag)] {
			continue
		}
		out[strings.ToUpper(tag)] = ipEntry
	}
	return out, nil
}

func decodeGeoIPEntry(entry []byte) (string, IPEntry, error) {
	var country string
	var result IPEntry
	b := entry
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", IPEntry{}, flywallerrors.New(flywallerrors.KindValidation, "geostore: malformed GeoIP field")
		}
		b = b[n:]
		switch {
		case num == fieldIPCountry && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return "", IPEntry{}, flywallerrors.New(flywallerrors.KindValidation, "geostore: malformed country_code")
			}
			country = string(v)
			b = b[n:]
		case num == fieldIPCidr && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return "", IPEntry{}, flywallerrors.New(flywallerrors.KindValidation, "geostore: malformed cidr entry")
			}
			b = b[n:]
			cidr, err := decodeCIDR(v)
			if err != nil {
				return "", IPEntry{}, err
			}
			result.CIDRs = append(result.CIDRs, cidr)
		case num == fieldIPInverseMatch && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return "", IPEntry{}, flywallerrors.New(flywallerrors.KindValidation, "geostore: malformed inverse_match")
			}
			result.InverseMatch = v != 0
			b = b[n:]
		default:
			skip, err := skipField(b, typ)
			if err != nil {
				return "", IPEntry{}, err
			}
			b = b[skip:]
		}
	}
	return country, result, nil
}

func decodeCIDR(entry []byte) (net.IPNet, error) {
	var ip net.IP
	var prefix uint32
	b := entry
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return net.IPNet{}, flywallerrors.New(flywallerrors.KindValidation, "geostore: malformed CIDR field")
		}
		b = b[n:]
		switch {
		case num == fieldCIDRIP && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return net.IPNet{}, flywallerrors.New(flywallerrors.KindValidation, "geostore: malformed CIDR.ip")
			}
			ip = net.IP(append([]byte(nil), v...))
			b = b[n:]
		case num == fieldCIDRPrefix && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return net.IPNet{}, flywallerrors.New(flywallerrors.KindValidation, "geostore: malformed CIDR.prefix")
			}
			prefix = uint32(v)
			b = b[n:]
		default:
			skip, err := skipField(b, typ)
			if err != nil {
				return net.IPNet{}, err
			}
			b = b[skip:]
		}
	}
	bits := len(ip) * 8
	return net.IPNet{IP: ip, Mask: net.CIDRMask(int(prefix), bits)}, nil
}

func skipField(b []byte, typ protowire.Type) (int, error) {
	n := protowire.ConsumeFieldValue(0, typ, b)
	if n < 0 {
		return 0, flywallerrors.New(flywallerrors.KindValidation, "geostore: malformed field")
	}
	return n, nil
}
