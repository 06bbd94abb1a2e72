// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dhcp4server is the LAN-side DHCPv4 server: one Pool per
// interface, backed by insomniacslk/dhcp's server4 transport.
package dhcp4server

import (
	"encoding/binary"
	"hash/fnv"
	"net"
	"sync"

	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
	"github.com/zhaojindong1001/landscape-sub000/internal/clock"
	"github.com/zhaojindong1001/landscape-sub000/internal/identity"
)

// OfferValidSeconds is the short lease window an OFFER is held for
// before the allocation is reclaimed if no REQUEST follows.
const OfferValidSeconds = 30

// binding is one pool entry, keyed by MAC.
type binding struct {
	ip                net.IP
	hostname          string
	relativeOfferTime int64
	validTime         int64
	isStatic          bool
	declined          bool
}

// Config describes one LAN interface's DHCPv4 server scope.
type Config struct {
	IfaceName      string
	RangeStart     net.IP
	RangeEnd       net.IP
	Subnet         *net.IPNet
	RouterIP       net.IP
	DNS            []net.IP
	LeaseSeconds   int64
	StaticBindings map[identity.MacAddr]net.IP
}

// rangeCapacity is the number of addresses between RangeStart and
// RangeEnd, inclusive.
func (c Config) rangeCapacity() uint32 {
	return ipToUint32(c.RangeEnd) - ipToUint32(c.RangeStart) + 1
}

// Overlaps reports whether c and other's address ranges intersect —
// used by the range-conflict check across interfaces.
func (c Config) Overlaps(other Config) bool {
	aStart, aEnd := ipToUint32(c.RangeStart), ipToUint32(c.RangeEnd)
	bStart, bEnd := ipToUint32(other.RangeStart), ipToUint32(other.RangeEnd)
	return aStart <= bEnd && bStart <= aEnd
}

// CheckRangeConflicts returns the names of any two enabled configs on
// different interfaces whose ranges overlap, as an error naming both
// interfaces, or nil if none conflict.
func CheckRangeConflicts(configs []Config) error {
	for i := range configs {
		for j := i + 1; j < len(configs); j++ {
			if configs[i].IfaceName == configs[j].IfaceName {
				continue
			}
			if configs[i].Overlaps(configs[j]) {
				return flywallerrors.Errorf(flywallerrors.KindValidation,
					"dhcp4 range on %s overlaps range on %s", configs[i].IfaceName, configs[j].IfaceName)
			}
		}
	}
	return nil
}

// Pool is the allocation table for one interface's DHCPv4 scope.
type Pool struct {
	mu     sync.Mutex
	cfg    Config
	clk    clock.Clock
	bootAt int64
	byMAC  map[identity.MacAddr]*binding
	byIP   map[string]identity.MacAddr
}

// NewPool builds an empty pool, pre-seeded from cfg.StaticBindings.
func NewPool(cfg Config, clk clock.Clock) *Pool {
	p := &Pool{
		cfg:    cfg,
		clk:    clk,
		bootAt: clk.Now().Unix(),
		byMAC:  make(map[identity.MacAddr]*binding),
		byIP:   make(map[string]identity.MacAddr),
	}
	for mac, ip := range cfg.StaticBindings {
		p.byMAC[mac] = &binding{ip: ip, isStatic: true}
		p.byIP[ip.String()] = mac
	}
	return p
}

func (p *Pool) relativeNow() int64 {
	return p.clk.Now().Unix() - p.bootAt
}

// Allocate runs the hash-seeded linear probe: seed from an FNV-1a
// checksum of the MAC, probe ip_range_start+(seed mod capacity),
// advancing the seed by one on each occupied slot; if the whole range
// is exhausted, sweep expired non-static entries and retry once.
func (p *Pool) Allocate(mac identity.MacAddr) (net.IP, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if b, ok := p.byMAC[mac]; ok && b.isStatic {
		return b.ip, nil
	}
	if b, ok := p.byMAC[mac]; ok && !b.declined && b.validTime > 0 &&
		b.relativeOfferTime+b.validTime > p.relativeNow() {
		return b.ip, nil
	}

	ip, err := p.probe(mac)
	if err == nil {
		return ip, nil
	}

	p.sweepExpiredLocked()
	return p.probe(mac)
}

func (p *Pool) probe(mac identity.MacAddr) (net.IP, error) {
	capacity := p.cfg.rangeCapacity()
	seed := hashMAC(mac)
	base := ipToUint32(p.cfg.RangeStart)

	for i := uint32(0); i < capacity; i++ {
		offset := (seed + i) % capacity
		candidate := uint32ToIP(base + offset)
		key := candidate.String()
		if owner, taken := p.byIP[key]; taken && owner != mac {
			continue
		}
		p.bind(mac, candidate, OfferValidSeconds, false)
		return candidate, nil
	}
	return nil, flywallerrors.Errorf(flywallerrors.KindUnavailable, "dhcp4 pool on %s exhausted", p.cfg.IfaceName)
}

func (p *Pool) bind(mac identity.MacAddr, ip net.IP, validSeconds int64, static bool) {
	if old, ok := p.byMAC[mac]; ok {
		delete(p.byIP, old.ip.String())
	}
	p.byMAC[mac] = &binding{
		ip:                ip,
		relativeOfferTime: p.relativeNow(),
		validTime:         validSeconds,
		isStatic:          static,
	}
	p.byIP[ip.String()] = mac
}

// Promote upgrades mac's binding for ip to a full lease, refreshing
// relativeOfferTime. Called on every REQUEST: when ip is not mac's
// current offer, it is bound instead if no other MAC holds it and it
// lies inside the subnet.
func (p *Pool) Promote(mac identity.MacAddr, ip net.IP, hostname string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, ok := p.byMAC[mac]
	if !ok || !b.ip.Equal(ip) {
		if owner, taken := p.byIP[ip.String()]; taken && owner != mac {
			return flywallerrors.Errorf(flywallerrors.KindConflict, "ip %s already allocated", ip)
		}
		if !p.cfg.Subnet.Contains(ip) {
			return flywallerrors.Errorf(flywallerrors.KindValidation, "ip %s out of range", ip)
		}
		p.bind(mac, ip, p.cfg.LeaseSeconds, false)
		b = p.byMAC[mac]
	}
	b.validTime = p.cfg.LeaseSeconds
	b.relativeOfferTime = p.relativeNow()
	b.hostname = hostname
	return nil
}

// Decline marks ip as permanently allocated for the rest of this
// server generation, per a DHCPDECLINE.
func (p *Pool) Decline(ip net.IP) {
	p.mu.Lock()
	defer p.mu.Unlock()
	mac, ok := p.byIP[ip.String()]
	if !ok {
		return
	}
	if b, ok := p.byMAC[mac]; ok {
		b.declined = true
		b.validTime = 1 << 62
	}
}

// sweepExpiredLocked discards non-static bindings past
// relative_offer_time + valid_time. Callers must hold p.mu.
func (p *Pool) sweepExpiredLocked() {
	now := p.relativeNow()
	for mac, b := range p.byMAC {
		if b.isStatic || b.declined {
			continue
		}
		if b.relativeOfferTime+b.validTime <= now {
			delete(p.byIP, b.ip.String())
			delete(p.byMAC, mac)
		}
	}
}

func hashMAC(mac identity.MacAddr) uint32 {
	h := fnv.New32a()
	h.Write(mac[:])
	return h.Sum32()
}

func ipToUint32(ip net.IP) uint32 {
	v4 := ip.To4()
	return binary.BigEndian.Uint32(v4)
}

func uint32ToIP(v uint32) net.IP {
	b := make(net.IP, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}
