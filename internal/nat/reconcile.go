// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nat

import (
	"net"

	"github.com/zhaojindong1001/landscape-sub000/internal/fastpath"
	"github.com/zhaojindong1001/landscape-sub000/internal/flow"
	"github.com/zhaojindong1001/landscape-sub000/internal/logging"
	"github.com/zhaojindong1001/landscape-sub000/internal/store"
)

// Reconciler applies the add/delete sets Diff produces against
// FastPathMaps, and tracks the last-applied set so the next
// configuration change can be diffed against it.
type Reconciler struct {
	maps    *fastpath.Maps
	log     *logging.Logger
	applied []store.StaticNATMapping
}

// NewReconciler builds a Reconciler with an empty applied set.
func NewReconciler(maps *fastpath.Maps) *Reconciler {
	return &Reconciler{maps: maps, log: logging.WithComponent("nat")}
}

// Apply diffs desired against the last-applied set, writes the result
// into FastPathMaps, and remembers desired as the new applied set.
func (r *Reconciler) Apply(desired []store.StaticNATMapping) error {
	add, del := Diff(desired, r.applied)

	for _, m := range del {
		if err := r.deleteMapping(m); err != nil {
			return err
		}
	}
	for _, m := range add {
		if err := r.upsertMapping(m); err != nil {
			return err
		}
	}

	r.applied = append([]store.StaticNATMapping(nil), desired...)
	return nil
}

func (r *Reconciler) upsertMapping(m store.StaticNATMapping) error {
	val := fastpath.NatMappingValue{PortBE: m.ToPort, IsStatic: true}
	copy(val.Addr[:], m.ToAddr.To16())

	if m.L3Proto == flow.L3IPv4 {
		key := fastpath.Nat4MappingKey{
			Gress:      fastpath.Gress(m.Gress),
			L4Proto:    m.L4Proto,
			FromPortBE: m.FromPort,
			FromAddrBE: be32(m.FromAddr),
		}
		return r.maps.UpsertNat4Mapping(key, val)
	}

	var addr [16]byte
	copy(addr[:], m.FromAddr.To16())
	key := fastpath.Nat6StaticMappingKey{
		PrefixLen: 128,
		L3Proto:   fastpath.L3IPv6,
		Gress:     fastpath.Gress(m.Gress),
		L4Proto:   m.L4Proto,
		PortBE:    m.FromPort,
		Addr:      addr,
	}
	return r.maps.UpsertNat6StaticMapping(key, val)
}

func (r *Reconciler) deleteMapping(m store.StaticNATMapping) error {
	if m.L3Proto == flow.L3IPv4 {
		key := fastpath.Nat4MappingKey{
			Gress:      fastpath.Gress(m.Gress),
			L4Proto:    m.L4Proto,
			FromPortBE: m.FromPort,
			FromAddrBE: be32(m.FromAddr),
		}
		return r.maps.DeleteNat4Mapping(key)
	}

	var addr [16]byte
	copy(addr[:], m.FromAddr.To16())
	key := fastpath.Nat6StaticMappingKey{
		PrefixLen: 128,
		L3Proto:   fastpath.L3IPv6,
		Gress:     fastpath.Gress(m.Gress),
		L4Proto:   m.L4Proto,
		PortBE:    m.FromPort,
		Addr:      addr,
	}
	return r.maps.DeleteNat6StaticMapping(key)
}

func be32(ip net.IP) uint32 {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])
}
