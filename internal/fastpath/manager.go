// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fastpath

import (
	"errors"
	"sync"

	"github.com/cilium/ebpf"

	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
	"github.com/zhaojindong1001/landscape-sub000/internal/logging"
)

// ManagedMap wraps one pinned eBPF map with the locking and error
// translation every typed accessor in this package shares.
type ManagedMap struct {
	Name string
	Map  *ebpf.Map
	mu   sync.RWMutex
}

func (mm *ManagedMap) upsert(key, value any) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if err := mm.Map.Update(key, value, ebpf.UpdateAny); err != nil {
		return flywallerrors.Wrapf(err, flywallerrors.KindUnavailable, "fastpath: upsert into %s", mm.Name)
	}
	return nil
}

func (mm *ManagedMap) lookup(key, value any) (bool, error) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	err := mm.Map.Lookup(key, value)
	if errors.Is(err, ebpf.ErrKeyNotExist) {
		return false, nil
	}
	if err != nil {
		return false, flywallerrors.Wrapf(err, flywallerrors.KindUnavailable, "fastpath: lookup in %s", mm.Name)
	}
	return true, nil
}

// delete removes key from the map. Deleting an absent key is a no-op,
// not an error — the map facade's idempotence law.
func (mm *ManagedMap) delete(key any) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	err := mm.Map.Delete(key)
	if errors.Is(err, ebpf.ErrKeyNotExist) {
		return nil
	}
	if err != nil {
		return flywallerrors.Wrapf(err, flywallerrors.KindUnavailable, "fastpath: delete from %s", mm.Name)
	}
	return nil
}

func (mm *ManagedMap) iterate() *ebpf.MapIterator {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.Map.Iterate()
}

// Maps is the set of pinned map handles FastPathMaps rendezvouses the
// kernel classifier through. Each field is nil until Open populates it
// from a pin path, so a facade can be constructed with only the maps a
// given test or build actually needs.
type Maps struct {
	WanIPBinding        *ManagedMap
	Nat4Mappings        *ManagedMap
	Nat6StaticMappings  *ManagedMap
	FlowMatch           *ManagedMap
	Flow4IP             *ManagedMap
	Flow4DNS            *ManagedMap
	Flow6IP             *ManagedMap
	Flow6DNS            *ManagedMap
	Rt4Cache            *ManagedMap
	Rt6Cache            *ManagedMap
	Rt4Target           *ManagedMap
	Rt6Target           *ManagedMap
	Rt4Lan              *ManagedMap
	Rt6Lan              *ManagedMap
	FirewallAllow       *ManagedMap
	FirewallBlockIPv4   *ManagedMap
	FirewallBlockIPv6   *ManagedMap
}

// Open pins every required fast-path map under pinDir (typically
// /sys/fs/bpf/landscaped) and returns a Maps bundle. Maps that are
// missing from disk are left nil in the bundle rather than failing the
// whole open — a control plane that only exercises DHCP/RA, say, need
// not have the NAT maps loaded by the kernel program yet.
func Open(pinDir string) (*Maps, error) {
	log := logging.WithComponent("fastpath")
	names := map[string]**ManagedMap{}
	out := &Maps{}
	names["wan_ip_binding"] = &out.WanIPBinding
	names["nat4_mappings"] = &out.Nat4Mappings
	names["nat6_static_mappings"] = &out.Nat6StaticMappings
	names["flow_match_map"] = &out.FlowMatch
	names["flow4_ip_map"] = &out.Flow4IP
	names["flow4_dns_map"] = &out.Flow4DNS
	names["flow6_ip_map"] = &out.Flow6IP
	names["flow6_dns_map"] = &out.Flow6DNS
	names["rt4_cache_map"] = &out.Rt4Cache
	names["rt6_cache_map"] = &out.Rt6Cache
	names["rt4_target_map"] = &out.Rt4Target
	names["rt6_target_map"] = &out.Rt6Target
	names["rt4_lan_map"] = &out.Rt4Lan
	names["rt6_lan_map"] = &out.Rt6Lan
	names["firewall_allow_rules_map"] = &out.FirewallAllow
	names["firewall_block_ip4"] = &out.FirewallBlockIPv4
	names["firewall_block_ip6"] = &out.FirewallBlockIPv6

	for name, slot := range names {
		m, err := ebpf.LoadPinnedMap(pinDir+"/"+name, nil)
		if err != nil {
			log.Warn("pinned map unavailable, continuing without it", "map", name, "error", err)
			continue
		}
		*slot = &ManagedMap{Name: name, Map: m}
	}
	return out, nil
}

// Close releases every opened map handle.
func (m *Maps) Close() error {
	var first error
	for _, mm := range []*ManagedMap{
		m.WanIPBinding, m.Nat4Mappings, m.Nat6StaticMappings, m.FlowMatch,
		m.Flow4IP, m.Flow4DNS, m.Flow6IP, m.Flow6DNS,
		m.Rt4Cache, m.Rt6Cache, m.Rt4Target, m.Rt6Target,
		m.Rt4Lan, m.Rt6Lan, m.FirewallAllow, m.FirewallBlockIPv4, m.FirewallBlockIPv6,
	} {
		if mm == nil || mm.Map == nil {
			continue
		}
		if err := mm.Map.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
