// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package fastpath

// UpsertWanIPBinding writes the address/gateway/mask record for one WAN
// interface's protocol family.
func (m *Maps) UpsertWanIPBinding(key WanIPBindingKey, val WanIPBindingValue) error {
	if m.WanIPBinding == nil {
		return nil
	}
	return m.WanIPBinding.upsert(&key, &val)
}

func (m *Maps) DeleteWanIPBinding(key WanIPBindingKey) error {
	if m.WanIPBinding == nil {
		return nil
	}
	return m.WanIPBinding.delete(&key)
}

func (m *Maps) UpsertNat4Mapping(key Nat4MappingKey, val NatMappingValue) error {
	if m.Nat4Mappings == nil {
		return nil
	}
	return m.Nat4Mappings.upsert(&key, &val)
}

func (m *Maps) DeleteNat4Mapping(key Nat4MappingKey) error {
	if m.Nat4Mappings == nil {
		return nil
	}
	return m.Nat4Mappings.delete(&key)
}

func (m *Maps) UpsertNat6StaticMapping(key Nat6StaticMappingKey, val NatMappingValue) error {
	if m.Nat6StaticMappings == nil {
		return nil
	}
	return m.Nat6StaticMappings.upsert(&key, &val)
}

func (m *Maps) DeleteNat6StaticMapping(key Nat6StaticMappingKey) error {
	if m.Nat6StaticMappings == nil {
		return nil
	}
	return m.Nat6StaticMappings.delete(&key)
}

func (m *Maps) UpsertFlowMatch(key FlowMatchKey, flowID uint32) error {
	if m.FlowMatch == nil {
		return nil
	}
	return m.FlowMatch.upsert(&key, &flowID)
}

func (m *Maps) DeleteFlowMatch(key FlowMatchKey) error {
	if m.FlowMatch == nil {
		return nil
	}
	return m.FlowMatch.delete(&key)
}

// LookupFlowMatch returns the flow_id bound to key and whether an entry
// was found at all.
func (m *Maps) LookupFlowMatch(key FlowMatchKey) (uint32, bool, error) {
	if m.FlowMatch == nil {
		return 0, false, nil
	}
	var flowID uint32
	ok, err := m.FlowMatch.lookup(&key, &flowID)
	return flowID, ok, err
}

func (m *Maps) flowIPMap(proto L3) *ManagedMap {
	if proto == L3IPv6 {
		return m.Flow6IP
	}
	return m.Flow4IP
}

func (m *Maps) flowDNSMap(proto L3) *ManagedMap {
	if proto == L3IPv6 {
		return m.Flow6DNS
	}
	return m.Flow4DNS
}

func (m *Maps) rtCacheMap(proto L3) *ManagedMap {
	if proto == L3IPv6 {
		return m.Rt6Cache
	}
	return m.Rt4Cache
}

func (m *Maps) rtTargetMap(proto L3) *ManagedMap {
	if proto == L3IPv6 {
		return m.Rt6Target
	}
	return m.Rt4Target
}

func (m *Maps) rtLanMap(proto L3) *ManagedMap {
	if proto == L3IPv6 {
		return m.Rt6Lan
	}
	return m.Rt4Lan
}

func (m *Maps) UpsertFlowIP(proto L3, key FlowIPKey, val FlowVerdict) error {
	mm := m.flowIPMap(proto)
	if mm == nil {
		return nil
	}
	return mm.upsert(&key, &val)
}

func (m *Maps) DeleteFlowIP(proto L3, key FlowIPKey) error {
	mm := m.flowIPMap(proto)
	if mm == nil {
		return nil
	}
	return mm.delete(&key)
}

func (m *Maps) UpsertFlowDNS(proto L3, key FlowDNSKey, val FlowVerdict) error {
	mm := m.flowDNSMap(proto)
	if mm == nil {
		return nil
	}
	return mm.upsert(&key, &val)
}

func (m *Maps) DeleteFlowDNS(proto L3, key FlowDNSKey) error {
	mm := m.flowDNSMap(proto)
	if mm == nil {
		return nil
	}
	return mm.delete(&key)
}

func (m *Maps) UpsertRtCache(proto L3, key RtCacheKey, val RtCacheValue) error {
	mm := m.rtCacheMap(proto)
	if mm == nil {
		return nil
	}
	return mm.upsert(&key, &val)
}

func (m *Maps) DeleteRtCache(proto L3, key RtCacheKey) error {
	mm := m.rtCacheMap(proto)
	if mm == nil {
		return nil
	}
	return mm.delete(&key)
}

// PurgeRtCacheForFlow deletes every rt-cache entry belonging to flowID —
// a full per-flow table purge, used whenever that flow's DNS or
// destination-IP rule set changes.
func (m *Maps) PurgeRtCacheForFlow(proto L3, flowID uint8) error {
	mm := m.rtCacheMap(proto)
	if mm == nil {
		return nil
	}
	it := mm.iterate()
	var key RtCacheKey
	var val RtCacheValue
	var stale []RtCacheKey
	for it.Next(&key, &val) {
		if key.FlowID == flowID {
			stale = append(stale, key)
		}
	}
	for _, k := range stale {
		if err := mm.delete(&k); err != nil {
			return err
		}
	}
	return nil
}

func (m *Maps) UpsertRtTarget(proto L3, flowID uint8, val RtTargetValue) error {
	mm := m.rtTargetMap(proto)
	if mm == nil {
		return nil
	}
	key := RtTargetKey{FlowID: flowID}
	return mm.upsert(&key, &val)
}

func (m *Maps) DeleteRtTarget(proto L3, flowID uint8) error {
	mm := m.rtTargetMap(proto)
	if mm == nil {
		return nil
	}
	key := RtTargetKey{FlowID: flowID}
	return mm.delete(&key)
}

// UpsertRtLan installs a LAN route. When an entry for the same key
// already exists with the same subnet this is a deliberate no-op at the
// fast path — a delete-then-add would open a connectivity gap — so
// callers that already know the previous entry's subnet should compare
// with LanRoute.IsSameSubnet before calling this, and skip the call
// entirely rather than relying on Upsert to detect it itself.
func (m *Maps) UpsertRtLan(proto L3, key RtLanKey, val RtLanValue) error {
	mm := m.rtLanMap(proto)
	if mm == nil {
		return nil
	}
	return mm.upsert(&key, &val)
}

func (m *Maps) DeleteRtLan(proto L3, key RtLanKey) error {
	mm := m.rtLanMap(proto)
	if mm == nil {
		return nil
	}
	return mm.delete(&key)
}

func (m *Maps) UpsertFirewallAllow(key FirewallAllowKey, val FirewallAllowValue) error {
	if m.FirewallAllow == nil {
		return nil
	}
	return m.FirewallAllow.upsert(&key, &val)
}

func (m *Maps) DeleteFirewallAllow(key FirewallAllowKey) error {
	if m.FirewallAllow == nil {
		return nil
	}
	return m.FirewallAllow.delete(&key)
}

func (m *Maps) firewallBlockMap(proto L3) *ManagedMap {
	if proto == L3IPv6 {
		return m.FirewallBlockIPv6
	}
	return m.FirewallBlockIPv4
}

func (m *Maps) UpsertFirewallBlockIP(proto L3, key FirewallBlockIPKey) error {
	mm := m.firewallBlockMap(proto)
	if mm == nil {
		return nil
	}
	var empty struct{}
	return mm.upsert(&key, &empty)
}

func (m *Maps) DeleteFirewallBlockIP(proto L3, key FirewallBlockIPKey) error {
	mm := m.firewallBlockMap(proto)
	if mm == nil {
		return nil
	}
	return mm.delete(&key)
}
