// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package identity holds the host-facing identity types the control
// plane uses to name interfaces and hosts: interface name/ifindex pairs
// and the 48-bit MacAddr with its RFC classifications.
package identity

import (
	"encoding/hex"
	"fmt"
	"net"
	"strings"

	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
)

// MacAddr is a 48-bit hardware address. Unlike net.HardwareAddr (a
// variable-length slice) this is a comparable value type, so it can be
// used directly as a map key in the flow-match table.
type MacAddr [6]byte

// ParseMacAddr parses the standard colon- or hyphen-separated forms
// ("aa:bb:cc:dd:ee:ff", "aa-bb-cc-dd-ee-ff") into a MacAddr.
func ParseMacAddr(s string) (MacAddr, error) {
	var m MacAddr
	hw, err := net.ParseMAC(s)
	if err != nil {
		return m, flywallerrors.Wrapf(err, flywallerrors.KindValidation, "parse MAC address %q", s)
	}
	if len(hw) != 6 {
		return m, flywallerrors.Errorf(flywallerrors.KindValidation, "MAC address %q is not 48-bit (EUI-48)", s)
	}
	copy(m[:], hw)
	return m, nil
}

// MustParseMacAddr is ParseMacAddr but panics on error; intended for
// constants and test fixtures only.
func MustParseMacAddr(s string) MacAddr {
	m, err := ParseMacAddr(s)
	if err != nil {
		panic(err)
	}
	return m
}

// MacAddrFromBytes copies a 6-byte slice into a MacAddr.
func MacAddrFromBytes(b []byte) (MacAddr, error) {
	var m MacAddr
	if len(b) != 6 {
		return m, flywallerrors.Errorf(flywallerrors.KindValidation, "MAC address must be 6 bytes, got %d", len(b))
	}
	copy(m[:], b)
	return m, nil
}

func (m MacAddr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// Bytes returns the MAC as a 6-byte slice.
func (m MacAddr) Bytes() []byte {
	b := make([]byte, 6)
	copy(b, m[:])
	return b
}

// HardwareAddr adapts m to net.HardwareAddr for APIs (netlink, raw
// sockets) that expect the stdlib type.
func (m MacAddr) HardwareAddr() net.HardwareAddr {
	return net.HardwareAddr(m.Bytes())
}

// IsZero reports whether m is the all-zero address.
func (m MacAddr) IsZero() bool {
	return m == MacAddr{}
}

// IsBroadcast reports whether m is ff:ff:ff:ff:ff:ff.
func (m MacAddr) IsBroadcast() bool {
	for _, b := range m {
		if b != 0xff {
			return false
		}
	}
	return true
}

// IsMulticast reports whether the I/G bit (LSB of the first octet) is
// set, per IEEE 802-2001 §9.2. Broadcast is a special case of multicast.
func (m MacAddr) IsMulticast() bool {
	return m[0]&0x01 != 0
}

// IsUnicast is the complement of IsMulticast.
func (m MacAddr) IsUnicast() bool {
	return !m.IsMulticast()
}

// IsLocallyAdministered reports whether the U/L bit (bit 1 of the first
// octet) is set — an LAA, not assigned from an IEEE OUI block.
func (m MacAddr) IsLocallyAdministered() bool {
	return m[0]&0x02 != 0
}

// IsUniversallyAdministered is the complement of IsLocallyAdministered —
// a UAA, assigned from the vendor's IEEE OUI block.
func (m MacAddr) IsUniversallyAdministered() bool {
	return !m.IsLocallyAdministered()
}

// LinkLocalIPv6 derives the EUI-64 based IPv6 link-local address
// fe80::/64 + <interface identifier>, flipping the universal/local bit
// per RFC 4291 Appendix A.
func (m MacAddr) LinkLocalIPv6() net.IP {
	ifid := m.EUI64()
	ip := make(net.IP, net.IPv6len)
	ip[0], ip[1] = 0xfe, 0x80
	copy(ip[8:], ifid[:])
	return ip
}

// EUI64 expands the 48-bit MAC into a 64-bit interface identifier by
// inserting 0xFFFE between the OUI and NIC-specific halves and flipping
// the U/L bit, per RFC 4291 Appendix A.
func (m MacAddr) EUI64() [8]byte {
	var id [8]byte
	copy(id[0:3], m[0:3])
	id[3] = 0xff
	id[4] = 0xfe
	copy(id[5:8], m[3:6])
	id[0] ^= 0x02
	return id
}

// GenerateVirtualMAC derives a deterministic locally-administered
// unicast MAC address from an interface name, used for synthetic
// interfaces (bridges, docker veths) that need a stable identity
// without a hardware-assigned address.
func GenerateVirtualMAC(ifaceName string) MacAddr {
	hash := uint32(2166136261)
	for _, c := range ifaceName {
		hash ^= uint32(c)
		hash *= 16777619
	}
	return MacAddr{
		0x02, // locally-administered, unicast
		0x6c, // 'l'
		0x73, // 's'
		byte(hash >> 16),
		byte(hash >> 8),
		byte(hash),
	}
}

// DUIDLL returns the DHCPv6 DUID-LL (Link-Layer) form for this MAC:
// 0x0003 (DUID-LL type) || 0x0001 (hardware type, Ethernet) || MAC,
// per RFC 8415 §11.2.
func (m MacAddr) DUIDLL() []byte {
	b := make([]byte, 2+2+6)
	b[0], b[1] = 0x00, 0x03
	b[2], b[3] = 0x00, 0x01
	copy(b[4:], m[:])
	return b
}

// HexString returns the MAC as unseparated lowercase hex, used as a
// stable map/table key in places that don't want colon separators.
func (m MacAddr) HexString() string {
	return hex.EncodeToString(m[:])
}

// EqualFold reports whether two MAC string representations refer to the
// same address irrespective of case or separator style.
func EqualFold(a, b string) bool {
	return strings.EqualFold(strings.NewReplacer("-", ":").Replace(a), strings.NewReplacer("-", ":").Replace(b))
}
