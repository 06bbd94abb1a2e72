// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dhcp4client is the WAN-side DHCPv4 client state machine:
// Discovering -> Requesting -> Bound -> Renewing -> WaitToRebind ->
// Rebind, one instance per WAN interface.
package dhcp4client

import (
	"net"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/mdlayher/packet"

	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
	"github.com/zhaojindong1001/landscape-sub000/internal/identity"
)

// dhcpClientPort and dhcpServerPort are the well-known DHCPv4 UDP
// ports (RFC 2131).
const (
	dhcpClientPort = 68
	dhcpServerPort = 67
)

var broadcastMAC = identity.MacAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
var broadcastIP = net.IPv4bcast

// adaptiveSocket sends and receives DHCPv4 packets either as raw
// Ethernet/IP/UDP frames over AF_PACKET (no local address assigned
// yet — Discovering, and Rebind's broadcast REQUEST) or as ordinary
// unicast UDP once an address is bound (Renewing). Switching between
// the two happens at state transitions, never mid-state.
type adaptiveSocket struct {
	ifaceName string
	ifIndex   int
	srcMAC    identity.MacAddr

	raw    *packet.Conn
	udp    *net.UDPConn
	bound  net.IP // non-nil once switched to unicast mode
}

func newAdaptiveSocket(iface *net.Interface, srcMAC identity.MacAddr) (*adaptiveSocket, error) {
	raw, err := packet.Listen(iface, packet.Raw, int(htons(layers.EthernetTypeIPv4)), nil)
	if err != nil {
		return nil, flywallerrors.Wrapf(err, flywallerrors.KindUnavailable, "open raw socket on %s", iface.Name)
	}
	return &adaptiveSocket{ifaceName: iface.Name, ifIndex: iface.Index, srcMAC: srcMAC, raw: raw}, nil
}

// SwitchToUnicast rebinds the socket to a UDP conn sourced from
// boundAddr, used on entering Renewing (unicasting to the pinned
// DHCP server).
func (s *adaptiveSocket) SwitchToUnicast(boundAddr net.IP) error {
	if s.udp != nil {
		s.udp.Close()
		s.udp = nil
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: boundAddr, Port: dhcpClientPort})
	if err != nil {
		return flywallerrors.Wrapf(err, flywallerrors.KindUnavailable, "bind unicast dhcp4 socket on %s", s.ifaceName)
	}
	s.udp = conn
	s.bound = boundAddr
	return nil
}

// SwitchToBroadcast drops any unicast binding, returning the socket to
// raw-L2 broadcast mode, used entering Discovering or Rebind.
func (s *adaptiveSocket) SwitchToBroadcast() {
	if s.udp != nil {
		s.udp.Close()
		s.udp = nil
	}
	s.bound = nil
}

// SendBroadcast wraps payload in a full Ethernet/IPv4/UDP frame
// addressed to 255.255.255.255:67 and writes it out the raw socket.
func (s *adaptiveSocket) SendBroadcast(payload []byte, srcIP net.IP) error {
	if s.udp != nil {
		_, err := s.udp.WriteToUDP(payload, &net.UDPAddr{IP: broadcastIP, Port: dhcpServerPort})
		return err
	}

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr(s.srcMAC[:]),
		DstMAC:       net.HardwareAddr(broadcastMAC[:]),
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    srcIP,
		DstIP:    broadcastIP,
	}
	udp := &layers.UDP{SrcPort: dhcpClientPort, DstPort: dhcpServerPort}
	udp.SetNetworkLayerForChecksum(ip)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return flywallerrors.Wrap(err, flywallerrors.KindInternal, "serialize dhcp4 broadcast frame")
	}

	_, err := s.raw.WriteTo(buf.Bytes(), &packet.Addr{HardwareAddr: net.HardwareAddr(broadcastMAC[:])})
	return err
}

// SendUnicast sends payload to the pinned server via the currently
// bound UDP socket. Callers must have called SwitchToUnicast first.
func (s *adaptiveSocket) SendUnicast(payload []byte, server net.IP) error {
	if s.udp == nil {
		return flywallerrors.Errorf(flywallerrors.KindInternal, "dhcp4 client on %s not bound for unicast", s.ifaceName)
	}
	_, err := s.udp.WriteToUDP(payload, &net.UDPAddr{IP: server, Port: dhcpServerPort})
	return err
}

// ReadMessage blocks for the next DHCPv4 message on whichever
// transport is currently active.
func (s *adaptiveSocket) ReadMessage() (*dhcpv4.DHCPv4, error) {
	if s.udp != nil {
		buf := make([]byte, 1500)
		n, _, err := s.udp.ReadFromUDP(buf)
		if err != nil {
			return nil, err
		}
		return dhcpv4.FromBytes(buf[:n])
	}

	buf := make([]byte, 1500)
	n, _, err := s.raw.ReadFrom(buf)
	if err != nil {
		return nil, err
	}
	pkt := gopacket.NewPacket(buf[:n], layers.LayerTypeEthernet, gopacket.NoCopy)
	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil, flywallerrors.Errorf(flywallerrors.KindValidation, "dhcp4 frame missing UDP layer")
	}
	udp := udpLayer.(*layers.UDP)
	if udp.DstPort != dhcpClientPort {
		return nil, flywallerrors.Errorf(flywallerrors.KindValidation, "not a dhcp4 client frame")
	}
	return dhcpv4.FromBytes(udp.Payload)
}

func (s *adaptiveSocket) Close() error {
	if s.udp != nil {
		s.udp.Close()
	}
	return s.raw.Close()
}

func htons(v layers.EthernetType) uint16 {
	u := uint16(v)
	return (u<<8)&0xff00 | u>>8
}
