// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pppoe

import (
	"net"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/mdlayher/packet"

	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
	"github.com/zhaojindong1001/landscape-sub000/internal/identity"
)

var broadcastMAC = identity.MacAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// pppoeTagServiceName is the PPPoE discovery tag carrying the
// requested/offered service name (RFC 2516 §5.1).
const pppoeTagServiceName = 0x0101

// discoverySocket sends and receives PPPoE discovery-stage frames
// (EtherType 0x8863) over raw Ethernet, the same AF_PACKET transport
// the DHCPv4 client uses pre-bind.
type discoverySocket struct {
	raw    *packet.Conn
	srcMAC identity.MacAddr
}

func newDiscoverySocket(iface *net.Interface, srcMAC identity.MacAddr) (*discoverySocket, error) {
	raw, err := packet.Listen(iface, packet.Raw, int(htons(layers.EthernetTypePPPoEDiscovery)), nil)
	if err != nil {
		return nil, flywallerrors.Wrapf(err, flywallerrors.KindUnavailable, "open pppoe discovery socket on %s", iface.Name)
	}
	return &discoverySocket{raw: raw, srcMAC: srcMAC}, nil
}

func (s *discoverySocket) sendPADI(serviceName string) error {
	return s.send(broadcastMAC, layers.PPPoECodePADI, 0, serviceTag(serviceName))
}

func (s *discoverySocket) sendPADR(peer identity.MacAddr, serviceName string) error {
	return s.send(peer, layers.PPPoECodePADR, 0, serviceTag(serviceName))
}

func (s *discoverySocket) sendPADT(peer identity.MacAddr, sessionID uint16) error {
	return s.send(peer, layers.PPPoECodePADT, sessionID, nil)
}

func serviceTag(name string) []byte {
	// Tag type (2B) + tag length (2B) + value, per RFC 2516 §5.
	val := []byte(name)
	tag := make([]byte, 4+len(val))
	tag[0] = byte(pppoeTagServiceName >> 8)
	tag[1] = byte(pppoeTagServiceName)
	tag[2] = byte(len(val) >> 8)
	tag[3] = byte(len(val))
	copy(tag[4:], val)
	return tag
}

func (s *discoverySocket) send(dst identity.MacAddr, code layers.PPPoECode, sessionID uint16, payload []byte) error {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr(s.srcMAC[:]),
		DstMAC:       net.HardwareAddr(dst[:]),
		EthernetType: layers.EthernetTypePPPoEDiscovery,
	}
	pppoe := &layers.PPPoE{
		Version:   1,
		Type:      1,
		Code:      code,
		SessionId: sessionID,
		Length:    uint16(len(payload)),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: false}
	if err := gopacket.SerializeLayers(buf, opts, eth, pppoe, gopacket.Payload(payload)); err != nil {
		return flywallerrors.Wrap(err, flywallerrors.KindInternal, "serialize pppoe discovery frame")
	}

	_, err := s.raw.WriteTo(buf.Bytes(), &packet.Addr{HardwareAddr: net.HardwareAddr(dst[:])})
	return err
}

// discoveryFrame is one parsed inbound discovery-stage packet.
type discoveryFrame struct {
	Code      layers.PPPoECode
	SessionID uint16
	PeerMAC   identity.MacAddr
	Payload   []byte
}

func (s *discoverySocket) readFrame() (*discoveryFrame, error) {
	buf := make([]byte, 1500)
	n, _, err := s.raw.ReadFrom(buf)
	if err != nil {
		return nil, err
	}
	pkt := gopacket.NewPacket(buf[:n], layers.LayerTypeEthernet, gopacket.NoCopy)
	ethLayer := pkt.Layer(layers.LayerTypeEthernet)
	pppoeLayer := pkt.Layer(layers.LayerTypePPPoE)
	if ethLayer == nil || pppoeLayer == nil {
		return nil, flywallerrors.Errorf(flywallerrors.KindValidation, "pppoe: frame missing expected layers")
	}
	eth := ethLayer.(*layers.Ethernet)
	po := pppoeLayer.(*layers.PPPoE)

	var peer identity.MacAddr
	copy(peer[:], eth.SrcMAC)

	return &discoveryFrame{Code: po.Code, SessionID: po.SessionId, PeerMAC: peer, Payload: po.Payload}, nil
}

func (s *discoverySocket) Close() error {
	return s.raw.Close()
}

func htons(v layers.EthernetType) uint16 {
	u := uint16(v)
	return (u<<8)&0xff00 | u>>8
}
