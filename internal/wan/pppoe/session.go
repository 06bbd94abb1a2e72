// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pppoe

import (
	"encoding/binary"
	"net"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/mdlayher/packet"

	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
	"github.com/zhaojindong1001/landscape-sub000/internal/identity"
)

// sessionSocket carries PPP frames inside PPPoE session-stage frames
// (EtherType 0x8864, RFC 2516 §4.1): a PPPoE header with
// Code=CodeSession followed directly by a PPP protocol field and its
// payload, no HDLC byte-stuffing needed since the Ethernet frame
// already delimits it.
type sessionSocket struct {
	raw       *packet.Conn
	srcMAC    identity.MacAddr
	peerMAC   identity.MacAddr
	sessionID uint16
}

func newSessionSocket(iface *net.Interface, srcMAC, peerMAC identity.MacAddr, sessionID uint16) (*sessionSocket, error) {
	raw, err := packet.Listen(iface, packet.Raw, int(htons(layers.EthernetTypePPPoESession)), nil)
	if err != nil {
		return nil, flywallerrors.Wrapf(err, flywallerrors.KindUnavailable, "open pppoe session socket on %s", iface.Name)
	}
	return &sessionSocket{raw: raw, srcMAC: srcMAC, peerMAC: peerMAC, sessionID: sessionID}, nil
}

func (s *sessionSocket) sendPPP(proto uint16, payload []byte) error {
	data := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(data[0:2], proto)
	copy(data[2:], payload)

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr(s.srcMAC[:]),
		DstMAC:       net.HardwareAddr(s.peerMAC[:]),
		EthernetType: layers.EthernetTypePPPoESession,
	}
	po := &layers.PPPoE{
		Version:   1,
		Type:      1,
		Code:      layers.PPPoECodeSession,
		SessionId: s.sessionID,
		Length:    uint16(len(data)),
	}

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, po, gopacket.Payload(data)); err != nil {
		return flywallerrors.Wrap(err, flywallerrors.KindInternal, "serialize pppoe session frame")
	}

	_, err := s.raw.WriteTo(buf.Bytes(), &packet.Addr{HardwareAddr: net.HardwareAddr(s.peerMAC[:])})
	return err
}

// pppFrame is one parsed inbound PPP frame: protocol field plus
// payload.
type pppFrame struct {
	Proto   uint16
	Payload []byte
}

func (s *sessionSocket) readPPP() (*pppFrame, error) {
	buf := make([]byte, 1500)
	n, _, err := s.raw.ReadFrom(buf)
	if err != nil {
		return nil, err
	}
	pkt := gopacket.NewPacket(buf[:n], layers.LayerTypeEthernet, gopacket.NoCopy)
	pppoeLayer := pkt.Layer(layers.LayerTypePPPoE)
	if pppoeLayer == nil {
		return nil, flywallerrors.Errorf(flywallerrors.KindValidation, "pppoe: session frame missing PPPoE layer")
	}
	po := pppoeLayer.(*layers.PPPoE)
	if len(po.Payload) < 2 {
		return nil, flywallerrors.Errorf(flywallerrors.KindValidation, "pppoe: session frame too short for PPP protocol field")
	}
	return &pppFrame{Proto: binary.BigEndian.Uint16(po.Payload[0:2]), Payload: po.Payload[2:]}, nil
}

func (s *sessionSocket) Close() error {
	return s.raw.Close()
}
