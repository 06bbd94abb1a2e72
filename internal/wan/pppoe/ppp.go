// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pppoe

import (
	"encoding/binary"
	"net"

	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
)

// PPP protocol field values (RFC 1661 §2), carried inside the
// PPPoE-session payload.
const (
	protoLCP  uint16 = 0xc021
	protoPAP  uint16 = 0xc023
	protoIPCP uint16 = 0x8021
	protoIPv4 uint16 = 0x0021
)

// LCP/IPCP share a code space (RFC 1661 §5).
const (
	codeConfigureRequest uint8 = 1
	codeConfigureAck     uint8 = 2
	codeConfigureNak     uint8 = 3
	codeConfigureReject  uint8 = 4
	codeTerminateRequest uint8 = 5
	codeTerminateAck     uint8 = 6
)

// PAP codes (RFC 1334 §2).
const (
	papAuthenticateRequest uint8 = 1
	papAuthenticateAck     uint8 = 2
	papAuthenticateNak     uint8 = 3
)

const ipcpOptIPAddress uint8 = 3

// ctrlPacket is a decoded LCP/IPCP control packet: code, identifier,
// and raw option/data bytes. There is no mature third-party codec for
// PPP's control protocols in the dependency set this client draws
// from, so the wire format is framed by hand here, the way the
// DHCPv4 client hand-frames its raw Ethernet broadcast path.
type ctrlPacket struct {
	Code       uint8
	Identifier uint8
	Data       []byte
}

func encodeCtrl(p ctrlPacket) []byte {
	buf := make([]byte, 4+len(p.Data))
	buf[0] = p.Code
	buf[1] = p.Identifier
	binary.BigEndian.PutUint16(buf[2:4], uint16(4+len(p.Data)))
	copy(buf[4:], p.Data)
	return buf
}

func decodeCtrl(b []byte) (ctrlPacket, error) {
	if len(b) < 4 {
		return ctrlPacket{}, flywallerrors.Errorf(flywallerrors.KindValidation, "pppoe: control packet too short")
	}
	length := binary.BigEndian.Uint16(b[2:4])
	if int(length) > len(b) {
		return ctrlPacket{}, flywallerrors.Errorf(flywallerrors.KindValidation, "pppoe: control packet length mismatch")
	}
	return ctrlPacket{Code: b[0], Identifier: b[1], Data: append([]byte(nil), b[4:length]...)}, nil
}

// lcpOption is one Type-Length-Value LCP/IPCP configuration option.
type lcpOption struct {
	Type  uint8
	Value []byte
}

func encodeOptions(opts []lcpOption) []byte {
	var out []byte
	for _, o := range opts {
		out = append(out, o.Type, uint8(2+len(o.Value)))
		out = append(out, o.Value...)
	}
	return out
}

func decodeOptions(b []byte) []lcpOption {
	var out []lcpOption
	for len(b) >= 2 {
		l := int(b[1])
		if l < 2 || l > len(b) {
			break
		}
		out = append(out, lcpOption{Type: b[0], Value: append([]byte(nil), b[2:l]...)})
		b = b[l:]
	}
	return out
}

func ipcpAddressOption(ip net.IP) lcpOption {
	v4 := ip.To4()
	if v4 == nil {
		v4 = net.IPv4zero.To4()
	}
	return lcpOption{Type: ipcpOptIPAddress, Value: v4}
}

// papRequest encodes a PAP Authenticate-Request (RFC 1334 §2.1):
// peer-id length, peer-id, password length, password.
func papRequest(identifier uint8, user, pass string) []byte {
	data := make([]byte, 0, 2+len(user)+len(pass))
	data = append(data, uint8(len(user)))
	data = append(data, user...)
	data = append(data, uint8(len(pass)))
	data = append(data, pass...)
	return encodeCtrl(ctrlPacket{Code: papAuthenticateRequest, Identifier: identifier, Data: data})
}
