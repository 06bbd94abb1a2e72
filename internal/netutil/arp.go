// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package netutil holds small link-layer helpers; today that is the
// ARP probe the LAN DHCPv4 server's periodic subnet scan uses.
package netutil

import (
	"encoding/binary"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/zhaojindong1001/landscape-sub000/internal/identity"
)

const (
	arpHTypeEthernet = 1
	arpPTypeIPv4     = 0x0800
	arpHLen          = 6
	arpPLen          = 4
	arpOpRequest     = 1
	arpOpReply       = 2
	etherTypeARP     = 0x0806
)

// ArpProbe sends an ARP who-has for target out ifaceName and reports
// whether any host answers within timeout — used by the DHCPv4 server's
// ARP scan to fill its neighbor table. The allocation pool does not
// probe an address before offering it.
func ArpProbe(ifaceName string, target net.IP, timeout time.Duration) (bool, error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return false, err
	}
	srcMAC, err := identity.MacAddrFromBytes(iface.HardwareAddr)
	if err != nil {
		return false, err
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(etherTypeARP)))
	if err != nil {
		return false, err
	}
	defer unix.Close(fd)

	addr := unix.SockaddrLinklayer{
		Protocol: htons(etherTypeARP),
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(fd, &addr); err != nil {
		return false, err
	}

	frame := buildArpRequest(srcMAC, target)
	if err := unix.Sendto(fd, frame, 0, &addr); err != nil {
		return false, err
	}

	deadline := time.Now().Add(timeout)
	buf := make([]byte, 128)
	for time.Now().Before(deadline) {
		if err := unix.SetNonblock(fd, true); err != nil {
			return false, err
		}
		n, _, err := unix.Recvfrom(fd, buf, 0)
		if err == nil && n > 14+8+10 && isArpReplyFor(buf[:n], target) {
			return true, nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false, nil
}

func buildArpRequest(srcMAC identity.MacAddr, target net.IP) []byte {
	broadcast := identity.MacAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	frame := make([]byte, 14+28)

	copy(frame[0:6], broadcast[:])
	copy(frame[6:12], srcMAC[:])
	binary.BigEndian.PutUint16(frame[12:14], etherTypeARP)

	body := frame[14:]
	binary.BigEndian.PutUint16(body[0:2], arpHTypeEthernet)
	binary.BigEndian.PutUint16(body[2:4], arpPTypeIPv4)
	body[4] = arpHLen
	body[5] = arpPLen
	binary.BigEndian.PutUint16(body[6:8], arpOpRequest)
	copy(body[8:14], srcMAC[:])
	copy(body[14:18], []byte{0, 0, 0, 0}) // sender IP unknown (probe, RFC 5227 style)
	copy(body[18:24], broadcast[:])
	copy(body[24:28], target.To4())

	return frame
}

func isArpReplyFor(frame []byte, target net.IP) bool {
	if len(frame) < 14+28 {
		return false
	}
	if binary.BigEndian.Uint16(frame[12:14]) != etherTypeARP {
		return false
	}
	body := frame[14:]
	if binary.BigEndian.Uint16(body[6:8]) != arpOpReply {
		return false
	}
	senderIP := net.IP(body[14:18])
	return senderIP.Equal(target.To4())
}

func htons(v uint16) uint16 {
	return (v<<8)&0xff00 | v>>8
}
