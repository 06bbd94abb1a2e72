// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dhcp4server

import (
	"context"
	"net"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/dhcpv4/server4"

	"github.com/zhaojindong1001/landscape-sub000/internal/clock"
	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
	"github.com/zhaojindong1001/landscape-sub000/internal/fastpath"
	"github.com/zhaojindong1001/landscape-sub000/internal/identity"
	"github.com/zhaojindong1001/landscape-sub000/internal/lifecycle"
	"github.com/zhaojindong1001/landscape-sub000/internal/logging"
	"github.com/zhaojindong1001/landscape-sub000/internal/netutil"
	"github.com/zhaojindong1001/landscape-sub000/internal/netutil/linkctl"
)

// ArpScanInterval is how often the server sweeps its subnet with ARP
// requests to populate the admin-facing neighbor table.
const ArpScanInterval = 30 * time.Second

// StaleArpEntry is how long an ARP table entry survives without a
// fresh answer before being evicted.
const StaleArpEntry = 5 * time.Minute

// Server runs one interface's DHCPv4 scope: the server4 UDP listener,
// the allocation pool, and the ARP scanner.
type Server struct {
	cfg   Config
	pool  *Pool
	maps  *fastpath.Maps
	clk   clock.Clock
	log   *logging.Logger
	arp   *arpTable
}

// Start implements lifecycle.Starter[Config]: it installs the server
// address if needed, pre-seeds static bindings, opens the DHCPv4
// socket, and runs the request loop and ARP scanner until ctx is
// cancelled.
func Start(maps *fastpath.Maps) lifecycle.Starter[Config] {
	return func(ctx context.Context, cfg Config) (*lifecycle.StatusHandle, error) {
		handle := lifecycle.NewStatusHandle("dhcp4server:" + cfg.IfaceName)
		handle.Set(lifecycle.StatusStaring)

		s := &Server{
			cfg:  cfg,
			pool: NewPool(cfg, clock.Real),
			maps: maps,
			clk:  clock.Real,
			log:  logging.WithComponent("dhcp4server").WithComponent(cfg.IfaceName),
			arp:  newArpTable(),
		}

		if err := linkctl.AddAddr(cfg.IfaceName, net.IPNet{IP: cfg.RouterIP, Mask: cfg.Subnet.Mask}); err != nil {
			handle.Set(lifecycle.StatusStop)
			return nil, err
		}

		conn, err := server4.NewIPv4UDPConn(cfg.IfaceName, &net.UDPAddr{Port: dhcpv4.ServerPort})
		if err != nil {
			handle.Set(lifecycle.StatusStop)
			return nil, flywallerrors.Wrapf(err, flywallerrors.KindUnavailable, "bind dhcp4 socket on %s", cfg.IfaceName)
		}

		handle.Set(lifecycle.StatusRunning)

		go s.serve(ctx, conn, handle)
		go s.scanARP(ctx, handle)

		go func() {
			<-ctx.Done()
			handle.Set(lifecycle.StatusStopping)
			conn.Close()
			handle.Set(lifecycle.StatusStop)
		}()

		return handle, nil
	}
}

func (s *Server) serve(ctx context.Context, conn net.PacketConn, handle *lifecycle.StatusHandle) {
	buf := make([]byte, 1500)
	for {
		if handle.Status() != lifecycle.StatusRunning {
			return
		}
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}
		req, err := dhcpv4.FromBytes(buf[:n])
		if err != nil {
			s.log.WithError(err).Debug("discard malformed dhcp4 packet")
			continue
		}
		reply := s.handle(req)
		if reply == nil {
			continue
		}
		if _, err := conn.WriteTo(reply.ToBytes(), addr); err != nil {
			s.log.WithError(err).Warn("write dhcp4 reply failed")
		}
	}
}

func (s *Server) handle(req *dhcpv4.DHCPv4) *dhcpv4.DHCPv4 {
	mac, err := identity.MacAddrFromBytes(req.ClientHWAddr)
	if err != nil {
		return nil
	}

	switch req.MessageType() {
	case dhcpv4.MessageTypeDiscover:
		return s.handleDiscover(req, mac)
	case dhcpv4.MessageTypeRequest:
		return s.handleRequest(req, mac)
	case dhcpv4.MessageTypeDecline:
		if ip := req.RequestedIPAddress(); ip != nil {
			s.pool.Decline(ip)
		}
		return nil
	default:
		return nil
	}
}

func (s *Server) handleDiscover(req *dhcpv4.DHCPv4, mac identity.MacAddr) *dhcpv4.DHCPv4 {
	ip, err := s.pool.Allocate(mac)
	if err != nil {
		s.log.WithError(err).Warn("dhcp4 pool exhausted", "mac", mac.String())
		return nil
	}
	opts := s.offerOptions(req, ip)
	reply, err := dhcpv4.NewReplyFromRequest(req, opts...)
	if err != nil {
		return nil
	}
	return reply
}

func (s *Server) handleRequest(req *dhcpv4.DHCPv4, mac identity.MacAddr) *dhcpv4.DHCPv4 {
	ip := req.RequestedIPAddress()
	if ip == nil {
		ip = req.ClientIPAddr
	}
	if ip == nil || ip.IsUnspecified() {
		return nil
	}

	if err := s.pool.Promote(mac, ip, req.HostName()); err != nil {
		return nil // out of range or taken by another client: silently ignore, client retries
	}

	opts := []dhcpv4.Modifier{
		dhcpv4.WithMessageType(dhcpv4.MessageTypeAck),
		dhcpv4.WithYourIP(ip),
		dhcpv4.WithServerIP(s.cfg.RouterIP),
		dhcpv4.WithRouter(s.cfg.RouterIP),
		dhcpv4.WithNetmask(s.cfg.Subnet.Mask),
		dhcpv4.WithDNS(s.cfg.DNS...),
		dhcpv4.WithLeaseTime(uint32(s.cfg.LeaseSeconds)),
	}
	reply, err := dhcpv4.NewReplyFromRequest(req, opts...)
	if err != nil {
		return nil
	}
	return reply
}

func (s *Server) offerOptions(req *dhcpv4.DHCPv4, ip net.IP) []dhcpv4.Modifier {
	return []dhcpv4.Modifier{
		dhcpv4.WithMessageType(dhcpv4.MessageTypeOffer),
		dhcpv4.WithYourIP(ip),
		dhcpv4.WithServerIP(s.cfg.RouterIP),
		dhcpv4.WithRouter(s.cfg.RouterIP),
		dhcpv4.WithNetmask(s.cfg.Subnet.Mask),
		dhcpv4.WithDNS(s.cfg.DNS...),
		dhcpv4.WithLeaseTime(OfferValidSeconds),
	}
}

func (s *Server) scanARP(ctx context.Context, handle *lifecycle.StatusHandle) {
	ticker := time.NewTicker(ArpScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if handle.Status() != lifecycle.StatusRunning {
				return
			}
			s.sweepSubnet()
			s.arp.evictStale(s.clk.Now(), StaleArpEntry)
		}
	}
}

func (s *Server) sweepSubnet() {
	base := ipToUint32(s.cfg.Subnet.IP)
	ones, bits := s.cfg.Subnet.Mask.Size()
	hostBits := bits - ones
	if hostBits <= 0 || hostBits > 16 {
		return // skip scanning enormous or degenerate ranges
	}
	count := uint32(1) << uint(hostBits)
	for i := uint32(1); i < count-1; i++ {
		candidate := uint32ToIP(base + i)
		if ok, _ := netutil.ArpProbe(s.cfg.IfaceName, candidate, 50*time.Millisecond); ok {
			s.arp.record(candidate, s.clk.Now())
		}
	}
}
