// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dhcp4client

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"net"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"

	"github.com/zhaojindong1001/landscape-sub000/internal/clock"
	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
	"github.com/zhaojindong1001/landscape-sub000/internal/fastpath"
	"github.com/zhaojindong1001/landscape-sub000/internal/identity"
	"github.com/zhaojindong1001/landscape-sub000/internal/lifecycle"
	"github.com/zhaojindong1001/landscape-sub000/internal/flow"
	"github.com/zhaojindong1001/landscape-sub000/internal/logging"
	"github.com/zhaojindong1001/landscape-sub000/internal/netutil/linkctl"
	"github.com/zhaojindong1001/landscape-sub000/internal/registry"
)

// Config is one WAN interface's DHCPv4 client configuration.
type Config struct {
	IfaceName    string
	MAC          identity.MacAddr
	DefaultRoute bool
	Weight       int
}

// Client drives the Discovering/Requesting/Bound/Renewing/
// WaitToRebind/Rebind state machine for one WAN interface.
type Client struct {
	cfg  Config
	clk  clock.Clock
	maps *fastpath.Maps
	reg  *registry.WanTargetRegistry
	log  *logging.Logger

	state   State
	xid     uint32
	attempt int

	offer *dhcpv4.DHCPv4
	ack   *dhcpv4.DHCPv4

	boundAddr net.IP
	gateway   net.IP
	mask      net.IPMask
	serverID  net.IP
	timing    leaseTiming
}

// Start implements lifecycle.Starter[Config]. reg may be nil, in which
// case FlowAssembler's live-target view simply never hears about this
// WAN (tests exercising the DHCP state machine alone don't need one).
func Start(maps *fastpath.Maps, reg *registry.WanTargetRegistry) lifecycle.Starter[Config] {
	return func(ctx context.Context, cfg Config) (*lifecycle.StatusHandle, error) {
		handle := lifecycle.NewStatusHandle("dhcp4client:" + cfg.IfaceName)
		handle.Set(lifecycle.StatusStaring)

		iface, err := net.InterfaceByName(cfg.IfaceName)
		if err != nil {
			handle.Set(lifecycle.StatusStop)
			return nil, flywallerrors.Wrapf(err, flywallerrors.KindNotFound, "interface %s", cfg.IfaceName)
		}

		c := &Client{
			cfg:   cfg,
			clk:   clock.Real,
			maps:  maps,
			reg:   reg,
			log:   logging.WithComponent("dhcp4client").WithComponent(cfg.IfaceName),
			state: Discovering,
		}

		sock, err := newAdaptiveSocket(iface, cfg.MAC)
		if err != nil {
			handle.Set(lifecycle.StatusStop)
			return nil, err
		}

		handle.Set(lifecycle.StatusRunning)
		go c.run(ctx, sock, handle)

		return handle, nil
	}
}

func (c *Client) run(ctx context.Context, sock *adaptiveSocket, handle *lifecycle.StatusHandle) {
	defer func() {
		handle.Set(lifecycle.StatusStopping)
		c.teardown(sock)
		handle.Set(lifecycle.StatusStop)
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		if handle.Status() != lifecycle.StatusRunning {
			return
		}

		switch c.state {
		case Discovering:
			if !c.runDiscovering(ctx, sock) {
				return
			}
		case Requesting:
			c.runRequesting(ctx, sock)
		case Bound:
			c.runBound(ctx)
		case Renewing:
			c.runRenewing(ctx, sock)
		case WaitToRebind:
			c.runWaitToRebind(ctx)
		case Rebind:
			c.runRebind(ctx, sock)
		}
	}
}

func (c *Client) enterState(s State) {
	c.state = s
	c.attempt = 1
	if s == Discovering || s == Rebind {
		c.xid = newXid()
	}
}

func newXid() uint32 {
	var b [4]byte
	rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

func (c *Client) runDiscovering(ctx context.Context, sock *adaptiveSocket) bool {
	sock.SwitchToBroadcast()
	c.enterState(Discovering)

	for timeouts := 0; timeouts < maxDiscoverTimeouts; {
		msg, err := dhcpv4.NewDiscovery(net.HardwareAddr(c.cfg.MAC[:]), dhcpv4.WithTransactionID(toTID(c.xid)))
		if err != nil {
			c.log.WithError(err).Error("build discover failed")
			return false
		}
		if err := sock.SendBroadcast(msg.ToBytes(), net.IPv4zero); err != nil {
			c.log.WithError(err).Warn("send discover failed")
		}

		reply, ok := c.waitReply(ctx, sock, backoffFor(c.attempt))
		if !ok {
			timeouts++
			c.attempt++
			continue
		}
		if reply.MessageType() != dhcpv4.MessageTypeOffer {
			continue
		}
		c.offer = reply
		c.enterState(Requesting)
		return true
	}
	c.log.Error("dhcp4 client aborting: no offer after repeated discover timeouts")
	return false
}

func (c *Client) runRequesting(ctx context.Context, sock *adaptiveSocket) {
	for c.attempt <= maxRequestRetransmits {
		msg, err := dhcpv4.NewRequestFromOffer(c.offer, dhcpv4.WithTransactionID(toTID(c.xid)))
		if err != nil {
			c.log.WithError(err).Error("build request failed")
			c.enterState(Discovering)
			return
		}
		if err := sock.SendBroadcast(msg.ToBytes(), net.IPv4zero); err != nil {
			c.log.WithError(err).Warn("send request failed")
		}

		reply, ok := c.waitReply(ctx, sock, backoffFor(c.attempt))
		if !ok {
			c.attempt++
			continue
		}
		switch reply.MessageType() {
		case dhcpv4.MessageTypeAck:
			c.acceptAck(reply)
			return
		case dhcpv4.MessageTypeNak:
			c.enterState(Discovering)
			return
		}
	}
	c.enterState(Discovering)
}

func (c *Client) acceptAck(ack *dhcpv4.DHCPv4) {
	lease := ack.IPAddressLeaseTime(0)
	c.timing = computeLeaseTiming(lease, renewOptFromAck(ack), rebindOptFromAck(ack))
	c.gateway = firstOr(ack.Router(), nil)
	c.mask = ack.SubnetMask()
	c.serverID = ack.ServerIdentifier()
	c.boundAddr = ack.YourIPAddr
	c.ack = ack

	c.publishWanTarget()
	c.enterState(Bound)
}

func (c *Client) publishWanTarget() {
	ifIndex, err := linkctl.LinkIndex(c.cfg.IfaceName)
	if err != nil {
		c.log.WithError(err).Error("resolve ifindex failed")
		return
	}
	prefix := net.IPNet{IP: c.boundAddr.Mask(c.mask), Mask: c.mask}
	if err := linkctl.AddAddr(c.cfg.IfaceName, net.IPNet{IP: c.boundAddr, Mask: c.mask}); err != nil {
		c.log.WithError(err).Error("install address failed")
	}
	if c.cfg.DefaultRoute && c.gateway != nil {
		if err := linkctl.SetDefaultRoute(c.cfg.IfaceName, c.gateway); err != nil {
			c.log.WithError(err).Error("install default route failed")
		}
	}

	var macArr [6]byte
	copy(macArr[:], c.cfg.MAC[:])
	_ = c.maps.UpsertWanIPBinding(fastpath.WanIPBindingKey{IfIndex: uint32(ifIndex), L3Proto: fastpath.L3IPv4},
		fastpath.WanIPBindingValue{
			Addr:    toAddr16(c.boundAddr),
			Gateway: toAddr16(c.gateway),
			Mask:    uint8(maskBits(c.mask)),
			HasMAC:  true,
			MAC:     macArr,
		})
	_ = c.maps.UpsertRtLan(fastpath.L3IPv4, fastpath.RtLanKey{PrefixLen: uint32(maskBits(c.mask)), Addr: toAddr16(prefix.IP)},
		fastpath.RtLanValue{IfIndex: uint32(ifIndex), Addr: toAddr16(prefix.IP), MAC: macArr, HasMAC: true})

	if c.reg != nil {
		mac := c.cfg.MAC
		c.reg.Publish(flow.WanTarget{
			IfIndex:      ifIndex,
			IfaceName:    c.cfg.IfaceName,
			Proto:        flow.L3IPv4,
			Weight:       c.cfg.Weight,
			MAC:          &mac,
			IfaceIP:      c.boundAddr,
			GatewayIP:    c.gateway,
			DefaultRoute: c.cfg.DefaultRoute,
		})
	}
}

func (c *Client) runBound(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-c.clk.After(c.timing.Renew):
		c.enterState(Renewing)
	}
}

func (c *Client) runRenewing(ctx context.Context, sock *adaptiveSocket) {
	if err := sock.SwitchToUnicast(c.boundAddr); err != nil {
		c.log.WithError(err).Error("switch to unicast failed")
		c.enterState(Discovering)
		return
	}
	deadline := c.clk.After(renewingToWaitDelay(c.timing))
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			c.enterState(WaitToRebind)
			return
		default:
		}
		msg, err := dhcpv4.NewRenewFromAck(c.ack, dhcpv4.WithTransactionID(toTID(c.xid)))
		if err != nil {
			c.log.WithError(err).Error("build renew failed")
			c.enterState(Discovering)
			return
		}
		_ = sock.SendUnicast(msg.ToBytes(), c.serverID)

		reply, ok := c.waitReply(ctx, sock, backoffFor(c.attempt))
		if !ok {
			c.attempt++
			continue
		}
		switch reply.MessageType() {
		case dhcpv4.MessageTypeAck:
			c.acceptAck(reply)
			return
		case dhcpv4.MessageTypeNak:
			c.enterState(Discovering)
			return
		}
	}
}

func (c *Client) runWaitToRebind(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-c.clk.After(c.timing.Rebind - c.timing.Renew - renewingToWaitDelay(c.timing)):
		c.enterState(Rebind)
	}
}

func (c *Client) runRebind(ctx context.Context, sock *adaptiveSocket) {
	sock.SwitchToBroadcast()
	deadline := c.clk.After(c.timing.Lease - c.timing.Rebind)
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			c.enterState(Discovering)
			return
		default:
		}
		msg, err := dhcpv4.NewRebindFromAck(c.ack, dhcpv4.WithTransactionID(toTID(c.xid)))
		if err != nil {
			c.log.WithError(err).Error("build rebind failed")
			c.enterState(Discovering)
			return
		}
		_ = sock.SendBroadcast(msg.ToBytes(), c.boundAddr)

		reply, ok := c.waitReply(ctx, sock, backoffFor(c.attempt))
		if !ok {
			c.attempt++
			continue
		}
		switch reply.MessageType() {
		case dhcpv4.MessageTypeAck:
			c.acceptAck(reply)
			return
		case dhcpv4.MessageTypeNak:
			c.enterState(Discovering)
			return
		}
	}
}

func (c *Client) waitReply(ctx context.Context, sock *adaptiveSocket, timeout time.Duration) (*dhcpv4.DHCPv4, bool) {
	type result struct {
		msg *dhcpv4.DHCPv4
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := sock.ReadMessage()
		ch <- result{msg, err}
	}()

	select {
	case <-ctx.Done():
		return nil, false
	case <-c.clk.After(timeout):
		return nil, false
	case r := <-ch:
		if r.err != nil || r.msg.TransactionID != toTID(c.xid) {
			return nil, false
		}
		return r.msg, true
	}
}

func (c *Client) teardown(sock *adaptiveSocket) {
	sock.Close()
	if c.boundAddr == nil {
		return
	}
	prefix := net.IPNet{IP: c.boundAddr, Mask: c.mask}
	if err := linkctl.DelAddr(c.cfg.IfaceName, prefix); err != nil {
		c.log.WithError(err).Warn("remove address on stop failed")
	}
	if ifIndex, err := linkctl.LinkIndex(c.cfg.IfaceName); err == nil {
		_ = c.maps.DeleteWanIPBinding(fastpath.WanIPBindingKey{IfIndex: uint32(ifIndex), L3Proto: fastpath.L3IPv4})
	}
	if c.reg != nil {
		c.reg.Withdraw(c.cfg.IfaceName, flow.L3IPv4)
	}
}

func renewOptFromAck(ack *dhcpv4.DHCPv4) *time.Duration {
	d := ack.IPAddressRenewalTime(0)
	if d == 0 {
		return nil
	}
	return &d
}

func rebindOptFromAck(ack *dhcpv4.DHCPv4) *time.Duration {
	d := ack.IPAddressRebindingTime(0)
	if d == 0 {
		return nil
	}
	return &d
}

func firstOr(ips []net.IP, fallback net.IP) net.IP {
	if len(ips) > 0 {
		return ips[0]
	}
	return fallback
}

func maskBits(mask net.IPMask) int {
	ones, _ := mask.Size()
	return ones
}

func toAddr16(ip net.IP) [16]byte {
	var out [16]byte
	if v4 := ip.To4(); v4 != nil {
		copy(out[:4], v4)
	} else {
		copy(out[:], ip.To16())
	}
	return out
}

func toTID(xid uint32) dhcpv4.TransactionID {
	var tid dhcpv4.TransactionID
	binary.BigEndian.PutUint32(tid[:], xid)
	return tid
}
