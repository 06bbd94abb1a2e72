// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dhcp6pd

import (
	"context"
	"crypto/rand"
	"net"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv6"
	"github.com/insomniacslk/dhcp/iana"

	"github.com/zhaojindong1001/landscape-sub000/internal/clock"
	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
	"github.com/zhaojindong1001/landscape-sub000/internal/fastpath"
	"github.com/zhaojindong1001/landscape-sub000/internal/flow"
	"github.com/zhaojindong1001/landscape-sub000/internal/identity"
	"github.com/zhaojindong1001/landscape-sub000/internal/lifecycle"
	"github.com/zhaojindong1001/landscape-sub000/internal/logging"
	"github.com/zhaojindong1001/landscape-sub000/internal/netutil/linkctl"
	"github.com/zhaojindong1001/landscape-sub000/internal/registry"
)

const (
	dhcp6ClientPort = 546
	dhcp6ServerPort = 547
)

var allDHCPRelayAgentsAndServers = net.ParseIP("ff02::1:2")

// Config is one WAN interface's DHCPv6-PD client configuration.
type Config struct {
	IfaceName    string
	MAC          identity.MacAddr
	DefaultRoute bool
	Weight       int
}

// Client drives the Solicit/Request/Bound/Renew/WaitToRebind/Rebind
// prefix-delegation state machine for one WAN interface.
type Client struct {
	cfg   Config
	clk   clock.Clock
	maps  *fastpath.Maps
	reg   *registry.PrefixRegistry
	wtreg *registry.WanTargetRegistry
	log   *logging.Logger

	conn *net.UDPConn

	clientID dhcpv6.Duid
	serverID dhcpv6.Duid
	iaid     [4]byte

	state   State
	xid     dhcpv6.TransactionID
	attempt int

	advertise *dhcpv6.Message
	reply     *dhcpv6.Message

	timing pdTiming
	gwAddr net.IP
}

// Start implements lifecycle.Starter[Config]. wtreg may be nil.
func Start(maps *fastpath.Maps, reg *registry.PrefixRegistry, wtreg *registry.WanTargetRegistry) lifecycle.Starter[Config] {
	return func(ctx context.Context, cfg Config) (*lifecycle.StatusHandle, error) {
		handle := lifecycle.NewStatusHandle("dhcp6pd:" + cfg.IfaceName)
		handle.Set(lifecycle.StatusStaring)

		iface, err := net.InterfaceByName(cfg.IfaceName)
		if err != nil {
			handle.Set(lifecycle.StatusStop)
			return nil, flywallerrors.Wrapf(err, flywallerrors.KindNotFound, "interface %s", cfg.IfaceName)
		}

		conn, err := net.ListenUDP("udp6", &net.UDPAddr{Port: dhcp6ClientPort, Zone: iface.Name})
		if err != nil {
			handle.Set(lifecycle.StatusStop)
			return nil, flywallerrors.Wrapf(err, flywallerrors.KindUnavailable, "bind dhcp6 socket on %s", cfg.IfaceName)
		}

		var iaid [4]byte
		copy(iaid[:], []byte{cfg.MAC[3], cfg.MAC[4], cfg.MAC[5], 0})

		c := &Client{
			cfg:   cfg,
			clk:   clock.Real,
			maps:  maps,
			reg:   reg,
			wtreg: wtreg,
			log:   logging.WithComponent("dhcp6pd").WithComponent(cfg.IfaceName),
			conn: conn,
			clientID: dhcpv6.Duid{
				Type:          dhcpv6.DUID_LL,
				HwType:        iana.HWTypeEthernet,
				LinkLayerAddr: net.HardwareAddr(cfg.MAC[:]),
			},
			iaid:  iaid,
			state: Solicit,
		}

		handle.Set(lifecycle.StatusRunning)
		go c.run(ctx, handle)

		return handle, nil
	}
}

func (c *Client) run(ctx context.Context, handle *lifecycle.StatusHandle) {
	defer func() {
		handle.Set(lifecycle.StatusStopping)
		c.teardown()
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
		case Solicit:
			c.runSolicit(ctx)
		case Request:
			c.runRequest(ctx)
		case Bound:
			c.runBound(ctx)
		case Renew:
			c.runRenew(ctx)
		case WaitToRebind:
			c.runWaitToRebind(ctx)
		case Rebind:
			c.runRebind(ctx)
		}
	}
}

func (c *Client) enterState(s State) {
	c.state = s
	c.attempt = 1
	c.xid = newXid()
}

func newXid() dhcpv6.TransactionID {
	var b [3]byte
	rand.Read(b[:])
	var tid dhcpv6.TransactionID
	copy(tid[:], b[:])
	return tid
}

func (c *Client) newIAPDRequest(msgType dhcpv6.MessageType) *dhcpv6.Message {
	msg := &dhcpv6.Message{
		MessageType:   msgType,
		TransactionID: c.xid,
	}
	msg.Options.Add(dhcpv6.OptClientID(c.clientID))
	msg.Options.Add(dhcpv6.OptElapsedTime(0))
	msg.Options.Add(dhcpv6.OptRequestedOption(dhcpv6.OptionDNSRecursiveNameServer))
	msg.Options.Add(&dhcpv6.OptIAPD{IaId: c.iaid})
	return msg
}

func (c *Client) runSolicit(ctx context.Context) {
	c.enterState(Solicit)
	for {
		msg := c.newIAPDRequest(dhcpv6.MessageTypeSolicit)
		if _, err := c.conn.WriteToUDP(msg.ToBytes(), &net.UDPAddr{IP: allDHCPRelayAgentsAndServers, Port: dhcp6ServerPort, Zone: c.cfg.IfaceName}); err != nil {
			c.log.WithError(err).Warn("send solicit failed")
		}

		reply, ok := c.waitReply(ctx, backoffFor(c.attempt))
		if !ok {
			c.attempt++
			continue
		}
		if reply.MessageType != dhcpv6.MessageTypeAdvertise {
			continue
		}
		c.advertise = reply
		sid := reply.Options.ServerID()
		if sid == nil {
			continue
		}
		c.serverID = *sid
		c.enterState(Request)
		return
	}
}

func (c *Client) runRequest(ctx context.Context) {
	for c.attempt <= maxRequestRetransmits {
		msg := c.newIAPDRequest(dhcpv6.MessageTypeRequest)
		msg.Options.Add(dhcpv6.OptServerID(c.serverID))
		if _, err := c.conn.WriteToUDP(msg.ToBytes(), &net.UDPAddr{IP: allDHCPRelayAgentsAndServers, Port: dhcp6ServerPort, Zone: c.cfg.IfaceName}); err != nil {
			c.log.WithError(err).Warn("send request failed")
		}

		reply, ok := c.waitReply(ctx, backoffFor(c.attempt))
		if !ok {
			c.attempt++
			continue
		}
		if !c.fromPinnedServer(reply) {
			continue
		}
		switch reply.MessageType {
		case dhcpv6.MessageTypeReply:
			c.acceptReply(reply)
			return
		}
	}
	c.enterState(Solicit)
}

func (c *Client) fromPinnedServer(msg *dhcpv6.Message) bool {
	sid := msg.Options.ServerID()
	if sid == nil {
		return false
	}
	return sid.String() == c.serverID.String()
}

func (c *Client) acceptReply(reply *dhcpv6.Message) {
	iapd := reply.Options.OneIAPD()
	if iapd == nil {
		c.log.Error("dhcp6pd reply missing IA_PD option")
		c.enterState(Solicit)
		return
	}
	var prefOpt *dhcpv6.OptIAPrefix
	for _, o := range iapd.Options {
		if p, ok := o.(*dhcpv6.OptIAPrefix); ok {
			prefOpt = p
			break
		}
	}
	if prefOpt == nil {
		c.log.Error("dhcp6pd IA_PD carries no prefix")
		c.enterState(Solicit)
		return
	}

	t1, t2 := iapd.T1, iapd.T2
	if t1 == 0 {
		t1 = prefOpt.ValidLifetime / 2
	}
	if t2 == 0 {
		t2 = prefOpt.ValidLifetime * 4 / 5
	}
	c.timing = pdTiming{T1: t1, T2: t2, PreferredLifetime: prefOpt.PreferredLifetime, ValidLifetime: prefOpt.ValidLifetime}
	c.reply = reply

	c.publishPrefix(prefOpt)
	c.enterState(Bound)
}

func (c *Client) publishPrefix(p *dhcpv6.OptIAPrefix) {
	prefixLen, _ := p.Prefix.Mask.Size()
	c.reg.Publish(registry.Prefix{
		IfaceName:    c.cfg.IfaceName,
		Prefix:       []byte(p.Prefix.IP.To16()),
		PrefixLen:    prefixLen,
		PreferredFor: int64(p.PreferredLifetime.Seconds()),
		ValidFor:     int64(p.ValidLifetime.Seconds()),
	})

	if c.gwAddr != nil {
		_ = linkctl.SetDefaultRoute(c.cfg.IfaceName, c.gwAddr)
	}

	ifIndex, err := linkctl.LinkIndex(c.cfg.IfaceName)
	if err != nil {
		c.log.WithError(err).Error("resolve ifindex failed")
		return
	}
	var prefixArr [16]byte
	copy(prefixArr[:], p.Prefix.IP.To16())
	_ = c.maps.UpsertWanIPBinding(fastpath.WanIPBindingKey{IfIndex: uint32(ifIndex), L3Proto: fastpath.L3IPv6},
		fastpath.WanIPBindingValue{Addr: prefixArr, Mask: uint8(prefixLen)})

	if c.wtreg != nil {
		c.wtreg.Publish(flow.WanTarget{
			IfIndex:      ifIndex,
			IfaceName:    c.cfg.IfaceName,
			Proto:        flow.L3IPv6,
			Weight:       c.cfg.Weight,
			IfaceIP:      p.Prefix.IP,
			GatewayIP:    c.gwAddr,
			DefaultRoute: c.cfg.DefaultRoute,
		})
	}
}

func (c *Client) runBound(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-c.clk.After(c.timing.T1):
		c.enterState(Renew)
	}
}

func (c *Client) runRenew(ctx context.Context) {
	deadline := c.clk.After(renewStateDuration(c.timing))
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			c.enterState(WaitToRebind)
			return
		default:
		}

		msg := c.newIAPDRequest(dhcpv6.MessageTypeRenew)
		msg.Options.Add(dhcpv6.OptServerID(c.serverID))
		if _, err := c.conn.WriteToUDP(msg.ToBytes(), &net.UDPAddr{IP: allDHCPRelayAgentsAndServers, Port: dhcp6ServerPort, Zone: c.cfg.IfaceName}); err != nil {
			c.log.WithError(err).Warn("send renew failed")
		}

		reply, ok := c.waitReply(ctx, backoffFor(c.attempt))
		if !ok {
			c.attempt++
			continue
		}
		if !c.fromPinnedServer(reply) {
			continue
		}
		if reply.MessageType == dhcpv6.MessageTypeReply {
			c.acceptReply(reply)
			return
		}
	}
}

func (c *Client) runWaitToRebind(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-c.clk.After(c.timing.T2 - renewWaitDelay(c.timing)):
		c.enterState(Rebind)
	}
}

func (c *Client) runRebind(ctx context.Context) {
	deadline := c.clk.After(rebindAbandonDelay())
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			c.reg.Withdraw(c.cfg.IfaceName)
			c.enterState(Solicit)
			return
		default:
		}

		msg := c.newIAPDRequest(dhcpv6.MessageTypeRebind)
		if _, err := c.conn.WriteToUDP(msg.ToBytes(), &net.UDPAddr{IP: allDHCPRelayAgentsAndServers, Port: dhcp6ServerPort, Zone: c.cfg.IfaceName}); err != nil {
			c.log.WithError(err).Warn("send rebind failed")
		}

		reply, ok := c.waitReply(ctx, backoffFor(c.attempt))
		if !ok {
			c.attempt++
			continue
		}
		if reply.MessageType == dhcpv6.MessageTypeReply {
			if sid := reply.Options.ServerID(); sid != nil {
				c.serverID = *sid
			}
			c.acceptReply(reply)
			return
		}
	}
}

func (c *Client) waitReply(ctx context.Context, timeout time.Duration) (*dhcpv6.Message, bool) {
	type result struct {
		msg *dhcpv6.Message
		src *net.UDPAddr
		err error
	}
	ch := make(chan result, 1)
	go func() {
		buf := make([]byte, 1500)
		n, src, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			ch <- result{err: err}
			return
		}
		msg, err := dhcpv6.FromBytes(buf[:n])
		ch <- result{msg: msg, src: src, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, false
	case <-c.clk.After(timeout):
		return nil, false
	case r := <-ch:
		if r.err != nil || r.msg.TransactionID != c.xid {
			return nil, false
		}
		c.gwAddr = r.src.IP
		return r.msg, true
	}
}

func backoffFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(4*attempt) * time.Second
}

func (c *Client) teardown() {
	defer c.conn.Close()
	if c.wtreg != nil {
		c.wtreg.Withdraw(c.cfg.IfaceName, flow.L3IPv6)
	}
	if c.state != Bound && c.state != Renew && c.state != WaitToRebind && c.state != Rebind {
		return
	}
	if c.reply == nil {
		return
	}
	release := &dhcpv6.Message{MessageType: dhcpv6.MessageTypeRelease, TransactionID: newXid()}
	release.Options.Add(dhcpv6.OptClientID(c.clientID))
	release.Options.Add(dhcpv6.OptServerID(c.serverID))
	release.Options.Add(&dhcpv6.OptIAPD{IaId: c.iaid})
	if _, err := c.conn.WriteToUDP(release.ToBytes(), &net.UDPAddr{IP: allDHCPRelayAgentsAndServers, Port: dhcp6ServerPort, Zone: c.cfg.IfaceName}); err != nil {
		c.log.WithError(err).Warn("send release on stop failed")
	}
	c.reg.Withdraw(c.cfg.IfaceName)
}
