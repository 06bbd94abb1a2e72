// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pppoe

import (
	"context"
	"net"
	"time"

	"github.com/gopacket/gopacket/layers"

	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
	"github.com/zhaojindong1001/landscape-sub000/internal/fastpath"
	"github.com/zhaojindong1001/landscape-sub000/internal/flow"
	"github.com/zhaojindong1001/landscape-sub000/internal/identity"
	"github.com/zhaojindong1001/landscape-sub000/internal/lifecycle"
	"github.com/zhaojindong1001/landscape-sub000/internal/logging"
	"github.com/zhaojindong1001/landscape-sub000/internal/netutil/linkctl"
	"github.com/zhaojindong1001/landscape-sub000/internal/registry"
)

// Client is one PPPoE WAN interface's negotiation state machine.
type Client struct {
	cfg   Config
	maps  *fastpath.Maps
	wtreg *registry.WanTargetRegistry
	log   *logging.Logger

	iface     *net.Interface
	state     State
	ident     uint8
	sessionID uint16
	peerMAC   identity.MacAddr
	localIP   net.IP
}

// Start implements lifecycle.Starter[Config]. wtreg may be nil.
func Start(maps *fastpath.Maps, wtreg *registry.WanTargetRegistry) lifecycle.Starter[Config] {
	return func(ctx context.Context, cfg Config) (*lifecycle.StatusHandle, error) {
		handle := lifecycle.NewStatusHandle("pppoe:" + cfg.IfaceName)
		handle.Set(lifecycle.StatusStaring)

		iface, err := net.InterfaceByName(cfg.IfaceName)
		if err != nil {
			handle.Set(lifecycle.StatusStop)
			return nil, flywallerrors.Wrapf(err, flywallerrors.KindNotFound, "interface %s", cfg.IfaceName)
		}

		c := &Client{
			cfg:   cfg,
			maps:  maps,
			wtreg: wtreg,
			log:   logging.WithComponent("pppoe").WithComponent(cfg.IfaceName),
			iface: iface,
			state: StateDiscovery,
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
		if ctx.Err() != nil || handle.Status() != lifecycle.StatusRunning {
			return
		}
		var err error
		switch c.state {
		case StateDiscovery:
			err = c.runDiscovery(ctx)
		case StateLCP:
			err = c.runLCP(ctx)
		case StateAuth:
			err = c.runAuth(ctx)
		case StateIPCP:
			err = c.runIPCP(ctx)
		case StateBound:
			err = c.runBound(ctx)
		case StateTerminated:
			return
		}
		if err != nil {
			c.log.WithError(err).Warn("pppoe negotiation step failed, restarting from discovery", "state", c.state.String())
			time.Sleep(2 * time.Second)
			c.state = StateDiscovery
		}
	}
}

func (c *Client) enterState(s State) {
	c.log.Info("pppoe state transition", "from", c.state.String(), "to", s.String())
	c.state = s
}

// runDiscovery sends PADI and waits for the first PADO, then PADR and
// waits for PADS, pinning the AC's MAC and the assigned session id.
func (c *Client) runDiscovery(ctx context.Context) error {
	sock, err := newDiscoverySocket(c.iface, c.cfg.MAC)
	if err != nil {
		return err
	}
	defer sock.Close()

	if err := sock.sendPADI(c.cfg.ServiceName); err != nil {
		return flywallerrors.Wrap(err, flywallerrors.KindUnavailable, "send PADI")
	}

	pado, err := c.waitDiscovery(sock, layers.PPPoECodePADO)
	if err != nil {
		return err
	}

	if err := sock.sendPADR(pado.PeerMAC, c.cfg.ServiceName); err != nil {
		return flywallerrors.Wrap(err, flywallerrors.KindUnavailable, "send PADR")
	}

	pads, err := c.waitDiscovery(sock, layers.PPPoECodePADS)
	if err != nil {
		return err
	}

	c.peerMAC = pads.PeerMAC
	c.sessionID = pads.SessionID
	c.enterState(StateLCP)
	return nil
}

func (c *Client) waitDiscovery(sock *discoverySocket, want layers.PPPoECode) (*discoveryFrame, error) {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		frame, err := sock.readFrame()
		if err != nil {
			return nil, err
		}
		if frame.Code == want {
			return frame, nil
		}
	}
	return nil, flywallerrors.Errorf(flywallerrors.KindTimeout, "pppoe: timed out waiting for discovery code %x", want)
}

// runLCP sends a minimal Configure-Request (no options) and accepts
// whatever the peer proposes, satisfying the common case where the
// access concentrator's default LCP options are acceptable as-is.
func (c *Client) runLCP(ctx context.Context) error {
	sock, err := newSessionSocket(c.iface, c.cfg.MAC, c.peerMAC, c.sessionID)
	if err != nil {
		return err
	}
	defer sock.Close()

	c.ident++
	req := encodeCtrl(ctrlPacket{Code: codeConfigureRequest, Identifier: c.ident})
	if err := sock.sendPPP(protoLCP, req); err != nil {
		return err
	}

	ackSeen := false
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) && !ackSeen {
		frame, err := sock.readPPP()
		if err != nil {
			return err
		}
		if frame.Proto != protoLCP {
			continue
		}
		pkt, err := decodeCtrl(frame.Payload)
		if err != nil {
			continue
		}
		switch pkt.Code {
		case codeConfigureRequest:
			// Peer's request: ack it unconditionally (no options of
			// our own to reject).
			ack := encodeCtrl(ctrlPacket{Code: codeConfigureAck, Identifier: pkt.Identifier, Data: pkt.Data})
			_ = sock.sendPPP(protoLCP, ack)
		case codeConfigureAck:
			if pkt.Identifier == c.ident {
				ackSeen = true
			}
		}
	}
	if !ackSeen {
		return flywallerrors.Errorf(flywallerrors.KindTimeout, "pppoe: LCP Configure-Ack not received")
	}

	if c.cfg.Username != "" {
		c.enterState(StateAuth)
	} else {
		c.enterState(StateIPCP)
	}
	return nil
}

// runAuth performs PAP authentication (RFC 1334 §2): send one
// Authenticate-Request, wait for Ack.
func (c *Client) runAuth(ctx context.Context) error {
	sock, err := newSessionSocket(c.iface, c.cfg.MAC, c.peerMAC, c.sessionID)
	if err != nil {
		return err
	}
	defer sock.Close()

	c.ident++
	if err := sock.sendPPP(protoPAP, papRequest(c.ident, c.cfg.Username, c.cfg.Password)); err != nil {
		return err
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		frame, err := sock.readPPP()
		if err != nil {
			return err
		}
		if frame.Proto != protoPAP {
			continue
		}
		pkt, err := decodeCtrl(frame.Payload)
		if err != nil {
			continue
		}
		switch pkt.Code {
		case papAuthenticateAck:
			c.enterState(StateIPCP)
			return nil
		case papAuthenticateNak:
			return flywallerrors.Errorf(flywallerrors.KindPermission, "pppoe: PAP authentication rejected")
		}
	}
	return flywallerrors.Errorf(flywallerrors.KindTimeout, "pppoe: PAP Ack not received")
}

// runIPCP negotiates an IPv4 address: request 0.0.0.0, accept the
// peer's Configure-Nak-suggested address, then re-request it until
// acked.
func (c *Client) runIPCP(ctx context.Context) error {
	sock, err := newSessionSocket(c.iface, c.cfg.MAC, c.peerMAC, c.sessionID)
	if err != nil {
		return err
	}
	defer sock.Close()

	want := net.IPv4zero
	for attempt := 0; attempt < maxNegotiateRetries; attempt++ {
		c.ident++
		opts := encodeOptions([]lcpOption{ipcpAddressOption(want)})
		if err := sock.sendPPP(protoIPCP, encodeCtrl(ctrlPacket{Code: codeConfigureRequest, Identifier: c.ident, Data: opts})); err != nil {
			return err
		}

		pkt, err := c.waitIPCPReply(sock, c.ident)
		if err != nil {
			return err
		}

		switch pkt.Code {
		case codeConfigureAck:
			c.localIP = want
			c.enterState(StateBound)
			return nil
		case codeConfigureNak:
			for _, o := range decodeOptions(pkt.Data) {
				if o.Type == ipcpOptIPAddress && len(o.Value) == 4 {
					want = net.IP(o.Value)
				}
			}
		case codeConfigureReject:
			return flywallerrors.Errorf(flywallerrors.KindConflict, "pppoe: IPCP address option rejected by peer")
		}
	}
	return flywallerrors.Errorf(flywallerrors.KindTimeout, "pppoe: IPCP negotiation did not converge")
}

func (c *Client) waitIPCPReply(sock *sessionSocket, ident uint8) (ctrlPacket, error) {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		frame, err := sock.readPPP()
		if err != nil {
			return ctrlPacket{}, err
		}
		if frame.Proto != protoIPCP {
			continue
		}
		pkt, err := decodeCtrl(frame.Payload)
		if err != nil || pkt.Identifier != ident {
			continue
		}
		return pkt, nil
	}
	return ctrlPacket{}, flywallerrors.Errorf(flywallerrors.KindTimeout, "pppoe: IPCP reply not received")
}

// runBound installs the negotiated address and publishes the WAN
// target, then idles until the session drops.
func (c *Client) runBound(ctx context.Context) error {
	if err := linkctl.AddAddr(c.cfg.IfaceName, net.IPNet{IP: c.localIP, Mask: net.CIDRMask(32, 32)}); err != nil {
		c.log.WithError(err).Warn("install pppoe address failed")
	}
	if c.cfg.DefaultRoute {
		if err := linkctl.SetDefaultRoute(c.cfg.IfaceName, c.localIP); err != nil {
			c.log.WithError(err).Warn("set pppoe default route failed")
		}
	}

	ifIndex, err := linkctl.LinkIndex(c.cfg.IfaceName)
	if err != nil {
		return flywallerrors.Wrap(err, flywallerrors.KindNotFound, "resolve pppoe ifindex")
	}
	var mac [6]byte
	copy(mac[:], c.peerMAC[:])
	addr16 := toAddr16(c.localIP)
	if err := c.maps.UpsertWanIPBinding(
		fastpath.WanIPBindingKey{IfIndex: uint32(ifIndex), L3Proto: fastpath.L3IPv4},
		fastpath.WanIPBindingValue{Addr: addr16, Gateway: addr16, Mask: 32, HasMAC: true, MAC: mac},
	); err != nil {
		c.log.WithError(err).Warn("publish pppoe WAN binding failed")
	}

	if c.wtreg != nil {
		peerMAC := c.peerMAC
		c.wtreg.Publish(flow.WanTarget{
			IfIndex:      ifIndex,
			IfaceName:    c.cfg.IfaceName,
			Proto:        flow.L3IPv4,
			Weight:       c.cfg.Weight,
			MAC:          &peerMAC,
			IfaceIP:      c.localIP,
			GatewayIP:    c.localIP,
			DefaultRoute: c.cfg.DefaultRoute,
		})
	}

	sock, err := newSessionSocket(c.iface, c.cfg.MAC, c.peerMAC, c.sessionID)
	if err != nil {
		return err
	}
	defer sock.Close()

	for {
		if ctx.Err() != nil {
			return nil
		}
		frame, err := sock.readPPP()
		if err != nil {
			return err
		}
		if frame.Proto != protoLCP {
			continue
		}
		pkt, err := decodeCtrl(frame.Payload)
		if err == nil && pkt.Code == codeTerminateRequest {
			_ = sock.sendPPP(protoLCP, encodeCtrl(ctrlPacket{Code: codeTerminateAck, Identifier: pkt.Identifier}))
			c.enterState(StateTerminated)
			return nil
		}
	}
}

func (c *Client) teardown() {
	if ifIndex, err := linkctl.LinkIndex(c.cfg.IfaceName); err == nil {
		_ = c.maps.DeleteWanIPBinding(fastpath.WanIPBindingKey{IfIndex: uint32(ifIndex), L3Proto: fastpath.L3IPv4})
	}
	if c.wtreg != nil {
		c.wtreg.Withdraw(c.cfg.IfaceName, flow.L3IPv4)
	}
	if c.localIP != nil {
		_ = linkctl.DelAddr(c.cfg.IfaceName, net.IPNet{IP: c.localIP, Mask: net.CIDRMask(32, 32)})
	}
	if c.sessionID != 0 {
		sock, err := newDiscoverySocket(c.iface, c.cfg.MAC)
		if err == nil {
			_ = sock.sendPADT(c.peerMAC, c.sessionID)
			sock.Close()
		}
	}
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
