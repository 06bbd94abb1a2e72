// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ra

import (
	"context"
	"net"
	"time"

	"github.com/mdlayher/ndp"

	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
	"github.com/zhaojindong1001/landscape-sub000/internal/fastpath"
	"github.com/zhaojindong1001/landscape-sub000/internal/flow"
	"github.com/zhaojindong1001/landscape-sub000/internal/identity"
	"github.com/zhaojindong1001/landscape-sub000/internal/lifecycle"
	"github.com/zhaojindong1001/landscape-sub000/internal/logging"
	"github.com/zhaojindong1001/landscape-sub000/internal/netutil/linkctl"
	"github.com/zhaojindong1001/landscape-sub000/internal/registry"
)

// flagManagedOther is the default RA flag byte: M=1, O=1, all other
// bits clear (0xC0).
const flagManagedOther = 0xC0

var allRouters = net.ParseIP("ff02::2")

type subnetAd struct {
	prefix net.IP
	len    int
	router net.IP
}

// Announcer runs the RA loop for one LAN interface.
type Announcer struct {
	cfg  Config
	reg  *registry.PrefixRegistry
	maps *fastpath.Maps
	log  *logging.Logger

	conn    *ndp.Conn
	ownLL   net.IP
	ownMAC  identity.MacAddr
	ifIndex int

	neighbors *neighborTable
	installed []subnetAd
}

// Start implements lifecycle.Starter[Config].
func Start(reg *registry.PrefixRegistry, maps *fastpath.Maps) lifecycle.Starter[Config] {
	return func(ctx context.Context, cfg Config) (*lifecycle.StatusHandle, error) {
		handle := lifecycle.NewStatusHandle("ra:" + cfg.IfaceName)
		handle.Set(lifecycle.StatusStaring)

		if err := cfg.Validate(); err != nil {
			handle.Set(lifecycle.StatusStop)
			return nil, err
		}

		iface, err := net.InterfaceByName(cfg.IfaceName)
		if err != nil {
			handle.Set(lifecycle.StatusStop)
			return nil, flywallerrors.Wrapf(err, flywallerrors.KindNotFound, "interface %s", cfg.IfaceName)
		}

		conn, ll, err := ndp.Listen(iface, ndp.LinkLocal)
		if err != nil {
			handle.Set(lifecycle.StatusStop)
			return nil, flywallerrors.Wrapf(err, flywallerrors.KindUnavailable, "open ndp socket on %s", cfg.IfaceName)
		}
		if err := conn.JoinGroup(allRouters); err != nil {
			conn.Close()
			handle.Set(lifecycle.StatusStop)
			return nil, flywallerrors.Wrapf(err, flywallerrors.KindUnavailable, "join ff02::2 on %s", cfg.IfaceName)
		}

		var mac identity.MacAddr
		copy(mac[:], iface.HardwareAddr)

		a := &Announcer{
			cfg:       cfg,
			reg:       reg,
			maps:      maps,
			log:       logging.WithComponent("ra").WithComponent(cfg.IfaceName),
			conn:      conn,
			ownLL:     ll,
			ownMAC:    mac,
			ifIndex:   iface.Index,
			neighbors: newNeighborTable(),
		}

		handle.Set(lifecycle.StatusRunning)
		go a.run(ctx, handle)

		return handle, nil
	}
}

func (a *Announcer) run(ctx context.Context, handle *lifecycle.StatusHandle) {
	defer func() {
		handle.Set(lifecycle.StatusStopping)
		a.teardown()
		handle.Set(lifecycle.StatusStop)
	}()

	prefixChanges := make(chan struct{}, 1)
	var cancels []func()
	for _, src := range a.cfg.PDSources {
		ch, cancel := a.reg.Watch(src.UpstreamIface)
		cancels = append(cancels, cancel)
		go func(ch <-chan registry.Prefix) {
			for range ch {
				select {
				case prefixChanges <- struct{}{}:
				default:
				}
			}
		}(ch)
	}
	defer func() {
		for _, c := range cancels {
			c()
		}
	}()

	a.resolveSources()
	a.sendAdvertisement(nil)

	ticker := time.NewTicker(a.cfg.adInterval())
	defer ticker.Stop()
	sweepTicker := time.NewTicker(a.cfg.adInterval())
	defer sweepTicker.Stop()

	msgCh := make(chan ndp.Message, 8)
	go a.readLoop(ctx, msgCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sendAdvertisement(nil)
		case <-prefixChanges:
			a.resolveSources()
			a.sendAdvertisement(nil)
		case <-sweepTicker.C:
			a.neighbors.evictStale(time.Now(), a.cfg.adInterval())
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			a.handleMessage(msg)
		}
		if handle.Status() != lifecycle.StatusRunning {
			return
		}
	}
}

func (a *Announcer) readLoop(ctx context.Context, out chan<- ndp.Message) {
	defer close(out)
	for {
		if ctx.Err() != nil {
			return
		}
		msg, _, _, err := a.conn.ReadFrom()
		if err != nil {
			return
		}
		select {
		case out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (a *Announcer) handleMessage(msg ndp.Message) {
	switch m := msg.(type) {
	case *ndp.RouterSolicitation:
		a.sendAdvertisement(nil)
	case *ndp.NeighborAdvertisement:
		var mac identity.MacAddr
		for _, opt := range m.Options {
			if lla, ok := opt.(*ndp.LinkLayerAddress); ok {
				copy(mac[:], lla.Addr)
			}
		}
		a.neighbors.record(mac, m.TargetAddress, time.Now(), time.Now().Unix())
	}
}

func (a *Announcer) resolveSources() {
	var ads []subnetAd
	for _, s := range a.cfg.StaticSources {
		subnet, router, err := flow.AllocateSubnet(s.BasePrefix, s.BaseLen, s.SubLen, s.SubIndex)
		if err != nil {
			a.log.WithError(err).Warn("static sub-prefix allocation failed")
			continue
		}
		ads = append(ads, subnetAd{prefix: subnet, len: s.SubLen, router: router})
	}
	for _, s := range a.cfg.PDSources {
		p, ok := a.reg.Current(s.UpstreamIface)
		if !ok {
			continue
		}
		subnet, router, err := flow.AllocateSubnet(net.IP(p.Prefix), p.PrefixLen, s.SubLen, s.SubIndex)
		if err != nil {
			a.log.WithError(err).Warn("pd sub-prefix allocation failed")
			continue
		}
		ads = append(ads, subnetAd{prefix: subnet, len: s.SubLen, router: router})
	}

	a.reconcileAddrs(ads)
	a.installed = ads
}

func (a *Announcer) reconcileAddrs(want []subnetAd) {
	for _, ad := range a.installed {
		still := false
		for _, w := range want {
			if w.router.Equal(ad.router) && w.len == ad.len {
				still = true
				break
			}
		}
		if !still {
			_ = linkctl.DelAddr(a.cfg.IfaceName, net.IPNet{IP: ad.router, Mask: net.CIDRMask(ad.len, 128)})
			_ = a.maps.DeleteRtLan(fastpath.L3IPv6, fastpath.RtLanKey{PrefixLen: uint32(ad.len), Addr: toAddr16(ad.prefix)})
		}
	}
	for _, ad := range want {
		_ = linkctl.AddAddr(a.cfg.IfaceName, net.IPNet{IP: ad.router, Mask: net.CIDRMask(ad.len, 128)})
		var macArr [6]byte
		copy(macArr[:], a.ownMAC[:])
		_ = a.maps.UpsertRtLan(fastpath.L3IPv6, fastpath.RtLanKey{PrefixLen: uint32(ad.len), Addr: toAddr16(ad.prefix)},
			fastpath.RtLanValue{IfIndex: uint32(a.ifIndex), Addr: toAddr16(ad.router), MAC: macArr, HasMAC: true})
	}
}

func (a *Announcer) sendAdvertisement(dst net.IP) {
	if dst == nil {
		dst = allRouters
	}

	opts := []ndp.Option{
		&ndp.LinkLayerAddress{Direction: ndp.Source, Addr: net.HardwareAddr(a.ownMAC[:])},
		&ndp.MTU(a.cfg.MTU),
		&ndp.AdvertisementInterval{Advertisement: a.cfg.adInterval()},
	}
	for _, ad := range a.installed {
		opts = append(opts, &ndp.PrefixInformation{
			PrefixLength:                   uint8(ad.len),
			OnLink:                         true,
			AutonomousAddressConfiguration: true,
			ValidLifetime:                  30 * 24 * time.Hour,
			PreferredLifetime:              7 * 24 * time.Hour,
			Prefix:                         ad.prefix,
		})
		opts = append(opts, &ndp.RouteInformation{
			PrefixLength:  uint8(ad.len),
			RouteLifetime: 30 * 24 * time.Hour,
			Prefix:        ad.prefix,
		})
	}
	if len(a.cfg.RecursiveDNS) > 0 {
		opts = append(opts, &ndp.RecursiveDNSServer{Lifetime: 30 * time.Minute, Servers: a.cfg.RecursiveDNS})
	}

	ra := &ndp.RouterAdvertisement{
		ManagedConfiguration: flagManagedOther&0x80 != 0,
		OtherConfiguration:   flagManagedOther&0x40 != 0,
		RouterLifetime:       3 * a.cfg.adInterval(),
		Options:              opts,
	}

	if err := a.conn.WriteTo(ra, nil, dst); err != nil {
		a.log.WithError(err).Warn("send router advertisement failed")
	}
}

func (a *Announcer) teardown() {
	for _, ad := range a.installed {
		_ = linkctl.DelAddr(a.cfg.IfaceName, net.IPNet{IP: ad.router, Mask: net.CIDRMask(ad.len, 128)})
		_ = a.maps.DeleteRtLan(fastpath.L3IPv6, fastpath.RtLanKey{PrefixLen: uint32(ad.len), Addr: toAddr16(ad.prefix)})
	}
	a.conn.Close()
}

func toAddr16(ip net.IP) [16]byte {
	var out [16]byte
	copy(out[:], ip.To16())
	return out
}
