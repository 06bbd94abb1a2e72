// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"context"
	"encoding/json"
	"net"
	"sort"
	"time"

	"github.com/zhaojindong1001/landscape-sub000/internal/clock"
	"github.com/zhaojindong1001/landscape-sub000/internal/config"
	"github.com/zhaojindong1001/landscape-sub000/internal/dnschain"
	"github.com/zhaojindong1001/landscape-sub000/internal/dnsmetrics"
	"github.com/zhaojindong1001/landscape-sub000/internal/dockerwatch"
	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
	"github.com/zhaojindong1001/landscape-sub000/internal/fastpath"
	"github.com/zhaojindong1001/landscape-sub000/internal/flow"
	"github.com/zhaojindong1001/landscape-sub000/internal/flowassembler"
	"github.com/zhaojindong1001/landscape-sub000/internal/geostore"
	"github.com/zhaojindong1001/landscape-sub000/internal/lan/dhcp4server"
	"github.com/zhaojindong1001/landscape-sub000/internal/lan/ra"
	"github.com/zhaojindong1001/landscape-sub000/internal/lifecycle"
	"github.com/zhaojindong1001/landscape-sub000/internal/logging"
	"github.com/zhaojindong1001/landscape-sub000/internal/nat"
	"github.com/zhaojindong1001/landscape-sub000/internal/registry"
	"github.com/zhaojindong1001/landscape-sub000/internal/store"
	"github.com/zhaojindong1001/landscape-sub000/internal/wan/dhcp4client"
	"github.com/zhaojindong1001/landscape-sub000/internal/wan/dhcp6pd"
	"github.com/zhaojindong1001/landscape-sub000/internal/wan/pppoe"
)

// daemon holds every wired component for one running process. Nothing
// outside this file and main.go knows about lifecycle.Manager or the
// store listers directly.
type daemon struct {
	db   *store.Store
	maps *fastpath.Maps
	log  *logging.Logger

	prefixReg *registry.PrefixRegistry
	wtReg     *registry.WanTargetRegistry
	geo       *geostore.Store

	dhcp4c    *lifecycle.Manager[string, dhcp4client.Config]
	dhcp6pd   *lifecycle.Manager[string, dhcp6pd.Config]
	pppoeMgr  *lifecycle.Manager[string, pppoe.Config]
	raMgr     *lifecycle.Manager[string, ra.Config]
	dhcp4sMgr *lifecycle.Manager[string, dhcp4server.Config]
	dnsMgr    *lifecycle.Manager[string, dnschain.Config]

	dnsMetricCh chan dnschain.DnsMetric
	dnsMetrics  *dnsmetrics.Metrics

	// dnsRuleFingerprint is the last-applied digest of each flow's DNS
	// rule set, so a reload can tell which flows' DNS rules actually
	// changed and purge only their rt-cache entries.
	dnsRuleFingerprint map[flow.ID]string

	assembler    *flowassembler.Assembler
	assemblerCh  chan struct{}
	driftWatcher *nat.DriftWatcher
	dockerClient *dockerwatch.Client
	dockerWatch  *dockerwatch.Watcher
	dockerIfaces map[string]bool // docker-sourced WAN keys currently published, so a refresh can withdraw stale ones
}

func newDaemon(ctx context.Context, startup *config.Startup, db *store.Store, maps *fastpath.Maps) (*daemon, error) {
	geo, err := geostore.New(startup.GeoCacheDir, db, clock.Real)
	if err != nil {
		return nil, flywallerrors.Wrap(err, flywallerrors.KindInternal, "open geo-ip/geo-site cache")
	}

	d := &daemon{
		db:                 db,
		maps:               maps,
		log:                logging.WithComponent("daemon"),
		prefixReg:          registry.New(),
		wtReg:              registry.NewWanTargets(),
		geo:                geo,
		dnsMetricCh:        make(chan dnschain.DnsMetric, 64),
		dnsMetrics:         dnsmetrics.NewMetrics(),
		dnsRuleFingerprint: make(map[flow.ID]string),
		assemblerCh:        make(chan struct{}, 1),
		driftWatcher:       nat.NewDriftWatcher(time.Minute),
		dockerClient:       dockerwatch.NewClient(""),
		dockerIfaces:       make(map[string]bool),
	}

	d.dhcp4c = lifecycle.New(ctx, "dhcp4client", dhcp4client.Start(maps, d.wtReg), func(c dhcp4client.Config) string { return c.IfaceName })
	d.dhcp6pd = lifecycle.New(ctx, "dhcp6pd", dhcp6pd.Start(maps, d.prefixReg, d.wtReg), func(c dhcp6pd.Config) string { return c.IfaceName })
	d.pppoeMgr = lifecycle.New(ctx, "pppoe", pppoe.Start(maps, d.wtReg), func(c pppoe.Config) string { return c.IfaceName })
	d.raMgr = lifecycle.New(ctx, "ra", ra.Start(d.prefixReg, maps), func(c ra.Config) string { return c.IfaceName })
	d.dhcp4sMgr = lifecycle.New(ctx, "dhcp4server", dhcp4server.Start(maps), func(c dhcp4server.Config) string { return c.IfaceName })
	d.dnsMgr = lifecycle.New(ctx, "dnschain", dnschain.Start(maps, d.dnsMetricCh), func(dnschain.Config) string { return "dnschain" })

	d.assembler = flowassembler.New(db, maps, geo, d.wtReg)

	d.dockerWatch = dockerwatch.NewWatcher(d.dockerClient, 15*time.Second, d.onDockerChange)

	if err := d.loadAll(); err != nil {
		return nil, err
	}
	return d, nil
}

// start launches every background goroutine. Actors themselves were
// already spawned by loadAll's Manager.Update calls.
func (d *daemon) start(ctx context.Context) {
	d.dnsMetrics.Register()
	go dnsmetrics.Run(ctx, d.dnsMetrics, d.dnsMetricCh)
	go d.geo.Run(ctx)
	go d.assembler.Run(ctx, d.assemblerCh)
	go d.driftWatcher.Run(ctx, d.listStaticNAT)
	go d.dockerWatch.Run(ctx)
	go d.watchGeoEvents(ctx)
	go d.watchWanTargets(ctx)
}

// reload re-reads every config table from the store and pushes updated
// configs into each Manager (SIGHUP path).
func (d *daemon) reload() {
	if err := d.loadAll(); err != nil {
		d.log.WithError(err).Error("reload failed")
	}
}

func (d *daemon) stop() {
	d.dhcp4c.StopAll()
	d.dhcp6pd.StopAll()
	d.pppoeMgr.StopAll()
	d.raMgr.StopAll()
	d.dhcp4sMgr.StopAll()
	d.dnsMgr.StopAll()
}

// activeActorNames lists every still-running per-interface actor as
// "kind:iface", for supervisor.RecordExit's crash diagnostics.
func (d *daemon) activeActorNames() []string {
	var names []string
	for _, iface := range d.dhcp4c.Keys() {
		names = append(names, "dhcp4client:"+iface)
	}
	for _, iface := range d.dhcp6pd.Keys() {
		names = append(names, "dhcp6pd:"+iface)
	}
	for _, iface := range d.pppoeMgr.Keys() {
		names = append(names, "pppoe:"+iface)
	}
	for _, iface := range d.raMgr.Keys() {
		names = append(names, "ra:"+iface)
	}
	for _, iface := range d.dhcp4sMgr.Keys() {
		names = append(names, "dhcp4server:"+iface)
	}
	for range d.dnsMgr.Keys() {
		names = append(names, "dnschain")
	}
	return names
}

// watchGeoEvents triggers a flow-table rebuild whenever a geosite/geoip
// dataset refresh changes the CIDRs a GeoDataset/GeoTag rule expands
// to.
func (d *daemon) watchGeoEvents(ctx context.Context) {
	ch, cancel := d.geo.Watch()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			select {
			case d.assemblerCh <- struct{}{}:
			default:
			}
		}
	}
}

// watchWanTargets triggers a flow-table rebuild whenever the live WAN
// target set changes, so rt4_target_map/rt6_target_map track WAN
// flaps without waiting for the next full reload.
func (d *daemon) watchWanTargets(ctx context.Context) {
	ch, cancel := d.wtReg.Watch()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			select {
			case d.assemblerCh <- struct{}{}:
			default:
			}
		}
	}
}

func (d *daemon) listStaticNAT() []store.StaticNATMapping {
	mappings, err := d.db.ListStaticNATMappings()
	if err != nil {
		d.log.WithError(err).Warn("list static nat mappings for drift watcher failed")
		return nil
	}
	return mappings
}

// onDockerChange is dockerwatch's onChange callback: it receives the
// FULL current set of Docker-sourced targets each poll, not per-target
// events, so it diffs against what this daemon last published under
// the Docker-sourced key set and withdraws whatever dropped out.
func (d *daemon) onDockerChange(targets []flow.WanTarget) {
	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		d.wtReg.Publish(t)
		seen[t.IfaceName] = true
	}
	for iface := range d.dockerIfaces {
		if !seen[iface] {
			d.wtReg.Withdraw(iface, flow.L3IPv4)
		}
	}
	d.dockerIfaces = seen
	select {
	case d.assemblerCh <- struct{}{}:
	default:
	}
}

// loadAll reads every per-interface config table from the store and
// pushes the resulting configs into their Manager via Update on every
// call: the first call spawns every actor, and later calls (SIGHUP
// reload path: Manager diffs nothing itself) re-deliver the current
// config to each already-running actor's key.
func (d *daemon) loadAll() error {
	if err := d.loadIPServices(); err != nil {
		return err
	}
	if err := d.loadPPPServices(); err != nil {
		return err
	}
	if err := d.loadDHCP4Servers(); err != nil {
		return err
	}
	if err := d.loadRAServices(); err != nil {
		return err
	}
	if err := d.loadDNSChain(); err != nil {
		return err
	}
	select {
	case d.assemblerCh <- struct{}{}:
	default:
	}
	return nil
}

func (d *daemon) loadIPServices() error {
	svcs, err := d.db.ListIPServices("")
	if err != nil {
		return flywallerrors.Wrap(err, flywallerrors.KindInternal, "list ip services")
	}
	pppByIface, err := d.pppCredentials()
	if err != nil {
		return err
	}

	for _, svc := range svcs {
		if !svc.Enable {
			continue
		}
		switch svc.Kind {
		case store.IPServiceDHCP4Client:
			d.dhcp4c.Update(dhcp4client.Config{
				IfaceName:    svc.IfaceName,
				MAC:          svc.Config.MAC,
				DefaultRoute: svc.Config.DefaultRoute,
				Weight:       svc.Config.Weight,
			})
		case store.IPServiceDHCP6PD:
			d.dhcp6pd.Update(dhcp6pd.Config{
				IfaceName:    svc.IfaceName,
				MAC:          svc.Config.MAC,
				DefaultRoute: svc.Config.DefaultRoute,
				Weight:       svc.Config.Weight,
			})
		case store.IPServicePPPoE:
			cred := pppByIface[svc.IfaceName]
			d.pppoeMgr.Update(pppoe.Config{
				IfaceName:    svc.IfaceName,
				MAC:          svc.Config.MAC,
				Username:     cred.Username,
				Password:     cred.Password,
				ServiceName:  svc.Config.ServiceName,
				DefaultRoute: svc.Config.DefaultRoute,
				Weight:       svc.Config.Weight,
			})
		case store.IPServiceStatic:
			// No actor owns a static WAN assignment — it never flaps,
			// so it's published straight to the registry once here.
			d.publishStaticTarget(svc)
		default:
			d.log.Warn("unknown ip_services kind, skipping", "iface", svc.IfaceName, "kind", svc.Kind)
		}
	}
	return nil
}

func (d *daemon) publishStaticTarget(svc store.IPService) {
	iface, err := net.InterfaceByName(svc.IfaceName)
	if err != nil {
		err = flywallerrors.Attr(flywallerrors.Wrap(err, flywallerrors.KindNotFound, "static wan interface not found"), flywallerrors.AttrIface, svc.IfaceName)
		d.log.WithError(err).Warn("skipping static wan target")
		return
	}
	d.wtReg.Publish(flow.WanTarget{
		IfIndex:      iface.Index,
		IfaceName:    svc.IfaceName,
		Proto:        flow.L3IPv4,
		Weight:       svc.Config.Weight,
		IfaceIP:      svc.Config.StaticAddr,
		GatewayIP:    svc.Config.StaticGW,
		DefaultRoute: svc.Config.DefaultRoute,
	})
}

// pppCredentials indexes ppp_services by interface, since ip_services
// only carries the kind/weight/default-route discriminator and leaves
// the username/password pair in its own table.
func (d *daemon) pppCredentials() (map[string]store.PPPService, error) {
	rows, err := d.db.ListPPPServices()
	if err != nil {
		return nil, flywallerrors.Wrap(err, flywallerrors.KindInternal, "list ppp services")
	}
	out := make(map[string]store.PPPService, len(rows))
	for _, r := range rows {
		out[r.IfaceName] = r
	}
	return out, nil
}

func (d *daemon) loadPPPServices() error {
	// Credentials are folded into loadIPServices above since pppoe.Config
	// needs both tables joined; nothing further to do here.
	return nil
}

func (d *daemon) loadDHCP4Servers() error {
	rows, err := d.db.ListDHCP4Servers()
	if err != nil {
		return flywallerrors.Wrap(err, flywallerrors.KindInternal, "list dhcp4 servers")
	}
	for _, r := range rows {
		if !r.Enable {
			continue
		}
		d.dhcp4sMgr.Update(dhcp4server.Config{
			IfaceName:    r.IfaceName,
			RangeStart:   r.RangeStart,
			RangeEnd:     r.RangeEnd,
			LeaseSeconds: r.LeaseTime,
		})
	}
	return nil
}

// raSourcesJSON mirrors ra.StaticSource/PDSource in JSON-tagged form
// for decoding ra_services.sources_json, which store.ListRAServices
// intentionally leaves raw.
type raSourcesJSON struct {
	Static []struct {
		BasePrefix string `json:"base_prefix"`
		BaseLen    int    `json:"base_len"`
		SubLen     int    `json:"sub_len"`
		SubIndex   int    `json:"sub_index"`
	} `json:"static"`
	PD []struct {
		UpstreamIface string `json:"upstream_iface"`
		SubLen        int    `json:"sub_len"`
		SubIndex      int    `json:"sub_index"`
	} `json:"pd"`
	RecursiveDNS []string `json:"recursive_dns"`
}

func (d *daemon) loadRAServices() error {
	rows, err := d.db.ListRAServices()
	if err != nil {
		return flywallerrors.Wrap(err, flywallerrors.KindInternal, "list ra services")
	}
	for _, r := range rows {
		if !r.Enable {
			continue
		}
		var raw raSourcesJSON
		if err := json.Unmarshal(r.SourcesJSON, &raw); err != nil {
			err = flywallerrors.Attr(flywallerrors.Wrap(err, flywallerrors.KindValidation, "ra_services.sources_json decode failed"), flywallerrors.AttrIface, r.IfaceName)
			d.log.WithError(err).Warn("skipping ra service")
			continue
		}
		cfg := ra.Config{IfaceName: r.IfaceName, AdIntervalSecs: r.AdIntervalSec}
		for _, s := range raw.Static {
			cfg.StaticSources = append(cfg.StaticSources, ra.StaticSource{
				BasePrefix: net.ParseIP(s.BasePrefix),
				BaseLen:    s.BaseLen,
				SubLen:     s.SubLen,
				SubIndex:   s.SubIndex,
			})
		}
		for _, s := range raw.PD {
			cfg.PDSources = append(cfg.PDSources, ra.PDSource{
				UpstreamIface: s.UpstreamIface,
				SubLen:        s.SubLen,
				SubIndex:      s.SubIndex,
			})
		}
		for _, dns := range raw.RecursiveDNS {
			if ip := net.ParseIP(dns); ip != nil {
				cfg.RecursiveDNS = append(cfg.RecursiveDNS, ip)
			}
		}
		if err := cfg.Validate(); err != nil {
			err = flywallerrors.Attr(err, flywallerrors.AttrIface, r.IfaceName)
			d.log.WithError(err).Warn("skipping ra service")
			continue
		}
		d.raMgr.Update(cfg)
	}
	return nil
}

// loadDNSChain builds the single dnschain.Config from every flow's DNS
// rules, resolving each rule's upstream_id to the dns_upstreams row's
// dial address — dnschain itself only ever sees a literal address
// string, never an id.
func (d *daemon) loadDNSChain() error {
	upstreams, err := d.db.ListDNSUpstreams()
	if err != nil {
		return flywallerrors.Wrap(err, flywallerrors.KindInternal, "list dns upstreams")
	}
	addrByID := make(map[string]string, len(upstreams))
	var defaultUpstream string
	for _, u := range upstreams {
		addrByID[u.ID] = u.Addr
		if defaultUpstream == "" {
			defaultUpstream = u.Addr
		}
	}

	rules, err := d.db.ListDNSRules()
	if err != nil {
		return flywallerrors.Wrap(err, flywallerrors.KindInternal, "list dns rules")
	}
	byFlow := make(map[flow.ID][]dnschain.RuleConfig)
	for _, r := range rules {
		addr, ok := addrByID[r.Upstream]
		if !ok {
			err := flywallerrors.Attr(flywallerrors.Attr(
				flywallerrors.Errorf(flywallerrors.KindNotFound, "dns rule references unknown upstream_id %q", r.Upstream),
				flywallerrors.AttrFlowID, r.FlowID),
				flywallerrors.AttrService, r.Name)
			d.log.WithError(err).Warn("skipping dns rule with unresolved upstream")
			continue
		}
		r.Upstream = addr
		byFlow[r.FlowID] = append(byFlow[r.FlowID], dnschain.RuleConfig{Rule: r})
	}

	cfg := dnschain.Config{ListenAddr: ":53", DefaultUpstream: defaultUpstream}
	fingerprints := make(map[flow.ID]string, len(byFlow))
	for flowID, rcs := range byFlow {
		cfg.Flows = append(cfg.Flows, dnschain.FlowRules{FlowID: flowID, Rules: rcs})
		fingerprints[flowID] = dnsRuleFingerprint(rcs)
	}
	d.purgeChangedDNSFlows(fingerprints)
	d.dnsMgr.Update(cfg)
	return nil
}

// dnsRuleFingerprint returns a deterministic digest of a flow's resolved
// DNS rule set, so loadDNSChain can tell whether anything under that
// flow actually changed since the last reload.
func dnsRuleFingerprint(rcs []dnschain.RuleConfig) string {
	sorted := make([]dnschain.RuleConfig, len(rcs))
	copy(sorted, rcs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Rule.ID < sorted[j].Rule.ID })
	b, err := json.Marshal(sorted)
	if err != nil {
		return ""
	}
	return string(b)
}

// purgeChangedDNSFlows compares fresh against the fingerprints recorded
// on the previous load and purges the rt-cache for every flow whose DNS
// rules were added, removed, or edited — mirroring the flow assembler's
// purge-on-IP-rule-change behavior (internal/flowassembler) so a DNS
// rule edit can't leave stale resolved destinations cached.
func (d *daemon) purgeChangedDNSFlows(fresh map[flow.ID]string) {
	changed := make(map[flow.ID]bool)
	for id, fp := range fresh {
		if old, ok := d.dnsRuleFingerprint[id]; !ok || old != fp {
			changed[id] = true
		}
	}
	for id := range d.dnsRuleFingerprint {
		if _, ok := fresh[id]; !ok {
			changed[id] = true
		}
	}
	for id := range changed {
		if err := d.maps.PurgeRtCacheForFlow(fastpath.L3IPv4, uint8(id)); err != nil {
			d.log.WithError(err).Warn("purge rt-cache v4 failed after dns rule change", "flow_id", id)
		}
		if err := d.maps.PurgeRtCacheForFlow(fastpath.L3IPv6, uint8(id)); err != nil {
			d.log.WithError(err).Warn("purge rt-cache v6 failed after dns rule change", "flow_id", id)
		}
	}
	d.dnsRuleFingerprint = fresh
}
