// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dnschain

import (
	"context"
	"net"
	"time"

	"github.com/miekg/dns"

	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
	"github.com/zhaojindong1001/landscape-sub000/internal/fastpath"
	"github.com/zhaojindong1001/landscape-sub000/internal/flow"
	"github.com/zhaojindong1001/landscape-sub000/internal/lifecycle"
	"github.com/zhaojindong1001/landscape-sub000/internal/logging"
)

// Chain is the single UDP:53 listener. One source query walks its
// flow's rule list by priority, resolves via redirect-literal, the
// rule's upstream, or the default-flow upstream, then seeds rt-cache
// for every answered address.
type Chain struct {
	cfg     Config
	maps    *fastpath.Maps
	log     *logging.Logger
	metrics chan<- DnsMetric

	byFlow map[ID][]RuleConfig
	cache  *cache
	client *dns.Client
	server *dns.Server
}

// Start implements lifecycle.Starter[Config]. metrics may be nil, in
// which case DnsMetric reporting is skipped.
func Start(maps *fastpath.Maps, metrics chan<- DnsMetric) lifecycle.Starter[Config] {
	return func(ctx context.Context, cfg Config) (*lifecycle.StatusHandle, error) {
		handle := lifecycle.NewStatusHandle("dnschain")
		handle.Set(lifecycle.StatusStaring)

		c := &Chain{
			cfg:     cfg,
			maps:    maps,
			log:     logging.WithComponent("dnschain"),
			metrics: metrics,
			byFlow:  make(map[ID][]RuleConfig),
			cache:   newCache(cfg.cacheCapacity()),
			client:  &dns.Client{Timeout: cfg.resolveTimeout(), Net: "udp"},
		}
		for _, fr := range cfg.Flows {
			c.byFlow[fr.FlowID] = sortedRules(fr.Rules)
		}

		addr := cfg.ListenAddr
		if addr == "" {
			addr = ":53"
		}
		pc, err := net.ListenPacket("udp", addr)
		if err != nil {
			handle.Set(lifecycle.StatusStop)
			return nil, flywallerrors.Wrapf(err, flywallerrors.KindUnavailable, "dnschain: listen %s", addr)
		}

		c.server = &dns.Server{PacketConn: pc, Handler: dns.HandlerFunc(c.handle)}

		handle.Set(lifecycle.StatusRunning)
		go func() {
			_ = c.server.ActivateAndServe()
		}()
		go func() {
			<-ctx.Done()
			handle.Set(lifecycle.StatusStopping)
			_ = c.server.Shutdown()
			handle.Set(lifecycle.StatusStop)
		}()

		return handle, nil
	}
}

func (c *Chain) handle(w dns.ResponseWriter, req *dns.Msg) {
	start := time.Now()
	defer w.Close()

	if len(req.Question) == 0 {
		_ = w.WriteMsg(errorReply(req, dns.RcodeFormatError))
		return
	}
	q := req.Question[0]
	srcIP := clientIP(w.RemoteAddr())

	flowID, err := c.resolveFlowID(srcIP)
	if err != nil {
		c.log.WithError(err).Warn("flow lookup failed, using default flow", "src", srcIP)
		flowID = flow.DefaultFlow
	}

	rules := c.byFlow[flowID]
	rc, matched := matchRule(rules, q.Name)

	switch {
	case matched && rc.Literal != nil:
		reply := c.answerLiteral(req, q, rc)
		status := StatusBlock
		if rc.Literal.NXDomain {
			status = StatusNxDomain
		}
		_ = w.WriteMsg(reply)
		c.report(start, flowID, q.Name, dns.TypeToString[q.Qtype], status, len(reply.Answer), srcIP)
		return

	case matched:
		reply, status := c.resolveAndSeed(req, q, flowID, rc.Rule, rc.Rule.Upstream, srcIP)
		_ = w.WriteMsg(reply)
		c.report(start, flowID, q.Name, dns.TypeToString[q.Qtype], status, len(reply.Answer), srcIP)
		return

	default:
		upstream := c.cfg.DefaultUpstream
		if upstream == "" {
			reply := errorReply(req, dns.RcodeServerFailure)
			_ = w.WriteMsg(reply)
			c.report(start, flowID, q.Name, dns.TypeToString[q.Qtype], StatusError, 0, srcIP)
			return
		}
		defaultMark := flow.NewMark(flow.ActionKeepGoing, flowID, true)
		defaultRule := flow.Rule{FlowID: flowID, Mark: defaultMark}
		reply, status := c.resolveAndSeed(req, q, flowID, defaultRule, upstream, srcIP)
		_ = w.WriteMsg(reply)
		c.report(start, flowID, q.Name, dns.TypeToString[q.Qtype], status, len(reply.Answer), srcIP)
	}
}

// resolveFlowID looks up the flow a client source IP belongs to via
// the flow_match fast-path table (an LPM trie keyed on source
// address); an unresolvable lookup falls back to the default flow.
func (c *Chain) resolveFlowID(srcIP string) (ID, error) {
	ip := net.ParseIP(srcIP)
	if ip == nil || c.maps == nil || c.maps.FlowMatch == nil {
		return flow.DefaultFlow, nil
	}
	proto := fastpath.L3IPv4
	if ip.To4() == nil {
		proto = fastpath.L3IPv6
	}
	var key [16]byte
	copy(key[:], ip.To16())
	prefixLen := fastpath.PrefixLenIPv4
	if proto == fastpath.L3IPv6 {
		prefixLen = fastpath.PrefixLenIPv6
	}
	id, ok, err := c.maps.LookupFlowMatch(fastpath.FlowMatchKey{
		PrefixLen: uint32(prefixLen),
		IsMatchIP: true,
		L3Proto:   proto,
		Key:       key,
	})
	if err != nil {
		return flow.DefaultFlow, err
	}
	if !ok {
		return flow.DefaultFlow, nil
	}
	return ID(id), nil
}

func matchRule(rules []RuleConfig, qname string) (RuleConfig, bool) {
	for _, rc := range rules {
		for _, m := range rc.Rule.Source {
			if m.Match(qname) {
				return rc, true
			}
		}
	}
	return RuleConfig{}, false
}

func (c *Chain) answerLiteral(req *dns.Msg, q dns.Question, rc RuleConfig) *dns.Msg {
	reply := new(dns.Msg)
	reply.SetReply(req)
	if rc.Literal.NXDomain || len(rc.Literal.Addrs) == 0 {
		reply.Rcode = dns.RcodeNameError
		return reply
	}
	ttl := uint32(c.cfg.cacheTTL().Seconds())
	for _, addr := range rc.Literal.Addrs {
		rr := buildRR(q, addr, ttl)
		if rr != nil {
			reply.Answer = append(reply.Answer, rr)
		}
	}
	return reply
}

func (c *Chain) resolveAndSeed(req *dns.Msg, q dns.Question, flowID ID, rule flow.Rule, upstream, srcIP string) (*dns.Msg, Status) {
	key := cacheKey(q.Name, q.Qtype)
	now := time.Now()
	if cached, ok := c.cache.get(key, now); ok {
		reply := cached.Copy()
		reply.Id = req.Id
		return reply, StatusHit
	}

	if upstream == "" {
		return errorReply(req, dns.RcodeServerFailure), StatusError
	}

	query := new(dns.Msg)
	query.SetQuestion(q.Name, q.Qtype)
	query.RecursionDesired = true

	resp, _, err := c.client.Exchange(query, withDefaultPort(upstream))
	if err != nil || resp == nil {
		c.log.WithError(err).Warn("upstream exchange failed", "upstream", upstream, "name", q.Name)
		return errorReply(req, dns.RcodeServerFailure), StatusError
	}

	if resp.Rcode == dns.RcodeNameError {
		c.cache.put(key, resp, c.cfg.negativeCacheTTL(), now)
		reply := resp.Copy()
		reply.Id = req.Id
		return reply, StatusNxDomain
	}

	filtered := applyFilter(resp, rule.Filter)
	filtered.Id = req.Id
	c.cache.put(key, filtered, c.cfg.cacheTTL(), now)

	c.seedRtCache(flowID, srcIP, filtered, rule.Mark)

	status := StatusNormal
	if rule.Filter != flow.FilterNone {
		status = StatusFilter
	}
	return filtered, status
}

func applyFilter(resp *dns.Msg, filter flow.Filter) *dns.Msg {
	if filter == flow.FilterNone {
		return resp.Copy()
	}
	out := resp.Copy()
	kept := out.Answer[:0]
	for _, rr := range out.Answer {
		switch rr.(type) {
		case *dns.A:
			if filter == flow.FilterOnlyIPv6 {
				continue
			}
		case *dns.AAAA:
			if filter == flow.FilterOnlyIPv4 {
				continue
			}
		}
		kept = append(kept, rr)
	}
	out.Answer = kept
	return out
}

// seedRtCache deposits one rt-cache entry per answered address. The
// seeded mark is the rule's mark with reuse-port forced on
// (flow.DNSMark). Action=Direct is the special case: it always writes
// flow_id=0 and forces reuse-port off regardless of the rule's own
// mark, so the fast path short-circuits through default-flow machinery.
func (c *Chain) seedRtCache(flowID ID, srcIP string, resp *dns.Msg, mark flow.Mark) {
	if c.maps == nil {
		return
	}
	src := net.ParseIP(srcIP)
	if src == nil {
		return
	}

	seedMark := flow.DNSMark(mark.Action(), mark.FlowID())
	seedFlow := flowID
	if mark.Action() == flow.ActionDirect {
		seedMark = flow.NewMark(flow.ActionDirect, flow.DefaultFlow, false)
		seedFlow = flow.DefaultFlow
	}

	for _, rr := range resp.Answer {
		var dst net.IP
		var proto fastpath.L3
		switch v := rr.(type) {
		case *dns.A:
			dst, proto = v.A, fastpath.L3IPv4
		case *dns.AAAA:
			dst, proto = v.AAAA, fastpath.L3IPv6
		default:
			continue
		}
		var srcB, dstB [16]byte
		copy(srcB[:], src.To16())
		copy(dstB[:], dst.To16())
		key := fastpath.RtCacheKey{FlowID: uint8(seedFlow), SrcBE: srcB, DstBE: dstB}
		if err := c.maps.UpsertRtCache(proto, key, fastpath.RtCacheValue{MarkValue: seedMark.Uint32()}); err != nil {
			c.log.WithError(err).Warn("rt-cache seed failed", "dst", dst.String())
		}
	}
}

func buildRR(q dns.Question, addr string, ttl uint32) dns.RR {
	ip := net.ParseIP(addr)
	if ip == nil {
		return nil
	}
	hdr := dns.RR_Header{Name: q.Name, Rrtype: q.Qtype, Class: dns.ClassINET, Ttl: ttl}
	if v4 := ip.To4(); v4 != nil && q.Qtype == dns.TypeA {
		return &dns.A{Hdr: hdr, A: v4}
	}
	if q.Qtype == dns.TypeAAAA {
		return &dns.AAAA{Hdr: hdr, AAAA: ip.To16()}
	}
	return nil
}

func errorReply(req *dns.Msg, rcode int) *dns.Msg {
	reply := new(dns.Msg)
	reply.SetReply(req)
	reply.Rcode = rcode
	return reply
}

func clientIP(addr net.Addr) string {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP.String()
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return addr.String()
		}
		return host
	}
}

func withDefaultPort(upstream string) string {
	if _, _, err := net.SplitHostPort(upstream); err == nil {
		return upstream
	}
	return net.JoinHostPort(upstream, "53")
}
