// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dnschain

import (
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/zhaojindong1001/landscape-sub000/internal/flow"
)

func mustMatcher(t *testing.T, kind flow.MatcherKind, value string) flow.DomainMatcher {
	t.Helper()
	m, err := flow.NewDomainMatcher(kind, value)
	require.NoError(t, err)
	return m
}

func TestMatchRule_WalksByPriority(t *testing.T) {
	low := RuleConfig{Rule: flow.Rule{Priority: 10, Enable: true, Source: []flow.DomainMatcher{mustMatcher(t, flow.MatchDomain, "example.com")}}}
	high := RuleConfig{Rule: flow.Rule{Priority: 1, Enable: true, Source: []flow.DomainMatcher{mustMatcher(t, flow.MatchDomain, "example.com")}}}

	sorted := sortedRules([]RuleConfig{low, high})
	require.Equal(t, 1, sorted[0].Rule.Priority)

	rc, ok := matchRule(sorted, "api.example.com")
	require.True(t, ok)
	require.Equal(t, 1, rc.Rule.Priority)
}

func TestMatchRule_SkipsDisabledRules(t *testing.T) {
	disabled := RuleConfig{Rule: flow.Rule{Priority: 1, Enable: false, Source: []flow.DomainMatcher{mustMatcher(t, flow.MatchFull, "blocked.example")}}}
	rules := sortedRules([]RuleConfig{disabled})
	_, ok := matchRule(rules, "blocked.example")
	require.False(t, ok)
}

func TestMatchRule_NoMatchReturnsFalse(t *testing.T) {
	rc := RuleConfig{Rule: flow.Rule{Priority: 1, Enable: true, Source: []flow.DomainMatcher{mustMatcher(t, flow.MatchFull, "other.example")}}}
	_, ok := matchRule(sortedRules([]RuleConfig{rc}), "api.example.com")
	require.False(t, ok)
}

func TestApplyFilter_DropsAAAAWhenOnlyIPv4(t *testing.T) {
	resp := new(dns.Msg)
	resp.Answer = []dns.RR{
		&dns.A{Hdr: dns.RR_Header{Name: "x.", Rrtype: dns.TypeA}, A: mustIP("1.2.3.4")},
		&dns.AAAA{Hdr: dns.RR_Header{Name: "x.", Rrtype: dns.TypeAAAA}, AAAA: mustIP("::1")},
	}
	out := applyFilter(resp, flow.FilterOnlyIPv4)
	require.Len(t, out.Answer, 1)
	_, isA := out.Answer[0].(*dns.A)
	require.True(t, isA)
}

func TestApplyFilter_NoneKeepsAll(t *testing.T) {
	resp := new(dns.Msg)
	resp.Answer = []dns.RR{
		&dns.A{Hdr: dns.RR_Header{Name: "x.", Rrtype: dns.TypeA}, A: mustIP("1.2.3.4")},
	}
	out := applyFilter(resp, flow.FilterNone)
	require.Len(t, out.Answer, 1)
}

func TestCache_PositiveAndNegativeTTL(t *testing.T) {
	c := newCache(10)
	now := time.Now()
	msg := new(dns.Msg)
	msg.SetQuestion("example.com.", dns.TypeA)

	key := cacheKey("example.com.", dns.TypeA)
	c.put(key, msg, 5*time.Second, now)

	_, ok := c.get(key, now.Add(3*time.Second))
	require.True(t, ok)

	_, ok = c.get(key, now.Add(10*time.Second))
	require.False(t, ok, "entry must expire past its TTL")
}

func TestCache_EvictsLRUPastCapacity(t *testing.T) {
	c := newCache(2)
	now := time.Now()
	msg := new(dns.Msg)

	c.put("a", msg, time.Minute, now)
	c.put("b", msg, time.Minute, now)
	c.put("c", msg, time.Minute, now) // evicts "a", the least recently used

	_, ok := c.get("a", now)
	require.False(t, ok)
	_, ok = c.get("b", now)
	require.True(t, ok)
	_, ok = c.get("c", now)
	require.True(t, ok)
}

func TestAnswerLiteral_NXDomainHasNoAnswers(t *testing.T) {
	c := &Chain{cfg: Config{}}
	req := new(dns.Msg)
	req.SetQuestion("blocked.example.", dns.TypeA)
	rc := RuleConfig{Literal: &LiteralResult{NXDomain: true}}

	reply := c.answerLiteral(req, req.Question[0], rc)
	require.Equal(t, dns.RcodeNameError, reply.Rcode)
	require.Empty(t, reply.Answer)
}

func TestAnswerLiteral_FixedAddrAnswersDirectly(t *testing.T) {
	c := &Chain{cfg: Config{CacheTTL: time.Minute}}
	req := new(dns.Msg)
	req.SetQuestion("redirected.example.", dns.TypeA)
	rc := RuleConfig{Literal: &LiteralResult{Addrs: []string{"10.0.0.1"}}}

	reply := c.answerLiteral(req, req.Question[0], rc)
	require.Len(t, reply.Answer, 1)
	a, ok := reply.Answer[0].(*dns.A)
	require.True(t, ok)
	require.Equal(t, "10.0.0.1", a.A.String())
}

func TestResolveFlowID_NilMapsFallsBackToDefaultFlow(t *testing.T) {
	c := &Chain{}
	id, err := c.resolveFlowID("192.168.1.5")
	require.NoError(t, err)
	require.Equal(t, flow.DefaultFlow, id)
}

func mustIP(s string) net.IP {
	return net.ParseIP(s)
}
