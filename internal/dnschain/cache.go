// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dnschain is the flow-aware DNS resolver: one query walks its
// source flow's rule list by priority, resolves via the matched rule's
// upstream (or falls through to the default flow), seeds rt-cache for
// every answered address, and reports a DnsMetric per query.
package dnschain

import (
	"container/list"
	"sync"
	"time"

	"github.com/miekg/dns"
)

type cacheEntry struct {
	key       string
	msg       *dns.Msg
	expiresAt time.Time
}

// cache is an LRU bounded at capacity entries, shared by positive and
// negative answers (negative entries carry a shorter TTL).
type cache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

func newCache(capacity int) *cache {
	return &cache{capacity: capacity, ll: list.New(), items: make(map[string]*list.Element)}
}

func cacheKey(qname string, qtype uint16) string {
	return qname + "/" + dns.TypeToString[qtype]
}

func (c *cache) get(key string, now time.Time) (*dns.Msg, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*cacheEntry)
	if now.After(entry.expiresAt) {
		c.ll.Remove(el)
		delete(c.items, key)
		return nil, false
	}
	c.ll.MoveToFront(el)
	return entry.msg.Copy(), true
}

func (c *cache) put(key string, msg *dns.Msg, ttl time.Duration, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*cacheEntry).msg = msg.Copy()
		el.Value.(*cacheEntry).expiresAt = now.Add(ttl)
		return
	}
	el := c.ll.PushFront(&cacheEntry{key: key, msg: msg.Copy(), expiresAt: now.Add(ttl)})
	c.items[key] = el

	for c.capacity > 0 && c.ll.Len() > c.capacity {
		back := c.ll.Back()
		if back == nil {
			break
		}
		c.ll.Remove(back)
		delete(c.items, back.Value.(*cacheEntry).key)
	}
}
