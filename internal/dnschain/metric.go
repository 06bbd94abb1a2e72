// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dnschain

import "time"

// DnsMetric is reported once per query into the metric ingestion
// channel, if one is configured.
type DnsMetric struct {
	FlowID     ID
	Domain     string
	QueryType  string
	Status     Status
	DurationMs int64
	Answers    int
	SrcIP      string
}

func (c *Chain) report(start time.Time, flowID ID, domain, qtype string, status Status, answers int, src string) {
	if c.metrics == nil {
		return
	}
	m := DnsMetric{
		FlowID:     flowID,
		Domain:     domain,
		QueryType:  qtype,
		Status:     status,
		DurationMs: time.Since(start).Milliseconds(),
		Answers:    answers,
		SrcIP:      src,
	}
	select {
	case c.metrics <- m:
	default:
		c.log.Warn("metric ingestion channel full, dropping DnsMetric", "domain", domain)
	}
}
