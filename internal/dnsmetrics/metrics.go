// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dnsmetrics ingests DnsMetric events reported by DNSChain and
// exposes them as Prometheus collectors. It has no HTTP exposition of
// its own — the caller registers Metrics with whatever registry the
// process already exports on.
package dnsmetrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhaojindong1001/landscape-sub000/internal/dnschain"
)

// Metrics holds every Prometheus collector DNS query ingestion feeds.
type Metrics struct {
	QueriesTotal   *prometheus.CounterVec
	AnswersTotal   *prometheus.CounterVec
	QueryDuration  *prometheus.HistogramVec
	CacheHitsTotal *prometheus.CounterVec
}

// NewMetrics builds an unregistered Metrics collector set.
func NewMetrics() *Metrics {
	return &Metrics{
		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "landscaped_dns_queries_total",
			Help: "Total number of DNS queries handled by the DNS chain, by flow and status",
		}, []string{"flow_id", "status"}),

		AnswersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "landscaped_dns_answers_total",
			Help: "Total number of resource records returned in DNS answers, by flow",
		}, []string{"flow_id"}),

		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "landscaped_dns_query_duration_seconds",
			Help:    "DNS query handling latency, by status",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),

		CacheHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "landscaped_dns_cache_hits_total",
			Help: "Total number of DNS queries answered from the DNSChain cache",
		}, []string{"flow_id"}),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.QueriesTotal.Describe(ch)
	m.AnswersTotal.Describe(ch)
	m.QueryDuration.Describe(ch)
	m.CacheHitsTotal.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.QueriesTotal.Collect(ch)
	m.AnswersTotal.Collect(ch)
	m.QueryDuration.Collect(ch)
	m.CacheHitsTotal.Collect(ch)
}

// Register registers m with the default Prometheus registry.
func (m *Metrics) Register() {
	prometheus.MustRegister(m)
}

// Ingest records one DnsMetric against the collector set.
func (m *Metrics) Ingest(dm dnschain.DnsMetric) {
	flowLabel := fmt.Sprintf("%d", dm.FlowID)
	statusLabel := dm.Status.String()

	m.QueriesTotal.WithLabelValues(flowLabel, statusLabel).Inc()
	m.AnswersTotal.WithLabelValues(flowLabel).Add(float64(dm.Answers))
	m.QueryDuration.WithLabelValues(statusLabel).Observe(float64(dm.DurationMs) / 1000)
	if dm.Status == dnschain.StatusHit {
		m.CacheHitsTotal.WithLabelValues(flowLabel).Inc()
	}
}

// Run drains ch into m until ctx is canceled or ch is closed.
func Run(ctx context.Context, m *Metrics, ch <-chan dnschain.DnsMetric) {
	for {
		select {
		case <-ctx.Done():
			return
		case dm, ok := <-ch:
			if !ok {
				return
			}
			m.Ingest(dm)
		}
	}
}
