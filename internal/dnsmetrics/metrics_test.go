// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dnsmetrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/zhaojindong1001/landscape-sub000/internal/dnschain"
)

func TestIngest_CountsQueriesAndCacheHits(t *testing.T) {
	m := NewMetrics()

	m.Ingest(dnschain.DnsMetric{FlowID: 1, Status: dnschain.StatusNormal, Answers: 2, DurationMs: 5})
	m.Ingest(dnschain.DnsMetric{FlowID: 1, Status: dnschain.StatusHit, Answers: 1, DurationMs: 1})

	require.Equal(t, float64(1), testutil.ToFloat64(m.QueriesTotal.WithLabelValues("1", "normal")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.QueriesTotal.WithLabelValues("1", "hit")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.CacheHitsTotal.WithLabelValues("1")))
	require.Equal(t, float64(3), testutil.ToFloat64(m.AnswersTotal.WithLabelValues("1")))
}

func TestRun_DrainsChannelUntilContextCanceled(t *testing.T) {
	m := NewMetrics()
	ch := make(chan dnschain.DnsMetric, 4)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		Run(ctx, m, ch)
		close(done)
	}()

	ch <- dnschain.DnsMetric{FlowID: 2, Status: dnschain.StatusBlock}
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, float64(1), testutil.ToFloat64(m.QueriesTotal.WithLabelValues("2", "block")))

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after context cancellation")
	}
}
