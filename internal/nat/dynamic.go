// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package nat

import (
	"context"
	"time"

	"github.com/ti-mo/conntrack"

	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
	"github.com/zhaojindong1001/landscape-sub000/internal/logging"
	"github.com/zhaojindong1001/landscape-sub000/internal/store"
)

// DriftWatcher periodically dumps the kernel conntrack table and logs
// how many tracked flows have an original source port that no
// currently configured static mapping uses — an observability aid, not an
// enforcement path: the fast path and the static reconciler above own
// every actual packet verdict.
type DriftWatcher struct {
	interval time.Duration
	log      *logging.Logger
	dial     func() (*conntrack.Conn, error)
}

// NewDriftWatcher builds a DriftWatcher polling the conntrack table
// every interval.
func NewDriftWatcher(interval time.Duration) *DriftWatcher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &DriftWatcher{
		interval: interval,
		log:      logging.WithComponent("nat-drift"),
		dial:     func() (*conntrack.Conn, error) { return conntrack.Dial(nil) },
	}
}

// Run polls until ctx is canceled, comparing every observed conntrack
// flow's original-direction source port against the FromPort of each
// mapping known returns.
func (w *DriftWatcher) Run(ctx context.Context, known func() []store.StaticNATMapping) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollOnce(known())
		}
	}
}

func (w *DriftWatcher) pollOnce(configured []store.StaticNATMapping) {
	conn, err := w.dial()
	if err != nil {
		w.log.WithError(flywallerrors.Wrap(err, flywallerrors.KindUnavailable, "dial conntrack")).Warn("conntrack dial failed")
		return
	}
	defer conn.Close()

	flows, err := conn.Dump()
	if err != nil {
		w.log.WithError(err).Warn("conntrack dump failed")
		return
	}

	knownPorts := make(map[uint16]bool, len(configured))
	for _, m := range configured {
		knownPorts[m.FromPort] = true
	}

	var undeclared int
	for _, f := range flows {
		port := f.TupleOrig.Proto.SourcePort
		if port != 0 && !knownPorts[port] {
			undeclared++
		}
	}
	if undeclared > 0 {
		w.log.Warn("observed conntrack entries with no matching static NAT mapping", "count", undeclared)
	}
}
