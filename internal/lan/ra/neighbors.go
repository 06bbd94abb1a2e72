// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ra

import (
	"net"
	"sync"
	"time"

	"github.com/zhaojindong1001/landscape-sub000/internal/identity"
)

// Neighbor is one observed {mac, ip} pairing with the time it was last
// seen, relative to the table's own clock.
type Neighbor struct {
	MAC              identity.MacAddr
	IP               net.IP
	RelativeActiveTime int64
}

// neighborTable tracks neighbors seen via incoming Neighbor
// Advertisements on one RA interface; entries older than one ad
// interval past the last sweep are evicted.
type neighborTable struct {
	mu       sync.Mutex
	byIP     map[string]Neighbor
	lastSeen map[string]time.Time
}

func newNeighborTable() *neighborTable {
	return &neighborTable{byIP: make(map[string]Neighbor), lastSeen: make(map[string]time.Time)}
}

func (t *neighborTable) record(mac identity.MacAddr, ip net.IP, now time.Time, relative int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := ip.String()
	t.byIP[key] = Neighbor{MAC: mac, IP: ip, RelativeActiveTime: relative}
	t.lastSeen[key] = now
}

func (t *neighborTable) evictStale(now time.Time, maxAge time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, seen := range t.lastSeen {
		if now.Sub(seen) > maxAge {
			delete(t.byIP, key)
			delete(t.lastSeen, key)
		}
	}
}

func (t *neighborTable) Snapshot() []Neighbor {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Neighbor, 0, len(t.byIP))
	for _, n := range t.byIP {
		out = append(out, n)
	}
	return out
}
