// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package geostore

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/zhaojindong1001/landscape-sub000/internal/clock"
	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
	"github.com/zhaojindong1001/landscape-sub000/internal/flow"
	"github.com/zhaojindong1001/landscape-sub000/internal/logging"
	"github.com/zhaojindong1001/landscape-sub000/internal/store"
)

const refreshInterval = 24 * time.Hour
const startupDelay = 30 * time.Second

// configStore is the subset of *store.Store the refresh loop needs,
// narrowed to an interface so tests can supply an in-memory fake
// instead of a real database.
type configStore interface {
	ListGeoSite() ([]store.GeoDataset, error)
	ListGeoIP() ([]store.GeoDataset, error)
	UpsertGeoSite(store.GeoDataset) error
	UpsertGeoIP(store.GeoDataset) error
}

// Store is the disk-persistent, in-memory keyed geosite/geoip cache.
type Store struct {
	mu   sync.RWMutex
	dir  string
	site map[key]SiteEntry
	ip   map[key]IPEntry
	bus  *eventBus

	cfg    configStore
	clk    clock.Clock
	client *http.Client
	log    *logging.Logger
}

// New builds a Store backed by dir for on-disk persistence (empty dir
// disables persistence — used by tests) and cfg for dataset
// configuration. It loads any existing snapshot before returning.
func New(dir string, cfg configStore, clk clock.Clock) (*Store, error) {
	if clk == nil {
		clk = clock.Real
	}
	s := &Store{
		dir:    dir,
		site:   make(map[key]SiteEntry),
		ip:     make(map[key]IPEntry),
		bus:    newEventBus(),
		cfg:    cfg,
		clk:    clk,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    logging.WithComponent("geostore"),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// GeoSite returns the domain rule set for (datasetName, tag), if
// present.
func (s *Store) GeoSite(datasetName, tag string) (SiteEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.site[key{Dataset: datasetName, Tag: strings.ToUpper(tag)}]
	return e, ok
}

// GeoIP returns the CIDR set for (datasetName, tag), if present.
func (s *Store) GeoIP(datasetName, tag string) (IPEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.ip[key{Dataset: datasetName, Tag: strings.ToUpper(tag)}]
	return e, ok
}

// GeoIPTags lists every tag loaded for datasetName, letting a caller
// expand an inverse-match rule ("this dataset's tag X, inverted") into
// the union of every other tag's CIDRs.
func (s *Store) GeoIPTags(datasetName string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for k := range s.ip {
		if k.Dataset == datasetName {
			out = append(out, k.Tag)
		}
	}
	return out
}

// Watch subscribes to GeositeUpdated/GeoIpUpdated events.
func (s *Store) Watch() (<-chan Event, func()) {
	return s.bus.watch()
}

// Run drives the refresh loop: a 30s startup delay (letting the
// network come up), then a refresh pass every 24h, until ctx is
// canceled.
func (s *Store) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-s.clk.After(startupDelay):
	}
	s.RefreshAll(false)

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RefreshAll(false)
		}
	}
}

// RefreshAll runs one refresh pass over every configured dataset. When
// forced is true, URL-sourced datasets refresh unconditionally and any
// in-memory dataset whose name is no longer present in the
// configuration is pruned — the admin-triggered forced-refresh path.
func (s *Store) RefreshAll(forced bool) {
	siteRows, err := s.cfg.ListGeoSite()
	if err != nil {
		s.log.WithError(err).Warn("list geosite config failed")
	} else {
		s.refreshRows(KindGeoSite, siteRows, forced)
	}

	ipRows, err := s.cfg.ListGeoIP()
	if err != nil {
		s.log.WithError(err).Warn("list geoip config failed")
	} else {
		s.refreshRows(KindGeoIP, ipRows, forced)
	}

	if forced {
		s.pruneMissing(KindGeoSite, siteRows)
		s.pruneMissing(KindGeoIP, ipRows)
	}

	if err := s.save(); err != nil {
		s.log.WithError(err).Warn("persist geostore snapshot failed")
	}
}

func (s *Store) refreshRows(kind Kind, rows []store.GeoDataset, forced bool) {
	now := s.clk.Now()
	for _, row := range rows {
		switch row.Source.Type {
		case "direct":
			s.applyDirect(kind, row)
		case "url":
			if !forced && row.Source.NextUpdateAt > now.Unix() {
				continue
			}
			if err := s.refreshURL(kind, row, now); err != nil {
				s.log.WithError(err).Warn("geostore refresh failed", "dataset", row.DatasetName, "tag", row.Tag)
			}
		default:
			s.log.Warn("unknown geo source type", "type", row.Source.Type, "dataset", row.DatasetName)
		}
	}
}

func (s *Store) applyDirect(kind Kind, row store.GeoDataset) {
	k := key{Dataset: row.DatasetName, Tag: strings.ToUpper(row.Tag)}
	switch kind {
	case KindGeoSite:
		var domains []flow.DomainMatcher
		for _, item := range row.Source.Data {
			m, err := parseDirectDomainRule(item)
			if err != nil {
				s.log.WithError(err).Warn("skip invalid direct geosite rule", "item", item)
				continue
			}
			domains = append(domains, m)
		}
		s.mu.Lock()
		s.site[k] = SiteEntry{Domains: domains}
		s.mu.Unlock()
		s.bus.publish(Event{Kind: GeositeUpdated, Dataset: row.DatasetName, Tag: row.Tag})
	case KindGeoIP:
		var cidrs []net.IPNet
		for _, item := range row.Source.Data {
			_, n, err := net.ParseCIDR(item)
			if err != nil {
				s.log.WithError(err).Warn("skip invalid direct geoip cidr", "item", item)
				continue
			}
			cidrs = append(cidrs, *n)
		}
		s.mu.Lock()
		s.ip[k] = IPEntry{CIDRs: cidrs}
		s.mu.Unlock()
		s.bus.publish(Event{Kind: GeoIpUpdated, Dataset: row.DatasetName, Tag: row.Tag})
	}
}

func (s *Store) refreshURL(kind Kind, row store.GeoDataset, now time.Time) error {
	resp, err := s.client.Get(row.Source.URL)
	if err != nil {
		return flywallerrors.Wrapf(err, flywallerrors.KindUnavailable, "geostore: fetch %s", row.Source.URL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return flywallerrors.Errorf(flywallerrors.KindUnavailable, "geostore: fetch %s: status %d", row.Source.URL, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return flywallerrors.Wrapf(err, flywallerrors.KindUnavailable, "geostore: read %s", row.Source.URL)
	}

	wantTags := map[string]bool{strings.ToUpper(row.Tag): true}
	for _, g := range row.Source.GeoKeys {
		wantTags[strings.ToUpper(g)] = true
	}

	switch kind {
	case KindGeoSite:
		found, err := decodeGeoSite(body, wantTags)
		if err != nil {
			return err
		}
		merged := mergeSiteEntries(found, wantTags)
		s.mu.Lock()
		s.site[key{Dataset: row.DatasetName, Tag: strings.ToUpper(row.Tag)}] = merged
		s.mu.Unlock()
		s.bus.publish(Event{Kind: GeositeUpdated, Dataset: row.DatasetName, Tag: row.Tag})
	case KindGeoIP:
		found, err := decodeGeoIP(body, wantTags)
		if err != nil {
			return err
		}
		merged := mergeIPEntries(found, wantTags)
		s.mu.Lock()
		s.ip[key{Dataset: row.DatasetName, Tag: strings.ToUpper(row.Tag)}] = merged
		s.mu.Unlock()
		s.bus.publish(Event{Kind: GeoIpUpdated, Dataset: row.DatasetName, Tag: row.Tag})
	}

	row.Source.NextUpdateAt = now.Add(refreshInterval).Unix()
	var upsertErr error
	if kind == KindGeoSite {
		upsertErr = s.cfg.UpsertGeoSite(row)
	} else {
		upsertErr = s.cfg.UpsertGeoIP(row)
	}
	return upsertErr
}

func mergeSiteEntries(found map[string]SiteEntry, wantTags map[string]bool) SiteEntry {
	var merged SiteEntry
	for tag := range wantTags {
		merged.Domains = append(merged.Domains, found[tag].Domains...)
	}
	return merged
}

func mergeIPEntries(found map[string]IPEntry, wantTags map[string]bool) IPEntry {
	var merged IPEntry
	for tag := range wantTags {
		merged.CIDRs = append(merged.CIDRs, found[tag].CIDRs...)
		if found[tag].InverseMatch {
			merged.InverseMatch = true
		}
	}
	return merged
}

// pruneMissing deletes every keyed entry under kind whose dataset_name
// no longer appears in rows — the forced-refresh admin path.
func (s *Store) pruneMissing(kind Kind, rows []store.GeoDataset) {
	live := make(map[string]bool, len(rows))
	for _, r := range rows {
		live[r.DatasetName] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case KindGeoSite:
		for k := range s.site {
			if !live[k.Dataset] {
				delete(s.site, k)
			}
		}
	case KindGeoIP:
		for k := range s.ip {
			if !live[k.Dataset] {
				delete(s.ip, k)
			}
		}
	}
}

// parseDirectDomainRule parses an inline direct-source rule string of
// the form "kind:value" (full/domain/regex/keyword), defaulting to a
// Plain match when no recognized prefix is present.
func parseDirectDomainRule(s string) (flow.DomainMatcher, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return flow.NewDomainMatcher(flow.MatchPlain, s)
	}
	switch strings.ToLower(parts[0]) {
	case "full":
		return flow.NewDomainMatcher(flow.MatchFull, parts[1])
	case "domain":
		return flow.NewDomainMatcher(flow.MatchDomain, parts[1])
	case "regex":
		return flow.NewDomainMatcher(flow.MatchRegex, parts[1])
	case "keyword":
		return flow.NewDomainMatcher(flow.MatchKeyword, parts[1])
	default:
		return flow.NewDomainMatcher(flow.MatchPlain, s)
	}
}
