// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package geostore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhaojindong1001/landscape-sub000/internal/clock"
	"github.com/zhaojindong1001/landscape-sub000/internal/store"
)

type fakeConfigStore struct {
	sites []store.GeoDataset
	ips   []store.GeoDataset
}

func (f *fakeConfigStore) ListGeoSite() ([]store.GeoDataset, error) { return f.sites, nil }
func (f *fakeConfigStore) ListGeoIP() ([]store.GeoDataset, error)   { return f.ips, nil }
func (f *fakeConfigStore) UpsertGeoSite(d store.GeoDataset) error {
	for i, s := range f.sites {
		if s.DatasetName == d.DatasetName && s.Tag == d.Tag {
			f.sites[i] = d
			return nil
		}
	}
	f.sites = append(f.sites, d)
	return nil
}
func (f *fakeConfigStore) UpsertGeoIP(d store.GeoDataset) error {
	for i, s := range f.ips {
		if s.DatasetName == d.DatasetName && s.Tag == d.Tag {
			f.ips[i] = d
			return nil
		}
	}
	f.ips = append(f.ips, d)
	return nil
}

func TestRefreshAll_DirectSourcePopulatesEntry(t *testing.T) {
	cfg := &fakeConfigStore{
		sites: []store.GeoDataset{{
			DatasetName: "ads.dat",
			Tag:         "ads",
			Source:      store.GeoSource{Type: "direct", Data: []string{"full:ads.example.com", "domain:tracker.example"}},
		}},
	}
	s, err := New("", cfg, clock.NewMockClock(clock.Now()))
	require.NoError(t, err)

	s.RefreshAll(false)

	e, ok := s.GeoSite("ads.dat", "ads")
	require.True(t, ok)
	require.Len(t, e.Domains, 2)
}

func TestRefreshAll_PruneMissingRemovesStaleDataset(t *testing.T) {
	cfg := &fakeConfigStore{
		sites: []store.GeoDataset{{DatasetName: "old.dat", Tag: "x", Source: store.GeoSource{Type: "direct", Data: []string{"full:a.com"}}}},
	}
	s, err := New("", cfg, clock.NewMockClock(clock.Now()))
	require.NoError(t, err)
	s.RefreshAll(false)
	_, ok := s.GeoSite("old.dat", "x")
	require.True(t, ok)

	cfg.sites = nil
	s.RefreshAll(true)
	_, ok = s.GeoSite("old.dat", "x")
	require.False(t, ok, "forced refresh must prune datasets no longer in config")
}

func TestRefreshAll_DirectGeoIPPopulatesCIDRs(t *testing.T) {
	cfg := &fakeConfigStore{
		ips: []store.GeoDataset{{
			DatasetName: "cn.dat",
			Tag:         "cn",
			Source:      store.GeoSource{Type: "direct", Data: []string{"1.2.3.0/24", "10.0.0.0/8"}},
		}},
	}
	s, err := New("", cfg, clock.NewMockClock(clock.Now()))
	require.NoError(t, err)
	s.RefreshAll(false)

	e, ok := s.GeoIP("cn.dat", "cn")
	require.True(t, ok)
	require.Len(t, e.CIDRs, 2)
}
