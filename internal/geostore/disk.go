// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package geostore

import (
	"encoding/gob"
	"net"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"

	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
	"github.com/zhaojindong1001/landscape-sub000/internal/flow"
)

// diskSnapshot is the gob-encoded, gzip-compressed shape persisted to
// disk so a restart has usable geosite/geoip data before the first
// network refresh completes.
type diskSnapshot struct {
	Sites map[key]diskSiteEntry
	IPs   map[key]diskIPEntry
}

type diskSiteEntry struct {
	Kinds  []flow.MatcherKind
	Values []string
}

type diskIPEntry struct {
	CIDRs        []string
	InverseMatch bool
}

func toDiskSite(e SiteEntry) diskSiteEntry {
	d := diskSiteEntry{}
	for _, m := range e.Domains {
		d.Kinds = append(d.Kinds, m.Kind)
		d.Values = append(d.Values, m.Value)
	}
	return d
}

func fromDiskSite(d diskSiteEntry) SiteEntry {
	var e SiteEntry
	for i, k := range d.Kinds {
		m, err := flow.NewDomainMatcher(k, d.Values[i])
		if err != nil {
			continue
		}
		e.Domains = append(e.Domains, m)
	}
	return e
}

func toDiskIP(e IPEntry) diskIPEntry {
	d := diskIPEntry{InverseMatch: e.InverseMatch}
	for _, c := range e.CIDRs {
		d.CIDRs = append(d.CIDRs, c.String())
	}
	return d
}

func fromDiskIP(d diskIPEntry) IPEntry {
	e := IPEntry{InverseMatch: d.InverseMatch}
	for _, s := range d.CIDRs {
		_, n, err := net.ParseCIDR(s)
		if err != nil || n == nil {
			continue
		}
		e.CIDRs = append(e.CIDRs, *n)
	}
	return e
}

func (s *Store) diskPath() string {
	return filepath.Join(s.dir, "geostore.snapshot.gz")
}

// save persists the current in-memory keyed store to disk, atomically
// via a temp-file rename.
func (s *Store) save() error {
	if s.dir == "" {
		return nil
	}
	s.mu.RLock()
	snap := diskSnapshot{
		Sites: make(map[key]diskSiteEntry, len(s.site)),
		IPs:   make(map[key]diskIPEntry, len(s.ip)),
	}
	for k, v := range s.site {
		snap.Sites[k] = toDiskSite(v)
	}
	for k, v := range s.ip {
		snap.IPs[k] = toDiskIP(v)
	}
	s.mu.RUnlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return flywallerrors.Wrapf(err, flywallerrors.KindInternal, "geostore: mkdir %s", s.dir)
	}
	tmp := s.diskPath() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return flywallerrors.Wrapf(err, flywallerrors.KindInternal, "geostore: create snapshot")
	}
	gz := gzip.NewWriter(f)
	if err := gob.NewEncoder(gz).Encode(snap); err != nil {
		gz.Close()
		f.Close()
		return flywallerrors.Wrapf(err, flywallerrors.KindInternal, "geostore: encode snapshot")
	}
	if err := gz.Close(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.diskPath())
}

// load restores the keyed store from the last persisted snapshot. A
// missing file is not an error — the store simply starts empty.
func (s *Store) load() error {
	if s.dir == "" {
		return nil
	}
	f, err := os.Open(s.diskPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return flywallerrors.Wrapf(err, flywallerrors.KindInternal, "geostore: open snapshot")
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return flywallerrors.Wrapf(err, flywallerrors.KindValidation, "geostore: decompress snapshot")
	}
	defer gz.Close()

	var snap diskSnapshot
	if err := gob.NewDecoder(gz).Decode(&snap); err != nil {
		return flywallerrors.Wrapf(err, flywallerrors.KindValidation, "geostore: decode snapshot")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range snap.Sites {
		s.site[k] = fromDiskSite(v)
	}
	for k, v := range snap.IPs {
		s.ip[k] = fromDiskIP(v)
	}
	return nil
}
