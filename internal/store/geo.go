// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"encoding/json"

	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
)

// GeoDataset identifies one geosite/geoip tag within a dataset file
// (e.g. dataset "geosite.dat", tag "netflix") and how to refresh it.
type GeoDataset struct {
	DatasetName string
	Tag         string
	Source      GeoSource
}

func (s *Store) listGeo(table string) ([]GeoDataset, error) {
	rows, err := s.db.Query(`SELECT dataset_name, tag, source_json FROM ` + table)
	if err != nil {
		return nil, flywallerrors.Wrapf(err, flywallerrors.KindInternal, "list %s", table)
	}
	defer rows.Close()

	var out []GeoDataset
	for rows.Next() {
		var d GeoDataset
		var blob string
		if err := rows.Scan(&d.DatasetName, &d.Tag, &blob); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(blob), &d.Source); err != nil {
			return nil, flywallerrors.Wrapf(err, flywallerrors.KindValidation, "%s source_json for %s/%s", table, d.DatasetName, d.Tag)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) upsertGeo(table string, d GeoDataset) error {
	blob, err := json.Marshal(d.Source)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO `+table+` (dataset_name, tag, source_json) VALUES (?, ?, ?)
		ON CONFLICT(dataset_name, tag) DO UPDATE SET source_json = excluded.source_json`,
		d.DatasetName, d.Tag, string(blob))
	return err
}

// ListGeoSite loads every configured geosite dataset entry.
func (s *Store) ListGeoSite() ([]GeoDataset, error) { return s.listGeo("geo_site") }

// ListGeoIP loads every configured geoip dataset entry.
func (s *Store) ListGeoIP() ([]GeoDataset, error) { return s.listGeo("geo_ip") }

// UpsertGeoSite writes (or updates next_update_at on) one geosite entry.
func (s *Store) UpsertGeoSite(d GeoDataset) error { return s.upsertGeo("geo_site", d) }

// UpsertGeoIP writes (or updates next_update_at on) one geoip entry.
func (s *Store) UpsertGeoIP(d GeoDataset) error { return s.upsertGeo("geo_ip", d) }
