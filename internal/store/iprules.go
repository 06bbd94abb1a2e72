// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"database/sql"
	"net"

	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
	"github.com/zhaojindong1001/landscape-sub000/internal/flow"
)

// ListIPRules loads every destination-IP rule across all flows, in no
// particular order — callers sort by (FlowID, Priority) as needed.
func (s *Store) ListIPRules() ([]flow.IPRule, error) {
	rows, err := s.db.Query(`SELECT id, flow_id, priority, enable, prefix, geo_dataset, geo_tag, geo_inverse, mark FROM ip_rules`)
	if err != nil {
		return nil, flywallerrors.Wrap(err, flywallerrors.KindInternal, "list ip rules")
	}
	defer rows.Close()

	var out []flow.IPRule
	for rows.Next() {
		var (
			r          flow.IPRule
			flowID     int
			enable     int
			prefix     sql.NullString
			geoDataset sql.NullString
			geoTag     sql.NullString
			geoInverse int
			mark       uint32
		)
		if err := rows.Scan(&r.ID, &flowID, &r.Priority, &enable, &prefix, &geoDataset, &geoTag, &geoInverse, &mark); err != nil {
			return nil, err
		}
		r.FlowID = flow.ID(flowID)
		r.Enable = enable != 0
		r.GeoDataset = geoDataset.String
		r.GeoTag = geoTag.String
		r.GeoInverse = geoInverse != 0
		r.Mark = flow.MarkFromUint32(mark)

		if prefix.Valid && prefix.String != "" {
			_, ipnet, err := net.ParseCIDR(prefix.String)
			if err != nil {
				return nil, flywallerrors.Wrapf(err, flywallerrors.KindValidation, "ip_rules.prefix %q", prefix.String)
			}
			r.Prefix = *ipnet
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertIPRule writes one destination-IP rule row.
func (s *Store) UpsertIPRule(r flow.IPRule) error {
	enable := 0
	if r.Enable {
		enable = 1
	}
	geoInverse := 0
	if r.GeoInverse {
		geoInverse = 1
	}
	var prefix string
	if r.Prefix.IP != nil {
		prefix = r.Prefix.String()
	}
	_, err := s.db.Exec(`INSERT INTO ip_rules (id, flow_id, priority, enable, prefix, geo_dataset, geo_tag, geo_inverse, mark)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			flow_id = excluded.flow_id, priority = excluded.priority, enable = excluded.enable,
			prefix = excluded.prefix, geo_dataset = excluded.geo_dataset, geo_tag = excluded.geo_tag,
			geo_inverse = excluded.geo_inverse, mark = excluded.mark`,
		r.ID, int(r.FlowID), r.Priority, enable, nullableString(prefix),
		nullableString(r.GeoDataset), nullableString(r.GeoTag), geoInverse, r.Mark.Uint32())
	if err != nil {
		return flywallerrors.Wrapf(err, flywallerrors.KindInternal, "upsert ip rule %s", r.ID)
	}
	return nil
}

// DeleteIPRule removes one destination-IP rule by id.
func (s *Store) DeleteIPRule(id string) error {
	_, err := s.db.Exec(`DELETE FROM ip_rules WHERE id = ?`, id)
	return err
}
