// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"net"

	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
	"github.com/zhaojindong1001/landscape-sub000/internal/identity"
)

// RANeighbor is one row of the ra_neighbors table, shaped like an entry
// of the neighbor table an RA announcer builds from observed Neighbor
// Advertisements. The announcer keeps that table in memory only; it
// does not read or write these rows.
type RANeighbor struct {
	IfaceName          string
	IP                 net.IP
	MAC                identity.MacAddr
	RelativeActiveTime int64
}

// ListRANeighbors loads every neighbor seen on iface (or every
// interface when iface is empty).
func (s *Store) ListRANeighbors(iface string) ([]RANeighbor, error) {
	query := `SELECT iface_name, ip, mac, relative_active_time FROM ra_neighbors`
	args := []interface{}{}
	if iface != "" {
		query += ` WHERE iface_name = ?`
		args = append(args, iface)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, flywallerrors.Wrap(err, flywallerrors.KindInternal, "list ra neighbors")
	}
	defer rows.Close()

	var out []RANeighbor
	for rows.Next() {
		var n RANeighbor
		var ip, mac string
		if err := rows.Scan(&n.IfaceName, &ip, &mac, &n.RelativeActiveTime); err != nil {
			return nil, err
		}
		n.IP = net.ParseIP(ip)
		parsed, err := identity.ParseMacAddr(mac)
		if err != nil {
			return nil, flywallerrors.Wrapf(err, flywallerrors.KindValidation, "ra_neighbors.mac %q", mac)
		}
		n.MAC = parsed
		out = append(out, n)
	}
	return out, rows.Err()
}

// UpsertRANeighbor records (or refreshes) one neighbor sighting.
func (s *Store) UpsertRANeighbor(n RANeighbor) error {
	_, err := s.db.Exec(`INSERT INTO ra_neighbors (iface_name, ip, mac, relative_active_time) VALUES (?, ?, ?, ?)
		ON CONFLICT(iface_name, ip) DO UPDATE SET mac = excluded.mac, relative_active_time = excluded.relative_active_time`,
		n.IfaceName, n.IP.String(), n.MAC.String(), n.RelativeActiveTime)
	return err
}

// DeleteRANeighbor removes one neighbor row.
func (s *Store) DeleteRANeighbor(iface string, ip net.IP) error {
	_, err := s.db.Exec(`DELETE FROM ra_neighbors WHERE iface_name = ? AND ip = ?`, iface, ip.String())
	return err
}
