// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"database/sql"
	"net"

	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
	"github.com/zhaojindong1001/landscape-sub000/internal/identity"
)

// DHCP4Lease is one row of the dhcp4_leases table. The LAN DHCPv4
// server's pool keeps its bindings in memory only; it does not read or
// write these rows.
type DHCP4Lease struct {
	MAC               identity.MacAddr
	ServerID          string
	IP                net.IP
	Hostname          string
	RelativeOfferTime int64
	ValidTime         int64
	IsStatic          bool
}

// ListDHCP4Leases loads every lease for one server (or every lease
// across all servers when serverID is empty).
func (s *Store) ListDHCP4Leases(serverID string) ([]DHCP4Lease, error) {
	var rows *sql.Rows
	var err error
	if serverID == "" {
		rows, err = s.db.Query(`SELECT mac, server_id, ip, hostname, relative_offer_time, valid_time, is_static FROM dhcp4_leases`)
	} else {
		rows, err = s.db.Query(`SELECT mac, server_id, ip, hostname, relative_offer_time, valid_time, is_static FROM dhcp4_leases WHERE server_id = ?`, serverID)
	}
	if err != nil {
		return nil, flywallerrors.Wrap(err, flywallerrors.KindInternal, "list dhcp4 leases")
	}
	defer rows.Close()

	var out []DHCP4Lease
	for rows.Next() {
		var (
			l        DHCP4Lease
			mac, ip  string
			hostname sql.NullString
			isStatic int
		)
		if err := rows.Scan(&mac, &l.ServerID, &ip, &hostname, &l.RelativeOfferTime, &l.ValidTime, &isStatic); err != nil {
			return nil, err
		}
		parsed, err := identity.ParseMacAddr(mac)
		if err != nil {
			return nil, flywallerrors.Wrapf(err, flywallerrors.KindValidation, "dhcp4_leases.mac %q", mac)
		}
		l.MAC = parsed
		l.IP = net.ParseIP(ip)
		l.Hostname = hostname.String
		l.IsStatic = isStatic != 0
		out = append(out, l)
	}
	return out, rows.Err()
}

// UpsertDHCP4Lease writes (or renews) one lease row, keyed by MAC.
func (s *Store) UpsertDHCP4Lease(l DHCP4Lease) error {
	isStatic := 0
	if l.IsStatic {
		isStatic = 1
	}
	_, err := s.db.Exec(`INSERT INTO dhcp4_leases (mac, server_id, ip, hostname, relative_offer_time, valid_time, is_static)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mac) DO UPDATE SET
			server_id = excluded.server_id, ip = excluded.ip, hostname = excluded.hostname,
			relative_offer_time = excluded.relative_offer_time, valid_time = excluded.valid_time,
			is_static = excluded.is_static`,
		l.MAC.String(), l.ServerID, l.IP.String(), nullableString(l.Hostname), l.RelativeOfferTime, l.ValidTime, isStatic)
	return err
}

// DeleteDHCP4Lease removes a lease by MAC.
func (s *Store) DeleteDHCP4Lease(mac identity.MacAddr) error {
	_, err := s.db.Exec(`DELETE FROM dhcp4_leases WHERE mac = ?`, mac.String())
	return err
}
