// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"net"

	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
	"github.com/zhaojindong1001/landscape-sub000/internal/flow"
)

// StaticNATMapping is one configured static port/address mapping,
// independent of the fixed-width kernel record fastpath publishes it
// as — this is the admin-facing shape the NAT diff engine compares
// against the previously applied mapping set.
type StaticNATMapping struct {
	ID       string
	L3Proto  flow.L3Proto
	Gress    uint8 // 0 = ingress, 1 = egress, mirrors fastpath.Gress
	L4Proto  uint8
	FromPort uint16
	FromAddr net.IP
	ToPort   uint16
	ToAddr   net.IP
}

// Key identifies a mapping by its matchable fields only (excludes ID
// and ToPort/ToAddr), used by the NAT diff engine to compute the
// symmetric difference between desired and previously-applied sets.
func (m StaticNATMapping) Key() string {
	return itoa(int(m.L3Proto)) + ":" + itoa(int(m.Gress)) + ":" + itoa(int(m.L4Proto)) + ":" +
		m.FromAddr.String() + ":" + itoa(int(m.FromPort))
}

// ListStaticNATMappings loads every configured static mapping.
func (s *Store) ListStaticNATMappings() ([]StaticNATMapping, error) {
	rows, err := s.db.Query(`SELECT id, l3_proto, gress, l4_proto, from_port, from_addr, to_port, to_addr FROM static_nat_mappings`)
	if err != nil {
		return nil, flywallerrors.Wrap(err, flywallerrors.KindInternal, "list static nat mappings")
	}
	defer rows.Close()

	var out []StaticNATMapping
	for rows.Next() {
		var (
			m                    StaticNATMapping
			l3                   int
			fromAddr, toAddr     string
		)
		if err := rows.Scan(&m.ID, &l3, &m.Gress, &m.L4Proto, &m.FromPort, &fromAddr, &m.ToPort, &toAddr); err != nil {
			return nil, err
		}
		m.L3Proto = flow.L3Proto(l3)
		m.FromAddr = net.ParseIP(fromAddr)
		m.ToAddr = net.ParseIP(toAddr)
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpsertStaticNATMapping writes one mapping row.
func (s *Store) UpsertStaticNATMapping(m StaticNATMapping) error {
	_, err := s.db.Exec(`INSERT INTO static_nat_mappings (id, l3_proto, gress, l4_proto, from_port, from_addr, to_port, to_addr)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			l3_proto = excluded.l3_proto, gress = excluded.gress, l4_proto = excluded.l4_proto,
			from_port = excluded.from_port, from_addr = excluded.from_addr,
			to_port = excluded.to_port, to_addr = excluded.to_addr`,
		m.ID, int(m.L3Proto), m.Gress, m.L4Proto, m.FromPort, m.FromAddr.String(), m.ToPort, m.ToAddr.String())
	return err
}

// DeleteStaticNATMapping removes a mapping by id.
func (s *Store) DeleteStaticNATMapping(id string) error {
	_, err := s.db.Exec(`DELETE FROM static_nat_mappings WHERE id = ?`, id)
	return err
}
