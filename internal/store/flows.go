// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"database/sql"
	"net"

	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
	"github.com/zhaojindong1001/landscape-sub000/internal/flow"
	"github.com/zhaojindong1001/landscape-sub000/internal/identity"
)

// ListFlows loads every flow together with its matches and targets. DNS
// and IP rules live in their own tables and are attached by the
// caller (dnschain needs them flattened across flows by priority, not
// grouped).
func (s *Store) ListFlows() ([]flow.Flow, error) {
	rows, err := s.db.Query(`SELECT flow_id, name FROM flows ORDER BY flow_id`)
	if err != nil {
		return nil, flywallerrors.Wrap(err, flywallerrors.KindInternal, "list flows")
	}
	defer rows.Close()

	var flows []flow.Flow
	for rows.Next() {
		var f flow.Flow
		var id int
		if err := rows.Scan(&id, &f.Name); err != nil {
			return nil, err
		}
		f.ID = flow.ID(id)
		flows = append(flows, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range flows {
		matches, err := s.flowMatches(flows[i].ID)
		if err != nil {
			return nil, err
		}
		targets, err := s.flowTargets(flows[i].ID)
		if err != nil {
			return nil, err
		}
		flows[i].Matches = matches
		flows[i].Targets = targets
	}
	return flows, nil
}

func (s *Store) flowMatches(flowID flow.ID) ([]flow.Match, error) {
	rows, err := s.db.Query(`SELECT mode, mac, prefix FROM flow_matches WHERE flow_id = ?`, int(flowID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []flow.Match
	for rows.Next() {
		var mode int
		var mac, prefix sql.NullString
		if err := rows.Scan(&mode, &mac, &prefix); err != nil {
			return nil, err
		}
		m := flow.Match{Mode: flow.MatchMode(mode), FlowID: flowID}
		if mac.Valid && mac.String != "" {
			parsed, err := identity.ParseMacAddr(mac.String)
			if err != nil {
				return nil, flywallerrors.Wrapf(err, flywallerrors.KindValidation, "flow_matches.mac %q", mac.String)
			}
			m.MAC = parsed
		}
		if prefix.Valid && prefix.String != "" {
			_, ipnet, err := net.ParseCIDR(prefix.String)
			if err != nil {
				return nil, flywallerrors.Wrapf(err, flywallerrors.KindValidation, "flow_matches.prefix %q", prefix.String)
			}
			m.Prefix = *ipnet
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) flowTargets(flowID flow.ID) ([]flow.Target, error) {
	rows, err := s.db.Query(`SELECT kind, name FROM flow_targets WHERE flow_id = ? ORDER BY priority`, int(flowID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []flow.Target
	for rows.Next() {
		var kind int
		var name string
		if err := rows.Scan(&kind, &name); err != nil {
			return nil, err
		}
		out = append(out, flow.Target{Kind: flow.TargetKind(kind), Name: name})
	}
	return out, rows.Err()
}

// UpsertFlow writes f's own row, replacing its match and target rows
// wholesale — flows are small and edited as a unit from the admin
// surface, so a diff-update would add complexity with no benefit.
func (s *Store) UpsertFlow(f flow.Flow) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO flows (flow_id, name) VALUES (?, ?)
		ON CONFLICT(flow_id) DO UPDATE SET name = excluded.name`, int(f.ID), f.Name); err != nil {
		return flywallerrors.Wrapf(err, flywallerrors.KindInternal, "upsert flow %d", f.ID)
	}

	if _, err := tx.Exec(`DELETE FROM flow_matches WHERE flow_id = ?`, int(f.ID)); err != nil {
		return err
	}
	for i, m := range f.Matches {
		var mac, prefix string
		if m.Mode == flow.MatchByMAC {
			mac = m.MAC.String()
		} else {
			prefix = m.Prefix.String()
		}
		if _, err := tx.Exec(`INSERT INTO flow_matches (id, flow_id, mode, mac, prefix) VALUES (?, ?, ?, ?, ?)`,
			matchID(f.ID, i), int(f.ID), int(m.Mode), mac, prefix); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`DELETE FROM flow_targets WHERE flow_id = ?`, int(f.ID)); err != nil {
		return err
	}
	for i, t := range f.Targets {
		if _, err := tx.Exec(`INSERT INTO flow_targets (id, flow_id, kind, name, priority) VALUES (?, ?, ?, ?, ?)`,
			targetID(f.ID, i), int(f.ID), int(t.Kind), t.Name, i); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// DeleteFlow removes a flow and its matches/targets. DNS and IP rules
// referencing it are left for the caller to reassign or remove.
func (s *Store) DeleteFlow(id flow.ID) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM flow_matches WHERE flow_id = ?`, int(id)); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM flow_targets WHERE flow_id = ?`, int(id)); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM flows WHERE flow_id = ?`, int(id)); err != nil {
		return err
	}
	return tx.Commit()
}

func matchID(flowID flow.ID, index int) string {
	return idSuffix("match", flowID, index)
}

func targetID(flowID flow.ID, index int) string {
	return idSuffix("target", flowID, index)
}

func idSuffix(prefix string, flowID flow.ID, index int) string {
	return prefix + ":" + itoa(int(flowID)) + ":" + itoa(index)
}
