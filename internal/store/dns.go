// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"database/sql"
	"encoding/json"

	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
	"github.com/zhaojindong1001/landscape-sub000/internal/flow"
)

// sourceEntry is the JSON shape persisted per DomainMatcher in
// dns_rules.source_json.
type sourceEntry struct {
	Kind  uint8  `json:"kind"`
	Value string `json:"value"`
}

// ListDNSRules loads every DNS rule across all flows, in no particular
// order — callers sort by (FlowID, Priority) as needed.
func (s *Store) ListDNSRules() ([]flow.Rule, error) {
	rows, err := s.db.Query(`SELECT id, flow_id, name, priority, enable, filter, source_json, upstream_id, mark FROM dns_rules`)
	if err != nil {
		return nil, flywallerrors.Wrap(err, flywallerrors.KindInternal, "list dns rules")
	}
	defer rows.Close()

	var out []flow.Rule
	for rows.Next() {
		var (
			r          flow.Rule
			flowID     int
			enable     int
			filterV    int
			sourceJSON string
			upstream   sql.NullString
			mark       uint32
		)
		if err := rows.Scan(&r.ID, &flowID, &r.Name, &r.Priority, &enable, &filterV, &sourceJSON, &upstream, &mark); err != nil {
			return nil, err
		}
		r.FlowID = flow.ID(flowID)
		r.Enable = enable != 0
		r.Filter = flow.Filter(filterV)
		r.Upstream = upstream.String
		r.Mark = flow.MarkFromUint32(mark)

		var entries []sourceEntry
		if err := json.Unmarshal([]byte(sourceJSON), &entries); err != nil {
			return nil, flywallerrors.Wrapf(err, flywallerrors.KindValidation, "dns_rules.source_json for %s", r.ID)
		}
		for _, e := range entries {
			dm, err := flow.NewDomainMatcher(flow.MatcherKind(e.Kind), e.Value)
			if err != nil {
				return nil, flywallerrors.Wrapf(err, flywallerrors.KindValidation, "dns rule %s matcher %q", r.ID, e.Value)
			}
			r.Source = append(r.Source, dm)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertDNSRule writes one DNS rule row.
func (s *Store) UpsertDNSRule(r flow.Rule) error {
	entries := make([]sourceEntry, len(r.Source))
	for i, dm := range r.Source {
		entries[i] = sourceEntry{Kind: uint8(dm.Kind), Value: dm.Value}
	}
	blob, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	enable := 0
	if r.Enable {
		enable = 1
	}
	_, err = s.db.Exec(`INSERT INTO dns_rules (id, flow_id, name, priority, enable, filter, source_json, upstream_id, mark)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			flow_id = excluded.flow_id, name = excluded.name, priority = excluded.priority,
			enable = excluded.enable, filter = excluded.filter, source_json = excluded.source_json,
			upstream_id = excluded.upstream_id, mark = excluded.mark`,
		r.ID, int(r.FlowID), r.Name, r.Priority, enable, int(r.Filter), string(blob), nullableString(r.Upstream), r.Mark.Uint32())
	if err != nil {
		return flywallerrors.Wrapf(err, flywallerrors.KindInternal, "upsert dns rule %s", r.ID)
	}
	return nil
}

// DeleteDNSRule removes one DNS rule by id.
func (s *Store) DeleteDNSRule(id string) error {
	_, err := s.db.Exec(`DELETE FROM dns_rules WHERE id = ?`, id)
	return err
}

// DNSUpstream is a named resolver landscaped can forward queries to.
type DNSUpstream struct {
	ID       string
	Name     string
	Addr     string
	Protocol string
}

// ListDNSUpstreams loads every configured upstream resolver.
func (s *Store) ListDNSUpstreams() ([]DNSUpstream, error) {
	rows, err := s.db.Query(`SELECT id, name, addr, protocol FROM dns_upstreams`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DNSUpstream
	for rows.Next() {
		var u DNSUpstream
		if err := rows.Scan(&u.ID, &u.Name, &u.Addr, &u.Protocol); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UpsertDNSUpstream writes one upstream resolver row.
func (s *Store) UpsertDNSUpstream(u DNSUpstream) error {
	_, err := s.db.Exec(`INSERT INTO dns_upstreams (id, name, addr, protocol) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, addr = excluded.addr, protocol = excluded.protocol`,
		u.ID, u.Name, u.Addr, u.Protocol)
	return err
}

func nullableString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
