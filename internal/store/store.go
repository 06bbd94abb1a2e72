// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package store is the relational config store: one table per config
// kind, backed by modernc.org/sqlite. Database writes are authoritative;
// every in-memory structure the control plane builds (flow tables, rule
// lists, lease pools) is derived from it at load time and on change.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
	"github.com/zhaojindong1001/landscape-sub000/internal/logging"
)

// Store wraps the sqlite connection pool and the migration runner.
type Store struct {
	db  *sql.DB
	log *logging.Logger
}

// Open opens (creating if absent) the sqlite database at path, applies
// the table DDL, and runs any pending schema migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, flywallerrors.Wrapf(err, flywallerrors.KindUnavailable, "open database %s", path)
	}
	db.SetMaxOpenConns(1) // sqlite: one writer; readers share the same connection for read-committed semantics

	s := &Store{db: db, log: logging.WithComponent("store")}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying pool for direct prepared-statement access
// beyond the typed accessors in this package.
func (s *Store) DB() *sql.DB {
	return s.db
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version TEXT PRIMARY KEY,
	applied_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS interfaces (
	iface_name TEXT PRIMARY KEY,
	ifindex INTEGER,
	kind TEXT NOT NULL,
	enable INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS ip_services (
	id TEXT PRIMARY KEY,
	iface_name TEXT NOT NULL,
	kind TEXT NOT NULL,
	config_json TEXT NOT NULL,
	enable INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS nat_services (
	id TEXT PRIMARY KEY,
	iface_name TEXT NOT NULL,
	config_json TEXT NOT NULL,
	enable INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS static_nat_mappings (
	id TEXT PRIMARY KEY,
	l3_proto INTEGER NOT NULL,
	gress INTEGER NOT NULL,
	l4_proto INTEGER NOT NULL,
	from_port INTEGER NOT NULL,
	from_addr TEXT NOT NULL,
	to_port INTEGER NOT NULL,
	to_addr TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS firewalls (
	id TEXT PRIMARY KEY,
	iface_name TEXT NOT NULL,
	enable INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS firewall_rules (
	id TEXT PRIMARY KEY,
	firewall_id TEXT NOT NULL REFERENCES firewalls(id),
	priority INTEGER NOT NULL,
	rule_json TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS flows (
	flow_id INTEGER PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS flow_matches (
	id TEXT PRIMARY KEY,
	flow_id INTEGER NOT NULL REFERENCES flows(flow_id),
	mode INTEGER NOT NULL,
	mac TEXT,
	prefix TEXT
);

CREATE TABLE IF NOT EXISTS flow_targets (
	id TEXT PRIMARY KEY,
	flow_id INTEGER NOT NULL REFERENCES flows(flow_id),
	kind INTEGER NOT NULL,
	name TEXT NOT NULL,
	priority INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS dns_rules (
	id TEXT PRIMARY KEY,
	flow_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	priority INTEGER NOT NULL,
	enable INTEGER NOT NULL DEFAULT 1,
	filter INTEGER NOT NULL DEFAULT 0,
	source_json TEXT NOT NULL,
	upstream_id TEXT,
	mark INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS dns_redirects (
	id TEXT PRIMARY KEY,
	enable INTEGER NOT NULL DEFAULT 1,
	match_rules_json TEXT NOT NULL,
	result_json TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS dns_upstreams (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	addr TEXT NOT NULL,
	protocol TEXT NOT NULL DEFAULT 'udp'
);

CREATE TABLE IF NOT EXISTS dhcp4_servers (
	id TEXT PRIMARY KEY,
	iface_name TEXT NOT NULL,
	range_start TEXT NOT NULL,
	range_end TEXT NOT NULL,
	lease_time INTEGER NOT NULL,
	enable INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS dhcp4_leases (
	mac TEXT PRIMARY KEY,
	server_id TEXT NOT NULL,
	ip TEXT NOT NULL,
	hostname TEXT,
	relative_offer_time INTEGER NOT NULL,
	valid_time INTEGER NOT NULL,
	is_static INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS dhcp6_pd_clients (
	id TEXT PRIMARY KEY,
	iface_name TEXT NOT NULL,
	enable INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS ra_services (
	id TEXT PRIMARY KEY,
	iface_name TEXT NOT NULL,
	ad_interval INTEGER NOT NULL DEFAULT 600,
	sources_json TEXT NOT NULL,
	enable INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS geo_ip (
	dataset_name TEXT NOT NULL,
	tag TEXT NOT NULL,
	source_json TEXT NOT NULL,
	PRIMARY KEY (dataset_name, tag)
);

CREATE TABLE IF NOT EXISTS geo_site (
	dataset_name TEXT NOT NULL,
	tag TEXT NOT NULL,
	source_json TEXT NOT NULL,
	PRIMARY KEY (dataset_name, tag)
);

CREATE TABLE IF NOT EXISTS route_lan (
	id TEXT PRIMARY KEY,
	iface_name TEXT NOT NULL,
	prefix TEXT NOT NULL,
	mode INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS route_wan (
	id TEXT PRIMARY KEY,
	iface_name TEXT NOT NULL,
	weight INTEGER NOT NULL DEFAULT 1,
	default_route INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS ppp_services (
	id TEXT PRIMARY KEY,
	iface_name TEXT NOT NULL,
	username TEXT,
	password TEXT,
	enable INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS wifi_services (
	id TEXT PRIMARY KEY,
	iface_name TEXT NOT NULL,
	ssid TEXT,
	config_json TEXT
);

CREATE TABLE IF NOT EXISTS enrolled_devices (
	mac TEXT PRIMARY KEY,
	hostname TEXT,
	first_seen INTEGER,
	last_seen INTEGER
);

CREATE TABLE IF NOT EXISTS mss_clamp (
	id TEXT PRIMARY KEY,
	iface_name TEXT NOT NULL,
	clamp_mss INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS firewall_blacklists (
	id TEXT PRIMARY KEY,
	prefix TEXT NOT NULL,
	reason TEXT
);

CREATE TABLE IF NOT EXISTS ip_rules (
	id TEXT PRIMARY KEY,
	flow_id INTEGER NOT NULL REFERENCES flows(flow_id),
	priority INTEGER NOT NULL,
	enable INTEGER NOT NULL DEFAULT 1,
	prefix TEXT,
	geo_dataset TEXT,
	geo_tag TEXT,
	geo_inverse INTEGER NOT NULL DEFAULT 0,
	mark INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS ra_neighbors (
	iface_name TEXT NOT NULL,
	ip TEXT NOT NULL,
	mac TEXT NOT NULL,
	relative_active_time INTEGER NOT NULL,
	PRIMARY KEY (iface_name, ip)
);
`

func (s *Store) createSchema() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return flywallerrors.Wrap(err, flywallerrors.KindInternal, "create schema")
	}
	return nil
}

func (s *Store) isApplied(version string) (bool, error) {
	var v string
	err := s.db.QueryRow(`SELECT version FROM schema_migrations WHERE version = ?`, version).Scan(&v)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) markApplied(version string, nowUnix int64) error {
	_, err := s.db.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, version, nowUnix)
	return err
}

func (s *Store) unmarkApplied(version string) error {
	_, err := s.db.Exec(`DELETE FROM schema_migrations WHERE version = ?`, version)
	return err
}

var errNoMigration = fmt.Errorf("store: no such migration")
