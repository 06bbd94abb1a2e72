// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"database/sql"
	"encoding/json"

	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
)

// Migration is one forward-only schema step, applied at most once and
// recorded in schema_migrations. Down is kept alongside Up so an
// operator (or a test asserting the migration is exact) can reverse a
// single step explicitly; the runner itself never applies Down
// automatically.
type Migration struct {
	Version     string
	Description string
	Up          func(tx *sql.Tx) error
	Down        func(tx *sql.Tx) error
}

// registry lists every migration in application order. New migrations
// are appended, never reordered or edited in place once released.
var registry = []Migration{
	geoSourceJSONMigration,
}

// runMigrations applies every registered migration not yet recorded in
// schema_migrations, in registry order.
func (s *Store) runMigrations() error {
	for _, m := range registry {
		applied, err := s.isApplied(m.Version)
		if err != nil {
			return flywallerrors.Wrapf(err, flywallerrors.KindInternal, "check migration %s", m.Version)
		}
		if applied {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return flywallerrors.Wrapf(err, flywallerrors.KindInternal, "begin migration %s", m.Version)
		}
		if err := m.Up(tx); err != nil {
			tx.Rollback()
			return flywallerrors.Wrapf(err, flywallerrors.KindInternal, "apply migration %s", m.Version)
		}
		if err := tx.Commit(); err != nil {
			return flywallerrors.Wrapf(err, flywallerrors.KindInternal, "commit migration %s", m.Version)
		}
		if err := s.markApplied(m.Version, 0); err != nil {
			return flywallerrors.Wrapf(err, flywallerrors.KindInternal, "record migration %s", m.Version)
		}
	}
	return nil
}

// Revert applies version's Down step and un-records it, for operator
// rollback or reverse-migration tests. It does not cascade to earlier
// migrations.
func (s *Store) Revert(version string) error {
	for _, m := range registry {
		if m.Version != version {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if err := m.Down(tx); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		return s.unmarkApplied(version)
	}
	return errNoMigration
}

// GeoSource is the JSON shape stored in geo_site.source_json /
// geo_ip.source_json for a dataset key. Exactly one of URL or Data
// describes where the entries come from.
type GeoSource struct {
	Type          string   `json:"t"` // "url" or "direct"
	URL           string   `json:"url,omitempty"`
	NextUpdateAt  int64    `json:"next_update_at,omitempty"`
	GeoKeys       []string `json:"geo_keys,omitempty"`
	Data          []string `json:"data,omitempty"`
}

// geoSourceJSONMigration replaces the legacy (url, next_update_at,
// geo_keys) column triple on geo_site/geo_ip with a single source_json
// column holding a GeoSource. The reverse is exact: it reconstructs the
// three legacy columns byte-for-byte from the stored JSON for url-type
// sources, and clears them for direct-type sources (their legacy
// representation carried no columns at all).
var geoSourceJSONMigration = Migration{
	Version:     "0002_geo_source_json",
	Description: "fold legacy geo dataset (url, next_update_at, geo_keys) columns into source_json",
	Up: func(tx *sql.Tx) error {
		for _, table := range []string{"geo_site", "geo_ip"} {
			hasLegacy, err := tableHasColumn(tx, table, "url")
			if err != nil {
				return err
			}
			if !hasLegacy {
				continue // fresh install: table was created with source_json directly
			}
			rows, err := tx.Query(`SELECT rowid, url, next_update_at, geo_keys FROM ` + table)
			if err != nil {
				return err
			}
			type legacyRow struct {
				rowid        int64
				url          sql.NullString
				nextUpdateAt sql.NullInt64
				geoKeysJSON  sql.NullString
			}
			var legacy []legacyRow
			for rows.Next() {
				var r legacyRow
				if err := rows.Scan(&r.rowid, &r.url, &r.nextUpdateAt, &r.geoKeysJSON); err != nil {
					rows.Close()
					return err
				}
				legacy = append(legacy, r)
			}
			rows.Close()

			if _, err := tx.Exec(`ALTER TABLE ` + table + ` ADD COLUMN source_json TEXT`); err != nil {
				return err
			}

			for _, r := range legacy {
				var src GeoSource
				if r.url.Valid && r.url.String != "" {
					src.Type = "url"
					src.URL = r.url.String
					src.NextUpdateAt = r.nextUpdateAt.Int64
					if r.geoKeysJSON.Valid && r.geoKeysJSON.String != "" {
						_ = json.Unmarshal([]byte(r.geoKeysJSON.String), &src.GeoKeys)
					}
				} else {
					src.Type = "direct"
				}
				blob, err := json.Marshal(src)
				if err != nil {
					return err
				}
				if _, err := tx.Exec(`UPDATE `+table+` SET source_json = ? WHERE rowid = ?`, string(blob), r.rowid); err != nil {
					return err
				}
			}

			for _, col := range []string{"url", "next_update_at", "geo_keys"} {
				if _, err := tx.Exec(`ALTER TABLE ` + table + ` DROP COLUMN ` + col); err != nil {
					return err
				}
			}
		}
		return nil
	},
	Down: func(tx *sql.Tx) error {
		for _, table := range []string{"geo_site", "geo_ip"} {
			hasSourceJSON, err := tableHasColumn(tx, table, "source_json")
			if err != nil {
				return err
			}
			if !hasSourceJSON {
				continue
			}

			for _, col := range []string{
				"url TEXT", "next_update_at INTEGER", "geo_keys TEXT",
			} {
				if _, err := tx.Exec(`ALTER TABLE ` + table + ` ADD COLUMN ` + col); err != nil {
					return err
				}
			}

			rows, err := tx.Query(`SELECT rowid, source_json FROM ` + table)
			if err != nil {
				return err
			}
			type row struct {
				rowid int64
				src   string
			}
			var all []row
			for rows.Next() {
				var r row
				if err := rows.Scan(&r.rowid, &r.src); err != nil {
					rows.Close()
					return err
				}
				all = append(all, r)
			}
			rows.Close()

			for _, r := range all {
				var src GeoSource
				if err := json.Unmarshal([]byte(r.src), &src); err != nil {
					return err
				}
				if src.Type == "url" {
					keysJSON, err := json.Marshal(src.GeoKeys)
					if err != nil {
						return err
					}
					if _, err := tx.Exec(`UPDATE `+table+` SET url = ?, next_update_at = ?, geo_keys = ? WHERE rowid = ?`,
						src.URL, src.NextUpdateAt, string(keysJSON), r.rowid); err != nil {
						return err
					}
				}
			}

			if _, err := tx.Exec(`ALTER TABLE ` + table + ` DROP COLUMN source_json`); err != nil {
				return err
			}
		}
		return nil
	},
}

func tableHasColumn(tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.Query(`PRAGMA table_info(` + table + `)`)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notnull    int
			dfltValue  sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
