// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads and saves the router's startup configuration
// (landscape.toml). Schema migrations of the relational config store
// live in internal/store, not here.
package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
)

// CurrentSchemaVersion is the schema version new installs are created
// at and existing ones are migrated toward.
const CurrentSchemaVersion = "1.0"

// Startup is the top-level landscape.toml document: everything needed
// to open the database and bind the admin surfaces before any runtime
// config (flows, DNS rules, interfaces...) is read out of the store.
type Startup struct {
	SchemaVersion string `toml:"schema_version"`

	Host string `toml:"host"`
	Port int    `toml:"port"`

	AdminUser string       `toml:"admin_user"`
	AdminPass SecureString `toml:"admin_pass"`

	LogPath  string `toml:"log_path"`
	LogLevel string `toml:"log_level"`
	Debug    bool   `toml:"debug"`

	DatabasePath string `toml:"database_path"`
	StateDir     string `toml:"state_dir"`

	FastPathPinDir string `toml:"fastpath_pin_dir"`
	GeoCacheDir    string `toml:"geo_cache_dir"`

	// CrashThreshold/CrashWindowSecs drive the supervisor's crash-loop
	// detector (internal/supervisor) — how many actual crashes within
	// the window trip safe mode. Zero means "use the package default".
	CrashThreshold  int `toml:"crash_threshold"`
	CrashWindowSecs int `toml:"crash_window_secs"`

	Syslog SyslogStartup `toml:"syslog"`
}

// SyslogStartup mirrors logging.SyslogConfig in TOML-tagged form so it
// can be loaded straight from landscape.toml.
type SyslogStartup struct {
	Enabled  bool   `toml:"enabled"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Protocol string `toml:"protocol"`
	Tag      string `toml:"tag"`
	Facility int    `toml:"facility"`
}

// DefaultHomeDir is $HOME/.landscape-router, the default location
// landscape.toml and the sqlite database are read from.
func DefaultHomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", flywallerrors.Wrap(err, flywallerrors.KindInternal, "resolve home directory")
	}
	return filepath.Join(home, ".landscape-router"), nil
}

// DefaultStartup returns the configuration used when no landscape.toml
// exists yet (combined with CLI overlay before first use).
func DefaultStartup(homeDir string) Startup {
	return Startup{
		SchemaVersion: CurrentSchemaVersion,
		Host:          "127.0.0.1",
		Port:          8080,
		AdminUser:     "admin",
		LogPath:       filepath.Join(homeDir, "landscaped.log"),
		LogLevel:      "info",
		DatabasePath:  filepath.Join(homeDir, "landscape.db"),
		StateDir:      homeDir,

		FastPathPinDir: "/sys/fs/bpf/landscaped",
		GeoCacheDir:    filepath.Join(homeDir, "geo"),

		CrashThreshold:  3,
		CrashWindowSecs: 300,
	}
}

// Load reads and parses landscape.toml at path. A missing file is not
// an error — callers should fall back to DefaultStartup and trigger
// auto-mode bootstrap.
func Load(path string) (*Startup, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, flywallerrors.Wrapf(err, flywallerrors.KindInternal, "read %s", path)
	}
	var s Startup
	if err := toml.Unmarshal(data, &s); err != nil {
		return nil, false, flywallerrors.Wrapf(err, flywallerrors.KindValidation, "parse %s", path)
	}
	return &s, true, nil
}

// Save writes s back to path as TOML, creating parent directories as
// needed.
func Save(path string, s *Startup) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return flywallerrors.Wrapf(err, flywallerrors.KindInternal, "create config directory for %s", path)
	}
	data, err := toml.Marshal(s)
	if err != nil {
		return flywallerrors.Wrap(err, flywallerrors.KindInternal, "marshal startup config")
	}
	return os.WriteFile(path, data, 0o640)
}

// Overlay applies CLI-flag overrides onto a loaded/default Startup.
// Zero values in the overlay leave the underlying field untouched.
type Overlay struct {
	Host                 *string
	Port                 *int
	AdminUser, AdminPass *string
	LogPath              *string
	Debug                *bool
	DatabasePath         *string
}

func (s *Startup) ApplyOverlay(o Overlay) {
	if o.Host != nil {
		s.Host = *o.Host
	}
	if o.Port != nil {
		s.Port = *o.Port
	}
	if o.AdminUser != nil {
		s.AdminUser = *o.AdminUser
	}
	if o.AdminPass != nil {
		s.AdminPass = SecureString(*o.AdminPass)
	}
	if o.LogPath != nil {
		s.LogPath = *o.LogPath
	}
	if o.Debug != nil {
		s.Debug = *o.Debug
	}
	if o.DatabasePath != nil {
		s.DatabasePath = *o.DatabasePath
	}
}
