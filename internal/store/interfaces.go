// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package store

import (
	"database/sql"
	"encoding/json"
	"net"

	flywallerrors "github.com/zhaojindong1001/landscape-sub000/internal/errors"
	"github.com/zhaojindong1001/landscape-sub000/internal/identity"
)

// Interface is one row of the physical/logical interface inventory —
// the admin-declared set of NICs this router manages.
type Interface struct {
	IfaceName string
	IfIndex   int
	Kind      string // "wan", "lan", "bridge", ...
	Enable    bool
}

// ListInterfaces loads the full interface inventory.
func (s *Store) ListInterfaces() ([]Interface, error) {
	rows, err := s.db.Query(`SELECT iface_name, ifindex, kind, enable FROM interfaces`)
	if err != nil {
		return nil, flywallerrors.Wrap(err, flywallerrors.KindInternal, "list interfaces")
	}
	defer rows.Close()

	var out []Interface
	for rows.Next() {
		var i Interface
		var enable int
		if err := rows.Scan(&i.IfaceName, &i.IfIndex, &i.Kind, &enable); err != nil {
			return nil, err
		}
		i.Enable = enable != 0
		out = append(out, i)
	}
	return out, rows.Err()
}

// IPServiceKind discriminates the WAN address-acquisition method one
// ip_services row configures.
type IPServiceKind string

const (
	IPServiceDHCP4Client IPServiceKind = "dhcp4client"
	IPServiceDHCP6PD     IPServiceKind = "dhcp6pd"
	IPServicePPPoE       IPServiceKind = "pppoe"
	IPServiceStatic      IPServiceKind = "static"
)

// IPServiceConfig is the kind-specific payload stored in
// ip_services.config_json — a superset covering every WAN client kind,
// since only the fields relevant to Kind are populated.
type IPServiceConfig struct {
	MAC          identity.MacAddr `json:"mac,omitempty"`
	Username     string           `json:"username,omitempty"`
	Password     string           `json:"password,omitempty"`
	ServiceName  string           `json:"service_name,omitempty"`
	StaticAddr   net.IP           `json:"-"`
	StaticGW     net.IP           `json:"-"`
	DefaultRoute bool             `json:"default_route,omitempty"`
	Weight       int              `json:"weight,omitempty"`
}

// ipServiceConfigJSON mirrors IPServiceConfig with string-typed IPs —
// net.IP doesn't round-trip through encoding/json the way the rest of
// this struct does.
type ipServiceConfigJSON struct {
	MAC          string `json:"mac,omitempty"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	ServiceName  string `json:"service_name,omitempty"`
	StaticAddr   string `json:"static_addr,omitempty"`
	StaticGW     string `json:"static_gw,omitempty"`
	DefaultRoute bool   `json:"default_route,omitempty"`
	Weight       int    `json:"weight,omitempty"`
}

// IPService is one configured WAN address-acquisition binding.
type IPService struct {
	ID        string
	IfaceName string
	Kind      IPServiceKind
	Config    IPServiceConfig
	Enable    bool
}

// ListIPServices loads every ip_services row, optionally filtered to
// one kind (pass "" for all kinds).
func (s *Store) ListIPServices(kind IPServiceKind) ([]IPService, error) {
	var rows *sql.Rows
	var err error
	if kind == "" {
		rows, err = s.db.Query(`SELECT id, iface_name, kind, config_json, enable FROM ip_services`)
	} else {
		rows, err = s.db.Query(`SELECT id, iface_name, kind, config_json, enable FROM ip_services WHERE kind = ?`, string(kind))
	}
	if err != nil {
		return nil, flywallerrors.Wrap(err, flywallerrors.KindInternal, "list ip services")
	}
	defer rows.Close()

	var out []IPService
	for rows.Next() {
		var (
			svc        IPService
			kindStr    string
			configJSON string
			enable     int
		)
		if err := rows.Scan(&svc.ID, &svc.IfaceName, &kindStr, &configJSON, &enable); err != nil {
			return nil, err
		}
		svc.Kind = IPServiceKind(kindStr)
		svc.Enable = enable != 0

		var raw ipServiceConfigJSON
		if err := json.Unmarshal([]byte(configJSON), &raw); err != nil {
			return nil, flywallerrors.Wrapf(err, flywallerrors.KindValidation, "ip_services.config_json for %s", svc.ID)
		}
		if raw.MAC != "" {
			mac, err := identity.ParseMacAddr(raw.MAC)
			if err != nil {
				return nil, flywallerrors.Wrapf(err, flywallerrors.KindValidation, "ip_services.config_json mac for %s", svc.ID)
			}
			svc.Config.MAC = mac
		}
		svc.Config.Username = raw.Username
		svc.Config.Password = raw.Password
		svc.Config.ServiceName = raw.ServiceName
		svc.Config.DefaultRoute = raw.DefaultRoute
		svc.Config.Weight = raw.Weight
		if raw.StaticAddr != "" {
			svc.Config.StaticAddr = net.ParseIP(raw.StaticAddr)
		}
		if raw.StaticGW != "" {
			svc.Config.StaticGW = net.ParseIP(raw.StaticGW)
		}

		out = append(out, svc)
	}
	return out, rows.Err()
}

// PPPService is one ppp_services row — PPPoE credentials for an
// interface already selected as a WAN via ip_services(kind=pppoe).
type PPPService struct {
	ID        string
	IfaceName string
	Username  string
	Password  string
	Enable    bool
}

// ListPPPServices loads every configured PPPoE credential set.
func (s *Store) ListPPPServices() ([]PPPService, error) {
	rows, err := s.db.Query(`SELECT id, iface_name, username, password, enable FROM ppp_services`)
	if err != nil {
		return nil, flywallerrors.Wrap(err, flywallerrors.KindInternal, "list ppp services")
	}
	defer rows.Close()

	var out []PPPService
	for rows.Next() {
		var (
			p                  PPPService
			username, password sql.NullString
			enable             int
		)
		if err := rows.Scan(&p.ID, &p.IfaceName, &username, &password, &enable); err != nil {
			return nil, err
		}
		p.Username = username.String
		p.Password = password.String
		p.Enable = enable != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// DHCP4Server is one dhcp4_servers row — a LAN-side address pool.
type DHCP4Server struct {
	ID         string
	IfaceName  string
	RangeStart net.IP
	RangeEnd   net.IP
	LeaseTime  int64
	Enable     bool
}

// ListDHCP4Servers loads every configured LAN DHCPv4 server pool.
func (s *Store) ListDHCP4Servers() ([]DHCP4Server, error) {
	rows, err := s.db.Query(`SELECT id, iface_name, range_start, range_end, lease_time, enable FROM dhcp4_servers`)
	if err != nil {
		return nil, flywallerrors.Wrap(err, flywallerrors.KindInternal, "list dhcp4 servers")
	}
	defer rows.Close()

	var out []DHCP4Server
	for rows.Next() {
		var (
			d                    DHCP4Server
			rangeStart, rangeEnd string
			enable               int
		)
		if err := rows.Scan(&d.ID, &d.IfaceName, &rangeStart, &rangeEnd, &d.LeaseTime, &enable); err != nil {
			return nil, err
		}
		d.RangeStart = net.ParseIP(rangeStart)
		d.RangeEnd = net.ParseIP(rangeEnd)
		d.Enable = enable != 0
		out = append(out, d)
	}
	return out, rows.Err()
}

// DHCP6PDClient is one dhcp6_pd_clients row.
type DHCP6PDClient struct {
	ID        string
	IfaceName string
	Enable    bool
}

// ListDHCP6PDClients loads every configured prefix-delegation client.
func (s *Store) ListDHCP6PDClients() ([]DHCP6PDClient, error) {
	rows, err := s.db.Query(`SELECT id, iface_name, enable FROM dhcp6_pd_clients`)
	if err != nil {
		return nil, flywallerrors.Wrap(err, flywallerrors.KindInternal, "list dhcp6-pd clients")
	}
	defer rows.Close()

	var out []DHCP6PDClient
	for rows.Next() {
		var c DHCP6PDClient
		var enable int
		if err := rows.Scan(&c.ID, &c.IfaceName, &enable); err != nil {
			return nil, err
		}
		c.Enable = enable != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

// RAService is one ra_services row — sources_json decodes against the
// caller's own StaticSource/PDSource shapes, so it's left raw here.
type RAService struct {
	ID            string
	IfaceName     string
	AdIntervalSec int
	SourcesJSON   []byte
	Enable        bool
}

// ListRAServices loads every configured router-advertisement service.
func (s *Store) ListRAServices() ([]RAService, error) {
	rows, err := s.db.Query(`SELECT id, iface_name, ad_interval, sources_json, enable FROM ra_services`)
	if err != nil {
		return nil, flywallerrors.Wrap(err, flywallerrors.KindInternal, "list ra services")
	}
	defer rows.Close()

	var out []RAService
	for rows.Next() {
		var (
			r           RAService
			sourcesJSON string
			enable      int
		)
		if err := rows.Scan(&r.ID, &r.IfaceName, &r.AdIntervalSec, &sourcesJSON, &enable); err != nil {
			return nil, err
		}
		r.SourcesJSON = []byte(sourcesJSON)
		r.Enable = enable != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// RouteWAN is one route_wan row — the admin-declared weight/default
// preference overlay for a WAN interface, independent of how it
// acquired its address.
type RouteWAN struct {
	ID           string
	IfaceName    string
	Weight       int
	DefaultRoute bool
}

// ListRouteWAN loads every configured WAN routing preference.
func (s *Store) ListRouteWAN() ([]RouteWAN, error) {
	rows, err := s.db.Query(`SELECT id, iface_name, weight, default_route FROM route_wan`)
	if err != nil {
		return nil, flywallerrors.Wrap(err, flywallerrors.KindInternal, "list route_wan")
	}
	defer rows.Close()

	var out []RouteWAN
	for rows.Next() {
		var r RouteWAN
		var defaultRoute int
		if err := rows.Scan(&r.ID, &r.IfaceName, &r.Weight, &defaultRoute); err != nil {
			return nil, err
		}
		r.DefaultRoute = defaultRoute != 0
		out = append(out, r)
	}
	return out, rows.Err()
}
