// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"fmt"
	"io"
	"log/syslog"
)

// SyslogConfig controls forwarding of log records to a remote syslog
// collector over RFC 3164-ish UDP or TCP framing.
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string // "udp" or "tcp"
	Tag      string
	Facility int
}

// DefaultSyslogConfig returns syslog forwarding disabled, with the
// defaults that apply once it's turned on.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "landscaped",
		Facility: 1, // LOG_USER
	}
}

// NewSyslogWriter dials the configured syslog collector and returns an
// io.Writer that forwards log output to it.
func NewSyslogWriter(cfg SyslogConfig) (io.Writer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("logging: syslog host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "landscaped"
	}
	network := cfg.Protocol
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	w, err := syslog.Dial(network, addr, syslog.Priority(cfg.Facility)<<3|syslog.LOG_INFO, cfg.Tag)
	if err != nil {
		return nil, fmt.Errorf("logging: dial syslog: %w", err)
	}
	return w, nil
}
