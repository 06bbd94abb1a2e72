// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command landscaped is the router control-plane daemon: it loads
// landscape.toml, opens the sqlite config store, and wires every
// per-interface actor and singleton service against the pinned
// fast-path eBPF maps. It is meant to run under systemd, one instance
// per box, restarted by the unit file on exit.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zhaojindong1001/landscape-sub000/internal/config"
	"github.com/zhaojindong1001/landscape-sub000/internal/fastpath"
	"github.com/zhaojindong1001/landscape-sub000/internal/logging"
	"github.com/zhaojindong1001/landscape-sub000/internal/store"
	"github.com/zhaojindong1001/landscape-sub000/internal/supervisor"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code rather than calling os.Exit
// directly, so supervisor bookkeeping always gets a chance to record
// the outcome first.
func run() int {
	var (
		configPath = flag.String("config", "", "path to landscape.toml (default $HOME/.landscape-router/landscape.toml)")
		host       = flag.String("host", "", "override admin bind host")
		port       = flag.Int("port", 0, "override admin listen port")
		debug      = flag.Bool("debug", false, "override debug logging")
	)
	flag.Parse()

	homeDir, err := config.DefaultHomeDir()
	if err != nil {
		fmt.Fprintln(os.Stderr, "landscaped:", err)
		return 1
	}
	if *configPath == "" {
		*configPath = homeDir + "/landscape.toml"
	}

	startup, existed, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "landscaped: load config:", err)
		return 1
	}
	if !existed {
		d := config.DefaultStartup(homeDir)
		startup = &d
	}

	overlay := config.Overlay{}
	if *host != "" {
		overlay.Host = host
	}
	if *port != 0 {
		overlay.Port = port
	}
	if *debug {
		overlay.Debug = debug
	}
	startup.ApplyOverlay(overlay)

	if !existed {
		if err := config.Save(*configPath, startup); err != nil {
			fmt.Fprintln(os.Stderr, "landscaped: write default config:", err)
			return 1
		}
	}

	logCfg := logging.DefaultConfig()
	if startup.Debug {
		logCfg.Level = logging.LevelDebug
	}
	if startup.LogPath != "" {
		if f, err := os.OpenFile(startup.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640); err == nil {
			logCfg.Output = f
		} else {
			fmt.Fprintln(os.Stderr, "landscaped: open log file, falling back to stderr:", err)
		}
	}
	if startup.Syslog.Enabled {
		w, err := logging.NewSyslogWriter(logging.SyslogConfig{
			Enabled:  true,
			Host:     startup.Syslog.Host,
			Port:     startup.Syslog.Port,
			Protocol: startup.Syslog.Protocol,
			Tag:      startup.Syslog.Tag,
			Facility: startup.Syslog.Facility,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "landscaped: syslog forwarding disabled:", err)
		} else {
			logCfg.Output = w
		}
	}
	logging.SetDefault(logging.New(logCfg))
	log := logging.WithComponent("main")

	var sup *supervisor.Supervisor
	skipDetection := supervisor.ShouldSkipDetection()
	if !skipDetection {
		sup = supervisor.New(startup.StateDir, supervisorConfig(startup))
		if sup.ShouldEnterSafeMode() {
			log.Error("crash loop detected, entering safe mode: config loading only, no actors started",
				"last_active_actors", sup.LastActiveActors())
			return safeModeWait()
		}
	}

	db, err := store.Open(startup.DatabasePath)
	if err != nil {
		log.WithError(err).Error("open config store failed")
		recordExit(sup, 1, false, nil)
		return 1
	}
	defer db.Close()

	maps, err := fastpath.Open(startup.FastPathPinDir)
	if err != nil {
		log.WithError(err).Error("open fast-path maps failed")
		recordExit(sup, 1, false, nil)
		return 1
	}
	defer maps.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := newDaemon(ctx, startup, db, maps)
	if err != nil {
		log.WithError(err).Error("daemon wiring failed")
		recordExit(sup, 1, false, nil)
		return 1
	}
	d.start(ctx)

	if sup != nil {
		sup.StartStabilityTimer()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for {
		sig := <-sigCh
		switch sig {
		case syscall.SIGHUP:
			log.Info("reloading configuration from store")
			d.reload()
		default:
			log.Info("shutting down", "signal", sig.String())
			d.stop()
			recordExit(sup, 0, false, d.activeActorNames())
			return 0
		}
	}
}

// supervisorConfig builds the crash-loop detector's config from the
// loaded startup config, falling back to the package defaults when an
// admin hasn't set an override in landscape.toml.
func supervisorConfig(startup *config.Startup) supervisor.Config {
	cfg := supervisor.DefaultConfig()
	if startup.CrashThreshold > 0 {
		cfg.Threshold = startup.CrashThreshold
	}
	if startup.CrashWindowSecs > 0 {
		cfg.Window = time.Duration(startup.CrashWindowSecs) * time.Second
	}
	return cfg
}

// safeModeWait blocks indefinitely rather than exiting 0 (which
// systemd would treat as a clean stop-and-forget) or exiting non-zero
// (which would feed the restart loop the crash counter is trying to
// break) — an operator has to intervene, clear supervisor.state, and
// restart the unit by hand.
func safeModeWait() int {
	select {}
}

func recordExit(sup *supervisor.Supervisor, code int, wasPanic bool, activeActors []string) {
	if sup == nil {
		return
	}
	if err := sup.RecordExit(code, 0, wasPanic, activeActors); err != nil {
		logging.WithComponent("main").WithError(err).Warn("record exit to supervisor state failed")
	}
}
