package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"mavmitm/config"
	"mavmitm/console"
	"mavmitm/forwarder"
	"mavmitm/logger"
	"mavmitm/takeover"
	"mavmitm/web"
)

func main() {
	configFile := flag.String("config", "config/config.yaml", "Path to configuration file")
	logLevel := flag.String("log", "", "Log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	logger.Info("Loading configuration from %s", *configFile)
	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Fatal("Failed to load configuration: %v", err)
	}

	if *logLevel != "" {
		logger.SetLevelFromString(*logLevel)
	} else {
		logger.SetLevelFromString(cfg.Log.Level)
	}
	if cfg.Log.TimestampFormat != "" {
		logger.SetTimestampFormat(cfg.Log.TimestampFormat)
	}
	if cfg.Log.File != "" {
		logger.SetRotatingFile(cfg.Log.File, cfg.Log.FileMaxSizeMB, cfg.Log.FileMaxBackups)
	}
	logger.Info("Configuration loaded (log level: %s)", logger.GetLevelString())

	tracker := takeover.NewTracker()
	tracker.SetDefaultRate(cfg.Takeover.DefaultInjectHz)

	// Assemble the display surfaces before the forwarder so they can be
	// handed to it as notifiers.
	var notifiers []forwarder.Notifier
	hub := web.NewHub()
	if cfg.Web.Enabled {
		notifiers = append(notifiers, hub)
	}

	fwd, err := forwarder.New(cfg, tracker, notifiers...)
	if err != nil {
		logger.Fatal("Failed to create forwarder: %v", err)
	}

	// The console both displays and decides, so it needs the forwarder;
	// registered before Start like the other notifiers.
	var cons *console.Console
	if cfg.Console.Enabled {
		cons = console.New(fwd)
		fwd.AddNotifier(cons)
	}

	fwd.Start()

	var srv *web.Server
	if cfg.Web.Enabled {
		srv = web.NewServer(fwd, tracker, hub)
		srv.Start(cfg.Web.Port)
	}

	if cons != nil {
		cons.Start()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var quit <-chan struct{}
	if cons != nil {
		quit = cons.Quit()
	}
	select {
	case sig := <-sigCh:
		logger.Info("Received signal %v, shutting down...", sig)
	case <-quit:
		logger.Info("Operator quit, shutting down...")
	}

	tracker.Disengage()
	if cons != nil {
		cons.Stop()
	}
	if srv != nil {
		srv.Stop()
	}
	fwd.Stop()
	logger.Info("Shutdown complete")
}
