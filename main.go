package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/mrdg/hive/hub"
	"github.com/mrdg/hive/scale"
	"github.com/mrdg/hive/state"
)

func main() {
	if err := run(os.Args[1:], os.Getenv); err != nil {
		logrus.WithError(err).Fatal("hive stopped")
	}
}

func initLogger(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(lvl)
	switch format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format: %q", format)
	}
	return nil
}

func run(args []string, getenv func(string) string) error {
	cfg, err := configure(args, getenv)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := initLogger(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}
	log := logrus.WithField("component", "main")

	if cfg.Wave != "" {
		wave, err := state.LoadWaveform(cfg.Wave)
		if err != nil {
			return fmt.Errorf("load waveform: %w", err)
		}
		cfg.State.Waveform = wave
	}
	scales := scale.Default()
	st, err := state.New(scales, state.DefaultParams(), cfg.State)
	if err != nil {
		return fmt.Errorf("initial state: %w", err)
	}

	h := hub.New(st, hub.Config{
		Notes:     cfg.Notes,
		Drift:     cfg.Drift,
		QueueSize: cfg.QueueSize,
	}, logrus.WithField("component", "hub"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hubDone := make(chan error, 1)
	go func() { hubDone <- h.Run(ctx) }()

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: hub.NewServer(h, cfg.Static, logrus.WithField("component", "server")).Handler(),
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()
	log.WithFields(logrus.Fields{"addr": cfg.Addr, "static": cfg.Static}).Info("listening")

	con := &console{hub: h, scales: scales, out: os.Stdout, bpm: cfg.RecordBPM}
	if cfg.Script != "" {
		if err := con.runScript(cfg.Script); err != nil {
			stop()
			<-hubDone
			return err
		}
	}
	if cfg.Console {
		go func() {
			if err := con.repl(); err != nil {
				log.WithError(err).Error("console stopped")
			}
			stop()
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		stop()
		<-hubDone
		return fmt.Errorf("serve: %w", err)
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	<-hubDone
	return nil
}
