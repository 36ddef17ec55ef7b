// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"

	"github.com/ffutop/modbus-master/internal/config"
	"github.com/ffutop/modbus-master/internal/metrics"
	"github.com/ffutop/modbus-master/internal/poller"
	"github.com/ffutop/modbus-master/internal/simulator"
	"github.com/ffutop/modbus-master/master"
	"github.com/ffutop/modbus-master/transport"
	"github.com/ffutop/modbus-master/transport/local"
	"github.com/ffutop/modbus-master/transport/serial"
)

func main() {
	fs := config.Flags()
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Printf("Failed to parse flags: %v\n", err)
		os.Exit(1)
	}

	// Load Configuration
	cfg, err := config.LoadConfig(fs)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	slog.Info("Starting Modbus master...", "transport", cfg.Transport, "slaveID", cfg.SlaveID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	layout := master.Layout{
		CounterAddress: cfg.Layout.CounterAddress,
		ButtonAddress:  cfg.Layout.ButtonAddress,
		LedRAddress:    cfg.Layout.LedRAddress,
		LedGAddress:    cfg.Layout.LedGAddress,
		LedBAddress:    cfg.Layout.LedBAddress,
	}

	var wg sync.WaitGroup

	// Open Transport
	var t transport.Transport
	switch cfg.Transport {
	case "serial":
		port, err := serial.Open(cfg.Serial)
		if err != nil {
			slog.Error("Failed to open serial port", "device", cfg.Serial.Device, "err", err)
			os.Exit(1)
		}
		t = port
	case "simulator":
		client, err := local.Open(cfg.SlaveID, cfg.Simulator)
		if err != nil {
			slog.Error("Failed to start simulator", "err", err)
			os.Exit(1)
		}
		board := simulator.NewBoard(client.Slave(), layout)
		wg.Add(1)
		go func() {
			defer wg.Done()
			board.Run(ctx, cfg.Simulator.CounterStep)
		}()
		t = client
	}

	// Metrics
	if cfg.Metrics.Address != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if err := metrics.Register(reg); err != nil {
			slog.Error("Failed to register metrics", "err", err)
			os.Exit(1)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(ctx, cfg.Metrics.Address, reg); err != nil {
				slog.Error("Metrics server stopped with error", "err", err)
			}
		}()
	}

	engine := master.NewEngine(t)
	engine.RequestPause = cfg.Transaction.RequestPause
	client := master.NewClient(engine, cfg.SlaveID, cfg.Transaction.Timeout, cfg.Transaction.MaxRetries)
	device := master.NewDevice(client, layout)

	loop := poller.New(device, poller.Config{
		MinIteration: cfg.Poll.MinIteration,
		LedPeriod:    cfg.Poll.LedPeriod,
	})
	if err := loop.Run(ctx); err != nil {
		slog.Error("Poll loop stopped with error", "err", err)
	}

	slog.Info("Shutting down...")
	stop()
	wg.Wait()
	slog.Info("Goodbye.")
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
