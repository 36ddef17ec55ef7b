// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package metrics holds the Prometheus collectors of the master and its poll loop.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Transaction outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeException = "exception"
	OutcomeTimeout   = "timeout"
	OutcomeTransport = "transport"
	OutcomeCRC       = "crc"
	OutcomeMalformed = "malformed"
	OutcomeCanceled  = "canceled"
)

var (
	Attempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "modbus_master",
		Name:      "attempts_total",
		Help:      "Request frames written to the bus, retries included.",
	}, []string{"function"})

	Transactions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "modbus_master",
		Name:      "transactions_total",
		Help:      "Completed transactions by final outcome.",
	}, []string{"function", "outcome"})

	CounterValue = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "poller",
		Name:      "counter_value",
		Help:      "Last counter value read from the device.",
	})

	LedIndex = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "poller",
		Name:      "led_index",
		Help:      "Position of the RGB LED in its color cycle.",
	})

	ButtonTransitions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "poller",
		Name:      "button_transitions_total",
		Help:      "Observed button state changes.",
	})

	IterationErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poller",
		Name:      "iteration_errors_total",
		Help:      "Failed device operations inside the poll loop.",
	}, []string{"operation"})
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{Attempts, Transactions, CounterValue, LedIndex, ButtonTransitions, IterationErrors} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Serve exposes reg on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, reg prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
