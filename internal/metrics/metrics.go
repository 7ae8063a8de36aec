// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exports USS traffic and pump readouts to prometheus
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Thermoquad/turboctl/pkg/uss"
	"github.com/Thermoquad/turboctl/pkg/vpump"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "turboctl"

// Metrics holds the collectors. It implements vpump.Observer.
type Metrics struct {
	Telegrams       *prometheus.CounterVec
	FrameErrors     *prometheus.CounterVec
	ParameterErrors *prometheus.CounterVec
	Frequency       prometheus.Gauge
	Temperature     prometheus.Gauge
	Current         prometheus.Gauge
	Voltage         prometheus.Gauge
	Connections     prometheus.Gauge
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Telegrams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telegrams_total",
			Help:      "Telegram exchanges by response code.",
		}, []string{"response"}),
		FrameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_errors_total",
			Help:      "Rejected frames by reason.",
		}, []string{"reason"}),
		ParameterErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parameter_errors_total",
			Help:      "Parameter accesses answered with an error.",
		}, []string{"parameter", "error"}),
		Frequency: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rotor_frequency_hertz",
			Help:      "Rotor frequency from the latest reply.",
		}),
		Temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature_celsius",
			Help:      "Converter temperature from the latest reply.",
		}),
		Current: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "motor_current_amperes",
			Help:      "Motor current from the latest reply.",
		}),
		Voltage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_voltage_volts",
			Help:      "Intermediate circuit voltage from the latest reply.",
		}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Open connections to the virtual pump.",
		}),
	}
	reg.MustRegister(
		m.Telegrams,
		m.FrameErrors,
		m.ParameterErrors,
		m.Frequency,
		m.Temperature,
		m.Current,
		m.Voltage,
		m.Connections,
	)
	return m
}

// ObserveExchange records a query answered by the virtual pump
func (m *Metrics) ObserveExchange(query, reply *uss.Reader, result vpump.Result) {
	m.ObserveReply(query, reply)
}

// ObserveReply records a reply seen by a client
func (m *Metrics) ObserveReply(query, reply *uss.Reader) {
	m.Telegrams.WithLabelValues(reply.ResponseCode().String()).Inc()
	if e, ok := reply.ParameterError(); ok {
		m.ParameterErrors.WithLabelValues(strconv.Itoa(reply.ParameterNumber()), e.String()).Inc()
	}
	m.Frequency.Set(float64(reply.Frequency()))
	m.Temperature.Set(float64(reply.Temperature()))
	m.Current.Set(reply.Current())
	m.Voltage.Set(reply.Voltage())
}

// ObserveFrameError records a rejected frame
func (m *Metrics) ObserveFrameError(err error) {
	m.FrameErrors.WithLabelValues(reason(err)).Inc()
}

func reason(err error) string {
	switch {
	case errors.Is(err, uss.ErrChecksum):
		return "checksum"
	case errors.Is(err, uss.ErrLength):
		return "length"
	case errors.Is(err, uss.ErrHeader):
		return "header"
	}
	return "other"
}

// Serve exposes /metrics and /health on addr until ctx is done
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log logrus.FieldLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Infof("metrics server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
