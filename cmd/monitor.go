// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/turboctl/internal/metrics"
	"github.com/Thermoquad/turboctl/internal/publish"
	"github.com/Thermoquad/turboctl/pkg/control"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var (
	monitorInterval time.Duration
	monitorRedis    bool
	monitorMetrics  string
	monitorOn       bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Poll the pump status continuously",
	Long: `Request the pump status periodically and print one line per reply.

Features:
  - Automatic reconnection with exponential backoff (1s to 30s)
  - Optional status publishing to redis as CBOR snapshots (--redis)
  - Optional prometheus metrics endpoint (--metrics :9090)

By default the pump is left as it is. --on keeps it switched on while
monitoring.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().DurationVarP(&monitorInterval, "interval", "i", 0, "Polling interval (default from config, 1s)")
	monitorCmd.Flags().BoolVar(&monitorRedis, "redis", false, "Publish status snapshots to redis")
	monitorCmd.Flags().StringVar(&monitorMetrics, "metrics", "", "Serve prometheus metrics on this address")
	monitorCmd.Flags().BoolVar(&monitorOn, "on", false, "Switch the pump on before monitoring")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []control.Option
	if monitorMetrics != "" || cfg.Metrics.Enabled {
		addr := cfg.Metrics.Listen
		if monitorMetrics != "" {
			addr = monitorMetrics
		}
		reg := prometheus.NewRegistry()
		m := metrics.New(reg)
		opts = append(opts, control.WithReplyHook(m.ObserveReply))
		go func() {
			if err := metrics.Serve(ctx, addr, reg, appLog); err != nil {
				appLog.WithError(err).Error("metrics server failed")
			}
		}()
	}

	var publisher *publish.Publisher
	if monitorRedis || cfg.Redis.Enabled {
		var err error
		publisher, err = publish.Connect(ctx, cfg.Redis, appLog)
		if err != nil {
			return err
		}
		defer publisher.Close()
	}

	client, conn, connInfo, err := openClient(opts...)
	if err != nil {
		return err
	}
	defer func() { conn.Close() }()

	fmt.Printf("turboctl - Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if monitorOn {
		if _, err := client.On(); err != nil {
			return err
		}
	}

	interval := cfg.Pump.PollInterval
	if monitorInterval > 0 {
		interval = monitorInterval
	}

	poller := &control.Poller{
		Client:   client,
		Interval: interval,
		OnStatus: func(s control.Status) {
			fmt.Printf("[%s] %s\n", s.At.Format("15:04:05.000"), s)
			if publisher != nil {
				if err := publisher.Publish(ctx, publish.NewSnapshot(connInfo, s)); err != nil {
					appLog.WithError(err).Warn("publish failed")
				}
			}
		},
		OnError: func(err error) {
			appLog.WithError(err).Warn("poll failed")
		},
		Reconnect: func() (io.ReadWriter, error) {
			conn.Close()
			next, info, err := OpenConnection()
			if err != nil {
				return nil, err
			}
			conn = next
			appLog.Infof("reconnected: %s", info)
			return next, nil
		},
	}

	if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
