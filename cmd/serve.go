// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Thermoquad/turboctl/internal/metrics"
	"github.com/Thermoquad/turboctl/internal/publish"
	"github.com/Thermoquad/turboctl/pkg/control"
	"github.com/Thermoquad/turboctl/pkg/vconn"
	"github.com/Thermoquad/turboctl/pkg/vpump"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	serveListen  string
	serveMetrics string
	serveRedis   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a virtual pump",
	Long: `Simulate a TURBOVAC pump and answer USS telegrams.

Transports:
  Serial:    --port /dev/ttyUSB1 (19200 8E1)
  WebSocket: --listen :8080 (binary messages, path from config, default /uss)

Every WebSocket client gets its own virtual connection to the same pump.

Optional:
  --metrics :9090  prometheus metrics and /health
  --redis          publish CBOR status snapshots once per second`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "WebSocket listen address")
	serveCmd.Flags().StringVar(&serveMetrics, "metrics", "", "Serve prometheus metrics on this address")
	serveCmd.Flags().BoolVar(&serveRedis, "redis", false, "Publish status snapshots to redis")
}

func runServe(cmd *cobra.Command, args []string) error {
	if portName == "" && serveListen == "" {
		return fmt.Errorf("either --port or --listen must be specified")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	model, err := loadModel()
	if err != nil {
		return err
	}

	manager := vconn.NewManager(appLog.WithField("component", "vconn"))
	defer manager.CloseAll()

	hw := vpump.DefaultHardwareConfig()
	hw.Step = cfg.Pump.Step
	hw.Acceleration = cfg.Pump.Acceleration
	opts := []vpump.Option{
		vpump.WithHardwareConfig(hw),
		vpump.WithSaveCooldown(cfg.Pump.SaveCooldown),
		vpump.WithLogger(appLog.WithField("component", "vpump")),
	}

	var m *metrics.Metrics
	if serveMetrics != "" || cfg.Metrics.Enabled {
		addr := cfg.Metrics.Listen
		if serveMetrics != "" {
			addr = serveMetrics
		}
		reg := prometheus.NewRegistry()
		m = metrics.New(reg)
		opts = append(opts, vpump.WithObserver(m))
		go func() {
			if err := metrics.Serve(ctx, addr, reg, appLog); err != nil {
				appLog.WithError(err).Error("metrics server failed")
			}
		}()
	}

	pump := vpump.New(model, opts...)
	defer pump.Close()

	if serveRedis || cfg.Redis.Enabled {
		publisher, err := publish.Connect(ctx, cfg.Redis, appLog)
		if err != nil {
			return err
		}
		defer publisher.Close()
		go publishPumpState(ctx, pump, publisher)
	}

	// wg tracks the transports, loops the pump loops of websocket clients
	var wg, loops sync.WaitGroup
	errs := make(chan error, 2)

	if portName != "" {
		port, err := OpenSerialConnection(portName, baudRate)
		if err != nil {
			return err
		}
		defer port.Close()
		appLog.Infof("virtual pump on %s @ %d baud", portName, baudRate)

		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- vpump.Serve(ctx, port, pump, appLog.WithField("port", portName))
		}()
	}

	if serveListen != "" {
		srv := &http.Server{
			Addr:              serveListen,
			Handler:           websocketHandler(ctx, pump, manager, m, &loops),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		appLog.Infof("virtual pump on ws://%s%s", serveListen, cfg.WebSocket.Path)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- err
			}
		}()
	}

	var result error
	select {
	case <-ctx.Done():
	case err := <-errs:
		if err != nil && !errors.Is(err, context.Canceled) {
			result = err
		}
	}
	stop()
	manager.CloseAll()
	wg.Wait()
	loops.Wait()
	return result
}

// websocketHandler bridges every websocket client to the pump through its
// own virtual connection
func websocketHandler(ctx context.Context, pump *vpump.Pump, manager *vconn.Manager, m *metrics.Metrics, loops *sync.WaitGroup) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  256,
		WriteBufferSize: 256,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || cfg.WebSocket.AllowedOrigin == "*" || origin == cfg.WebSocket.AllowedOrigin
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.WebSocket.Path, func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			appLog.WithError(err).Warn("websocket upgrade failed")
			return
		}
		client := newWebSocketConnection(ws)
		defer client.Close()

		conn, err := manager.Open()
		if err != nil {
			appLog.WithError(err).Error("failed to open virtual connection")
			return
		}
		defer conn.Close()

		log := appLog.WithFields(logrus.Fields{
			"conn":   conn.ID(),
			"remote": r.RemoteAddr,
		})
		log.Info("client connected")
		if m != nil {
			m.Connections.Set(float64(manager.Len()))
			defer func() { m.Connections.Set(float64(manager.Len())) }()
		}

		loops.Add(1)
		go func() {
			defer loops.Done()
			if err := vpump.Serve(ctx, conn.Virtual(), pump, log); err != nil && ctx.Err() == nil {
				log.WithError(err).Warn("pump loop stopped")
			}
		}()

		bridge(conn, client, log)
		log.Info("client disconnected")
	})
	return mux
}

// bridge copies bytes between a websocket client and the user end of a
// virtual connection until either side closes
func bridge(conn *vconn.Conn, client *WebSocketConnection, log logrus.FieldLogger) {
	user := conn.User()
	go func() {
		if _, err := io.Copy(client, user); err != nil {
			log.WithError(err).Debug("reply copy stopped")
		}
		client.Close()
	}()
	if _, err := io.Copy(user, client); err != nil && !errors.Is(err, ErrConnectionClosed) {
		log.WithError(err).Debug("query copy stopped")
	}
	conn.Close()
}

// publishPumpState publishes the simulated state once per second
func publishPumpState(ctx context.Context, pump *vpump.Pump, publisher *publish.Publisher) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s := pump.Snapshot()
			status := control.Status{
				Frequency:   s.Frequency,
				Temperature: s.Temperature,
				Current:     s.Current,
				Voltage:     s.Voltage,
				Bits:        s.Status,
				At:          now,
			}
			if s.On {
				status.Requested = control.PumpOn
			} else {
				status.Requested = control.PumpOff
			}
			if err := publisher.Publish(ctx, publish.NewSnapshot("virtual", status)); err != nil {
				appLog.WithError(err).Warn("publish failed")
			}
		}
	}
}
