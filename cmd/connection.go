// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Thermoquad/turboctl/pkg/control"
	"github.com/Thermoquad/turboctl/pkg/vconn"
	"github.com/Thermoquad/turboctl/pkg/vpump"
	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"
)

// Connection provides a common interface for reading/writing bytes from
// serial, WebSocket or virtual links
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

// SetReadTimeout bounds how long Read blocks; a timed-out Read returns (0, nil)
func (s *SerialConnection) SetReadTimeout(t time.Duration) error {
	return s.port.SetReadTimeout(t)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = fmt.Errorf("websocket connection closed")

// WebSocketConnection carries telegrams as binary messages. Read times out
// like a serial port; a reader goroutine drains the socket because a
// websocket read deadline cannot be reset once it fires.
type WebSocketConnection struct {
	conn   *websocket.Conn
	frames chan []byte
	done   chan struct{}

	mu      sync.Mutex
	pending []byte
	timeout time.Duration
	readErr error

	closeOnce sync.Once
}

func newWebSocketConnection(ws *websocket.Conn) *WebSocketConnection {
	w := &WebSocketConnection{
		conn:    ws,
		frames:  make(chan []byte, 16),
		done:    make(chan struct{}),
		timeout: -1,
	}
	go w.readLoop()
	return w
}

func (w *WebSocketConnection) readLoop() {
	defer close(w.frames)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.readErr = io.EOF
			} else {
				w.readErr = fmt.Errorf("%w: %w", ErrConnectionClosed, err)
			}
			w.mu.Unlock()
			return
		}
		// text and control messages carry no telegrams
		if messageType != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		select {
		case w.frames <- data:
		case <-w.done:
			return
		}
	}
}

// SetReadTimeout bounds how long Read waits for a message. A negative
// timeout blocks.
func (w *WebSocketConnection) SetReadTimeout(t time.Duration) error {
	w.mu.Lock()
	w.timeout = t
	w.mu.Unlock()
	return nil
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	w.mu.Lock()
	if len(w.pending) > 0 {
		n := copy(p, w.pending)
		w.pending = w.pending[n:]
		w.mu.Unlock()
		return n, nil
	}
	timeout := w.timeout
	w.mu.Unlock()

	var expired <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case data, ok := <-w.frames:
		if !ok {
			w.mu.Lock()
			defer w.mu.Unlock()
			if w.readErr == nil {
				return 0, ErrConnectionClosed
			}
			return 0, w.readErr
		}
		n := copy(p, data)
		w.mu.Lock()
		w.pending = data[n:]
		w.mu.Unlock()
		return n, nil
	case <-expired:
		return 0, nil
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a close frame and closes the socket. It is idempotent.
func (w *WebSocketConnection) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = w.conn.Close()
	})
	return err
}

// VirtualConnection is the user end of a virtual link served by an
// in-process virtual pump
type VirtualConnection struct {
	*vconn.End
	conn   *vconn.Conn
	pump   *vpump.Pump
	cancel context.CancelFunc
	done   chan struct{}
}

// Close closes the link and waits for the pump loop to finish
func (v *VirtualConnection) Close() error {
	v.cancel()
	err := v.conn.Close()
	<-v.done
	v.pump.Close()
	return err
}

// Pump returns the simulated pump
func (v *VirtualConnection) Pump() *vpump.Pump {
	return v.pump
}

func parityFromString(s string) serial.Parity {
	switch s {
	case "none":
		return serial.NoParity
	case "odd":
		return serial.OddParity
	}
	return serial.EvenParity
}

// OpenSerialConnection opens a serial port with the USS framing: 8 data
// bits, even parity, one stop bit unless configured otherwise
func OpenSerialConnection(portName string, baudRate int) (*SerialConnection, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   parityFromString(cfg.Serial.Parity),
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return &SerialConnection{port: port}, nil
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool) (*WebSocketConnection, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return newWebSocketConnection(conn), nil
}

// OpenVirtualConnection starts a virtual pump behind a virtual link
func OpenVirtualConnection() (*VirtualConnection, error) {
	model, err := loadModel()
	if err != nil {
		return nil, err
	}

	hw := vpump.DefaultHardwareConfig()
	hw.Step = cfg.Pump.Step
	hw.Acceleration = cfg.Pump.Acceleration
	pump := vpump.New(model,
		vpump.WithHardwareConfig(hw),
		vpump.WithSaveCooldown(cfg.Pump.SaveCooldown),
		vpump.WithLogger(appLog.WithField("component", "vpump")),
	)

	conn, err := connections.Open()
	if err != nil {
		pump.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := vpump.Serve(ctx, conn.Virtual(), pump, appLog.WithField("conn", conn.ID())); err != nil && ctx.Err() == nil {
			appLog.WithError(err).Warn("virtual pump stopped")
		}
	}()

	return &VirtualConnection{
		End:    conn.User(),
		conn:   conn,
		pump:   pump,
		cancel: cancel,
		done:   done,
	}, nil
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("TURBOCTL_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenConnection opens a virtual, WebSocket or serial connection based on flags
func OpenConnection() (Connection, string, error) {
	if useVirtual {
		conn, err := OpenVirtualConnection()
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Virtual: %s", conn.conn.ID()), nil
	}

	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := OpenWebSocketConnection(wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if portName != "" {
		conn, err := OpenSerialConnection(portName, baudRate)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("Serial: %s @ %d baud 8%s1", portName, baudRate, parityLetter(cfg.Serial.Parity)), nil
	}

	return nil, "", fmt.Errorf("one of --port, --url or --virtual must be specified")
}

func parityLetter(s string) string {
	switch s {
	case "none":
		return "N"
	case "odd":
		return "O"
	}
	return "E"
}

// openClient opens a connection and wraps it in a control client
func openClient(opts ...control.Option) (*control.Client, Connection, string, error) {
	conn, info, err := OpenConnection()
	if err != nil {
		return nil, nil, "", err
	}

	model, err := loadModel()
	if err != nil {
		conn.Close()
		return nil, nil, "", err
	}

	opts = append([]control.Option{
		control.WithAddress(pumpAddress),
		control.WithTimeout(cfg.Serial.Timeout),
		control.WithLogger(appLog.WithField("component", "client")),
	}, opts...)
	client, err := control.NewClient(conn, model, opts...)
	if err != nil {
		conn.Close()
		return nil, nil, "", err
	}
	return client, conn, info, nil
}
