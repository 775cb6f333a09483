// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/Thermoquad/optostim/pkg/stimlink"
	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"
)

// passwordEnv names the environment variable holding the WebSocket password
const passwordEnv = "OPTOSTIM_PASSWORD"

// Connection provides a common interface for reading/writing bytes from serial or WebSocket
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

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = errors.New("websocket connection closed")

// closeGrace bounds the close handshake sent by WebSocketConnection.Close
const closeGrace = time.Second

// WebSocketConnection presents a WebSocket as a byte stream. Message
// boundaries are not preserved: report decoders resynchronise on their own
// terminators, so frames are simply concatenated.
type WebSocketConnection struct {
	conn   *websocket.Conn
	frame  io.Reader // remainder of the message being read, nil between messages
	failed bool
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	if w.failed {
		return 0, ErrConnectionClosed
	}

	for {
		if w.frame == nil {
			messageType, r, err := w.conn.NextReader()
			if err != nil {
				// Later reads must not touch a failed connection
				w.failed = true
				return 0, err
			}
			// Line reports arrive as text frames, CBOR reports as binary
			if messageType != websocket.BinaryMessage && messageType != websocket.TextMessage {
				continue
			}
			w.frame = r
		}

		n, err := w.frame.Read(p)
		if errors.Is(err, io.EOF) {
			w.frame = nil
			err = nil
		}
		if n > 0 || err != nil {
			return n, err
		}
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close says goodbye to the peer, then drops the connection
func (w *WebSocketConnection) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	return w.conn.Close()
}

// basicAuth returns the Authorization header for user and password, or an
// empty header when no user is given
func basicAuth(user, password string) http.Header {
	headers := http.Header{}
	if user != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}
	return headers
}

// OpenSerialConnection opens a serial port connection
func OpenSerialConnection(portName string, baudRate int) (Connection, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return &SerialConnection{port: port}, nil
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool) (Connection, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	switch u.Scheme {
	case "ws":
	case "wss":
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: skipSSLVerify}
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, basicAuth(username, password))
	if err != nil {
		if resp != nil {
			// Usually 401 from a bridge with credentials
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return &WebSocketConnection{conn: conn}, nil
}

// GetPassword retrieves the password from the environment or prompts for it
func GetPassword() (string, error) {
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	defer fmt.Fprintln(os.Stderr)

	fd := int(syscall.Stdin)
	if term.IsTerminal(fd) {
		pw, err := term.ReadPassword(fd)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(pw), nil
	}

	// Piped input, e.g. from a password manager
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// OpenConnection opens the link selected by the connection flags. The
// returned description names the link for status lines.
func OpenConnection() (Connection, string, error) {
	switch {
	case wsURL != "":
		var password string
		if wsUsername != "" {
			pw, err := GetPassword()
			if err != nil {
				return nil, "", err
			}
			password = pw
		}
		conn, err := OpenWebSocketConnection(wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", wsURL), nil

	case portName != "":
		conn, err := OpenSerialConnection(portName, baudRate)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	return nil, "", fmt.Errorf("either --port or --url must be specified")
}

// sendCommand encodes cmd and writes it to conn
func sendCommand(conn io.Writer, cmd stimlink.Command) error {
	if _, err := conn.Write(stimlink.EncodeCommand(cmd)); err != nil {
		return fmt.Errorf("failed to send %s: %w", cmd, err)
	}
	return nil
}

// readMessages decodes reports from conn and hands each one, or each decode
// error, to visit until the connection fails or visit returns false
func readMessages(conn io.Reader, format stimlink.Format, visit func(m *stimlink.Message, err error) bool) error {
	decoder := stimlink.NewMessageDecoder(format)
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		for i := 0; i < n; i++ {
			m, decodeErr := decoder.DecodeByte(buf[i])
			if decodeErr == nil && m == nil {
				continue
			}
			if !visit(m, decodeErr) {
				return nil
			}
		}
		if err != nil {
			return err
		}
	}
}
