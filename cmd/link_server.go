// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// clientQueueSize bounds the frames waiting for one slow client
const clientQueueSize = 256

// clientWriteTimeout is how long a single frame may take to reach a client
const clientWriteTimeout = 5 * time.Second

// linkHub serves a byte link to any number of WebSocket clients. Everything
// written to the hub is broadcast to every client; bytes a client sends go to
// the sink that newClient opened for it.
//
// Write never blocks: each client has its own queue drained by a writer
// goroutine, and a client whose queue is full is dropped.
type linkHub struct {
	upgrader  websocket.Upgrader
	newClient func() io.WriteCloser
	username  string
	password  string

	mu      sync.Mutex
	clients map[*hubClient]struct{}
}

// hubClient is one connected WebSocket peer
type hubClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

func newLinkHub(newClient func() io.WriteCloser, username, password string) *linkHub {
	return &linkHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		newClient: newClient,
		username:  username,
		password:  password,
		clients:   map[*hubClient]struct{}{},
	}
}

// Write queues p for every client. Clients that cannot keep up are dropped;
// the hub itself never fails.
func (h *linkHub) Write(p []byte) (int, error) {
	frame := append([]byte(nil), p...)

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			log.Printf("Dropping client %s: send queue full", c.conn.RemoteAddr())
			h.removeLocked(c)
		}
	}
	return len(p), nil
}

// Clients returns the number of connected clients
func (h *linkHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *linkHub) remove(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// removeLocked forgets c, stops its writer and closes its connection, which
// also ends its reader. Safe to call more than once.
func (h *linkHub) removeLocked(c *hubClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.done)
	c.conn.Close()
}

// writePump drains the queue of c until the hub removes it or a write fails
func (h *linkHub) writePump(c *hubClient) {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(clientWriteTimeout))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				log.Printf("Dropping client %s: %v", c.conn.RemoteAddr(), err)
				h.remove(c)
				return
			}
		}
	}
}

func (h *linkHub) authorized(r *http.Request) bool {
	if h.username == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(h.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(h.password)) == 1
	return userOK && passOK
}

func (h *linkHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="optostim"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &hubClient{
		conn: conn,
		send: make(chan []byte, clientQueueSize),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	go h.writePump(c)
	log.Printf("Client connected: %s", conn.RemoteAddr())

	sink := h.newClient()
	defer func() {
		sink.Close()
		h.remove(c)
		log.Printf("Client disconnected: %s", conn.RemoteAddr())
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.BinaryMessage && messageType != websocket.TextMessage {
			continue
		}
		if _, err := sink.Write(data); err != nil {
			log.Printf("Client %s: %v", conn.RemoteAddr(), err)
			return
		}
	}
}

// serveLink runs an HTTP server exposing h at path until ctx is cancelled
func serveLink(ctx context.Context, addr, path string, h *linkHub) error {
	mux := http.NewServeMux()
	mux.Handle(path, h)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe()
	}()
	log.Printf("Serving link on ws://%s%s", addr, path)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// nopWriteCloser adapts a shared writer that individual clients must not close
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
