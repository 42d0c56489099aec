// Package signaling implements the per-connection WebSocket transport
// and the envelope router/dispatcher that sits on top of it (spec.md
// §4.8): the architectural core that wires the envelope verifier, the
// policy engine, the call-token issuer, the conversation ledger, and
// the active-call tracker into a single cooperative per-connection
// dispatcher.
package signaling

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
)

// MaxFrameBytes bounds a single text frame (spec.md §6: "at most 64
// KiB; larger payloads use the upload endpoint").
const MaxFrameBytes = 64 * 1024

// sendBufferSize is the depth of a connection's outbound queue before a
// send is considered to be hitting a slow client.
const sendBufferSize = 256

const (
	pongWait   = 25 * time.Second // grace on top of the 15s ping period
	pingPeriod = 15 * time.Second // spec.md §5: "ping -> pong every 15s"
	writeWait  = 10 * time.Second
)

var connIDSeq int64

// Conn is one live WebSocket connection. It implements registry.Conn so
// the connection registry can hold it without importing this package.
type Conn struct {
	id     int64
	nc     net.Conn
	send   chan []byte
	logger zerolog.Logger

	closeOnce sync.Once
	closed    chan struct{}

	mu      sync.Mutex
	address string // bound by the "register" envelope; empty until then
}

func newConn(nc net.Conn, logger zerolog.Logger) *Conn {
	return &Conn{
		id:     atomic.AddInt64(&connIDSeq, 1),
		nc:     nc,
		send:   make(chan []byte, sendBufferSize),
		logger: logger,
		closed: make(chan struct{}),
	}
}

// ID implements registry.Conn.
func (c *Conn) ID() int64 { return c.id }

// Send implements registry.Conn. It is best-effort: a full outbound
// queue means the client is slow and the frame is dropped rather than
// blocking the caller (spec.md §5: "fan-out writes to peer sockets
// (best-effort)").
func (c *Conn) Send(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close implements registry.Conn: it writes a close frame carrying
// reason straight to the socket (a non-empty reason is also logged for
// diagnostics) and tears down the underlying socket.
func (c *Conn) Close(reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		if reason != "" {
			c.logger.Debug().Int64("conn_id", c.id).Str("reason", reason).Msg("closing connection")
		}
		_ = wsutil.WriteServerMessage(c.nc, ws.OpClose, []byte(reason))
		c.nc.Close()
	})
}

// remoteAddr returns the underlying socket's remote address, used only
// for the diagnostic byIP field on consumed call-session tokens.
func (c *Conn) remoteAddr() string {
	if c.nc == nil {
		return ""
	}
	return c.nc.RemoteAddr().String()
}

func (c *Conn) boundAddress() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.address
}

func (c *Conn) bind(address string) {
	c.mu.Lock()
	c.address = address
	c.mu.Unlock()
}

// readPump reads text frames off the socket and hands each to onFrame.
// Grounded in ws_poc's shared.readPump: SetReadDeadline refreshed on
// every frame, close/ping/text opcodes switched on, any read error
// treated as client-initiated disconnect.
func (c *Conn) readPump(onFrame func(frame []byte)) {
	defer c.Close("read_pump_exit")

	c.nc.SetReadDeadline(time.Now().Add(pongWait))

	for {
		msg, op, err := wsutil.ReadClientData(c.nc)
		if err != nil {
			return
		}
		c.nc.SetReadDeadline(time.Now().Add(pongWait))

		switch op {
		case ws.OpText:
			if len(msg) > MaxFrameBytes {
				continue
			}
			onFrame(msg)
		case ws.OpPing:
			_ = wsutil.WriteServerMessage(c.nc, ws.OpPong, nil)
		case ws.OpClose:
			return
		}
	}
}

// writePump drains the send channel to the socket and pings on an
// interval, mirroring ws_poc's batching writePump but without the
// per-batch metrics accounting (carried in internal/metrics instead).
func (c *Conn) writePump() {
	writer := bufio.NewWriter(c.nc)
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close("write_pump_exit")
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			c.nc.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(writer, ws.OpText, frame); err != nil {
				return
			}

			n := len(c.send)
			for i := 0; i < n; i++ {
				frame = <-c.send
				if err := wsutil.WriteServerMessage(writer, ws.OpText, frame); err != nil {
					return
				}
			}
			if err := writer.Flush(); err != nil {
				return
			}

		case <-ticker.C:
			c.nc.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(c.nc, ws.OpPing, nil); err != nil {
				return
			}

		case <-c.closed:
			return
		}
	}
}
