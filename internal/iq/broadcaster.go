package iq

import (
	"context"
	"log/slog"
	"net"
	"sync"
)

// rtlHandshake is the 12-byte RTL-TCP magic header: ASCII "RTL0"
// followed by big-endian uint32 tuner type (1) and gain-stage count
// (29), matching struct.pack('>4sII', b'RTL0', 1, 29) in the original
// source.
var rtlHandshake = []byte{0x52, 0x54, 0x4C, 0x30, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x1D}

// Broadcaster implements C9 RTLBroadcaster: a TCP listener that sends
// the RTL-TCP handshake on accept, then fans every broadcast frame out
// to all connected clients. Inbound bytes are read and discarded;
// commands are not honored in this version, per §4.6.
type Broadcaster struct {
	listener net.Listener
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[net.Conn]struct{}
}

// NewBroadcaster binds addr (e.g. ":1234") and returns a Broadcaster
// ready to Serve.
func NewBroadcaster(addr string, logger *slog.Logger) (*Broadcaster, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{listener: ln, logger: logger, clients: make(map[net.Conn]struct{})}, nil
}

// Addr returns the bound listener address (useful when addr was ":0").
func (b *Broadcaster) Addr() net.Addr { return b.listener.Addr() }

// Serve accepts connections until ctx is cancelled or the listener is
// closed. Each accepted connection is sent the handshake, registered
// for broadcast, and drained of inbound bytes on a per-client goroutine.
func (b *Broadcaster) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		b.listener.Close()
	}()

	for {
		conn, err := b.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		b.addClient(conn)
	}
}

func (b *Broadcaster) addClient(conn net.Conn) {
	if _, err := conn.Write(rtlHandshake); err != nil {
		b.logger.Warn("rtl handshake write failed", "remote", conn.RemoteAddr(), "error", err)
		conn.Close()
		return
	}

	b.mu.Lock()
	b.clients[conn] = struct{}{}
	b.mu.Unlock()

	go b.drain(conn)
}

// drain discards inbound command bytes until the client disconnects,
// then removes it from the fan-out list.
func (b *Broadcaster) drain(conn net.Conn) {
	buf := make([]byte, 256)
	for {
		if _, err := conn.Read(buf); err != nil {
			b.removeClient(conn)
			return
		}
	}
}

func (b *Broadcaster) removeClient(conn net.Conn) {
	b.mu.Lock()
	delete(b.clients, conn)
	b.mu.Unlock()
	conn.Close()
}

// Broadcast encodes frame and writes it to every connected client. A
// write failure removes that client from the fan-out list without
// affecting the others, per §4.6.
func (b *Broadcaster) Broadcast(frame []complex64) {
	payload := EncodeFrame(frame)

	b.mu.Lock()
	conns := make([]net.Conn, 0, len(b.clients))
	for c := range b.clients {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		if _, err := c.Write(payload); err != nil {
			b.removeClient(c)
		}
	}
}

// ClientCount returns the number of currently connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close stops accepting new connections and closes all client
// sockets.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	for c := range b.clients {
		c.Close()
	}
	b.clients = make(map[net.Conn]struct{})
	b.mu.Unlock()
	return b.listener.Close()
}

// EncodeFrame maps each complex sample with components in [-1, 1] to
// two unsigned bytes round(127.5*x + 127.5) — I then Q, concatenated —
// matching the original source's RTL-TCP sample framing.
func EncodeFrame(frame []complex64) []byte {
	out := make([]byte, 0, len(frame)*2)
	for _, s := range frame {
		out = append(out, mapSample(real(s)), mapSample(imag(s)))
	}
	return out
}

func mapSample(x float32) byte {
	v := float64(x)*127.5 + 127.5
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	return byte(v + 0.5) // round half up
}
