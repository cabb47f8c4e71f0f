package wiz

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

const (
	// DefaultPort is the UDP port WiZ devices listen on.
	DefaultPort = 38899

	// maxDatagram bounds a single reply. Real replies are a few hundred bytes.
	maxDatagram = 1024

	defaultRequestTimeout = time.Second
)

// Reply is one datagram received during a broadcast.
type Reply struct {
	Addr    string
	Payload []byte
}

// Transport carries WiZ requests. UDPTransport is the production
// implementation; tests substitute a scripted one.
type Transport interface {
	// Broadcast sends payload to every device and collects replies until
	// window elapses or ctx is done.
	Broadcast(ctx context.Context, payload []byte, window time.Duration) ([]Reply, error)

	// Request sends payload to one device and waits for a single reply.
	Request(ctx context.Context, addr string, payload []byte) ([]byte, error)
}

// UDPTransport talks to devices over UDP.
type UDPTransport struct {
	broadcast string
	port      int
	timeout   time.Duration
}

// NewUDPTransport returns a transport broadcasting to broadcastAddr:port.
// timeout bounds unicast requests; zero selects one second.
func NewUDPTransport(broadcastAddr string, port int, timeout time.Duration) *UDPTransport {
	if port == 0 {
		port = DefaultPort
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &UDPTransport{broadcast: broadcastAddr, port: port, timeout: timeout}
}

// Broadcast implements Transport.
func (t *UDPTransport) Broadcast(ctx context.Context, payload []byte, window time.Duration) ([]Reply, error) {
	dst, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(t.broadcast, strconv.Itoa(t.port)))
	if err != nil {
		return nil, fmt.Errorf("resolving broadcast address: %w", err)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("opening discovery socket: %w", err)
	}
	defer conn.Close()

	if _, err := conn.WriteToUDP(payload, dst); err != nil {
		return nil, fmt.Errorf("sending discovery broadcast: %w", err)
	}

	if err := conn.SetReadDeadline(deadline(ctx, window)); err != nil {
		return nil, fmt.Errorf("setting read deadline: %w", err)
	}

	var replies []Reply
	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return replies, nil
			}
			return replies, fmt.Errorf("reading discovery reply: %w", err)
		}
		replies = append(replies, Reply{
			Addr:    addr.IP.String(),
			Payload: append([]byte(nil), buf[:n]...),
		})
		if ctx.Err() != nil {
			return replies, nil
		}
	}
}

// Request implements Transport.
func (t *UDPTransport) Request(ctx context.Context, addr string, payload []byte) ([]byte, error) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "udp4", net.JoinHostPort(addr, strconv.Itoa(t.port)))
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write(payload); err != nil {
		return nil, fmt.Errorf("sending to %s: %w", addr, err)
	}
	if err := conn.SetReadDeadline(deadline(ctx, t.timeout)); err != nil {
		return nil, fmt.Errorf("setting read deadline: %w", err)
	}

	buf := make([]byte, maxDatagram)
	n, err := conn.Read(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, fmt.Errorf("%w from %s", ErrNoReply, addr)
		}
		return nil, fmt.Errorf("reading from %s: %w", addr, err)
	}
	return buf[:n], nil
}

// deadline is now+d, or ctx's deadline if that comes first.
func deadline(ctx context.Context, d time.Duration) time.Time {
	dl := time.Now().Add(d)
	if ctxDL, ok := ctx.Deadline(); ok && ctxDL.Before(dl) {
		return ctxDL
	}
	return dl
}
