package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/peder1981/p2p-chat/internal/errs"
)

const maxPacketSize = 1 << 20

// TCPSender dials the target for every packet, writes it and hangs up.
// Transient failures are retried with exponential backoff.
type TCPSender struct {
	Timeout time.Duration
	Retries uint64
}

// Dial connects to a peer at the given TCP address (e.g. "host:port").
func Dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, "tcp", addr)
}

// Send implements Sender.
func (s *TCPSender) Send(ctx context.Context, addr string, pkt Packet) error {
	if pkt.Timestamp.IsZero() {
		pkt.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(pkt)
	if err != nil {
		return fmt.Errorf("encode %s packet: %w", pkt.Action, err)
	}
	data = append(data, '\n')

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, s.Retries), ctx)

	op := func() error { return s.sendOnce(ctx, addr, data) }
	if err := backoff.Retry(op, b); err != nil {
		return fmt.Errorf("send %s to %s: %v: %w", pkt.Action, addr, err, errs.ErrUnavailable)
	}
	return nil
}

func (s *TCPSender) sendOnce(ctx context.Context, addr string, data []byte) error {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	conn, err := Dial(ctx, addr, timeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	_, err = conn.Write(data)
	return err
}

// Listener wraps a TCP listener and decodes incoming packets.
type Listener struct {
	listener net.Listener
	// Packets receives every decoded packet. It is never closed.
	Packets chan Packet

	done      chan struct{}
	closeOnce sync.Once
}

// Listen starts listening on the given TCP address.
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	l := &Listener{
		listener: ln,
		Packets:  make(chan Packet, 64),
		done:     make(chan struct{}),
	}
	go l.acceptLoop()
	return l, nil
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			return
		}
		go l.readPackets(conn)
	}
}

func (l *Listener) readPackets(conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxPacketSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var pkt Packet
		if err := json.Unmarshal(line, &pkt); err != nil {
			continue
		}
		pkt.Remote = conn.RemoteAddr().String()
		select {
		case l.Packets <- pkt:
		case <-l.done:
			return
		}
	}
}

// Addr returns the listener's network address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Close shuts down the listener.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return l.listener.Close()
}
