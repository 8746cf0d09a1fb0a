package transport

import (
	"bytes"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func receiveWithin(t *testing.T, c Conduit, d time.Duration) (Datagram, error) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		dg, err := c.Receive()
		if !errors.Is(err, ErrWouldBlock) {
			return dg, err
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("no datagram within %s", d)
	return Datagram{}, nil
}

func TestUDPReceiveSendAndOversized(t *testing.T) {
	u, err := Listen("127.0.0.1:0", Options{MaxDatagramSize: 16}, zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer u.Close()

	if _, err := u.Receive(); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("empty receive err=%v", err)
	}

	client, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(u.LocalAddr()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	dg, err := receiveWithin(t, u, 2*time.Second)
	if err != nil || string(dg.Data) != "hello" {
		t.Fatalf("got %q err=%v", dg.Data, err)
	}

	if _, err := client.Write(bytes.Repeat([]byte{1}, 17)); err != nil {
		t.Fatalf("write: %v", err)
	}
	dg, err = receiveWithin(t, u, 2*time.Second)
	if !errors.Is(err, ErrDatagramTooLarge) || dg.Data != nil {
		t.Fatalf("oversized datagram: data=%v err=%v", dg.Data, err)
	}
	if !dg.Addr.IsValid() {
		t.Fatalf("oversized datagram lost its source address")
	}

	if err := u.Send(dg.Addr, []byte("pong")); err != nil {
		t.Fatalf("send: %v", err)
	}
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := client.Read(buf)
	if err != nil || string(buf[:n]) != "pong" {
		t.Fatalf("client read %q err=%v", buf[:n], err)
	}

	if err := u.Send(dg.Addr, bytes.Repeat([]byte{1}, 17)); !errors.Is(err, ErrDatagramTooLarge) {
		t.Fatalf("oversized send err=%v", err)
	}
	if s := u.Stats(); s.Oversized != 1 || s.Received != 2 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestUDPSendAfterClose(t *testing.T) {
	u, err := Listen("127.0.0.1:0", Options{}, nil)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if err := u.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	_ = u.Close()
	if err := u.Send(netip.MustParseAddrPort("127.0.0.1:9"), []byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("send after close err=%v", err)
	}
}

func TestLoopback(t *testing.T) {
	l := NewLoopback(8)
	addr := netip.MustParseAddrPort("10.0.0.1:4000")
	l.Inject(addr, []byte("abc"))
	l.Inject(addr, []byte("0123456789"))

	dg, err := l.Receive()
	if err != nil || string(dg.Data) != "abc" || dg.Addr != addr {
		t.Fatalf("first: %+v err=%v", dg, err)
	}
	if _, err := l.Receive(); !errors.Is(err, ErrDatagramTooLarge) {
		t.Fatalf("oversized err=%v", err)
	}
	if _, err := l.Receive(); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("empty err=%v", err)
	}

	_ = l.Send(addr, []byte("x"))
	_ = l.Send(addr, []byte("y"))
	if out := l.Drain(); len(out) != 2 || string(out[1].Data) != "y" {
		t.Fatalf("drain = %+v", out)
	}
	if out := l.Drain(); len(out) != 0 {
		t.Fatalf("drain did not clear")
	}
	_ = l.Close()
	if err := l.Send(addr, []byte("z")); !errors.Is(err, ErrClosed) {
		t.Fatalf("send after close err=%v", err)
	}
}
