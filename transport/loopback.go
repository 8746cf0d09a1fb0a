package transport

import (
	"net/netip"
	"sync"
)

// Loopback 内存通道，测试里替代 UDP 驱动服务端循环
type Loopback struct {
	mu     sync.Mutex
	max    int
	in     []Datagram
	out    []Datagram
	closed bool
	stats  counters
}

func NewLoopback(maxDatagram int) *Loopback {
	if maxDatagram <= 0 {
		maxDatagram = 1200
	}
	return &Loopback{max: maxDatagram}
}

// Inject 模拟客户端发来的数据报
func (l *Loopback) Inject(addr netip.AddrPort, b []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d := Datagram{Addr: addr}
	if len(b) > l.max {
		l.stats.oversized.Add(1)
		d.Err = ErrDatagramTooLarge
	} else {
		d.Data = append([]byte(nil), b...)
	}
	l.in = append(l.in, d)
	l.stats.received.Add(1)
}

// Drain 取出并清空已发送的数据报
func (l *Loopback) Drain() []Datagram {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.out
	l.out = nil
	return out
}

func (l *Loopback) Receive() (Datagram, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.in) == 0 {
		return Datagram{}, ErrWouldBlock
	}
	d := l.in[0]
	l.in = l.in[1:]
	return d, d.Err
}

func (l *Loopback) Send(addr netip.AddrPort, b []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if len(b) > l.max {
		return ErrDatagramTooLarge
	}
	l.out = append(l.out, Datagram{Addr: addr, Data: append([]byte(nil), b...)})
	l.stats.sent.Add(1)
	return nil
}

func (l *Loopback) Stats() Stats { return l.stats.snapshot() }

func (l *Loopback) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}
