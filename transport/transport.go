package transport

import (
	"errors"
	"net/netip"
	"sync/atomic"
)

var (
	// ErrWouldBlock 当前没有可读数据报
	ErrWouldBlock = errors.New("transport: no datagram ready")
	// ErrDatagramTooLarge 数据报超过配置上限，整包拒绝而不是截断
	ErrDatagramTooLarge = errors.New("transport: datagram too large")
	ErrSendQueueFull    = errors.New("transport: send queue full")
	ErrClosed           = errors.New("transport: closed")
)

// Datagram 一个数据报及其来源/目标地址；Err 非空时 Data 为空
type Datagram struct {
	Addr netip.AddrPort
	Data []byte
	Err  error
}

// Conduit 纯字节/地址通道，不理解协议内容
// Receive 非阻塞：无数据时返回 ErrWouldBlock
type Conduit interface {
	Receive() (Datagram, error)
	Send(addr netip.AddrPort, b []byte) error
	Stats() Stats
	Close() error
}

// Stats 传输层计数
type Stats struct {
	Received    uint64 `json:"received"`
	Sent        uint64 `json:"sent"`
	Oversized   uint64 `json:"oversized"`
	RecvDropped uint64 `json:"recv_dropped"`
	SendDropped uint64 `json:"send_dropped"`
	SendErrors  uint64 `json:"send_errors"`
}

type counters struct {
	received, sent, oversized, recvDropped, sendDropped, sendErrors atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Received:    c.received.Load(),
		Sent:        c.sent.Load(),
		Oversized:   c.oversized.Load(),
		RecvDropped: c.recvDropped.Load(),
		SendDropped: c.sendDropped.Load(),
		SendErrors:  c.sendErrors.Load(),
	}
}
