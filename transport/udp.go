package transport

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"go.uber.org/zap"
)

// Options UDP 通道参数
type Options struct {
	MaxDatagramSize int // 单个数据报上限（字节）
	RecvBuffer      int // 读协程到 Tick 之间的缓冲条数
	SendBuffer      int // Tick 到写协程之间的缓冲条数
}

func (o *Options) normalize() {
	if o.MaxDatagramSize <= 0 {
		o.MaxDatagramSize = 1200
	}
	if o.RecvBuffer <= 0 {
		o.RecvBuffer = 1024
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 1024
	}
}

// UDP 读写各一个协程；Tick 线程只通过有界通道与之交互，永不阻塞
type UDP struct {
	conn *net.UDPConn
	log  *zap.SugaredLogger
	max  int

	recv chan Datagram
	send chan Datagram

	done       chan struct{}
	writerDone chan struct{}
	readerDone chan struct{}
	closeOnce  sync.Once

	stats counters
}

// Listen 绑定 UDP 地址并启动读写协程
func Listen(addr string, opt Options, log *zap.SugaredLogger) (*UDP, error) {
	opt.normalize()
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", ua)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	u := &UDP{
		conn:       conn,
		log:        log,
		max:        opt.MaxDatagramSize,
		recv:       make(chan Datagram, opt.RecvBuffer),
		send:       make(chan Datagram, opt.SendBuffer),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	go u.readLoop()
	go u.writeLoop()
	log.Infof("udp listening on %s (max datagram %d)", u.LocalAddr(), u.max)
	return u, nil
}

// LocalAddr 实际绑定的地址（端口为 0 时由系统分配）
func (u *UDP) LocalAddr() netip.AddrPort {
	return u.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// readLoop 多读一个字节用于识别超长数据报
func (u *UDP) readLoop() {
	defer close(u.readerDone)
	buf := make([]byte, u.max+1)
	for {
		n, addr, err := u.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			u.log.Warnf("udp read: %v", err)
			continue
		}
		d := Datagram{Addr: normalizeAddr(addr)}
		if n > u.max {
			u.stats.oversized.Add(1)
			d.Err = ErrDatagramTooLarge
		} else {
			d.Data = append([]byte(nil), buf[:n]...)
		}
		select {
		case u.recv <- d:
			u.stats.received.Add(1)
		default:
			u.stats.recvDropped.Add(1)
		}
	}
}

// writeLoop 关闭时先写完队列中剩余的数据报再退出
func (u *UDP) writeLoop() {
	defer close(u.writerDone)
	for {
		select {
		case d := <-u.send:
			u.write(d)
		case <-u.done:
			for {
				select {
				case d := <-u.send:
					u.write(d)
				default:
					return
				}
			}
		}
	}
}

func (u *UDP) write(d Datagram) {
	if _, err := u.conn.WriteToUDPAddrPort(d.Data, d.Addr); err != nil {
		u.stats.sendErrors.Add(1)
		u.log.Debugf("udp write to %s: %v", d.Addr, err)
		return
	}
	u.stats.sent.Add(1)
}

func (u *UDP) Receive() (Datagram, error) {
	select {
	case d := <-u.recv:
		return d, d.Err
	default:
		return Datagram{}, ErrWouldBlock
	}
}

func (u *UDP) Send(addr netip.AddrPort, b []byte) error {
	if len(b) > u.max {
		return ErrDatagramTooLarge
	}
	select {
	case <-u.done:
		return ErrClosed
	default:
	}
	select {
	case u.send <- Datagram{Addr: addr, Data: b}:
		return nil
	default:
		u.stats.sendDropped.Add(1)
		return ErrSendQueueFull
	}
}

func (u *UDP) Stats() Stats { return u.stats.snapshot() }

func (u *UDP) Close() error {
	var err error
	u.closeOnce.Do(func() {
		close(u.done)
		<-u.writerDone
		err = u.conn.Close()
		<-u.readerDone
		u.log.Infof("udp closed: %+v", u.Stats())
	})
	return err
}

// normalizeAddr IPv4-mapped 地址统一成 IPv4，保证同一客户端映射到同一会话
func normalizeAddr(a netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(a.Addr().Unmap(), a.Port())
}
