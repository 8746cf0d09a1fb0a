package session

import (
	"net/netip"
	"time"

	"netarena/ecs"
	"netarena/handle"
	"netarena/protocol"
)

// ID 会话的弱引用；会话删除后旧 ID 不再解析
type ID = handle.Handle

// Session 一个客户端地址对应的服务端状态
// 只在 Tick 线程中访问
type Session struct {
	ID      ID
	Addr    netip.AddrPort
	Version protocol.Version
	Name    string

	// Account 登录后的用户名；空表示匿名
	Account string
	Token   string

	// LoginGen 每次登录/登出递增；结果回来时代数不一致即作废
	LoginGen uint64

	CreatedAt    time.Time
	LastActivity time.Time
	Warnings     int

	// Room / Entity 为弱引用，由房间管理器维护
	Room   handle.Handle
	Entity ecs.EntityID

	malformed int
	history   *History
	recvQueue []protocol.Command
	sendQueue [][]byte
	sendCap   int
	nextSeq   uint32

	closing     bool
	closeReason protocol.DisconnectReason
}

func newSession(addr netip.AddrPort, v protocol.Version, name string, now time.Time, historySize, sendCap int) *Session {
	return &Session{
		Addr:         addr,
		Version:      v,
		Name:         name,
		CreatedAt:    now,
		LastActivity: now,
		history:      NewHistory(historySize),
		sendCap:      sendCap,
	}
}

func (s *Session) LoggedIn() bool { return s.Account != "" }

// Observe 对收到的序列号去重
func (s *Session) Observe(seq uint32) Verdict { return s.history.Observe(seq) }

// TakeCommands 取出本 Tick 排队的命令
func (s *Session) TakeCommands() []protocol.Command {
	out := s.recvQueue
	s.recvQueue = nil
	return out
}

func (s *Session) Pending() int { return len(s.recvQueue) }

// Send 用会话的协议版本编码并排入发送队列；队列满时丢弃最旧的一条
// 会话版本不支持的命令被忽略并返回 false
func (s *Session) Send(id protocol.CommandID, p protocol.Payload) bool {
	if !s.Version.Supports(id) {
		return false
	}
	s.nextSeq++
	b := protocol.Encode(protocol.Command{
		ID:       id,
		Version:  s.Version,
		Priority: priorityOf(id),
		Sequence: s.nextSeq,
		Payload:  p,
	})
	if s.sendCap > 0 && len(s.sendQueue) >= s.sendCap {
		copy(s.sendQueue, s.sendQueue[1:])
		s.sendQueue = s.sendQueue[:len(s.sendQueue)-1]
	}
	s.sendQueue = append(s.sendQueue, b)
	return true
}

// TakeOutgoing 取出待发送的数据报
func (s *Session) TakeOutgoing() [][]byte {
	out := s.sendQueue
	s.sendQueue = nil
	return out
}

// Close 标记会话在本 Tick 末尾被回收（先发完 REP_DISCONNECT）
func (s *Session) Close(reason protocol.DisconnectReason) {
	if s.closing {
		return
	}
	s.closing = true
	s.closeReason = reason
}

func (s *Session) Closing() bool                          { return s.closing }
func (s *Session) CloseReason() protocol.DisconnectReason { return s.closeReason }

func priorityOf(id protocol.CommandID) protocol.Priority {
	switch id {
	case protocol.RepConnect, protocol.RepDisconnect:
		return protocol.PriorityCritical
	case protocol.RepEntitySpawn, protocol.RepEntityDestroy, protocol.RepStartGame, protocol.RepEndGame:
		return protocol.PriorityHigh
	case protocol.RepEntityMoved:
		return protocol.PriorityLow
	}
	return protocol.PriorityMedium
}
