package session

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"netarena/handle"
	"netarena/protocol"
)

var (
	ErrCapacity     = errors.New("session capacity reached")
	ErrWarningLimit = errors.New("warning limit reached")
	ErrRateLimited  = errors.New("command rate limit exceeded")
	ErrTimeout      = errors.New("session timed out")
)

// Fault 计入警告的客户端行为
type Fault uint8

const (
	FaultUnknownCommand Fault = iota + 1
	FaultVersionMismatch
	FaultMalformed
	FaultRateLimit
	FaultOversized
)

func (f Fault) String() string {
	switch f {
	case FaultUnknownCommand:
		return "unknown_command"
	case FaultVersionMismatch:
		return "version_mismatch"
	case FaultMalformed:
		return "malformed"
	case FaultRateLimit:
		return "rate_limit"
	case FaultOversized:
		return "oversized"
	}
	return "unknown"
}

func (f Fault) valid() bool { return f >= FaultUnknownCommand && f <= FaultOversized }

// Config 会话管理参数
type Config struct {
	MaxSessions        int
	Timeout            time.Duration
	MaxWarnings        int
	MalformedTolerance int
	HistorySize        int
	SendQueue          int
	MaxCommandsPerTick int
}

// Manager 地址到会话的映射与会话生命周期
// 非并发安全：只在 Tick 线程中使用
type Manager struct {
	cfg    Config
	pool   handle.Pool[*Session]
	byAddr map[netip.AddrPort]ID
	log    *zap.SugaredLogger
}

func NewManager(cfg Config, log *zap.SugaredLogger) *Manager {
	if cfg.MaxWarnings <= 0 {
		cfg.MaxWarnings = 5
	}
	if cfg.MalformedTolerance <= 0 {
		cfg.MalformedTolerance = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{cfg: cfg, byAddr: make(map[netip.AddrPort]ID), log: log}
}

func (m *Manager) Config() Config { return m.cfg }

// SetMaxWarnings / SetMaxCommandsPerTick 运行期调参，在 Tick 边界调用
func (m *Manager) SetMaxWarnings(n int) {
	if n > 0 {
		m.cfg.MaxWarnings = n
	}
}

func (m *Manager) SetMaxCommandsPerTick(n int) {
	if n >= 0 {
		m.cfg.MaxCommandsPerTick = n
	}
}

// GetOrCreate 地址已有会话时原样返回；否则在容量允许时新建
func (m *Manager) GetOrCreate(addr netip.AddrPort, v protocol.Version, name string, now time.Time) (*Session, bool, error) {
	if s, ok := m.Lookup(addr); ok {
		return s, false, nil
	}
	if m.cfg.MaxSessions > 0 && m.pool.Len() >= m.cfg.MaxSessions {
		return nil, false, fmt.Errorf("%w (%d)", ErrCapacity, m.cfg.MaxSessions)
	}
	s := newSession(addr, v, name, now, m.cfg.HistorySize, m.cfg.SendQueue)
	s.ID = m.pool.Insert(s)
	m.byAddr[addr] = s.ID
	m.log.Infof("session %s created for %s (%s, name=%q)", s.ID, addr, v, name)
	return s, true, nil
}

func (m *Manager) Lookup(addr netip.AddrPort) (*Session, bool) {
	id, ok := m.byAddr[addr]
	if !ok {
		return nil, false
	}
	return m.pool.Get(id)
}

func (m *Manager) LookupID(id ID) (*Session, bool) { return m.pool.Get(id) }

// Touch 刷新活跃时间
func (m *Manager) Touch(s *Session, now time.Time) {
	if now.After(s.LastActivity) {
		s.LastActivity = now
	}
}

// Enqueue 排入一条已解码命令；超过每 Tick 上限返回 ErrRateLimited
func (m *Manager) Enqueue(s *Session, cmd protocol.Command) error {
	if m.cfg.MaxCommandsPerTick > 0 && len(s.recvQueue) >= m.cfg.MaxCommandsPerTick {
		return ErrRateLimited
	}
	s.recvQueue = append(s.recvQueue, cmd)
	return nil
}

// RecordWarning 累加一次警告；恰好达到上限时返回 ErrWarningLimit 并把会话标记为关闭
// 已在关闭中的会话不再计数
func (m *Manager) RecordWarning(s *Session, f Fault) error {
	if s.closing || !f.valid() {
		return nil
	}
	s.Warnings++
	m.log.Warnf("session %s (%s) warning %d/%d: %s", s.ID, s.Addr, s.Warnings, m.cfg.MaxWarnings, f)
	if s.Warnings >= m.cfg.MaxWarnings {
		s.Close(protocol.ReasonWarnings)
		return fmt.Errorf("%w: session %s after %s", ErrWarningLimit, s.ID, f)
	}
	return nil
}

// RecordMalformed 连续 MalformedTolerance 次格式错误才计一次警告
func (m *Manager) RecordMalformed(s *Session) error {
	s.malformed++
	if s.malformed < m.cfg.MalformedTolerance {
		return nil
	}
	s.malformed = 0
	return m.RecordWarning(s, FaultMalformed)
}

// ClearMalformed 收到合法包后重置连续错误计数
func (m *Manager) ClearMalformed(s *Session) { s.malformed = 0 }

// Remove 删除会话；旧 ID 与地址映射随即失效
func (m *Manager) Remove(id ID) (*Session, bool) {
	s, ok := m.pool.Remove(id)
	if !ok {
		return nil, false
	}
	if cur, ok := m.byAddr[s.Addr]; ok && cur == id {
		delete(m.byAddr, s.Addr)
	}
	m.log.Infof("session %s (%s) removed", id, s.Addr)
	return s, true
}

// Expired 超过 Timeout 未活跃且尚未关闭的会话，按 id 升序
func (m *Manager) Expired(now time.Time) []*Session {
	var out []*Session
	m.pool.Each(func(_ handle.Handle, s *Session) {
		if !s.closing && now.Sub(s.LastActivity) > m.cfg.Timeout {
			out = append(out, s)
		}
	})
	return out
}

// Each 按 id 升序遍历
func (m *Manager) Each(fn func(*Session)) {
	m.pool.Each(func(_ handle.Handle, s *Session) { fn(s) })
}

func (m *Manager) Len() int { return m.pool.Len() }
