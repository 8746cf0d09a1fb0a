package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"netarena/config"
	"netarena/journal"
	"netarena/protocol"
	"netarena/resource"
	"netarena/room"
	"netarena/session"
	"netarena/transport"
)

// AccountStore 账号存储（由 account.Store 实现），调用在 Tick 线程之外执行
type AccountStore interface {
	Register(ctx context.Context, username, password string) error
	Login(ctx context.Context, username, password string) (string, error)
	Logout(ctx context.Context, token string) error
}

type Options struct {
	Config   config.Config
	Conduit  transport.Conduit
	Games    *resource.Catalog
	Accounts AccountStore // 可为 nil，此时账号命令回复 INTERNAL
	Journal  *journal.Journal
	Log      *zap.SugaredLogger
	// Now 测试中注入时钟；缺省 time.Now
	Now func() time.Time
}

// Server 服务端循环的唯一上下文：会话表、房间表与其协作者
// 会话与房间只在 Tick 中修改；HTTP/WS 线程只读已发布的快照
type Server struct {
	cfg      config.Config
	conduit  transport.Conduit
	sessions *session.Manager
	rooms    *room.Manager
	games    *resource.Catalog
	accounts AccountStore
	journal  *journal.Journal
	log      *zap.SugaredLogger
	now      func() time.Time

	metrics *Metrics
	hub     *Hub

	tick     uint64
	lastTick time.Time
	budget   int // 每 Tick 最多读取的数据报

	tunables    atomic.Pointer[Tunables]
	adminCh     chan func()
	completions chan func()
	status      atomic.Pointer[Status]

	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
	shutdown sync.Once
}

func New(opt Options) (*Server, error) {
	if opt.Conduit == nil {
		return nil, errors.New("server: nil conduit")
	}
	if opt.Games == nil || opt.Games.Len() == 0 {
		return nil, errors.New("server: no game definitions")
	}
	cfg := opt.Config
	cfg.Normalize()
	if _, err := opt.Games.Get(cfg.DefaultGame); err != nil {
		return nil, fmt.Errorf("server: default game: %w", err)
	}
	log := opt.Log
	if log == nil {
		log = Log
	}
	now := opt.Now
	if now == nil {
		now = time.Now
	}

	s := &Server{
		cfg:         cfg,
		conduit:     opt.Conduit,
		games:       opt.Games,
		accounts:    opt.Accounts,
		journal:     opt.Journal,
		log:         log,
		now:         now,
		metrics:     &Metrics{},
		budget:      cfg.MaxDatagramsPerTick,
		adminCh:     make(chan func(), 16),
		completions: make(chan func(), 256),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.sessions = session.NewManager(session.Config{
		MaxSessions:        cfg.MaxSessions,
		Timeout:            cfg.SessionTimeout,
		MaxWarnings:        cfg.MaxWarnings,
		MalformedTolerance: cfg.MalformedTolerance,
		HistorySize:        cfg.PacketHistory,
		SendQueue:          cfg.SendQueue,
		MaxCommandsPerTick: cfg.MaxCommandsPerTick,
	}, log)
	s.rooms = room.NewManager(room.Config{
		MaxRooms:        cfg.MaxRooms,
		DefaultCapacity: cfg.DefaultCapacity,
		DefaultGame:     cfg.DefaultGame,
	}, s.sessions, s.resolveGame, log)
	s.hub = NewHub(log)
	s.publishTunables()
	s.publishStatus()
	return s, nil
}

func (s *Server) resolveGame(name string) (room.Game, error) {
	g, err := s.games.Get(name)
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Server) Metrics() *Metrics { return s.metrics }

func (s *Server) Hub() *Hub { return s.hub }

// Tick 推进一帧：调参 → 账号结果 → 收包 → 处理命令 → 超时 → 撮合 → 模拟 → 回收 → 发送
func (s *Server) Tick(now time.Time) {
	start := time.Now()
	s.tick++
	dt := s.cfg.TickInterval()
	if !s.lastTick.IsZero() && now.After(s.lastTick) {
		dt = min(now.Sub(s.lastTick), 250*time.Millisecond)
	}
	s.lastTick = now

	s.applyAdmin()
	s.drainCompletions()
	s.ingest(now)
	s.process(now)
	s.expire(now)
	s.rooms.Matchmake()
	s.rooms.Step(float32(dt.Seconds()))

	closing := s.beginClose()
	s.rooms.Sweep()
	s.route()
	s.flush()
	s.finishClose(closing)

	s.publishStatus()
	if s.tick%uint64(s.cfg.ObserverEveryTicks) == 0 && s.hub.Len() > 0 {
		s.hub.Publish(s.tick, s.rooms.Snapshot(true))
	}
	s.metrics.AddTick(time.Since(start).Nanoseconds())
}

// route 把房间产生的消息按接收者的协议版本排入其发送队列
func (s *Server) route() {
	for _, ev := range s.rooms.TakeEvents() {
		s.journal.Record(journal.Entry{
			Kind:     string(ev.Kind),
			Session:  ev.Session.Uint64(),
			Room:     ev.Room,
			Instance: ev.Instance.String(),
			Game:     ev.Game,
		})
	}
	for _, o := range s.rooms.TakeOutbound() {
		if sess, ok := s.sessions.LookupID(o.To); ok {
			sess.Send(o.ID, o.Payload)
		}
	}
}

func (s *Server) flush() {
	s.sessions.Each(func(sess *session.Session) {
		for _, b := range sess.TakeOutgoing() {
			if err := s.conduit.Send(sess.Addr, b); err != nil {
				inc(&s.metrics.SendErrors)
				s.log.Debugf("send to %s: %v", sess.Addr, err)
				continue
			}
			inc(&s.metrics.DatagramsOut)
		}
	})
}

// expire 超时会话在本 Tick 末尾回收
func (s *Server) expire(now time.Time) {
	for _, sess := range s.sessions.Expired(now) {
		inc(&s.metrics.Timeouts)
		s.log.Infof("session %s (%s) timed out after %s", sess.ID, sess.Addr, now.Sub(sess.LastActivity))
		sess.Close(protocol.ReasonTimeout)
	}
}

// beginClose 给待关闭会话排入 REP_DISCONNECT 并让其离开房间
func (s *Server) beginClose() []*session.Session {
	var closing []*session.Session
	s.sessions.Each(func(sess *session.Session) {
		if sess.Closing() {
			closing = append(closing, sess)
		}
	})
	for _, sess := range closing {
		sess.Send(protocol.RepDisconnect, &protocol.Disconnect{Reason: sess.CloseReason()})
		if _, err := s.rooms.Leave(sess.ID); err != nil {
			s.log.Warnf("session %s leave on close: %v", sess.ID, err)
		}
	}
	return closing
}

// finishClose 在 flush 之后删除会话
func (s *Server) finishClose(closing []*session.Session) {
	for _, sess := range closing {
		if _, ok := s.sessions.Remove(sess.ID); !ok {
			continue
		}
		inc(&s.metrics.SessionsClosed)
		s.journal.Record(journal.Entry{
			Kind:    "session_disconnect",
			Session: sess.ID.Uint64(),
			Addr:    sess.Addr.String(),
			Account: sess.Account,
			Detail:  sess.CloseReason().String(),
		})
		if sess.Token != "" {
			s.revoke(sess.Token)
		}
	}
}

// Shutdown 通知所有会话后清空会话表；可重复调用
func (s *Server) Shutdown() {
	s.shutdown.Do(func() {
		s.sessions.Each(func(sess *session.Session) { sess.Close(protocol.ReasonServerShutdown) })
		closing := s.beginClose()
		s.rooms.Sweep()
		s.route()
		s.flush()
		s.finishClose(closing)
		s.publishStatus()

		s.cancel()
		s.inflight.Wait()
		s.hub.Close()
		s.log.Infof("server stopped after %d ticks", s.tick)
	})
}
