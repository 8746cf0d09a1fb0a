package server

import (
	"context"
	"time"

	"netarena/protocol"
	"netarena/session"
)

const accountTimeout = 5 * time.Second

// async 在 Tick 线程外执行账号库调用，结果回调排入完成队列，下一帧在 Tick 线程中执行
// 回调执行时会话可能已经不存在，按 id 重新查找
func (s *Server) async(sid session.ID, call func(ctx context.Context) func(*session.Session)) {
	inc(&s.metrics.AccountRequests)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(s.ctx, accountTimeout)
		defer cancel()
		done := call(ctx)
		select {
		case s.completions <- func() {
			if sess, ok := s.sessions.LookupID(sid); ok && !sess.Closing() {
				done(sess)
			}
		}:
		case <-s.ctx.Done():
		}
	}()
}

// drainCompletions 非阻塞执行已完成的账号回调
func (s *Server) drainCompletions() {
	for {
		select {
		case fn := <-s.completions:
			fn()
		default:
			return
		}
	}
}

func (s *Server) register(sess *session.Session, c *protocol.Credentials) {
	if s.accounts == nil {
		sess.Send(protocol.RepRegister, &protocol.StatusReply{Status: protocol.StatusInternal})
		return
	}
	user, pass := c.Username, c.Password
	s.async(sess.ID, func(ctx context.Context) func(*session.Session) {
		err := s.accounts.Register(ctx, user, pass)
		return func(sess *session.Session) {
			if err != nil {
				s.log.Infof("session %s register %q: %v", sess.ID, user, err)
			}
			sess.Send(protocol.RepRegister, &protocol.StatusReply{Status: statusOf(err)})
		}
	})
}

func (s *Server) login(sess *session.Session, c *protocol.Credentials) {
	if s.accounts == nil {
		sess.Send(protocol.RepLogin, &protocol.LoginReply{Status: protocol.StatusInternal})
		return
	}
	user, pass := c.Username, c.Password
	sess.LoginGen++
	gen := sess.LoginGen
	s.async(sess.ID, func(ctx context.Context) func(*session.Session) {
		token, err := s.accounts.Login(ctx, user, pass)
		return func(sess *session.Session) {
			if sess.LoginGen != gen {
				// 期间已登出或重新登录
				if err == nil {
					s.revoke(token)
				}
				s.log.Infof("session %s drop stale login %q", sess.ID, user)
				sess.Send(protocol.RepLogin, &protocol.LoginReply{Status: protocol.StatusWrongState})
				return
			}
			if err != nil {
				s.log.Infof("session %s login %q: %v", sess.ID, user, err)
				sess.Send(protocol.RepLogin, &protocol.LoginReply{Status: statusOf(err)})
				return
			}
			if sess.Token != "" && sess.Token != token {
				s.revoke(sess.Token)
			}
			sess.Account, sess.Token = user, token
			s.log.Infof("session %s logged in as %q", sess.ID, user)
			sess.Send(protocol.RepLogin, &protocol.LoginReply{Status: protocol.StatusOK, Token: token})
		}
	})
}

// logout 立即清除会话上的账号，令牌在后台作废
func (s *Server) logout(sess *session.Session) {
	sess.LoginGen++
	if sess.Token != "" {
		s.revoke(sess.Token)
	}
	sess.Account, sess.Token = "", ""
	sess.Send(protocol.RepLogout, &protocol.StatusReply{Status: protocol.StatusOK})
}

// revoke 作废令牌；不依赖服务端 ctx，关闭时也能完成
func (s *Server) revoke(token string) {
	if s.accounts == nil {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), accountTimeout)
		defer cancel()
		if err := s.accounts.Logout(ctx, token); err != nil {
			s.log.Warnf("revoke token: %v", err)
		}
	}()
}
