package server

import (
	"errors"
	"net/netip"
	"time"

	"netarena/journal"
	"netarena/protocol"
	"netarena/session"
	"netarena/transport"
)

// ingest 非阻塞读取至多 budget 个数据报
func (s *Server) ingest(now time.Time) {
	for i := 0; i < s.budget; i++ {
		d, err := s.conduit.Receive()
		if errors.Is(err, transport.ErrWouldBlock) || errors.Is(err, transport.ErrClosed) {
			return
		}
		s.receive(d, err, now)
	}
}

// receive 解码 → 路由到会话 → 去重 → 限流；去重在警告计数之前
func (s *Server) receive(d transport.Datagram, err error, now time.Time) {
	sess, known := s.sessions.Lookup(d.Addr)
	if err != nil {
		if errors.Is(err, transport.ErrDatagramTooLarge) {
			inc(&s.metrics.Oversized)
			if known {
				s.warn(sess, session.FaultOversized)
			}
			return
		}
		s.log.Warnf("receive from %s: %v", d.Addr, err)
		return
	}
	inc(&s.metrics.DatagramsIn)

	cmd, derr := protocol.Decode(d.Data)
	if derr != nil {
		inc(&s.metrics.DecodeErrors)
		if !known {
			s.log.Debugf("drop undecodable datagram from %s: %v", d.Addr, derr)
			return
		}
		switch {
		case errors.Is(derr, protocol.ErrUnknownCommandID):
			s.warn(sess, session.FaultUnknownCommand)
		case errors.Is(derr, protocol.ErrVersionMismatch):
			s.warn(sess, session.FaultVersionMismatch)
		default:
			s.malformed(sess)
		}
		return
	}

	if !known {
		s.connect(d.Addr, cmd, now)
		return
	}
	if sess.Closing() {
		return
	}
	// 能解码的包序号可信：先去重，重复包不计警告
	if v := sess.Observe(cmd.Sequence); !v.Accepted() {
		inc(&s.metrics.Duplicates)
		s.log.Debugf("session %s drop %s seq=%d (%s)", sess.ID, cmd.ID, cmd.Sequence, v)
		return
	}
	if cmd.Version != sess.Version {
		s.warn(sess, session.FaultVersionMismatch)
		return
	}
	s.sessions.ClearMalformed(sess)
	s.sessions.Touch(sess, now)
	if !cmd.ID.IsRequest() {
		s.warn(sess, session.FaultUnknownCommand)
		return
	}
	if err := s.sessions.Enqueue(sess, cmd); err != nil {
		inc(&s.metrics.RateLimited)
		s.warn(sess, session.FaultRateLimit)
	}
}

// connect 未知地址只接受 REQ_CONNECT
func (s *Server) connect(addr netip.AddrPort, cmd protocol.Command, now time.Time) {
	if cmd.ID != protocol.ReqConnect {
		inc(&s.metrics.Unrouted)
		s.log.Debugf("drop %s from unknown peer %s", cmd.ID, addr)
		return
	}
	name := cmd.Payload.(*protocol.Connect).Name
	sess, _, err := s.sessions.GetOrCreate(addr, cmd.Version, name, now)
	if err != nil {
		s.log.Warnf("reject connect from %s: %v", addr, err)
		b := protocol.Encode(protocol.Command{
			ID:       protocol.RepConnect,
			Version:  cmd.Version,
			Priority: protocol.PriorityCritical,
			Payload:  &protocol.ConnectReply{Status: statusOf(err)},
		})
		if err := s.conduit.Send(addr, b); err != nil {
			inc(&s.metrics.SendErrors)
		}
		return
	}
	inc(&s.metrics.SessionsOpened)
	sess.Observe(cmd.Sequence)
	s.journal.Record(journal.Entry{
		Kind:    "session_connect",
		Session: sess.ID.Uint64(),
		Addr:    addr.String(),
		Detail:  cmd.Version.String(),
	})
	sess.Send(protocol.RepConnect, &protocol.ConnectReply{Status: protocol.StatusOK, Session: sess.ID.Uint64()})
}

func (s *Server) warn(sess *session.Session, f session.Fault) {
	if sess.Closing() {
		return
	}
	inc(&s.metrics.Warnings)
	if err := s.sessions.RecordWarning(sess, f); err != nil {
		s.kicked(sess, err)
	}
}

func (s *Server) malformed(sess *session.Session) {
	if sess.Closing() {
		return
	}
	before := sess.Warnings
	err := s.sessions.RecordMalformed(sess)
	if sess.Warnings > before {
		inc(&s.metrics.Warnings)
	}
	if err != nil {
		s.kicked(sess, err)
	}
}

func (s *Server) kicked(sess *session.Session, err error) {
	inc(&s.metrics.WarningKicks)
	s.log.Warnf("disconnecting %s: %v", sess.Addr, err)
	s.journal.Record(journal.Entry{
		Kind:    "warning_limit",
		Session: sess.ID.Uint64(),
		Addr:    sess.Addr.String(),
		Account: sess.Account,
		Detail:  err.Error(),
	})
}
