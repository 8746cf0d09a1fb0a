package server

import (
	"errors"
	"time"

	"netarena/account"
	"netarena/ecs"
	"netarena/input"
	"netarena/protocol"
	"netarena/room"
	"netarena/session"
)

var errLoginRequired = errors.New("login required")

// statusOf 把错误映射为线上结果码
func statusOf(err error) protocol.Status {
	switch {
	case err == nil:
		return protocol.StatusOK
	case errors.Is(err, errLoginRequired):
		return protocol.StatusLoginRequired
	case errors.Is(err, room.ErrNotFound):
		return protocol.StatusNotFound
	case errors.Is(err, room.ErrFull):
		return protocol.StatusFull
	case errors.Is(err, room.ErrWrongState):
		return protocol.StatusWrongState
	case errors.Is(err, room.ErrNotAuthorized):
		return protocol.StatusNotAuthorized
	case errors.Is(err, room.ErrAlreadyRunning):
		return protocol.StatusAlreadyRunning
	case errors.Is(err, room.ErrSceneLoadFailed):
		return protocol.StatusSceneLoadFailed
	case errors.Is(err, room.ErrNameTaken):
		return protocol.StatusNameTaken
	case errors.Is(err, room.ErrCapacity), errors.Is(err, session.ErrCapacity):
		return protocol.StatusCapacity
	case errors.Is(err, ecs.ErrTemplateNotFound):
		return protocol.StatusTemplateNotFound
	case errors.Is(err, ecs.ErrInvalidEntity):
		return protocol.StatusInvalidEntity
	case errors.Is(err, account.ErrBadCredentials), errors.Is(err, account.ErrInvalid):
		return protocol.StatusBadCredentials
	case errors.Is(err, account.ErrExists):
		return protocol.StatusAccountExists
	}
	return protocol.StatusInternal
}

// process 按会话 id 顺序处理本 Tick 排队的命令
func (s *Server) process(now time.Time) {
	s.sessions.Each(func(sess *session.Session) {
		for _, cmd := range sess.TakeCommands() {
			if sess.Closing() {
				return
			}
			s.dispatch(sess, cmd, now)
		}
	})
}

// dispatch 单条命令的 panic 只影响这一条
func (s *Server) dispatch(sess *session.Session, cmd protocol.Command, now time.Time) {
	defer func() {
		if p := recover(); p != nil {
			inc(&s.metrics.HandlerPanics)
			s.log.Errorf("session %s %s handler panic: %v", sess.ID, cmd.ID, p)
		}
	}()
	inc(&s.metrics.Commands)
	s.handle(sess, cmd, now)
}

func (s *Server) handle(sess *session.Session, cmd protocol.Command, now time.Time) {
	switch cmd.ID {
	case protocol.ReqConnect:
		sess.Send(protocol.RepConnect, &protocol.ConnectReply{Status: protocol.StatusOK, Session: sess.ID.Uint64()})
	case protocol.ReqDisconnect:
		s.log.Infof("session %s (%s) requested disconnect", sess.ID, sess.Addr)
		sess.Close(protocol.ReasonRequested)
	case protocol.ReqPing:
		sess.Send(protocol.RepPong, &protocol.Ping{Timestamp: cmd.Payload.(*protocol.Ping).Timestamp})
	case protocol.ReqPong:
		// 活跃时间已在收包时刷新
	case protocol.ReqHeartbeat:
		sess.Send(protocol.RepHeartbeat, &protocol.Empty{})

	case protocol.ReqRegister:
		s.register(sess, cmd.Payload.(*protocol.Credentials))
	case protocol.ReqLogin:
		s.login(sess, cmd.Payload.(*protocol.Credentials))
	case protocol.ReqLogout:
		s.logout(sess)

	case protocol.ReqCreateRoom:
		s.createRoom(sess, cmd.Payload.(*protocol.CreateRoom), now)
	case protocol.ReqJoinRoom:
		s.joinRoom(sess, cmd.Payload.(*protocol.RoomRequest).Name)
	case protocol.ReqLeaveRoom:
		s.leaveRoom(sess)
	case protocol.ReqStartGame:
		name := s.roomName(sess, cmd.Payload.(*protocol.RoomRequest).Name)
		if _, err := s.rooms.StartGame(sess.ID, name, now); err != nil {
			s.roomError(sess, protocol.RepStartGame, name, err)
		}
	case protocol.ReqEndGame:
		name := s.roomName(sess, cmd.Payload.(*protocol.RoomRequest).Name)
		if _, err := s.rooms.EndGame(sess.ID, name); err != nil {
			s.roomError(sess, protocol.RepEndGame, name, err)
		}

	case protocol.ReqUserUpdate:
		ev := cmd.Payload.(*protocol.UserUpdate).Event
		s.userInput(sess, []input.Event{ev}, nil)
	case protocol.ReqUserUpdates:
		p := cmd.Payload.(*protocol.UserUpdates)
		s.userInput(sess, p.Events, p.Axes)

	case protocol.ReqEntitySpawn:
		st, err := s.rooms.SpawnFor(sess.ID, cmd.Payload.(*protocol.SpawnRequest).Template)
		if err != nil {
			st = &protocol.EntityState{Status: statusOf(err)}
			s.log.Debugf("session %s spawn: %v", sess.ID, err)
		}
		sess.Send(protocol.RepEntitySpawn, st)
	case protocol.ReqEntityUpdate, protocol.ReqEntityMoved:
		id := cmd.Payload.(*protocol.EntityRef).Entity
		st, err := s.rooms.Resync(sess.ID, id)
		if err != nil {
			st = &protocol.EntityState{Status: statusOf(err), Entity: id}
		}
		reply := protocol.RepEntityUpdate
		if cmd.ID == protocol.ReqEntityMoved {
			reply = protocol.RepEntityMoved
		}
		sess.Send(reply, st)
	case protocol.ReqEntityDestroy:
		id := cmd.Payload.(*protocol.EntityRef).Entity
		err := s.rooms.DestroyOwned(sess.ID, id)
		sess.Send(protocol.RepEntityDestroy, &protocol.EntityEvent{Status: statusOf(err), Entity: id})
	case protocol.ReqEntityShoot:
		id := cmd.Payload.(*protocol.EntityRef).Entity
		if err := s.rooms.Shoot(sess.ID, id); err != nil {
			sess.Send(protocol.RepEntityShoot, &protocol.EntityEvent{Status: statusOf(err), Entity: id})
		}

	default:
		s.log.Warnf("session %s: no handler for %s", sess.ID, cmd.ID)
	}
}

// roomName 名字为空时指会话当前所在的房间
func (s *Server) roomName(sess *session.Session, name string) string {
	if name != "" {
		return name
	}
	if r, ok := s.rooms.RoomOf(sess.ID); ok {
		return r.Name
	}
	return ""
}

func (s *Server) roomError(sess *session.Session, reply protocol.CommandID, name string, err error) {
	s.log.Debugf("session %s %s %q: %v", sess.ID, reply, name, err)
	sess.Send(reply, &protocol.RoomReply{Status: statusOf(err), Name: name, QueuePosition: -1})
}

func (s *Server) requireLogin(sess *session.Session) error {
	if s.cfg.RequireLogin && !sess.LoggedIn() {
		return errLoginRequired
	}
	return nil
}

// inLiveRoom 会话已在未结束的房间中
func (s *Server) inLiveRoom(sess *session.Session) (*room.Room, bool) {
	r, ok := s.rooms.RoomOf(sess.ID)
	return r, ok && r.State != room.Ended
}

// createRoom 创建者自动加入并成为主机
func (s *Server) createRoom(sess *session.Session, p *protocol.CreateRoom, now time.Time) {
	if err := s.requireLogin(sess); err != nil {
		s.roomError(sess, protocol.RepCreateRoom, p.Name, err)
		return
	}
	if cur, ok := s.inLiveRoom(sess); ok {
		s.roomError(sess, protocol.RepCreateRoom, p.Name, room.ErrWrongState)
		s.log.Debugf("session %s create %q while in %s", sess.ID, p.Name, cur.Name)
		return
	}
	r, err := s.rooms.CreateRoom(p.Name, p.Game, int(p.Capacity), now)
	if err != nil {
		s.roomError(sess, protocol.RepCreateRoom, p.Name, err)
		return
	}
	if _, err := s.rooms.Join(sess.ID, r.Name); err != nil {
		s.log.Errorf("session %s join own room %s: %v", sess.ID, r.Name, err)
		s.roomError(sess, protocol.RepCreateRoom, r.Name, err)
		return
	}
	sess.Send(protocol.RepCreateRoom, r.Reply(protocol.StatusOK))
}

// joinRoom 名字为空时进入等待队列，由撮合放入房间
func (s *Server) joinRoom(sess *session.Session, name string) {
	if err := s.requireLogin(sess); err != nil {
		s.roomError(sess, protocol.RepJoinRoom, name, err)
		return
	}
	if name == "" {
		if _, ok := s.inLiveRoom(sess); ok {
			s.roomError(sess, protocol.RepJoinRoom, name, room.ErrWrongState)
			return
		}
		pos := s.rooms.Enqueue(sess.ID)
		sess.Send(protocol.RepJoinRoom, &protocol.RoomReply{Status: protocol.StatusQueued, QueuePosition: int16(min(pos, 1<<15-1))})
		return
	}
	r, err := s.rooms.Join(sess.ID, name)
	if err != nil {
		s.roomError(sess, protocol.RepJoinRoom, name, err)
		return
	}
	sess.Send(protocol.RepJoinRoom, r.Reply(protocol.StatusOK))
}

func (s *Server) leaveRoom(sess *session.Session) {
	r, err := s.rooms.Leave(sess.ID)
	if err != nil {
		s.roomError(sess, protocol.RepLeaveRoom, "", err)
		return
	}
	reply := &protocol.RoomReply{Status: protocol.StatusOK, QueuePosition: -1}
	if r != nil {
		reply = r.Reply(protocol.StatusOK)
	}
	sess.Send(protocol.RepLeaveRoom, reply)
}

// userInput 成功时不回复，失败时按会话版本回复 REP_USER_UPDATE(S)
func (s *Server) userInput(sess *session.Session, events []input.Event, axes map[input.EventID]float32) {
	if err := s.rooms.ApplyInput(sess.ID, events, axes); err != nil {
		sess.Send(sess.Version.UserUpdateReply(), &protocol.StatusReply{Status: statusOf(err)})
	}
}
