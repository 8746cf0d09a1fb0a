package server

import (
	"time"

	"netarena/room"
)

// Status 每个 Tick 发布一次的只读快照，HTTP 线程通过原子指针读取
type Status struct {
	Tick     uint64          `json:"tick"`
	Time     time.Time       `json:"time"`
	Sessions int             `json:"sessions"`
	Waiting  int             `json:"waiting"`
	Rooms    []room.Snapshot `json:"rooms"`
}

func (s *Server) publishStatus() {
	s.status.Store(&Status{
		Tick:     s.tick,
		Time:     s.lastTick,
		Sessions: s.sessions.Len(),
		Waiting:  s.rooms.Waiting(),
		Rooms:    s.rooms.Snapshot(false),
	})
}

// CurrentStatus 最近一次发布的快照
func (s *Server) CurrentStatus() *Status { return s.status.Load() }
