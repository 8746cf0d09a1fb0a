package server

import (
	"context"
	"time"
)

// Run 单线程 Tick 循环，ctx 取消后通知所有会话并返回
func (s *Server) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval())
	defer ticker.Stop()
	s.log.Infof("tick loop started at %d Hz", s.cfg.TickRateHz)
	for {
		select {
		case <-ctx.Done():
			s.Shutdown()
			return nil
		case <-ticker.C:
			// 核心循环：收包 → 处理命令 → 推进房间 → 同步发送
			s.Tick(s.now())
		}
	}
}
