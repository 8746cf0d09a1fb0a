package server

import (
	"sync/atomic"
)

// Metrics 服务端运行期的关键指标（HTTP 线程只读）
type Metrics struct {
	TickCount       int64 // 统计的 Tick 次数
	TotalTickNs     int64 // Tick 累计耗时（纳秒）
	DatagramsIn     int64 // 进入解码的数据报
	DatagramsOut    int64 // 交给传输层的数据报
	DecodeErrors    int64 // 解码失败
	Unrouted        int64 // 未知地址发来的非 CONNECT 包
	Duplicates      int64 // 包历史判定为重复或过旧
	RateLimited     int64 // 超出每 Tick 命令上限
	Oversized       int64 // 超长数据报
	Warnings        int64 // 计入的警告总数
	Commands        int64 // 已处理的命令
	HandlerPanics   int64 // 命令处理中恢复的 panic
	SessionsOpened  int64
	SessionsClosed  int64
	Timeouts        int64
	WarningKicks    int64
	SendErrors      int64
	AccountRequests int64
}

func inc(p *int64) { atomic.AddInt64(p, 1) }

func (m *Metrics) AddTick(ns int64) {
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"tick_count":       tick,
		"avg_tick_ms":      avgMs,
		"datagrams_in":     atomic.LoadInt64(&m.DatagramsIn),
		"datagrams_out":    atomic.LoadInt64(&m.DatagramsOut),
		"decode_errors":    atomic.LoadInt64(&m.DecodeErrors),
		"unrouted":         atomic.LoadInt64(&m.Unrouted),
		"duplicates":       atomic.LoadInt64(&m.Duplicates),
		"rate_limited":     atomic.LoadInt64(&m.RateLimited),
		"oversized":        atomic.LoadInt64(&m.Oversized),
		"warnings":         atomic.LoadInt64(&m.Warnings),
		"commands":         atomic.LoadInt64(&m.Commands),
		"handler_panics":   atomic.LoadInt64(&m.HandlerPanics),
		"sessions_opened":  atomic.LoadInt64(&m.SessionsOpened),
		"sessions_closed":  atomic.LoadInt64(&m.SessionsClosed),
		"timeouts":         atomic.LoadInt64(&m.Timeouts),
		"warning_kicks":    atomic.LoadInt64(&m.WarningKicks),
		"send_errors":      atomic.LoadInt64(&m.SendErrors),
		"account_requests": atomic.LoadInt64(&m.AccountRequests),
	}
}
