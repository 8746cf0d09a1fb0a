package server

import (
	"encoding/json"
	"net/http"
)

// Tunables 可在运行期调整的参数
type Tunables struct {
	MaxCommandsPerTick  int `json:"maxCommandsPerTick"`
	MaxDatagramsPerTick int `json:"maxDatagramsPerTick"`
	MaxWarnings         int `json:"maxWarnings"`
}

func (s *Server) publishTunables() {
	cfg := s.sessions.Config()
	s.tunables.Store(&Tunables{
		MaxCommandsPerTick:  cfg.MaxCommandsPerTick,
		MaxDatagramsPerTick: s.budget,
		MaxWarnings:         cfg.MaxWarnings,
	})
}

// applyAdmin 在 Tick 边界执行排队的配置更新
func (s *Server) applyAdmin() {
	for {
		select {
		case fn := <-s.adminCh:
			fn()
			s.publishTunables()
		default:
			return
		}
	}
}

// HandleAdminConfig 服务端参数的读取与更新（热更新基本规则）
// GET /admin/config  返回当前参数
// POST /admin/config 以 JSON 载荷更新部分字段，在下一个 Tick 生效
func (s *Server) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	type cfg struct {
		MaxCommandsPerTick  *int `json:"maxCommandsPerTick,omitempty"`
		MaxDatagramsPerTick *int `json:"maxDatagramsPerTick,omitempty"`
		MaxWarnings         *int `json:"maxWarnings,omitempty"`
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.tunables.Load())
		return
	case http.MethodPost:
		var body cfg
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if (body.MaxCommandsPerTick != nil && *body.MaxCommandsPerTick < 0) ||
			(body.MaxDatagramsPerTick != nil && *body.MaxDatagramsPerTick <= 0) ||
			(body.MaxWarnings != nil && *body.MaxWarnings <= 0) {
			http.Error(w, "values out of range", http.StatusBadRequest)
			return
		}
		apply := func() {
			if body.MaxCommandsPerTick != nil {
				s.sessions.SetMaxCommandsPerTick(*body.MaxCommandsPerTick)
			}
			if body.MaxDatagramsPerTick != nil {
				s.budget = *body.MaxDatagramsPerTick
			}
			if body.MaxWarnings != nil {
				s.sessions.SetMaxWarnings(*body.MaxWarnings)
			}
			t := s.sessions.Config()
			s.log.Infof("config updated: maxCommandsPerTick=%d maxDatagramsPerTick=%d maxWarnings=%d",
				t.MaxCommandsPerTick, s.budget, t.MaxWarnings)
		}
		select {
		case s.adminCh <- apply:
			writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
		default:
			http.Error(w, "too many pending updates", http.StatusServiceUnavailable)
		}
		return
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
}

// HandleRooms 房间列表，可用 ?name= 过滤
// GET /admin/rooms
func (s *Server) HandleRooms(w http.ResponseWriter, r *http.Request) {
	st := s.CurrentStatus()
	name := r.URL.Query().Get("name")
	if name == "" {
		writeJSON(w, http.StatusOK, st)
		return
	}
	for _, rs := range st.Rooms {
		if rs.Name == name {
			writeJSON(w, http.StatusOK, rs)
			return
		}
	}
	http.Error(w, "room not found", http.StatusNotFound)
}

// HandleMetrics 输出服务端运行指标
// GET /metrics
func (s *Server) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	st := s.CurrentStatus()
	payload := map[string]any{
		"tick":             st.Tick,
		"sessions":         st.Sessions,
		"rooms":            len(st.Rooms),
		"waiting":          st.Waiting,
		"observers":        s.hub.Len(),
		"observer_dropped": s.hub.Dropped(),
		"journal_dropped":  s.journal.Dropped(),
		"transport":        s.conduit.Stats(),
		"metrics":          s.metrics.Snapshot(),
	}
	writeJSON(w, http.StatusOK, payload)
}

func HandleHealthz(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
