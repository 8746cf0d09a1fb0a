package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sasha-s/go-deadlock"
	"go.uber.org/zap"

	"netarena/room"
)

// observerConn 负责发送（写）房间快照到观察者的轻量包装
type observerConn struct {
	ws   *websocket.Conn
	room string // 空表示全部房间
	send chan []byte
	once sync.Once
}

func newObserverConn(ws *websocket.Conn, roomName string) *observerConn {
	return &observerConn{ws: ws, room: roomName, send: make(chan []byte, 64)}
}

// Enqueue 将要发送的消息压入队列（非阻塞，满则丢弃）
func (c *observerConn) Enqueue(b []byte) bool {
	select {
	case c.send <- b:
		return true
	default:
		// 为了实时性，丢弃消息（防止阻塞 Tick）
		return false
	}
}

// close 关闭发送队列以结束写协程
func (c *observerConn) close() {
	c.once.Do(func() { close(c.send) })
}

// writePump 独立协程，负责从 send 队列写出到 WS
func (c *observerConn) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"), time.Now().Add(time.Second))
}

// readPump 观察者只读；读到错误（对端关闭）时注销
func (c *observerConn) readPump(h *Hub) {
	defer h.unregister(c)
	c.ws.SetReadLimit(4 << 10)
	_ = c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.ws.SetPongHandler(func(string) error { return c.ws.SetReadDeadline(time.Now().Add(60 * time.Second)) })
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	}
}

// Hub 观察者集合；Tick 线程发布，HTTP 线程注册/注销
type Hub struct {
	mu      deadlock.RWMutex
	conns   map[*observerConn]struct{}
	closed  bool
	dropped atomic.Uint64
	log     *zap.SugaredLogger
}

func NewHub(log *zap.SugaredLogger) *Hub {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Hub{conns: make(map[*observerConn]struct{}), log: log}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

func (h *Hub) register(c *observerConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *observerConn) {
	h.mu.Lock()
	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		c.close()
	}
	h.mu.Unlock()
}

// observerMessage 推送给观察者的消息
type observerMessage struct {
	Type  string          `json:"type"`
	Tick  uint64          `json:"tick"`
	Rooms []room.Snapshot `json:"rooms"`
}

// Publish 按观察者订阅的房间过滤后推送；同一过滤条件只序列化一次
func (h *Hub) Publish(tick uint64, rooms []room.Snapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	encoded := make(map[string][]byte)
	for c := range h.conns {
		b, ok := encoded[c.room]
		if !ok {
			msg := observerMessage{Type: "rooms", Tick: tick, Rooms: filterRooms(rooms, c.room)}
			var err error
			if b, err = json.Marshal(msg); err != nil {
				h.log.Errorf("observer marshal: %v", err)
				return
			}
			encoded[c.room] = b
		}
		if !c.Enqueue(b) {
			h.dropped.Add(1)
		}
	}
}

func filterRooms(rooms []room.Snapshot, name string) []room.Snapshot {
	if name == "" {
		return rooms
	}
	out := []room.Snapshot{}
	for _, r := range rooms {
		if r.Name == name {
			out = append(out, r)
		}
	}
	return out
}

// Close 关闭全部观察者连接，之后不再接受新连接
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.conns {
		delete(h.conns, c)
		c.close()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 观察接口只读：允许所有来源
		return true
	},
}

// HandleObserve WebSocket 接入：/ws/observe?room=arena（不带 room 时推送全部房间）
func (h *Hub) HandleObserve(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("observer upgrade error: %v", err)
		return
	}
	c := newObserverConn(ws, r.URL.Query().Get("room"))
	if !h.register(c) {
		_ = ws.Close()
		return
	}
	h.log.Infof("observer %s attached (room=%q)", r.RemoteAddr, c.room)

	go c.writePump()
	go c.readPump(h)
}
