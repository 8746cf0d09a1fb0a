package room

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"netarena/ecs"
	"netarena/handle"
	"netarena/input"
	"netarena/protocol"
	"netarena/session"
)

var (
	ErrNotFound        = errors.New("room not found")
	ErrFull            = errors.New("room full")
	ErrWrongState      = errors.New("room in wrong state")
	ErrNotAuthorized   = errors.New("not authorized")
	ErrAlreadyRunning  = errors.New("game already running")
	ErrSceneLoadFailed = errors.New("scene load failed")
	ErrNameTaken       = errors.New("room name taken")
	ErrCapacity        = errors.New("room capacity reached")
)

// Directory 按 id 解析会话（由会话管理器实现）
type Directory interface {
	LookupID(id session.ID) (*session.Session, bool)
}

// Resolver 按名字取游戏定义
type Resolver func(name string) (Game, error)

type Config struct {
	MaxRooms        int
	DefaultCapacity int
	DefaultGame     string
}

// EventKind 房间生命周期事件，供审计日志使用
type EventKind string

const (
	EventCreated EventKind = "room_created"
	EventJoined  EventKind = "room_joined"
	EventLeft    EventKind = "room_left"
	EventStarted EventKind = "room_started"
	EventEnded   EventKind = "room_ended"
	EventRemoved EventKind = "room_removed"
)

type Event struct {
	Kind     EventKind
	Room     string
	Instance uuid.UUID
	Game     string
	Session  session.ID
}

// Manager 房间表与等待队列
// 除 Step 内部的并行推进外，只在 Tick 线程中使用
type Manager struct {
	cfg     Config
	pool    handle.Pool[*Room]
	byName  map[string]Ref
	waiting []session.ID

	dir   Directory
	games Resolver
	log   *zap.SugaredLogger

	autoName uint64
	order    uint64

	out    []Outbound
	events []Event
}

func NewManager(cfg Config, dir Directory, games Resolver, log *zap.SugaredLogger) *Manager {
	if cfg.DefaultCapacity <= 0 {
		cfg.DefaultCapacity = 4
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{
		cfg:    cfg,
		byName: make(map[string]Ref),
		dir:    dir,
		games:  games,
		log:    log,
	}
}

func (m *Manager) emit(kind EventKind, r *Room, sid session.ID) {
	m.events = append(m.events, Event{Kind: kind, Room: r.Name, Instance: r.InstanceID, Game: r.Game.Name(), Session: sid})
}

// TakeEvents 取出并清空生命周期事件
func (m *Manager) TakeEvents() []Event {
	ev := m.events
	m.events = nil
	return ev
}

// TakeOutbound 取出并清空待发送消息
func (m *Manager) TakeOutbound() []Outbound {
	out := m.out
	m.out = nil
	return out
}

func (m *Manager) collect(r *Room) {
	m.out = append(m.out, r.takeOut()...)
}

func (m *Manager) Get(name string) (*Room, bool) {
	ref, ok := m.byName[name]
	if !ok {
		return nil, false
	}
	return m.pool.Get(ref)
}

// RoomOf 会话当前所在房间（弱引用失效时返回 false）
func (m *Manager) RoomOf(sid session.ID) (*Room, bool) {
	s, ok := m.dir.LookupID(sid)
	if !ok {
		return nil, false
	}
	return m.pool.Get(s.Room)
}

func (m *Manager) Len() int { return m.pool.Len() }

// Rooms 按名字排序
func (m *Manager) Rooms() []*Room {
	rooms := make([]*Room, 0, m.pool.Len())
	m.pool.Each(func(_ handle.Handle, r *Room) { rooms = append(rooms, r) })
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
	return rooms
}

// CreateRoom 新建 WAITING 房间；名字为空时自动命名，容量被限制在游戏上限内
func (m *Manager) CreateRoom(name, game string, capacity int, now time.Time) (*Room, error) {
	if game == "" {
		game = m.cfg.DefaultGame
	}
	g, err := m.games(game)
	if err != nil {
		return nil, fmt.Errorf("%w: game %q: %v", ErrNotFound, game, err)
	}
	if name == "" {
		for {
			m.autoName++
			name = fmt.Sprintf("room-%d", m.autoName)
			if _, taken := m.byName[name]; !taken {
				break
			}
		}
	}
	if _, taken := m.byName[name]; taken {
		return nil, fmt.Errorf("%w: %q", ErrNameTaken, name)
	}
	if m.cfg.MaxRooms > 0 && m.pool.Len() >= m.cfg.MaxRooms {
		return nil, fmt.Errorf("%w (%d)", ErrCapacity, m.cfg.MaxRooms)
	}
	if capacity <= 0 {
		capacity = m.cfg.DefaultCapacity
	}
	if limit := g.MaxPlayers(); limit > 0 && capacity > limit {
		capacity = limit
	}
	m.order++
	r := newRoom(name, g, capacity, m.order, now)
	r.Ref = m.pool.Insert(r)
	m.byName[name] = r.Ref
	m.emit(EventCreated, r, handle.Nil)
	m.log.Infof("room %s created (game=%s capacity=%d instance=%s)", name, g.Name(), capacity, r.InstanceID)
	return r, nil
}

// Join 加入 WAITING 房间；已是成员时直接返回
func (m *Manager) Join(sid session.ID, name string) (*Room, error) {
	s, ok := m.dir.LookupID(sid)
	if !ok {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, sid)
	}
	r, ok := m.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if s.Room == r.Ref {
		return r, nil
	}
	if cur, ok := m.pool.Get(s.Room); ok {
		if cur.State != Ended {
			return nil, fmt.Errorf("%w: session %s already in room %q", ErrWrongState, sid, cur.Name)
		}
		m.detach(cur, s)
	}
	if r.State != Waiting {
		return nil, fmt.Errorf("%w: room %q is %s", ErrWrongState, name, r.State)
	}
	if len(r.players) >= r.Capacity {
		return nil, fmt.Errorf("%w: %q (%d/%d)", ErrFull, name, len(r.players), r.Capacity)
	}
	r.players = append(r.players, sid)
	if r.host.IsNil() {
		r.host = sid
	}
	s.Room = r.Ref
	m.Dequeue(sid)
	m.emit(EventJoined, r, sid)
	m.log.Infof("session %s joined room %s (%d/%d)", sid, r.Name, len(r.players), r.Capacity)
	return r, nil
}

// Leave 离开当前房间（幂等）；销毁其实体，房间空了就拆除
func (m *Manager) Leave(sid session.ID) (*Room, error) {
	m.Dequeue(sid)
	s, ok := m.dir.LookupID(sid)
	if !ok {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, sid)
	}
	r, ok := m.pool.Get(s.Room)
	if !ok {
		s.Room = handle.Nil
		s.Entity = ecs.EntityID{}
		return nil, nil
	}
	m.detach(r, s)
	m.emit(EventLeft, r, sid)
	m.log.Infof("session %s left room %s (%d left)", sid, r.Name, len(r.players))

	if len(r.players) == 0 {
		if r.State == Running {
			r.State = Ended
			m.emit(EventEnded, r, handle.Nil)
		}
		m.remove(r)
	}
	return r, nil
}

// detach 把会话从房间成员中移除，主机离开时由最早加入的成员接任
func (m *Manager) detach(r *Room, s *session.Session) {
	if i := r.indexOf(s.ID); i >= 0 {
		r.players = append(r.players[:i], r.players[i+1:]...)
	}
	r.destroyOwned(s.ID)
	delete(r.replication, s.ID)
	if r.host == s.ID {
		r.host = handle.Nil
		if len(r.players) > 0 {
			r.host = r.players[0]
			m.log.Infof("room %s host migrated to %s", r.Name, r.host)
		}
	}
	s.Room = handle.Nil
	s.Entity = ecs.EntityID{}
}

func (m *Manager) remove(r *Room) {
	for _, sid := range r.players {
		if s, ok := m.dir.LookupID(sid); ok && s.Room == r.Ref {
			s.Room = handle.Nil
			s.Entity = ecs.EntityID{}
		}
	}
	m.collect(r)
	m.pool.Remove(r.Ref)
	delete(m.byName, r.Name)
	m.emit(EventRemoved, r, handle.Nil)
	m.log.Infof("room %s removed", r.Name)
}

// StartGame 仅主机可以开始；加载失败时重置注册表并返回 ErrSceneLoadFailed
func (m *Manager) StartGame(sid session.ID, name string, now time.Time) (*Room, error) {
	r, ok := m.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if !r.IsMember(sid) || r.host != sid {
		return r, fmt.Errorf("%w: session %s is not host of %q", ErrNotAuthorized, sid, name)
	}
	switch {
	case r.State == Running:
		return r, fmt.Errorf("%w: %q", ErrAlreadyRunning, name)
	case r.State == Ended:
		return r, fmt.Errorf("%w: %q has ended", ErrWrongState, name)
	case len(r.players) < max(1, r.Game.MinPlayers()):
		return r, fmt.Errorf("%w: %q needs %d players, has %d", ErrWrongState, name, r.Game.MinPlayers(), len(r.players))
	}
	if err := r.load(m.dir); err != nil {
		for _, p := range r.players {
			if s, ok := m.dir.LookupID(p); ok {
				s.Entity = ecs.EntityID{}
			}
		}
		m.log.Errorf("room %s scene load failed: %v", name, err)
		return r, fmt.Errorf("%w: %v", ErrSceneLoadFailed, err)
	}
	r.State = Running
	r.StartedAt = now
	r.broadcast(protocol.RepStartGame, r.Reply(protocol.StatusOK))
	m.collect(r)
	m.emit(EventStarted, r, sid)
	m.log.Infof("room %s started with %d players, %d entities", name, len(r.players), r.registry.Len())
	return r, nil
}

// EndGame 主机结束对局；房间在 Tick 边界的 Sweep 中移除
func (m *Manager) EndGame(sid session.ID, name string) (*Room, error) {
	r, ok := m.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if !r.IsMember(sid) || r.host != sid {
		return r, fmt.Errorf("%w: session %s is not host of %q", ErrNotAuthorized, sid, name)
	}
	if r.State != Running {
		return r, fmt.Errorf("%w: %q is %s", ErrWrongState, name, r.State)
	}
	m.end(r, protocol.StatusOK)
	return r, nil
}

func (m *Manager) end(r *Room, status protocol.Status) {
	r.State = Ended
	r.broadcast(protocol.RepEndGame, r.Reply(status))
	m.collect(r)
	m.emit(EventEnded, r, handle.Nil)
	m.log.Infof("room %s ended (%s)", r.Name, status)
}

// Sweep 移除已结束的房间
func (m *Manager) Sweep() int {
	var ended []*Room
	m.pool.Each(func(_ handle.Handle, r *Room) {
		if r.State == Ended {
			ended = append(ended, r)
		}
	})
	for _, r := range ended {
		m.remove(r)
	}
	return len(ended)
}

// Enqueue 放入等待队列，返回从 0 开始的位置；已在队列中时返回原位置
func (m *Manager) Enqueue(sid session.ID) int {
	if i := m.IndexInWaitingQueue(sid); i >= 0 {
		return i
	}
	m.waiting = append(m.waiting, sid)
	return len(m.waiting) - 1
}

// IndexInWaitingQueue 不在队列中返回 -1
func (m *Manager) IndexInWaitingQueue(sid session.ID) int {
	for i, w := range m.waiting {
		if w == sid {
			return i
		}
	}
	return -1
}

func (m *Manager) Dequeue(sid session.ID) {
	if i := m.IndexInWaitingQueue(sid); i >= 0 {
		m.waiting = append(m.waiting[:i], m.waiting[i+1:]...)
	}
}

func (m *Manager) Waiting() int { return len(m.waiting) }

// Matchmake 按到达顺序把排队会话放进最早创建且有空位的 WAITING 房间
func (m *Manager) Matchmake() int {
	if len(m.waiting) == 0 {
		return 0
	}
	var open []*Room
	m.pool.Each(func(_ handle.Handle, r *Room) {
		if r.State == Waiting && len(r.players) < r.Capacity {
			open = append(open, r)
		}
	})
	sort.Slice(open, func(i, j int) bool { return open[i].order < open[j].order })

	placed := 0
	queue := append([]session.ID(nil), m.waiting...)
	for _, sid := range queue {
		s, ok := m.dir.LookupID(sid)
		if !ok {
			m.Dequeue(sid)
			continue
		}
		if r, inRoom := m.pool.Get(s.Room); inRoom && r.State != Ended {
			m.Dequeue(sid)
			continue
		}
		for len(open) > 0 && len(open[0].players) >= open[0].Capacity {
			open = open[1:]
		}
		if len(open) == 0 {
			break
		}
		r, err := m.Join(sid, open[0].Name)
		if err != nil {
			m.log.Warnf("matchmake %s into %s: %v", sid, open[0].Name, err)
			continue
		}
		m.out = append(m.out, Outbound{To: sid, ID: protocol.RepJoinRoom, Payload: r.Reply(protocol.StatusOK)})
		placed++
	}
	return placed
}

// Step 并行推进所有 RUNNING 房间，输出按房间名合并
// 房间推进中的 panic 只结束该房间
func (m *Manager) Step(dt float32) {
	var running []*Room
	m.pool.Each(func(_ handle.Handle, r *Room) {
		if r.State == Running {
			running = append(running, r)
		}
	})
	if len(running) == 0 {
		return
	}
	failed := make([]bool, len(running))
	var wg sync.WaitGroup
	for i, r := range running {
		wg.Add(1)
		go func(i int, r *Room) {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					failed[i] = true
					m.log.Errorf("room %s step panic: %v", r.Name, p)
				}
			}()
			r.step(dt)
		}(i, r)
	}
	wg.Wait()

	idx := make([]int, len(running))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return running[idx[a]].Name < running[idx[b]].Name })
	for _, i := range idx {
		m.collect(running[i])
		if failed[i] {
			m.end(running[i], protocol.StatusInternal)
		}
	}
}

// runningRoomOf 请求实体操作的会话必须在 RUNNING 房间中
func (m *Manager) runningRoomOf(sid session.ID) (*Room, *session.Session, error) {
	s, ok := m.dir.LookupID(sid)
	if !ok {
		return nil, nil, fmt.Errorf("%w: session %s", ErrNotFound, sid)
	}
	r, ok := m.pool.Get(s.Room)
	if !ok {
		return nil, s, fmt.Errorf("%w: session %s is not in a room", ErrNotFound, sid)
	}
	if r.State != Running {
		return r, s, fmt.Errorf("%w: room %q is %s", ErrWrongState, r.Name, r.State)
	}
	return r, s, nil
}

// ApplyInput 把输入写入会话玩家实体
func (m *Manager) ApplyInput(sid session.ID, events []input.Event, axes map[input.EventID]float32) error {
	r, s, err := m.runningRoomOf(sid)
	if err != nil {
		return err
	}
	return r.applyInput(s, events, axes)
}

// SpawnFor 为请求者生成一个归其所有的实体并返回完整状态
func (m *Manager) SpawnFor(sid session.ID, template string) (*protocol.EntityState, error) {
	r, _, err := m.runningRoomOf(sid)
	if err != nil {
		return nil, err
	}
	id, err := r.spawnOwned(sid, template, false)
	if err != nil {
		return nil, err
	}
	st := r.fullState(id)
	r.markSent(sid, id)
	return st, nil
}

// Resync 返回某实体的完整状态（只发给请求者）
func (m *Manager) Resync(sid session.ID, id ecs.EntityID) (*protocol.EntityState, error) {
	r, _, err := m.runningRoomOf(sid)
	if err != nil {
		return nil, err
	}
	if !r.registry.Alive(id) {
		return nil, fmt.Errorf("%w: %s", ecs.ErrInvalidEntity, id)
	}
	st := r.fullState(id)
	r.markSent(sid, id)
	return st, nil
}

// DestroyOwned 请求者只能销毁自己拥有的实体；请求者本人不会再收到同步的 DESTROY
func (m *Manager) DestroyOwned(sid session.ID, id ecs.EntityID) error {
	r, s, err := m.runningRoomOf(sid)
	if err != nil {
		return err
	}
	if !r.registry.Alive(id) {
		return fmt.Errorf("%w: %s", ecs.ErrInvalidEntity, id)
	}
	if !r.owns(sid, id) {
		return fmt.Errorf("%w: %s is not owned by %s", ErrNotAuthorized, id, sid)
	}
	if err := r.registry.Destroy(id); err != nil {
		return err
	}
	if s.Entity == id {
		s.Entity = ecs.EntityID{}
	}
	if rep := r.replication[sid]; rep != nil {
		delete(rep, id)
	}
	return nil
}

// Shoot 让请求者自己的实体开火，结果在下一帧由控制系统广播
func (m *Manager) Shoot(sid session.ID, id ecs.EntityID) error {
	r, _, err := m.runningRoomOf(sid)
	if err != nil {
		return err
	}
	if !r.registry.Alive(id) {
		return fmt.Errorf("%w: %s", ecs.ErrInvalidEntity, id)
	}
	if !r.owns(sid, id) {
		return fmt.Errorf("%w: %s is not owned by %s", ErrNotAuthorized, id, sid)
	}
	in, ok := ecs.Get[ecs.Input](r.registry, id)
	if !ok {
		return fmt.Errorf("%w: %s cannot shoot", ecs.ErrInvalidEntity, id)
	}
	in.Fire = true
	return r.registry.Set(id, in)
}

// Snapshot 所有房间摘要，按名字排序
func (m *Manager) Snapshot(detail bool) []Snapshot {
	rooms := m.Rooms()
	out := make([]Snapshot, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Snapshot(detail))
	}
	return out
}
