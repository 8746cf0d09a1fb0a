package room

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"netarena/ecs"
	"netarena/handle"
	"netarena/input"
	"netarena/protocol"
	"netarena/session"
)

// State 房间生命周期：WAITING → RUNNING → ENDED
type State uint8

const (
	Waiting State = iota
	Running
	Ended
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "WAITING"
	case Running:
		return "RUNNING"
	case Ended:
		return "ENDED"
	}
	return "UNKNOWN"
}

// Ref 房间的弱引用
type Ref = handle.Handle

// Game 房间依赖的资源加载器（模板、场景、系统）
type Game interface {
	Name() string
	MinPlayers() int
	MaxPlayers() int
	StartScene() string
	PlayerTemplate() string
	LoadTemplate(name string) (ecs.Template, error)
	LoadScene(name string) (ecs.Scene, error)
	LoadSystems(sc ecs.Scene) ([]ecs.NamedSystem, error)
}

// Outbound 房间产生、等待服务端按会话版本编码发送的消息
type Outbound struct {
	To      session.ID
	ID      protocol.CommandID
	Payload protocol.Payload
}

// Room 一局游戏：成员、权威实体注册表与每个成员的同步进度
type Room struct {
	Ref        Ref
	Name       string
	InstanceID uuid.UUID
	Game       Game
	Capacity   int
	State      State
	CreatedAt  time.Time
	StartedAt  time.Time

	order   uint64 // 创建序号，撮合时优先填满更早的房间
	host    session.ID
	players []session.ID

	registry *ecs.Registry
	// replication 成员 → 实体 → 上次发送时的注册表时钟
	replication map[session.ID]map[ecs.EntityID]uint64

	tick uint64
	out  []Outbound
}

func newRoom(name string, g Game, capacity int, order uint64, now time.Time) *Room {
	return &Room{
		Name:        name,
		InstanceID:  uuid.New(),
		Game:        g,
		Capacity:    capacity,
		State:       Waiting,
		CreatedAt:   now,
		order:       order,
		registry:    ecs.NewRegistry(),
		replication: make(map[session.ID]map[ecs.EntityID]uint64),
	}
}

func (r *Room) Host() session.ID { return r.host }

// Players 按加入顺序
func (r *Room) Players() []session.ID { return append([]session.ID(nil), r.players...) }

func (r *Room) Members() int { return len(r.players) }

func (r *Room) Registry() *ecs.Registry { return r.registry }

func (r *Room) IsMember(sid session.ID) bool { return r.indexOf(sid) >= 0 }

func (r *Room) indexOf(sid session.ID) int {
	for i, p := range r.players {
		if p == sid {
			return i
		}
	}
	return -1
}

func (r *Room) send(to session.ID, id protocol.CommandID, p protocol.Payload) {
	r.out = append(r.out, Outbound{To: to, ID: id, Payload: p})
}

func (r *Room) broadcast(id protocol.CommandID, p protocol.Payload) {
	for _, sid := range r.players {
		r.send(sid, id, p)
	}
}

func (r *Room) takeOut() []Outbound {
	out := r.out
	r.out = nil
	return out
}

// Reply 房间操作回复的载荷
func (r *Room) Reply(status protocol.Status) *protocol.RoomReply {
	return &protocol.RoomReply{Status: status, Name: r.Name, Members: uint16(len(r.players)), QueuePosition: -1}
}

// load 加载起始场景与成员实体；失败时注册表被重置
func (r *Room) load(dir Directory) (err error) {
	defer func() {
		if err != nil {
			r.registry.Reset()
		}
	}()
	sc, err := r.Game.LoadScene(r.Game.StartScene())
	if err != nil {
		return err
	}
	systems, err := r.Game.LoadSystems(sc)
	if err != nil {
		return err
	}
	for _, s := range systems {
		r.registry.AddSystem(s)
	}
	for _, name := range sc.Entities {
		if _, err := r.registry.SpawnTemplate(r.Game, name); err != nil {
			return err
		}
	}
	for _, sid := range r.players {
		id, err := r.spawnOwned(sid, r.Game.PlayerTemplate(), true)
		if err != nil {
			return err
		}
		if s, ok := dir.LookupID(sid); ok {
			s.Entity = id
		}
	}
	return nil
}

// spawnOwned 生成带 Owner 的实体；玩家实体额外带服务端私有的 Input
func (r *Room) spawnOwned(sid session.ID, template string, player bool) (ecs.EntityID, error) {
	t, err := r.Game.LoadTemplate(template)
	if err != nil {
		return ecs.EntityID{}, err
	}
	if t.Name == "" {
		t.Name = template
	}
	t.Components = append(t.Components, ecs.Owner{Session: sid.Uint64()})
	if player {
		t.Components = append(t.Components, ecs.NewInput())
	}
	return r.registry.Spawn(t), nil
}

// destroyOwned 销毁会话拥有的全部实体
func (r *Room) destroyOwned(sid session.ID) int {
	owner := sid.Uint64()
	var ids []ecs.EntityID
	r.registry.ForEach(ecs.MaskOf(ecs.KindOwner), func(id ecs.EntityID) {
		if o, _ := ecs.Get[ecs.Owner](r.registry, id); o.Session == owner {
			ids = append(ids, id)
		}
	})
	for _, id := range ids {
		_ = r.registry.Destroy(id)
	}
	return len(ids)
}

// step 推进一帧：运行系统 → 开火事件 → 增量同步
// 只读写本房间的状态，可与其他房间并行
func (r *Room) step(dt float32) {
	r.tick++
	r.registry.RunSystems(dt)
	for _, sig := range r.registry.TakeSignals() {
		if sig.Kind == ecs.SignalShot {
			r.broadcast(protocol.RepEntityShoot, &protocol.EntityEvent{Status: protocol.StatusOK, Entity: sig.Entity})
		}
	}
	r.replicate()
}

// replicate 对每个成员比较上次发送的时钟：新实体 SPAWN，仅运动组件变化 MOVED，
// 其他变化 UPDATE，已消失或代数过期的实体 DESTROY
func (r *Room) replicate() {
	clock := r.registry.Clock()
	entities := r.registry.Entities()
	for _, sid := range r.players {
		rep := r.replication[sid]
		if rep == nil {
			rep = make(map[ecs.EntityID]uint64)
			r.replication[sid] = rep
		}

		var gone []ecs.EntityID
		for id := range rep {
			if !r.registry.Alive(id) {
				gone = append(gone, id)
			}
		}
		sort.Slice(gone, func(i, j int) bool { return gone[i].Less(gone[j]) })
		for _, id := range gone {
			r.send(sid, protocol.RepEntityDestroy, &protocol.EntityEvent{Status: protocol.StatusOK, Entity: id})
			delete(rep, id)
		}

		for _, id := range entities {
			last, sent := rep[id]
			if !sent {
				r.send(sid, protocol.RepEntitySpawn, r.fullState(id))
				rep[id] = clock
				continue
			}
			changed := r.registry.ChangedSince(id, last) & ecs.ReplicatedMask
			if changed == 0 {
				continue
			}
			v, _ := r.registry.Components(id)
			st := &protocol.EntityState{Status: protocol.StatusOK, Entity: id, Components: v.Components(changed)}
			if ecs.MotionMask.ContainsAll(changed) {
				r.send(sid, protocol.RepEntityMoved, st)
			} else {
				r.send(sid, protocol.RepEntityUpdate, st)
			}
			rep[id] = clock
		}
	}
}

func (r *Room) fullState(id ecs.EntityID) *protocol.EntityState {
	v, err := r.registry.Components(id)
	if err != nil {
		return &protocol.EntityState{Status: protocol.StatusInvalidEntity, Entity: id}
	}
	return &protocol.EntityState{Status: protocol.StatusOK, Entity: id, Components: v.Components(ecs.ReplicatedMask)}
}

// markSent 直接回复过完整状态后，避免下一帧重复 SPAWN
func (r *Room) markSent(sid session.ID, id ecs.EntityID) {
	rep := r.replication[sid]
	if rep == nil {
		rep = make(map[ecs.EntityID]uint64)
		r.replication[sid] = rep
	}
	rep[id] = r.registry.Clock()
}

// applyInput 合并输入到玩家实体的 Input 组件
func (r *Room) applyInput(s *session.Session, events []input.Event, axes map[input.EventID]float32) error {
	in, ok := ecs.Get[ecs.Input](r.registry, s.Entity)
	if !ok {
		return fmt.Errorf("%w: session %s has no controllable entity", ecs.ErrInvalidEntity, s.ID)
	}
	in.Apply(events, axes)
	return r.registry.Set(s.Entity, in)
}

func (r *Room) owns(sid session.ID, id ecs.EntityID) bool {
	o, ok := ecs.Get[ecs.Owner](r.registry, id)
	return ok && o.Session == sid.Uint64()
}

// EntityView 观察者/管理接口看到的实体摘要
type EntityView struct {
	ID       string     `json:"id"`
	Template string     `json:"template,omitempty"`
	Tag      string     `json:"tag,omitempty"`
	Owner    uint64     `json:"owner,omitempty"`
	Position [2]float32 `json:"position"`
	Health   int32      `json:"health,omitempty"`
}

// Snapshot 房间的只读摘要，发布给 HTTP/WS 线程
type Snapshot struct {
	Name      string       `json:"name"`
	Instance  string       `json:"instance"`
	Game      string       `json:"game"`
	State     string       `json:"state"`
	Capacity  int          `json:"capacity"`
	Host      uint64       `json:"host"`
	Players   []uint64     `json:"players"`
	Entities  int          `json:"entities"`
	Tick      uint64       `json:"tick"`
	CreatedAt time.Time    `json:"created_at"`
	Detail    []EntityView `json:"detail,omitempty"`
}

func (r *Room) Snapshot(detail bool) Snapshot {
	snap := Snapshot{
		Name:      r.Name,
		Instance:  r.InstanceID.String(),
		Game:      r.Game.Name(),
		State:     r.State.String(),
		Capacity:  r.Capacity,
		Host:      r.host.Uint64(),
		Players:   make([]uint64, 0, len(r.players)),
		Entities:  r.registry.Len(),
		Tick:      r.tick,
		CreatedAt: r.CreatedAt,
	}
	for _, p := range r.players {
		snap.Players = append(snap.Players, p.Uint64())
	}
	if !detail {
		return snap
	}
	for _, id := range r.registry.Entities() {
		v, _ := r.registry.Components(id)
		ev := EntityView{ID: id.String()}
		if c, ok := v.Get(ecs.KindTemplate); ok {
			ev.Template = c.(ecs.TemplateName).Name
		}
		if c, ok := v.Get(ecs.KindTag); ok {
			ev.Tag = c.(ecs.Tag).Name
		}
		if c, ok := v.Get(ecs.KindOwner); ok {
			ev.Owner = c.(ecs.Owner).Session
		}
		if c, ok := v.Get(ecs.KindTransform); ok {
			p := c.(ecs.Transform).Position
			ev.Position = [2]float32{p[0], p[1]}
		}
		if c, ok := v.Get(ecs.KindHealth); ok {
			ev.Health = c.(ecs.Health).Current
		}
		snap.Detail = append(snap.Detail, ev)
	}
	return snap
}
