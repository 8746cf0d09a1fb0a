package protocol

import (
	"sort"

	"netarena/ecs"
	"netarena/input"
)

// Payload 命令载荷；具体类型由命令 id 决定，见 payloadFor
type Payload interface {
	encode(w *writer)
	decode(r *reader)
}

// Empty 无载荷
type Empty struct{}

type Connect struct {
	Name string
}

type ConnectReply struct {
	Status  Status
	Session uint64
}

type Disconnect struct {
	Reason DisconnectReason
}

// Ping REQ_PING/REP_PONG 等携带的时间戳（毫秒）
type Ping struct {
	Timestamp int64
}

type Credentials struct {
	Username string
	Password string
}

type LoginReply struct {
	Status Status
	Token  string
}

// StatusReply 只带结果码的回复
type StatusReply struct {
	Status Status
}

type SpawnRequest struct {
	Template string
}

// EntityState 实体的组件快照（SPAWN 为全量，UPDATE/MOVED 为变化部分）
type EntityState struct {
	Status     Status
	Entity     ecs.EntityID
	Components []ecs.Component
}

type EntityRef struct {
	Entity ecs.EntityID
}

// EntityEvent 销毁/开火通知
type EntityEvent struct {
	Status Status
	Entity ecs.EntityID
}

// UserUpdate V0 的单个输入事件
type UserUpdate struct {
	Event input.Event
}

// UserUpdates V1 的批量输入：离散事件 + 轴值
type UserUpdates struct {
	Events []input.Event
	Axes   map[input.EventID]float32
}

type CreateRoom struct {
	Name     string
	Game     string
	Capacity uint16
}

type RoomRequest struct {
	Name string
}

// RoomReply 房间操作的回复；QueuePosition 仅在 QUEUED 时有意义，否则为 -1
type RoomReply struct {
	Status        Status
	Name          string
	Members       uint16
	QueuePosition int16
}

func payloadFor(id CommandID) Payload {
	switch id {
	case ReqDisconnect, ReqHeartbeat, RepHeartbeat, ReqLogout, ReqLeaveRoom:
		return &Empty{}
	case ReqConnect:
		return &Connect{}
	case RepConnect:
		return &ConnectReply{}
	case RepDisconnect:
		return &Disconnect{}
	case ReqPing, RepPing, ReqPong, RepPong:
		return &Ping{}
	case ReqLogin, ReqRegister:
		return &Credentials{}
	case RepLogin:
		return &LoginReply{}
	case RepLogout, RepRegister, RepUserUpdate, RepUserUpdates:
		return &StatusReply{}
	case ReqEntitySpawn:
		return &SpawnRequest{}
	case RepEntitySpawn, RepEntityUpdate, RepEntityMoved:
		return &EntityState{}
	case ReqEntityUpdate, ReqEntityMoved, ReqEntityDestroy, ReqEntityShoot:
		return &EntityRef{}
	case RepEntityDestroy, RepEntityShoot:
		return &EntityEvent{}
	case ReqUserUpdate:
		return &UserUpdate{}
	case ReqUserUpdates:
		return &UserUpdates{}
	case ReqCreateRoom:
		return &CreateRoom{}
	case ReqJoinRoom, ReqStartGame, ReqEndGame:
		return &RoomRequest{}
	case RepCreateRoom, RepJoinRoom, RepLeaveRoom, RepStartGame, RepEndGame:
		return &RoomReply{}
	}
	return nil
}

func (*Empty) encode(*writer) {}
func (*Empty) decode(*reader) {}

func (p *Connect) encode(w *writer) { w.str(p.Name) }
func (p *Connect) decode(r *reader) { p.Name = r.str() }

func (p *ConnectReply) encode(w *writer) {
	w.u8(uint8(p.Status))
	w.u64(p.Session)
}

func (p *ConnectReply) decode(r *reader) {
	p.Status = r.status()
	p.Session = r.u64()
}

func (p *Disconnect) encode(w *writer) { w.u8(uint8(p.Reason)) }

func (p *Disconnect) decode(r *reader) {
	p.Reason = DisconnectReason(r.u8())
	if r.err == nil && !p.Reason.Valid() {
		r.off--
		r.fail(ErrMalformedPayload, "disconnect reason %d", uint8(p.Reason))
	}
}

func (p *Ping) encode(w *writer) { w.i64(p.Timestamp) }
func (p *Ping) decode(r *reader) { p.Timestamp = r.i64() }

func (p *Credentials) encode(w *writer) {
	w.str(p.Username)
	w.str(p.Password)
}

func (p *Credentials) decode(r *reader) {
	p.Username = r.str()
	p.Password = r.str()
}

func (p *LoginReply) encode(w *writer) {
	w.u8(uint8(p.Status))
	w.str(p.Token)
}

func (p *LoginReply) decode(r *reader) {
	p.Status = r.status()
	p.Token = r.str()
}

func (p *StatusReply) encode(w *writer) { w.u8(uint8(p.Status)) }
func (p *StatusReply) decode(r *reader) { p.Status = r.status() }

func (p *SpawnRequest) encode(w *writer) { w.str(p.Template) }
func (p *SpawnRequest) decode(r *reader) { p.Template = r.str() }

func (p *EntityState) encode(w *writer) {
	w.u8(uint8(p.Status))
	w.entity(p.Entity)
	w.count(len(p.Components))
	for _, c := range p.Components {
		w.component(c)
	}
}

func (p *EntityState) decode(r *reader) {
	p.Status = r.status()
	p.Entity = r.entity()
	n := int(r.u8())
	if r.err != nil || n == 0 {
		return
	}
	p.Components = make([]ecs.Component, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		if c := r.component(); c != nil {
			p.Components = append(p.Components, c)
		}
	}
}

func (p *EntityRef) encode(w *writer) { w.entity(p.Entity) }
func (p *EntityRef) decode(r *reader) { p.Entity = r.entity() }

func (p *EntityEvent) encode(w *writer) {
	w.u8(uint8(p.Status))
	w.entity(p.Entity)
}

func (p *EntityEvent) decode(r *reader) {
	p.Status = r.status()
	p.Entity = r.entity()
}

func (p *UserUpdate) encode(w *writer) { w.event(p.Event) }
func (p *UserUpdate) decode(r *reader) { p.Event = r.event() }

// 轴值按 id 升序编码，保证同一输入产生同样的字节
func (p *UserUpdates) encode(w *writer) {
	w.count(len(p.Events))
	for _, ev := range p.Events {
		w.event(ev)
	}
	ids := make([]input.EventID, 0, len(p.Axes))
	for id := range p.Axes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	w.count(len(ids))
	for _, id := range ids {
		w.u8(uint8(id))
		w.f32(p.Axes[id])
	}
}

func (p *UserUpdates) decode(r *reader) {
	n := int(r.u8())
	if n > 0 && r.err == nil {
		p.Events = make([]input.Event, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			p.Events = append(p.Events, r.event())
		}
	}
	m := int(r.u8())
	if m == 0 || r.err != nil {
		return
	}
	p.Axes = make(map[input.EventID]float32, m)
	for i := 0; i < m && r.err == nil; i++ {
		id := input.EventID(r.u8())
		if r.err == nil && !id.Valid() {
			r.off--
			r.fail(ErrMalformedPayload, "axis id %d", uint8(id))
			return
		}
		if _, dup := p.Axes[id]; dup {
			r.off--
			r.fail(ErrMalformedPayload, "duplicate axis %s", id)
			return
		}
		p.Axes[id] = r.f32()
	}
}

func (p *CreateRoom) encode(w *writer) {
	w.str(p.Name)
	w.str(p.Game)
	w.u16(p.Capacity)
}

func (p *CreateRoom) decode(r *reader) {
	p.Name = r.str()
	p.Game = r.str()
	p.Capacity = r.u16()
}

func (p *RoomRequest) encode(w *writer) { w.str(p.Name) }
func (p *RoomRequest) decode(r *reader) { p.Name = r.str() }

func (p *RoomReply) encode(w *writer) {
	w.u8(uint8(p.Status))
	w.str(p.Name)
	w.u16(p.Members)
	w.i16(p.QueuePosition)
}

func (p *RoomReply) decode(r *reader) {
	p.Status = r.status()
	p.Name = r.str()
	p.Members = r.u16()
	p.QueuePosition = r.i16()
}

func (w *writer) entity(id ecs.EntityID) {
	w.u32(id.Index)
	w.u32(id.Generation)
}

func (r *reader) entity() ecs.EntityID {
	return ecs.EntityID{Index: r.u32(), Generation: r.u32()}
}

func (w *writer) event(ev input.Event) {
	w.u8(uint8(ev.ID))
	w.u8(uint8(ev.State))
}

func (r *reader) event() input.Event {
	ev := input.Event{ID: input.EventID(r.u8()), State: input.EventState(r.u8())}
	if r.err != nil {
		return input.Event{}
	}
	if !ev.ID.Valid() || !ev.State.Valid() {
		r.off -= 2
		r.fail(ErrMalformedPayload, "event %d/%d", uint8(ev.ID), uint8(ev.State))
	}
	return ev
}
