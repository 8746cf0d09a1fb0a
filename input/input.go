package input

import "fmt"

// EventID 客户端输入（意图）的离散语义，方向值由客户端产生，服务端不解析原始按键
type EventID uint8

const (
	MoveLeft EventID = iota
	MoveRight
	MoveUp
	MoveDown
	MoveFront
	MoveBack
	LookLeft
	LookRight
	LookUp
	LookDown
	Shoot
	Jump

	MaxEvent
)

var eventNames = [...]string{
	MoveLeft:  "MOVE_LEFT",
	MoveRight: "MOVE_RIGHT",
	MoveUp:    "MOVE_UP",
	MoveDown:  "MOVE_DOWN",
	MoveFront: "MOVE_FRONT",
	MoveBack:  "MOVE_BACK",
	LookLeft:  "LOOK_LEFT",
	LookRight: "LOOK_RIGHT",
	LookUp:    "LOOK_UP",
	LookDown:  "LOOK_DOWN",
	Shoot:     "SHOOT",
	Jump:      "JUMP",
}

func (id EventID) Valid() bool { return id < MaxEvent }

func (id EventID) String() string {
	if id.Valid() {
		return eventNames[id]
	}
	return fmt.Sprintf("EVENT(%d)", uint8(id))
}

// EventState 离散事件的状态；MaxState 作为“未设置”哨兵
type EventState uint8

const (
	Pressed EventState = iota
	Released
	MaxState
)

func (s EventState) Valid() bool { return s <= MaxState }

func (s EventState) String() string {
	switch s {
	case Pressed:
		return "PRESSED"
	case Released:
		return "RELEASED"
	case MaxState:
		return "MAX_STATE"
	}
	return fmt.Sprintf("STATE(%d)", uint8(s))
}

// Event 一次离散输入
type Event struct {
	ID    EventID
	State EventState
}

// State 某实体最近一次收到的输入：每个事件的最新状态 + 连续轴值
// 只含数组字段，保证可比较（组件变更检测依赖 ==）
type State struct {
	Events  [MaxEvent]EventState
	Axes    [MaxEvent]float32
	AxisSet [MaxEvent]bool
	// Fire 在收到 SHOOT 松开后置位，由控制系统消费
	Fire bool
}

// NewState 所有事件初始为未设置
func NewState() State {
	var s State
	for i := range s.Events {
		s.Events[i] = MaxState
	}
	return s
}

// Apply 合并一批离散事件和轴值；非法 id 被忽略
func (s *State) Apply(events []Event, axes map[EventID]float32) {
	for _, ev := range events {
		if !ev.ID.Valid() || !ev.State.Valid() {
			continue
		}
		s.Events[ev.ID] = ev.State
		if ev.ID == Shoot && ev.State == Released {
			s.Fire = true
		}
	}
	for id, v := range axes {
		if !id.Valid() {
			continue
		}
		s.Axes[id] = v
		s.AxisSet[id] = true
	}
}

// Amount 方向强度：有轴值用轴值，否则按下为 1
func (s *State) Amount(id EventID) float32 {
	if !id.Valid() {
		return 0
	}
	if s.AxisSet[id] {
		return s.Axes[id]
	}
	if s.Events[id] == Pressed {
		return 1
	}
	return 0
}
