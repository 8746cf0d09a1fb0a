package ecs

import (
	"math/bits"

	"github.com/go-gl/mathgl/mgl32"

	"netarena/input"
)

// Kind 组件类型键，数值即线上组件 id
type Kind uint8

const (
	KindControl   Kind = 0
	KindMovable   Kind = 1
	KindTransform Kind = 2
	KindCollider  Kind = 3
	KindHealth    Kind = 10
	KindWeapon    Kind = 11
	KindTag       Kind = 12
	KindOwner     Kind = 13
	KindTemplate  Kind = 14
	KindInput     Kind = 15

	MaxKinds = 16
)

var kindNames = map[Kind]string{
	KindControl:   "control",
	KindMovable:   "movable",
	KindTransform: "transform",
	KindCollider:  "collider",
	KindHealth:    "health",
	KindWeapon:    "weapon",
	KindTag:       "tag",
	KindOwner:     "owner",
	KindTemplate:  "template",
	KindInput:     "input",
}

func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Mask 组件存在位图
type Mask uint32

func MaskOf(kinds ...Kind) Mask {
	var m Mask
	for _, k := range kinds {
		m.Set(k)
	}
	return m
}

func (m *Mask) Set(k Kind) { *m |= 1 << k }
func (m Mask) Has(k Kind) bool {
	return m&(1<<k) != 0
}

// ContainsAll other 中的位是否全部存在
func (m Mask) ContainsAll(other Mask) bool { return m&other == other }
func (m Mask) Count() int                  { return bits.OnesCount32(uint32(m)) }

// Kinds 按数值升序列出位图中的组件类型
func (m Mask) Kinds() []Kind {
	out := make([]Kind, 0, m.Count())
	for k := Kind(0); k < MaxKinds; k++ {
		if m.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

var (
	// ReplicatedMask 会同步给客户端的组件
	ReplicatedMask = MaskOf(KindControl, KindMovable, KindTransform, KindCollider,
		KindHealth, KindWeapon, KindTag, KindOwner, KindTemplate)
	// MotionMask 只有这些组件变化时发送 MOVED 而不是 UPDATE
	MotionMask = MaskOf(KindTransform, KindMovable)
)

// Component 组件值；所有实现都是可比较的值类型
type Component interface {
	Kind() Kind
}

type Transform struct {
	Position mgl32.Vec2
	Rotation float32
	Scale    mgl32.Vec2
}

type Movable struct {
	Velocity     mgl32.Vec2
	Acceleration mgl32.Vec2
}

// Control 允许实体响应的输入方向
type Control struct {
	Up, Down, Left, Right, Shoot bool
	Speed                        float32
}

type Collider struct {
	Size mgl32.Vec2
}

type Health struct {
	Max       int32
	Current   int32
	MaxShield int32
	Shield    int32
}

type Weapon struct {
	FireRate float32
	Damage   int32
	Level    uint16
}

type Tag struct {
	Name string
}

// Owner 实体归属的会话（打包后的会话 id）
type Owner struct {
	Session uint64
}

// TemplateName 实体由哪个模板生成
type TemplateName struct {
	Name string
}

// Input 服务端私有，不参与同步
type Input struct {
	input.State
	Cooldown float32
}

func NewInput() Input { return Input{State: input.NewState()} }

func (Transform) Kind() Kind    { return KindTransform }
func (Movable) Kind() Kind      { return KindMovable }
func (Control) Kind() Kind      { return KindControl }
func (Collider) Kind() Kind     { return KindCollider }
func (Health) Kind() Kind       { return KindHealth }
func (Weapon) Kind() Kind       { return KindWeapon }
func (Tag) Kind() Kind          { return KindTag }
func (Owner) Kind() Kind        { return KindOwner }
func (TemplateName) Kind() Kind { return KindTemplate }
func (Input) Kind() Kind        { return KindInput }
