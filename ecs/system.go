package ecs

import (
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"netarena/input"
)

var ErrUnknownSystem = errors.New("unknown system")

// System 每 Tick 对注册表运行一次
type System func(r *Registry, dt float32)

type NamedSystem struct {
	Name string
	Run  System
}

// SignalKind 系统产生、由房间转成网络消息的事件
type SignalKind uint8

const (
	SignalShot SignalKind = iota + 1
)

type Signal struct {
	Kind   SignalKind
	Entity EntityID
}

// Scene 场景描述：启用的系统与初始实体（模板名）
type Scene struct {
	Name     string
	Systems  []string
	Entities []string
}

func (r *Registry) AddSystem(s NamedSystem) {
	r.systems = append(r.systems, s)
}

func (r *Registry) Systems() []string {
	names := make([]string, 0, len(r.systems))
	for _, s := range r.systems {
		names = append(names, s.Name)
	}
	return names
}

// RunSystems 按注册顺序执行
func (r *Registry) RunSystems(dt float32) {
	for _, s := range r.systems {
		s.Run(r, dt)
	}
}

func (r *Registry) Emit(s Signal) { r.signals = append(r.signals, s) }

// TakeSignals 取出并清空本 Tick 产生的事件
func (r *Registry) TakeSignals() []Signal {
	out := r.signals
	r.signals = nil
	return out
}

var builtins = map[string]System{
	"control":  ControlSystem,
	"position": PositionSystem,
	"health":   HealthSystem,
}

// Builtin 按名字查内置系统
func Builtin(name string) (NamedSystem, error) {
	s, ok := builtins[name]
	if !ok {
		return NamedSystem{}, fmt.Errorf("%w: %q", ErrUnknownSystem, name)
	}
	return NamedSystem{Name: name, Run: s}, nil
}

// ControlSystem 把输入意图解释为速度，并处理开火冷却
func ControlSystem(r *Registry, dt float32) {
	r.ForEach(MaskOf(KindInput, KindControl), func(id EntityID) {
		in, _ := Get[Input](r, id)
		ctrl, _ := Get[Control](r, id)

		if mv, ok := Get[Movable](r, id); ok {
			var dir mgl32.Vec2
			if ctrl.Left {
				dir[0] -= in.Amount(input.MoveLeft)
			}
			if ctrl.Right {
				dir[0] += in.Amount(input.MoveRight)
			}
			if ctrl.Up {
				dir[1] -= in.Amount(input.MoveUp)
			}
			if ctrl.Down {
				dir[1] += in.Amount(input.MoveDown)
			}
			speed := ctrl.Speed
			if speed == 0 {
				speed = 1
			}
			mv.Velocity = dir.Mul(speed)
			_ = r.Set(id, mv)
		}

		if in.Cooldown > 0 {
			in.Cooldown -= dt
			if in.Cooldown < 0 {
				in.Cooldown = 0
			}
		}
		if in.Fire {
			in.Fire = false
			w, armed := Get[Weapon](r, id)
			if ctrl.Shoot && armed && in.Cooldown <= 0 {
				r.Emit(Signal{Kind: SignalShot, Entity: id})
				if w.FireRate > 0 {
					in.Cooldown = 1 / w.FireRate
				}
			}
		}
		_ = r.Set(id, in)
	})
}

// PositionSystem 速度积分到位置，加速度积分到速度
func PositionSystem(r *Registry, dt float32) {
	r.ForEach(MaskOf(KindTransform, KindMovable), func(id EntityID) {
		tr, _ := Get[Transform](r, id)
		mv, _ := Get[Movable](r, id)
		mv.Velocity = mv.Velocity.Add(mv.Acceleration.Mul(dt))
		tr.Position = tr.Position.Add(mv.Velocity.Mul(dt))
		_ = r.Set(id, mv)
		_ = r.Set(id, tr)
	})
}

// HealthSystem 生命归零的实体被销毁
func HealthSystem(r *Registry, dt float32) {
	r.ForEach(MaskOf(KindHealth), func(id EntityID) {
		h, _ := Get[Health](r, id)
		if h.Max > 0 && h.Current <= 0 {
			_ = r.Destroy(id)
		}
	})
}
