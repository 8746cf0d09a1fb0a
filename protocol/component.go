package protocol

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"netarena/ecs"
)

const (
	controlUp uint8 = 1 << iota
	controlDown
	controlLeft
	controlRight
	controlShoot

	controlMask = controlUp | controlDown | controlLeft | controlRight | controlShoot
)

// component 组件编码为 kind(u8) + 定长/变长主体
func (w *writer) component(c ecs.Component) {
	switch v := c.(type) {
	case ecs.Control:
		var flags uint8
		if v.Up {
			flags |= controlUp
		}
		if v.Down {
			flags |= controlDown
		}
		if v.Left {
			flags |= controlLeft
		}
		if v.Right {
			flags |= controlRight
		}
		if v.Shoot {
			flags |= controlShoot
		}
		w.u8(uint8(ecs.KindControl))
		w.u8(flags)
		w.f32(v.Speed)
	case ecs.Movable:
		w.u8(uint8(ecs.KindMovable))
		w.vec2(v.Velocity)
		w.vec2(v.Acceleration)
	case ecs.Transform:
		w.u8(uint8(ecs.KindTransform))
		w.vec2(v.Position)
		w.f32(v.Rotation)
		w.vec2(v.Scale)
	case ecs.Collider:
		w.u8(uint8(ecs.KindCollider))
		w.vec2(v.Size)
	case ecs.Health:
		w.u8(uint8(ecs.KindHealth))
		w.i32(v.Max)
		w.i32(v.Current)
		w.i32(v.MaxShield)
		w.i32(v.Shield)
	case ecs.Weapon:
		w.u8(uint8(ecs.KindWeapon))
		w.f32(v.FireRate)
		w.i32(v.Damage)
		w.u16(v.Level)
	case ecs.Tag:
		w.u8(uint8(ecs.KindTag))
		w.str(v.Name)
	case ecs.Owner:
		w.u8(uint8(ecs.KindOwner))
		w.u64(v.Session)
	case ecs.TemplateName:
		w.u8(uint8(ecs.KindTemplate))
		w.str(v.Name)
	default:
		panic(fmt.Sprintf("protocol: component %T is not replicated", c))
	}
}

func (r *reader) component() ecs.Component {
	k := ecs.Kind(r.u8())
	if r.err != nil {
		return nil
	}
	switch k {
	case ecs.KindControl:
		flags := r.u8()
		if r.err == nil && flags&^controlMask != 0 {
			r.off--
			r.fail(ErrMalformedPayload, "control flags %#x", flags)
			return nil
		}
		return ecs.Control{
			Up:    flags&controlUp != 0,
			Down:  flags&controlDown != 0,
			Left:  flags&controlLeft != 0,
			Right: flags&controlRight != 0,
			Shoot: flags&controlShoot != 0,
			Speed: r.f32(),
		}
	case ecs.KindMovable:
		return ecs.Movable{Velocity: r.vec2(), Acceleration: r.vec2()}
	case ecs.KindTransform:
		return ecs.Transform{Position: r.vec2(), Rotation: r.f32(), Scale: r.vec2()}
	case ecs.KindCollider:
		return ecs.Collider{Size: r.vec2()}
	case ecs.KindHealth:
		return ecs.Health{Max: r.i32(), Current: r.i32(), MaxShield: r.i32(), Shield: r.i32()}
	case ecs.KindWeapon:
		return ecs.Weapon{FireRate: r.f32(), Damage: r.i32(), Level: r.u16()}
	case ecs.KindTag:
		return ecs.Tag{Name: r.str()}
	case ecs.KindOwner:
		return ecs.Owner{Session: r.u64()}
	case ecs.KindTemplate:
		return ecs.TemplateName{Name: r.str()}
	}
	r.off--
	r.fail(ErrMalformedPayload, "component kind %d", uint8(k))
	return nil
}

func (w *writer) vec2(v mgl32.Vec2) {
	w.f32(v[0])
	w.f32(v[1])
}

func (r *reader) vec2() mgl32.Vec2 {
	return mgl32.Vec2{r.f32(), r.f32()}
}
