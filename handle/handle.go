package handle

import "fmt"

// Handle 代际检查的弱引用：槽位下标 + 代数
// 槽位被释放后代数递增，旧 Handle 因代数不符而失效，不会误指向复用后的对象
type Handle struct {
	Index      uint32
	Generation uint32
}

// Nil 零值永远无效（有效代数从 1 开始）
var Nil Handle

func (h Handle) IsNil() bool { return h.Generation == 0 }

// Uint64 打包为线上使用的 64 位 id：高 32 位代数，低 32 位下标
func (h Handle) Uint64() uint64 { return uint64(h.Generation)<<32 | uint64(h.Index) }

func FromUint64(v uint64) Handle {
	return Handle{Index: uint32(v), Generation: uint32(v >> 32)}
}

func (h Handle) String() string { return fmt.Sprintf("%d#%d", h.Index, h.Generation) }

type slot[T any] struct {
	gen  uint32
	used bool
	val  T
}

// Pool 槽位池，释放的槽位会在代数递增后复用
// 非并发安全：只在 Tick 线程中使用
type Pool[T any] struct {
	slots []slot[T]
	free  []uint32
	live  int
}

// Insert 放入一个值并返回它的 Handle
func (p *Pool[T]) Insert(v T) Handle {
	var idx uint32
	if n := len(p.free); n > 0 {
		idx = p.free[0]
		p.free = p.free[1:]
	} else {
		idx = uint32(len(p.slots))
		p.slots = append(p.slots, slot[T]{gen: 1})
	}
	s := &p.slots[idx]
	s.used = true
	s.val = v
	p.live++
	return Handle{Index: idx, Generation: s.gen}
}

// Get 代数不符或已释放时返回 false
func (p *Pool[T]) Get(h Handle) (T, bool) {
	var zero T
	if h.IsNil() || int(h.Index) >= len(p.slots) {
		return zero, false
	}
	s := &p.slots[h.Index]
	if !s.used || s.gen != h.Generation {
		return zero, false
	}
	return s.val, true
}

// Remove 释放槽位，旧 Handle 立即失效
func (p *Pool[T]) Remove(h Handle) (T, bool) {
	v, ok := p.Get(h)
	if !ok {
		return v, false
	}
	s := &p.slots[h.Index]
	var zero T
	s.val = zero
	s.used = false
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	p.free = append(p.free, h.Index)
	p.live--
	return v, true
}

func (p *Pool[T]) Len() int { return p.live }

// Each 按槽位下标升序遍历存活的值
func (p *Pool[T]) Each(fn func(Handle, T)) {
	for i := range p.slots {
		s := &p.slots[i]
		if !s.used {
			continue
		}
		fn(Handle{Index: uint32(i), Generation: s.gen}, s.val)
	}
}
