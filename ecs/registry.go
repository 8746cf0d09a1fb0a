package ecs

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrInvalidEntity    = errors.New("invalid entity id")
	ErrTemplateNotFound = errors.New("template not found")
)

// EntityID 稳定的外部实体 id：下标 + 代数
// 下标释放后代数递增，持有旧 id 的同步状态只会看到“已销毁”
type EntityID struct {
	Index      uint32
	Generation uint32
}

func (id EntityID) IsNil() bool { return id.Generation == 0 }

func (id EntityID) Less(o EntityID) bool {
	if id.Index != o.Index {
		return id.Index < o.Index
	}
	return id.Generation < o.Generation
}

func (id EntityID) String() string { return fmt.Sprintf("e%d#%d", id.Index, id.Generation) }

// Template 生成实体用的组件集合
type Template struct {
	Name       string
	Components []Component
}

// TemplateLoader 资源加载器对外接口
type TemplateLoader interface {
	LoadTemplate(name string) (Template, error)
}

type row struct {
	id       EntityID
	mask     Mask
	comps    [MaxKinds]Component
	versions [MaxKinds]uint64
}

// Registry 房间内的权威实体存储
// rows 为紧凑数组便于逐 Tick 遍历，sparse 把稳定 id 的下标映射到紧凑槽位
type Registry struct {
	rows   []row
	sparse []int32
	gens   []uint32
	free   []uint32

	// clock 每次变更单调递增，用作组件版本号
	clock uint64

	systems []NamedSystem
	signals []Signal
}

func NewRegistry() *Registry { return &Registry{} }

// Clock 当前变更时钟
func (r *Registry) Clock() uint64 { return r.clock }

func (r *Registry) Len() int { return len(r.rows) }

func (r *Registry) alloc() EntityID {
	if len(r.free) > 0 {
		idx := r.free[0]
		r.free = r.free[1:]
		return EntityID{Index: idx, Generation: r.gens[idx]}
	}
	idx := uint32(len(r.gens))
	r.gens = append(r.gens, 1)
	r.sparse = append(r.sparse, -1)
	return EntityID{Index: idx, Generation: 1}
}

func (r *Registry) lookup(id EntityID) int {
	if id.IsNil() || int(id.Index) >= len(r.sparse) {
		return -1
	}
	if r.gens[id.Index] != id.Generation {
		return -1
	}
	return int(r.sparse[id.Index])
}

func (r *Registry) Alive(id EntityID) bool { return r.lookup(id) >= 0 }

// Spawn 按模板生成实体；模板名非空时附带 TemplateName 组件
func (r *Registry) Spawn(t Template) EntityID {
	id := r.alloc()
	r.clock++
	rw := row{id: id}
	for _, c := range t.Components {
		if c == nil {
			continue
		}
		k := c.Kind()
		rw.comps[k] = c
		rw.mask.Set(k)
		rw.versions[k] = r.clock
	}
	if t.Name != "" && !rw.mask.Has(KindTemplate) {
		rw.comps[KindTemplate] = TemplateName{Name: t.Name}
		rw.mask.Set(KindTemplate)
		rw.versions[KindTemplate] = r.clock
	}
	r.sparse[id.Index] = int32(len(r.rows))
	r.rows = append(r.rows, rw)
	return id
}

// SpawnTemplate 通过加载器取模板再生成；模板缺失返回 ErrTemplateNotFound
func (r *Registry) SpawnTemplate(loader TemplateLoader, name string) (EntityID, error) {
	if loader == nil {
		return EntityID{}, fmt.Errorf("%w: %q (no loader)", ErrTemplateNotFound, name)
	}
	t, err := loader.LoadTemplate(name)
	if err != nil {
		if errors.Is(err, ErrTemplateNotFound) {
			return EntityID{}, err
		}
		return EntityID{}, fmt.Errorf("%w: %q: %v", ErrTemplateNotFound, name, err)
	}
	if t.Name == "" {
		t.Name = name
	}
	return r.Spawn(t), nil
}

// Destroy 释放槽位并使 sparse 映射失效
func (r *Registry) Destroy(id EntityID) error {
	pos := r.lookup(id)
	if pos < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidEntity, id)
	}
	last := len(r.rows) - 1
	if pos != last {
		r.rows[pos] = r.rows[last]
		r.sparse[r.rows[pos].id.Index] = int32(pos)
	}
	r.rows[last] = row{}
	r.rows = r.rows[:last]

	r.sparse[id.Index] = -1
	r.gens[id.Index]++
	if r.gens[id.Index] == 0 {
		r.gens[id.Index] = 1
	}
	r.free = append(r.free, id.Index)
	r.clock++
	return nil
}

// Get 取组件
func (r *Registry) Get(id EntityID, k Kind) (Component, bool) {
	pos := r.lookup(id)
	if pos < 0 || k >= MaxKinds {
		return nil, false
	}
	rw := &r.rows[pos]
	if !rw.mask.Has(k) {
		return nil, false
	}
	return rw.comps[k], true
}

// Get 按组件类型取值
func Get[T Component](r *Registry, id EntityID) (T, bool) {
	var zero T
	c, ok := r.Get(id, zero.Kind())
	if !ok {
		return zero, false
	}
	t, ok := c.(T)
	return t, ok
}

// Set 写入组件；只有值确实变化时才推进版本号
func (r *Registry) Set(id EntityID, c Component) error {
	pos := r.lookup(id)
	if pos < 0 {
		return fmt.Errorf("%w: %s", ErrInvalidEntity, id)
	}
	if c == nil {
		return fmt.Errorf("ecs: nil component for %s", id)
	}
	k := c.Kind()
	rw := &r.rows[pos]
	if rw.mask.Has(k) && rw.comps[k] == c {
		return nil
	}
	r.clock++
	rw.comps[k] = c
	rw.mask.Set(k)
	rw.versions[k] = r.clock
	return nil
}

// View 实体组件的只读副本
type View struct {
	ID    EntityID
	Mask  Mask
	comps [MaxKinds]Component
}

func (v View) Get(k Kind) (Component, bool) {
	if k >= MaxKinds || !v.Mask.Has(k) {
		return nil, false
	}
	return v.comps[k], true
}

// Components 按 kind 升序返回 mask 内存在的组件
func (v View) Components(mask Mask) []Component {
	m := v.Mask & mask
	out := make([]Component, 0, m.Count())
	for _, k := range m.Kinds() {
		out = append(out, v.comps[k])
	}
	return out
}

// Components 返回实体组件视图
func (r *Registry) Components(id EntityID) (View, error) {
	pos := r.lookup(id)
	if pos < 0 {
		return View{}, fmt.Errorf("%w: %s", ErrInvalidEntity, id)
	}
	rw := &r.rows[pos]
	return View{ID: rw.id, Mask: rw.mask, comps: rw.comps}, nil
}

// ChangedSince 版本号晚于 since 的组件
func (r *Registry) ChangedSince(id EntityID, since uint64) Mask {
	pos := r.lookup(id)
	if pos < 0 {
		return 0
	}
	rw := &r.rows[pos]
	var m Mask
	for _, k := range rw.mask.Kinds() {
		if rw.versions[k] > since {
			m.Set(k)
		}
	}
	return m
}

// Entities 按 id 升序返回存活实体
func (r *Registry) Entities() []EntityID {
	ids := make([]EntityID, 0, len(r.rows))
	for i := range r.rows {
		ids = append(ids, r.rows[i].id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}

// ForEach 按 id 升序遍历包含 mask 全部组件的实体
// 回调中可以安全地 Set/Destroy；已被销毁的实体会被跳过
func (r *Registry) ForEach(mask Mask, fn func(id EntityID)) {
	ids := make([]EntityID, 0, len(r.rows))
	for i := range r.rows {
		if r.rows[i].mask.ContainsAll(mask) {
			ids = append(ids, r.rows[i].id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	for _, id := range ids {
		if r.Alive(id) {
			fn(id)
		}
	}
}

// Reset 清空所有实体与系统
func (r *Registry) Reset() {
	*r = Registry{clock: r.clock, gens: r.gens, sparse: r.sparse}
	for i := range r.sparse {
		if r.sparse[i] >= 0 {
			r.sparse[i] = -1
			r.gens[i]++
			if r.gens[i] == 0 {
				r.gens[i] = 1
			}
		}
		r.free = append(r.free, uint32(i))
	}
	r.clock++
}
