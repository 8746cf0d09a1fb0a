package resource

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"netarena/ecs"
	"netarena/protocol"
)

var (
	ErrGameNotFound      = errors.New("game not found")
	ErrSceneNotFound     = errors.New("scene not found")
	ErrInvalidDefinition = errors.New("invalid game definition")
)

//go:embed game.schema.json
var gameSchemaText string

var (
	schemaOnce sync.Once
	gameSchema *jsonschema.Schema
	schemaErr  error
)

func schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		gameSchema, schemaErr = jsonschema.CompileString("netarena/game.schema.json", gameSchemaText)
	})
	return gameSchema, schemaErr
}

// Definition 游戏定义文件（YAML）
type Definition struct {
	Name           string                 `yaml:"name"`
	MinPlayers     int                    `yaml:"min_players"`
	MaxPlayers     int                    `yaml:"max_players"`
	StartScene     string                 `yaml:"start_scene"`
	PlayerTemplate string                 `yaml:"player_template"`
	Scenes         map[string]SceneDef    `yaml:"scenes"`
	Templates      map[string]TemplateDef `yaml:"templates"`
}

type SceneDef struct {
	Systems  []string `yaml:"systems"`
	Entities []string `yaml:"entities"`
}

// TemplateDef 组件块；缺省的块表示模板没有该组件
type TemplateDef struct {
	Transform *struct {
		Position []float32 `yaml:"position"`
		Rotation float32   `yaml:"rotation"`
		Scale    []float32 `yaml:"scale"`
	} `yaml:"transform"`
	Movable *struct {
		Velocity     []float32 `yaml:"velocity"`
		Acceleration []float32 `yaml:"acceleration"`
	} `yaml:"movable"`
	Control *struct {
		Up    bool    `yaml:"up"`
		Down  bool    `yaml:"down"`
		Left  bool    `yaml:"left"`
		Right bool    `yaml:"right"`
		Shoot bool    `yaml:"shoot"`
		Speed float32 `yaml:"speed"`
	} `yaml:"control"`
	Collider *struct {
		Size []float32 `yaml:"size"`
	} `yaml:"collider"`
	Health *struct {
		Max       int32 `yaml:"max"`
		Current   int32 `yaml:"current"`
		MaxShield int32 `yaml:"max_shield"`
		Shield    int32 `yaml:"shield"`
	} `yaml:"health"`
	Weapon *struct {
		FireRate float32 `yaml:"fire_rate"`
		Damage   int32   `yaml:"damage"`
		Level    uint16  `yaml:"level"`
	} `yaml:"weapon"`
	Tag string `yaml:"tag"`
}

// Game 解析并校验后的游戏，实现模板/场景/系统加载
// 加载后只读，可被多个房间并发使用
type Game struct {
	def       Definition
	templates map[string]ecs.Template
}

// Parse 先做 schema 校验，再解码并检查交叉引用
func Parse(data []byte) (*Game, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	// yaml 的 int/map 类型转换成 JSON 模型再交给 schema
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	var jdoc any
	if err := json.Unmarshal(raw, &jdoc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	s, err := schema()
	if err != nil {
		return nil, fmt.Errorf("compile game schema: %w", err)
	}
	if err := s.Validate(jdoc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return newGame(def)
}

// checkNames 名字会原样进入协议字符串字段，按字节限长（schema 的 maxLength 按字符计）
func checkNames(def Definition) error {
	long := func(what, name string) error {
		return fmt.Errorf("%w: %s: %s %q is %d bytes, limit %d", ErrInvalidDefinition, def.Name, what, name, len(name), protocol.MaxString)
	}
	if len(def.Name) > protocol.MaxString {
		return long("name", def.Name)
	}
	for name := range def.Scenes {
		if len(name) > protocol.MaxString {
			return long("scene", name)
		}
	}
	for name, td := range def.Templates {
		if len(name) > protocol.MaxString {
			return long("template", name)
		}
		if len(td.Tag) > protocol.MaxString {
			return long("tag", td.Tag)
		}
	}
	return nil
}

func newGame(def Definition) (*Game, error) {
	if err := checkNames(def); err != nil {
		return nil, err
	}
	if def.MinPlayers == 0 {
		def.MinPlayers = 1
	}
	if def.MinPlayers > def.MaxPlayers {
		return nil, fmt.Errorf("%w: %s: min_players %d > max_players %d", ErrInvalidDefinition, def.Name, def.MinPlayers, def.MaxPlayers)
	}
	if _, ok := def.Scenes[def.StartScene]; !ok {
		return nil, fmt.Errorf("%w: %s: start_scene %q not defined", ErrInvalidDefinition, def.Name, def.StartScene)
	}
	if _, ok := def.Templates[def.PlayerTemplate]; !ok {
		return nil, fmt.Errorf("%w: %s: player_template %q not defined", ErrInvalidDefinition, def.Name, def.PlayerTemplate)
	}
	for name, sc := range def.Scenes {
		for _, e := range sc.Entities {
			if _, ok := def.Templates[e]; !ok {
				return nil, fmt.Errorf("%w: %s: scene %q uses unknown template %q", ErrInvalidDefinition, def.Name, name, e)
			}
		}
		for _, sys := range sc.Systems {
			if _, err := ecs.Builtin(sys); err != nil {
				return nil, fmt.Errorf("%w: %s: scene %q: %v", ErrInvalidDefinition, def.Name, name, err)
			}
		}
	}

	g := &Game{def: def, templates: make(map[string]ecs.Template, len(def.Templates))}
	for name, td := range def.Templates {
		g.templates[name] = ecs.Template{Name: name, Components: td.components()}
	}
	return g, nil
}

func vec2(v []float32, def mgl32.Vec2) mgl32.Vec2 {
	if len(v) != 2 {
		return def
	}
	return mgl32.Vec2{v[0], v[1]}
}

func (td TemplateDef) components() []ecs.Component {
	var out []ecs.Component
	if c := td.Control; c != nil {
		out = append(out, ecs.Control{Up: c.Up, Down: c.Down, Left: c.Left, Right: c.Right, Shoot: c.Shoot, Speed: c.Speed})
	}
	if m := td.Movable; m != nil {
		out = append(out, ecs.Movable{Velocity: vec2(m.Velocity, mgl32.Vec2{}), Acceleration: vec2(m.Acceleration, mgl32.Vec2{})})
	}
	if t := td.Transform; t != nil {
		out = append(out, ecs.Transform{
			Position: vec2(t.Position, mgl32.Vec2{}),
			Rotation: t.Rotation,
			Scale:    vec2(t.Scale, mgl32.Vec2{1, 1}),
		})
	}
	if c := td.Collider; c != nil {
		out = append(out, ecs.Collider{Size: vec2(c.Size, mgl32.Vec2{})})
	}
	if h := td.Health; h != nil {
		out = append(out, ecs.Health{Max: h.Max, Current: h.Current, MaxShield: h.MaxShield, Shield: h.Shield})
	}
	if w := td.Weapon; w != nil {
		out = append(out, ecs.Weapon{FireRate: w.FireRate, Damage: w.Damage, Level: w.Level})
	}
	if td.Tag != "" {
		out = append(out, ecs.Tag{Name: td.Tag})
	}
	return out
}

func (g *Game) Name() string           { return g.def.Name }
func (g *Game) MinPlayers() int        { return g.def.MinPlayers }
func (g *Game) MaxPlayers() int        { return g.def.MaxPlayers }
func (g *Game) StartScene() string     { return g.def.StartScene }
func (g *Game) PlayerTemplate() string { return g.def.PlayerTemplate }

// LoadTemplate 返回模板副本，调用方可以随意追加组件
func (g *Game) LoadTemplate(name string) (ecs.Template, error) {
	t, ok := g.templates[name]
	if !ok {
		return ecs.Template{}, fmt.Errorf("%w: %q in game %s", ecs.ErrTemplateNotFound, name, g.def.Name)
	}
	t.Components = append([]ecs.Component(nil), t.Components...)
	return t, nil
}

func (g *Game) LoadScene(name string) (ecs.Scene, error) {
	sc, ok := g.def.Scenes[name]
	if !ok {
		return ecs.Scene{}, fmt.Errorf("%w: %q in game %s", ErrSceneNotFound, name, g.def.Name)
	}
	return ecs.Scene{
		Name:     name,
		Systems:  append([]string(nil), sc.Systems...),
		Entities: append([]string(nil), sc.Entities...),
	}, nil
}

// LoadSystems 按场景声明顺序解析内置系统
func (g *Game) LoadSystems(sc ecs.Scene) ([]ecs.NamedSystem, error) {
	out := make([]ecs.NamedSystem, 0, len(sc.Systems))
	for _, name := range sc.Systems {
		s, err := ecs.Builtin(name)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
