package resource

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap/zaptest"

	"netarena/ecs"
)

const miniGame = `
name: mini
max_players: 2
start_scene: s
player_template: p
scenes:
  s:
    systems: [position]
    entities: [rock]
templates:
  p:
    transform: {position: [1, 2]}
    tag: player
  rock:
    collider: {size: [3, 4]}
`

func TestParseBundledArena(t *testing.T) {
	raw, err := os.ReadFile(filepath.Join("..", "games", "arena.yaml"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	g, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if g.Name() != "arena" || g.MaxPlayers() != 8 || g.PlayerTemplate() != "ship" {
		t.Fatalf("unexpected game: %s %d %s", g.Name(), g.MaxPlayers(), g.PlayerTemplate())
	}
	sc, err := g.LoadScene(g.StartScene())
	if err != nil {
		t.Fatalf("scene: %v", err)
	}
	systems, err := g.LoadSystems(sc)
	if err != nil || len(systems) != 3 || systems[0].Name != "control" {
		t.Fatalf("systems = %v err=%v", systems, err)
	}
}

func TestParseDefaultsAndComponents(t *testing.T) {
	g, err := Parse([]byte(miniGame))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if g.MinPlayers() != 1 {
		t.Fatalf("min players default = %d", g.MinPlayers())
	}
	tpl, err := g.LoadTemplate("p")
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	if len(tpl.Components) != 2 {
		t.Fatalf("components = %+v", tpl.Components)
	}
	tr, ok := tpl.Components[0].(ecs.Transform)
	if !ok || tr.Position != (mgl32.Vec2{1, 2}) || tr.Scale != (mgl32.Vec2{1, 1}) {
		t.Fatalf("transform = %+v", tpl.Components[0])
	}

	tpl.Components[0] = ecs.Tag{Name: "mutated"}
	again, _ := g.LoadTemplate("p")
	if _, ok := again.Components[0].(ecs.Transform); !ok {
		t.Fatalf("LoadTemplate returned shared storage")
	}

	if _, err := g.LoadTemplate("nope"); !errors.Is(err, ecs.ErrTemplateNotFound) {
		t.Fatalf("missing template err=%v", err)
	}
	if _, err := g.LoadScene("nope"); !errors.Is(err, ErrSceneNotFound) {
		t.Fatalf("missing scene err=%v", err)
	}
}

func TestParseRejectsInvalidDefinitions(t *testing.T) {
	cases := map[string]string{
		"not yaml":        "name: [",
		"missing fields":  "name: x\n",
		"unknown system":  "name: x\nmax_players: 1\nstart_scene: s\nplayer_template: p\nscenes: {s: {systems: [gravity]}}\ntemplates: {p: {}}\n",
		"bad vector":      "name: x\nmax_players: 1\nstart_scene: s\nplayer_template: p\nscenes: {s: {}}\ntemplates: {p: {transform: {position: [1]}}}\n",
		"unknown block":   "name: x\nmax_players: 1\nstart_scene: s\nplayer_template: p\nscenes: {s: {}}\ntemplates: {p: {shield: {}}}\n",
		"missing scene":   "name: x\nmax_players: 1\nstart_scene: other\nplayer_template: p\nscenes: {s: {}}\ntemplates: {p: {}}\n",
		"missing entity":  "name: x\nmax_players: 1\nstart_scene: s\nplayer_template: p\nscenes: {s: {entities: [ghost]}}\ntemplates: {p: {}}\n",
		"min above max":   "name: x\nmin_players: 3\nmax_players: 2\nstart_scene: s\nplayer_template: p\nscenes: {s: {}}\ntemplates: {p: {}}\n",
		"missing player":  "name: x\nmax_players: 1\nstart_scene: s\nplayer_template: q\nscenes: {s: {}}\ntemplates: {p: {}}\n",
		"zero max player": "name: x\nmax_players: 0\nstart_scene: s\nplayer_template: p\nscenes: {s: {}}\ntemplates: {p: {}}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); !errors.Is(err, ErrInvalidDefinition) {
				t.Fatalf("err=%v", err)
			}
		})
	}
}

func TestParseLimitsNamesInBytes(t *testing.T) {
	doc := func(tpl, tag string) string {
		return "name: x\nmax_players: 1\nstart_scene: s\nplayer_template: " + tpl +
			"\nscenes: {s: {entities: [" + tpl + "]}}\ntemplates: {" + tpl + ": {tag: " + tag + "}}\n"
	}
	// 每个字符 3 字节，字符数在 schema 限制内
	long := strings.Repeat("船", 200)
	for name, body := range map[string]string{
		"tag":      doc("p", long),
		"template": doc(strings.Repeat("船", 100), "ship"),
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(body)); !errors.Is(err, ErrInvalidDefinition) {
				t.Fatalf("err=%v", err)
			}
		})
	}

	g, err := Parse([]byte(doc("p", strings.Repeat("船", 85))))
	if err != nil {
		t.Fatalf("255-byte tag rejected: %v", err)
	}
	tpl, _ := g.LoadTemplate("p")
	if tag := tpl.Components[0].(ecs.Tag); len(tag.Name) != 255 {
		t.Fatalf("tag = %d bytes", len(tag.Name))
	}
}

func TestLoadDirSkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	write("mini.yaml", miniGame)
	write("broken.yaml", "name: [")
	write("notes.txt", "ignored")
	write("dup.yml", miniGame)

	c, err := LoadDir(dir, zaptest.NewLogger(t).Sugar())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Len() != 1 || c.Names()[0] != "mini" {
		t.Fatalf("catalog = %v", c.Names())
	}
	if _, err := c.Get("arena"); !errors.Is(err, ErrGameNotFound) {
		t.Fatalf("missing game err=%v", err)
	}
	if _, err := LoadDir(filepath.Join(dir, "missing"), nil); err == nil {
		t.Fatalf("missing dir loaded")
	}
}
