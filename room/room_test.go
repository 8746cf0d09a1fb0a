package room

import (
	"errors"
	"fmt"
	"net/netip"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap/zaptest"

	"netarena/ecs"
	"netarena/input"
	"netarena/protocol"
	"netarena/resource"
	"netarena/session"
)

const testGame = `
name: duel
max_players: 3
start_scene: main
player_template: pilot
scenes:
  main:
    systems: [control, position, health]
    entities: [rock]
templates:
  pilot:
    transform: {position: [0, 0]}
    movable: {}
    control: {up: true, down: true, left: true, right: true, shoot: true, speed: 2}
    weapon: {fire_rate: 1, damage: 5, level: 1}
    health: {max: 10, current: 10}
  rock:
    transform: {position: [5, 5]}
  mine:
    health: {max: 1, current: 1}
`

var now = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	sessions *session.Manager
	rooms    *Manager
}

func newFixture(t *testing.T, games ...Game) *fixture {
	t.Helper()
	g, err := resource.Parse([]byte(testGame))
	if err != nil {
		t.Fatalf("parse game: %v", err)
	}
	byName := map[string]Game{g.Name(): g}
	for _, extra := range games {
		byName[extra.Name()] = extra
	}
	log := zaptest.NewLogger(t).Sugar()
	sm := session.NewManager(session.Config{}, log)
	resolve := func(name string) (Game, error) {
		if g, ok := byName[name]; ok {
			return g, nil
		}
		return nil, fmt.Errorf("no game %q", name)
	}
	return &fixture{
		sessions: sm,
		rooms:    NewManager(Config{DefaultGame: "duel", DefaultCapacity: 2}, sm, resolve, log),
	}
}

func (f *fixture) connect(t *testing.T, port uint16) session.ID {
	t.Helper()
	s, _, err := f.sessions.GetOrCreate(netip.AddrPortFrom(netip.MustParseAddr("10.0.0.1"), port), protocol.V1, "", now)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	return s.ID
}

func (f *fixture) session(sid session.ID) *session.Session {
	s, _ := f.sessions.LookupID(sid)
	return s
}

func filter(out []Outbound, to session.ID, id protocol.CommandID) []Outbound {
	var res []Outbound
	for _, o := range out {
		if o.To == to && o.ID == id {
			res = append(res, o)
		}
	}
	return res
}

func entityOf(o Outbound) ecs.EntityID {
	switch p := o.Payload.(type) {
	case *protocol.EntityState:
		return p.Entity
	case *protocol.EntityEvent:
		return p.Entity
	}
	return ecs.EntityID{}
}

func TestRoomLifecycle(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.connect(t, 1), f.connect(t, 2), f.connect(t, 3)

	r, err := f.rooms.CreateRoom("", "", 10, now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.Name != "room-1" || r.Capacity != 3 || r.State != Waiting {
		t.Fatalf("room = %s cap=%d state=%s", r.Name, r.Capacity, r.State)
	}
	if _, err := f.rooms.CreateRoom("room-1", "", 0, now); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("duplicate name err=%v", err)
	}
	if _, err := f.rooms.CreateRoom("x", "chess", 0, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown game err=%v", err)
	}

	if _, err := f.rooms.Join(a, "room-1"); err != nil {
		t.Fatalf("join a: %v", err)
	}
	if _, err := f.rooms.Join(b, "room-1"); err != nil {
		t.Fatalf("join b: %v", err)
	}
	if _, err := f.rooms.Join(b, "room-1"); err != nil {
		t.Fatalf("rejoin is idempotent: %v", err)
	}
	if _, err := f.rooms.Join(a, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing room err=%v", err)
	}
	if r.Host() != a || r.Members() != 2 {
		t.Fatalf("host=%s members=%d", r.Host(), r.Members())
	}

	if _, err := f.rooms.StartGame(b, "room-1", now); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("non-host start err=%v", err)
	}
	if _, err := f.rooms.StartGame(c, "room-1", now); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("non-member start err=%v", err)
	}
	if _, err := f.rooms.StartGame(a, "room-1", now); err != nil {
		t.Fatalf("start: %v", err)
	}
	out := f.rooms.TakeOutbound()
	if len(filter(out, a, protocol.RepStartGame)) != 1 || len(filter(out, b, protocol.RepStartGame)) != 1 {
		t.Fatalf("start not broadcast: %+v", out)
	}
	if f.session(a).Entity.IsNil() || f.session(b).Entity.IsNil() {
		t.Fatalf("player entities not assigned")
	}
	if _, err := f.rooms.StartGame(a, "room-1", now); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("double start err=%v", err)
	}
	if _, err := f.rooms.Join(c, "room-1"); !errors.Is(err, ErrWrongState) {
		t.Fatalf("join running err=%v", err)
	}

	f.rooms.Step(0.05)
	out = f.rooms.TakeOutbound()
	// rock + two pilots
	if n := len(filter(out, a, protocol.RepEntitySpawn)); n != 3 {
		t.Fatalf("a got %d spawns", n)
	}
	if n := len(filter(out, b, protocol.RepEntitySpawn)); n != 3 {
		t.Fatalf("b got %d spawns", n)
	}

	if _, err := f.rooms.EndGame(b, "room-1"); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("non-host end err=%v", err)
	}
	if _, err := f.rooms.EndGame(a, "room-1"); err != nil {
		t.Fatalf("end: %v", err)
	}
	if n := len(filter(f.rooms.TakeOutbound(), b, protocol.RepEndGame)); n != 1 {
		t.Fatalf("end not broadcast")
	}
	if n := f.rooms.Sweep(); n != 1 || f.rooms.Len() != 0 {
		t.Fatalf("sweep removed %d, left %d", n, f.rooms.Len())
	}
	if !f.session(a).Room.IsNil() || !f.session(a).Entity.IsNil() {
		t.Fatalf("session refs not cleared")
	}

	kinds := map[EventKind]int{}
	for _, ev := range f.rooms.TakeEvents() {
		kinds[ev.Kind]++
	}
	if kinds[EventCreated] != 1 || kinds[EventStarted] != 1 || kinds[EventEnded] != 1 || kinds[EventRemoved] != 1 {
		t.Fatalf("events = %v", kinds)
	}
}

func TestJoinRules(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.connect(t, 1), f.connect(t, 2), f.connect(t, 3)
	_, _ = f.rooms.CreateRoom("small", "", 2, now)
	_, _ = f.rooms.CreateRoom("other", "", 2, now)
	_, _ = f.rooms.Join(a, "small")
	_, _ = f.rooms.Join(b, "small")
	if _, err := f.rooms.Join(c, "small"); !errors.Is(err, ErrFull) {
		t.Fatalf("full err=%v", err)
	}
	if _, err := f.rooms.Join(a, "other"); !errors.Is(err, ErrWrongState) {
		t.Fatalf("second room err=%v", err)
	}
}

func TestLeaveMigratesHostAndRemovesEmptyRoom(t *testing.T) {
	f := newFixture(t)
	a, b := f.connect(t, 1), f.connect(t, 2)
	r, _ := f.rooms.CreateRoom("lobby", "", 3, now)
	_, _ = f.rooms.Join(a, "lobby")
	_, _ = f.rooms.Join(b, "lobby")

	if _, err := f.rooms.Leave(a); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if r.Host() != b {
		t.Fatalf("host not migrated: %s", r.Host())
	}
	if _, err := f.rooms.Leave(a); err != nil {
		t.Fatalf("second leave should be a no-op: %v", err)
	}
	_, _ = f.rooms.Leave(b)
	if _, ok := f.rooms.Get("lobby"); ok {
		t.Fatalf("empty room not removed")
	}
	if _, err := f.rooms.StartGame(b, "lobby", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("start removed room err=%v", err)
	}
}

func TestReplicationMovedUpdateDestroyAndSlotReuse(t *testing.T) {
	f := newFixture(t)
	a, b, c := f.connect(t, 1), f.connect(t, 2), f.connect(t, 3)
	r, _ := f.rooms.CreateRoom("arena", "", 3, now)
	for _, sid := range []session.ID{a, b, c} {
		if _, err := f.rooms.Join(sid, "arena"); err != nil {
			t.Fatalf("join: %v", err)
		}
	}
	if _, err := f.rooms.StartGame(a, "arena", now); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.rooms.Step(0.5)
	f.rooms.TakeOutbound()

	// Nothing changed: no traffic.
	f.rooms.Step(0.5)
	if out := f.rooms.TakeOutbound(); len(out) != 0 {
		t.Fatalf("idle step produced %d messages", len(out))
	}

	pa := f.session(a).Entity
	if err := f.rooms.ApplyInput(a, []input.Event{{ID: input.MoveRight, State: input.Pressed}}, nil); err != nil {
		t.Fatalf("input: %v", err)
	}
	f.rooms.Step(0.5)
	out := f.rooms.TakeOutbound()
	moved := filter(out, c, protocol.RepEntityMoved)
	if len(moved) != 1 || entityOf(moved[0]) != pa {
		t.Fatalf("moved = %+v", moved)
	}
	if len(filter(out, c, protocol.RepEntityUpdate)) != 0 {
		t.Fatalf("motion-only change sent as update")
	}
	tr, _ := ecs.Get[ecs.Transform](r.Registry(), pa)
	if tr.Position != (mgl32.Vec2{1, 0}) {
		t.Fatalf("position = %v", tr.Position)
	}

	h, _ := ecs.Get[ecs.Health](r.Registry(), pa)
	h.Current = 7
	_ = r.Registry().Set(pa, h)
	_ = f.rooms.ApplyInput(a, []input.Event{{ID: input.MoveRight, State: input.Released}}, nil)
	f.rooms.Step(0.5)
	upd := filter(f.rooms.TakeOutbound(), c, protocol.RepEntityUpdate)
	if len(upd) != 1 {
		t.Fatalf("health change not sent as update: %+v", upd)
	}

	// a leaves: its pilot is destroyed; b spawns an entity into the freed slot.
	_, _ = f.rooms.Leave(a)
	st, err := f.rooms.SpawnFor(b, "mine")
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if st.Entity.Index != pa.Index || st.Entity == pa {
		t.Fatalf("expected slot reuse with new generation: %s vs %s", st.Entity, pa)
	}
	f.rooms.Step(0.05)
	out = f.rooms.TakeOutbound()
	destroys := filter(out, c, protocol.RepEntityDestroy)
	if len(destroys) != 1 || entityOf(destroys[0]) != pa {
		t.Fatalf("c destroys = %+v", destroys)
	}
	spawns := filter(out, c, protocol.RepEntitySpawn)
	if len(spawns) != 1 || entityOf(spawns[0]) != st.Entity {
		t.Fatalf("c spawns = %+v", spawns)
	}
	for _, o := range filter(out, c, protocol.RepEntityUpdate) {
		if entityOf(o).Index == pa.Index {
			t.Fatalf("reused slot sent as update")
		}
	}
	if n := len(filter(out, b, protocol.RepEntitySpawn)); n != 0 {
		t.Fatalf("requester got %d duplicate spawns", n)
	}
	f.rooms.Step(0.05)
	if n := len(filter(f.rooms.TakeOutbound(), c, protocol.RepEntityDestroy)); n != 0 {
		t.Fatalf("destroy repeated")
	}
}

func TestEntityRequests(t *testing.T) {
	f := newFixture(t)
	a, b := f.connect(t, 1), f.connect(t, 2)
	_, _ = f.rooms.CreateRoom("arena", "", 2, now)
	_, _ = f.rooms.Join(a, "arena")
	if _, err := f.rooms.SpawnFor(a, "mine"); !errors.Is(err, ErrWrongState) {
		t.Fatalf("spawn while waiting err=%v", err)
	}
	_, _ = f.rooms.Join(b, "arena")
	_, _ = f.rooms.StartGame(a, "arena", now)
	f.rooms.Step(0.05)
	f.rooms.TakeOutbound()

	if _, err := f.rooms.SpawnFor(a, "ghost"); !errors.Is(err, ecs.ErrTemplateNotFound) {
		t.Fatalf("missing template err=%v", err)
	}
	pb := f.session(b).Entity
	if err := f.rooms.DestroyOwned(a, pb); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("destroy foreign err=%v", err)
	}
	if _, err := f.rooms.Resync(a, ecs.EntityID{Index: 99, Generation: 1}); !errors.Is(err, ecs.ErrInvalidEntity) {
		t.Fatalf("resync unknown err=%v", err)
	}
	if st, err := f.rooms.Resync(a, pb); err != nil || len(st.Components) == 0 {
		t.Fatalf("resync: %+v %v", st, err)
	}

	pa := f.session(a).Entity
	if err := f.rooms.Shoot(a, pa); err != nil {
		t.Fatalf("shoot: %v", err)
	}
	f.rooms.Step(0.05)
	out := f.rooms.TakeOutbound()
	if shots := filter(out, b, protocol.RepEntityShoot); len(shots) != 1 || entityOf(shots[0]) != pa {
		t.Fatalf("shot not broadcast: %+v", shots)
	}

	if err := f.rooms.DestroyOwned(a, pa); err != nil {
		t.Fatalf("destroy own: %v", err)
	}
	f.rooms.Step(0.05)
	out = f.rooms.TakeOutbound()
	if n := len(filter(out, a, protocol.RepEntityDestroy)); n != 0 {
		t.Fatalf("requester got %d replicated destroys", n)
	}
	if n := len(filter(out, b, protocol.RepEntityDestroy)); n != 1 {
		t.Fatalf("b got %d destroys", n)
	}
	if err := f.rooms.ApplyInput(a, nil, map[input.EventID]float32{input.MoveLeft: 1}); !errors.Is(err, ecs.ErrInvalidEntity) {
		t.Fatalf("input without entity err=%v", err)
	}
}

func TestMatchmakingArrivalOrder(t *testing.T) {
	f := newFixture(t)
	s1, s2, s3 := f.connect(t, 1), f.connect(t, 2), f.connect(t, 3)
	if p := f.rooms.Enqueue(s1); p != 0 {
		t.Fatalf("s1 pos %d", p)
	}
	f.rooms.Enqueue(s2)
	f.rooms.Enqueue(s3)
	if p := f.rooms.Enqueue(s2); p != 1 {
		t.Fatalf("re-enqueue moved s2 to %d", p)
	}
	if f.rooms.Matchmake() != 0 {
		t.Fatalf("placed without rooms")
	}

	_, _ = f.rooms.CreateRoom("older", "", 1, now)
	_, _ = f.rooms.CreateRoom("newer", "", 1, now.Add(time.Second))
	if n := f.rooms.Matchmake(); n != 2 {
		t.Fatalf("placed %d", n)
	}
	if r, _ := f.rooms.RoomOf(s1); r == nil || r.Name != "older" {
		t.Fatalf("s1 not in oldest room")
	}
	if r, _ := f.rooms.RoomOf(s2); r == nil || r.Name != "newer" {
		t.Fatalf("s2 not in newer room")
	}
	if p := f.rooms.IndexInWaitingQueue(s3); p != 0 {
		t.Fatalf("s3 position %d", p)
	}
	if p := f.rooms.IndexInWaitingQueue(s1); p != -1 {
		t.Fatalf("placed session still queued at %d", p)
	}
	out := f.rooms.TakeOutbound()
	if len(filter(out, s1, protocol.RepJoinRoom)) != 1 || len(filter(out, s3, protocol.RepJoinRoom)) != 0 {
		t.Fatalf("join notifications = %+v", out)
	}
}

func TestSpawnBeforeFirstStepIsNotReplicatedBack(t *testing.T) {
	f := newFixture(t)
	a, b := f.connect(t, 1), f.connect(t, 2)
	_, _ = f.rooms.CreateRoom("arena", "", 2, now)
	_, _ = f.rooms.Join(a, "arena")
	_, _ = f.rooms.Join(b, "arena")
	if _, err := f.rooms.StartGame(a, "arena", now); err != nil {
		t.Fatalf("start: %v", err)
	}
	st, err := f.rooms.SpawnFor(a, "mine")
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	f.rooms.Step(0.05)
	out := f.rooms.TakeOutbound()
	for _, o := range filter(out, a, protocol.RepEntitySpawn) {
		if entityOf(o) == st.Entity {
			t.Fatalf("requester got a replicated spawn for %s", st.Entity)
		}
	}
	// 场景 1 个实体 + 两名玩家，b 还能看到新生成的 mine
	if n := len(filter(out, a, protocol.RepEntitySpawn)); n != 3 {
		t.Fatalf("a got %d spawns", n)
	}
	if n := len(filter(out, b, protocol.RepEntitySpawn)); n != 4 {
		t.Fatalf("b got %d spawns", n)
	}
}

func TestMatchmakeLeavesEndedRoom(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, 1)
	_, _ = f.rooms.CreateRoom("done", "", 1, now)
	_, _ = f.rooms.Join(a, "done")
	_, _ = f.rooms.StartGame(a, "done", now)
	if _, err := f.rooms.EndGame(a, "done"); err != nil {
		t.Fatalf("end: %v", err)
	}
	f.rooms.TakeOutbound()

	f.rooms.Enqueue(a)
	if f.rooms.Matchmake() != 0 {
		t.Fatalf("placed without an open room")
	}
	if p := f.rooms.IndexInWaitingQueue(a); p != 0 {
		t.Fatalf("session in ended room dropped from queue (pos %d)", p)
	}

	_, _ = f.rooms.CreateRoom("next", "", 2, now.Add(time.Second))
	if n := f.rooms.Matchmake(); n != 1 {
		t.Fatalf("placed %d", n)
	}
	if r, _ := f.rooms.RoomOf(a); r == nil || r.Name != "next" {
		t.Fatalf("a not moved to next room")
	}
	if len(filter(f.rooms.TakeOutbound(), a, protocol.RepJoinRoom)) != 1 {
		t.Fatalf("a never told it joined")
	}
}

type brokenGame struct {
	name      string
	systems   []ecs.NamedSystem
	badPlayer bool
}

func (g brokenGame) Name() string           { return g.name }
func (g brokenGame) MinPlayers() int        { return 1 }
func (g brokenGame) MaxPlayers() int        { return 4 }
func (g brokenGame) StartScene() string     { return "s" }
func (g brokenGame) PlayerTemplate() string { return "p" }

func (g brokenGame) LoadTemplate(name string) (ecs.Template, error) {
	if name == "p" && g.badPlayer {
		return ecs.Template{}, fmt.Errorf("%w: %q", ecs.ErrTemplateNotFound, name)
	}
	return ecs.Template{Name: name, Components: []ecs.Component{ecs.Tag{Name: name}}}, nil
}

func (g brokenGame) LoadScene(name string) (ecs.Scene, error) {
	return ecs.Scene{Name: name, Entities: []string{"rock"}}, nil
}

func (g brokenGame) LoadSystems(ecs.Scene) ([]ecs.NamedSystem, error) { return g.systems, nil }

func TestStartGameLoadFailureResetsRegistry(t *testing.T) {
	f := newFixture(t, brokenGame{name: "broken", badPlayer: true})
	a := f.connect(t, 1)
	r, _ := f.rooms.CreateRoom("b", "broken", 2, now)
	_, _ = f.rooms.Join(a, "b")
	if _, err := f.rooms.StartGame(a, "b", now); !errors.Is(err, ErrSceneLoadFailed) {
		t.Fatalf("err=%v", err)
	}
	if r.State != Waiting || r.Registry().Len() != 0 || len(r.Registry().Systems()) != 0 {
		t.Fatalf("failed load left state: %s entities=%d", r.State, r.Registry().Len())
	}
	if !f.session(a).Entity.IsNil() {
		t.Fatalf("session kept an entity")
	}
}

func TestStepPanicEndsOnlyThatRoom(t *testing.T) {
	boom := ecs.NamedSystem{Name: "boom", Run: func(*ecs.Registry, float32) { panic("boom") }}
	f := newFixture(t, brokenGame{name: "panicky", systems: []ecs.NamedSystem{boom}})
	a, b := f.connect(t, 1), f.connect(t, 2)
	bad, _ := f.rooms.CreateRoom("bad", "panicky", 2, now)
	good, _ := f.rooms.CreateRoom("good", "", 2, now)
	_, _ = f.rooms.Join(a, "bad")
	_, _ = f.rooms.Join(b, "good")
	_, _ = f.rooms.StartGame(a, "bad", now)
	_, _ = f.rooms.StartGame(b, "good", now)
	f.rooms.TakeOutbound()

	f.rooms.Step(0.05)
	if bad.State != Ended || good.State != Running {
		t.Fatalf("states: bad=%s good=%s", bad.State, good.State)
	}
	out := f.rooms.TakeOutbound()
	ends := filter(out, a, protocol.RepEndGame)
	if len(ends) != 1 || ends[0].Payload.(*protocol.RoomReply).Status != protocol.StatusInternal {
		t.Fatalf("end notice = %+v", ends)
	}
	if len(filter(out, b, protocol.RepEntitySpawn)) == 0 {
		t.Fatalf("healthy room did not replicate")
	}
}
