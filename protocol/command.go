package protocol

import "fmt"

// Version 协议版本，位于包头第一个字节
type Version uint8

const (
	V0 Version = 0
	V1 Version = 1

	// Current 新客户端默认使用的版本
	Current = V1
)

func (v Version) Valid() bool { return v == V0 || v == V1 }

func (v Version) String() string { return fmt.Sprintf("v%d", uint8(v)) }

// CommandID 命令 id，即包头中的线上数值；各版本合法集合见 versionTables
type CommandID uint8

const (
	ReqConnect CommandID = iota + 1
	RepConnect
	ReqDisconnect
	RepDisconnect
	ReqPing
	RepPing
	ReqPong
	RepPong
	ReqHeartbeat
	RepHeartbeat
	ReqLogin
	RepLogin
	ReqLogout
	RepLogout
	ReqRegister
	RepRegister
	ReqEntitySpawn
	RepEntitySpawn
	ReqEntityUpdate
	RepEntityUpdate
	ReqEntityDestroy
	RepEntityDestroy
	ReqEntityMoved
	RepEntityMoved
	ReqEntityShoot
	RepEntityShoot
	ReqUserUpdate
	RepUserUpdate
	ReqUserUpdates
	RepUserUpdates
	ReqCreateRoom
	RepCreateRoom
	ReqJoinRoom
	RepJoinRoom
	ReqLeaveRoom
	RepLeaveRoom
	ReqStartGame
	RepStartGame
	ReqEndGame
	RepEndGame

	maxCommandID
)

var commandNames = [...]string{
	ReqConnect:       "REQ_CONNECT",
	RepConnect:       "REP_CONNECT",
	ReqDisconnect:    "REQ_DISCONNECT",
	RepDisconnect:    "REP_DISCONNECT",
	ReqPing:          "REQ_PING",
	RepPing:          "REP_PING",
	ReqPong:          "REQ_PONG",
	RepPong:          "REP_PONG",
	ReqHeartbeat:     "REQ_HEARTBEAT",
	RepHeartbeat:     "REP_HEARTBEAT",
	ReqLogin:         "REQ_LOGIN",
	RepLogin:         "REP_LOGIN",
	ReqLogout:        "REQ_LOGOUT",
	RepLogout:        "REP_LOGOUT",
	ReqRegister:      "REQ_REGISTER",
	RepRegister:      "REP_REGISTER",
	ReqEntitySpawn:   "REQ_ENTITY_SPAWN",
	RepEntitySpawn:   "REP_ENTITY_SPAWN",
	ReqEntityUpdate:  "REQ_ENTITY_UPDATE",
	RepEntityUpdate:  "REP_ENTITY_UPDATE",
	ReqEntityDestroy: "REQ_ENTITY_DESTROY",
	RepEntityDestroy: "REP_ENTITY_DESTROY",
	ReqEntityMoved:   "REQ_ENTITY_MOVED",
	RepEntityMoved:   "REP_ENTITY_MOVED",
	ReqEntityShoot:   "REQ_ENTITY_SHOOT",
	RepEntityShoot:   "REP_ENTITY_SHOOT",
	ReqUserUpdate:    "REQ_USER_UPDATE",
	RepUserUpdate:    "REP_USER_UPDATE",
	ReqUserUpdates:   "REQ_USER_UPDATES",
	RepUserUpdates:   "REP_USER_UPDATES",
	ReqCreateRoom:    "REQ_CREATE_ROOM",
	RepCreateRoom:    "REP_CREATE_ROOM",
	ReqJoinRoom:      "REQ_JOIN_ROOM",
	RepJoinRoom:      "REP_JOIN_ROOM",
	ReqLeaveRoom:     "REQ_LEAVE_ROOM",
	RepLeaveRoom:     "REP_LEAVE_ROOM",
	ReqStartGame:     "REQ_START_GAME",
	RepStartGame:     "REP_START_GAME",
	ReqEndGame:       "REQ_END_GAME",
	RepEndGame:       "REP_END_GAME",
}

func (id CommandID) String() string {
	if id > 0 && id < maxCommandID {
		return commandNames[id]
	}
	return fmt.Sprintf("COMMAND(%d)", uint8(id))
}

// IsRequest REQ_* 为客户端到服务端
func (id CommandID) IsRequest() bool {
	return id > 0 && id < maxCommandID && id%2 == 1
}

// versionTables 每个版本合法的命令集合；线上数值即 CommandID，版本间共享编号
var versionTables = map[Version][]CommandID{
	V0: {
		ReqConnect, RepConnect,
		ReqDisconnect, RepDisconnect,
		ReqPing, RepPing,
		ReqPong, RepPong,
		ReqHeartbeat, RepHeartbeat,
		ReqLogin, RepLogin,
		ReqLogout, RepLogout,
		ReqRegister, RepRegister,
		ReqEntitySpawn, RepEntitySpawn,
		ReqEntityUpdate, RepEntityUpdate,
		ReqEntityDestroy, RepEntityDestroy,
		ReqEntityMoved, RepEntityMoved,
		ReqEntityShoot, RepEntityShoot,
		ReqUserUpdate, RepUserUpdate,
		ReqCreateRoom, RepCreateRoom,
		ReqJoinRoom, RepJoinRoom,
		ReqLeaveRoom, RepLeaveRoom,
		ReqStartGame, RepStartGame,
		ReqEndGame, RepEndGame,
	},
	V1: {
		ReqConnect, RepConnect,
		ReqDisconnect, RepDisconnect,
		ReqHeartbeat, RepHeartbeat,
		ReqLogin, RepLogin,
		ReqLogout, RepLogout,
		ReqRegister, RepRegister,
		ReqEntitySpawn, RepEntitySpawn,
		ReqEntityUpdate, RepEntityUpdate,
		ReqEntityDestroy, RepEntityDestroy,
		ReqEntityMoved, RepEntityMoved,
		ReqEntityShoot, RepEntityShoot,
		ReqUserUpdates, RepUserUpdates,
		ReqCreateRoom, RepCreateRoom,
		ReqJoinRoom, RepJoinRoom,
		ReqLeaveRoom, RepLeaveRoom,
		ReqStartGame, RepStartGame,
		ReqEndGame, RepEndGame,
	},
}

var supported = map[Version]map[CommandID]bool{}

func init() {
	for v, table := range versionTables {
		m := make(map[CommandID]bool, len(table))
		for _, id := range table {
			m[id] = true
		}
		supported[v] = m
	}
}

// Commands 某版本合法的全部命令，按 id 升序
func (v Version) Commands() []CommandID {
	return append([]CommandID(nil), versionTables[v]...)
}

// Supports 命令在该版本中是否合法
func (v Version) Supports(id CommandID) bool {
	return supported[v][id]
}

func (v Version) wireID(id CommandID) (uint16, bool) {
	return uint16(id), v.Supports(id)
}

func (v Version) command(wire uint16) (CommandID, bool) {
	if wire >= uint16(maxCommandID) {
		return 0, false
	}
	id := CommandID(wire)
	return id, v.Supports(id)
}

// UserUpdateReply 该版本对输入命令的回复 id
func (v Version) UserUpdateReply() CommandID {
	if v == V0 {
		return RepUserUpdate
	}
	return RepUserUpdates
}

// Priority 包头中的优先级（只作提示，服务端不据此重排）
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// Command 解码后的命令：id + 版本 + 载荷（按 id 决定具体类型）
type Command struct {
	ID       CommandID
	Version  Version
	Priority Priority
	Sequence uint32
	Payload  Payload
}

func (c Command) String() string {
	return fmt.Sprintf("%s/%s seq=%d", c.ID, c.Version, c.Sequence)
}
