package protocol

import "fmt"

// Status 回复中的结果码
type Status uint8

const (
	StatusOK Status = iota
	StatusNotFound
	StatusFull
	StatusWrongState
	StatusNotAuthorized
	StatusAlreadyRunning
	StatusSceneLoadFailed
	StatusNameTaken
	StatusQueued
	StatusTemplateNotFound
	StatusInvalidEntity
	StatusCapacity
	StatusBadCredentials
	StatusAccountExists
	StatusLoginRequired
	StatusInternal

	maxStatus
)

var statusNames = [...]string{
	StatusOK:               "OK",
	StatusNotFound:         "NOT_FOUND",
	StatusFull:             "FULL",
	StatusWrongState:       "WRONG_STATE",
	StatusNotAuthorized:    "NOT_AUTHORIZED",
	StatusAlreadyRunning:   "ALREADY_RUNNING",
	StatusSceneLoadFailed:  "SCENE_LOAD_FAILED",
	StatusNameTaken:        "NAME_TAKEN",
	StatusQueued:           "QUEUED",
	StatusTemplateNotFound: "TEMPLATE_NOT_FOUND",
	StatusInvalidEntity:    "INVALID_ENTITY",
	StatusCapacity:         "CAPACITY",
	StatusBadCredentials:   "BAD_CREDENTIALS",
	StatusAccountExists:    "ACCOUNT_EXISTS",
	StatusLoginRequired:    "LOGIN_REQUIRED",
	StatusInternal:         "INTERNAL",
}

func (s Status) Valid() bool { return s < maxStatus }

func (s Status) String() string {
	if s.Valid() {
		return statusNames[s]
	}
	return fmt.Sprintf("STATUS(%d)", uint8(s))
}

// DisconnectReason REP_DISCONNECT 的原因
type DisconnectReason uint8

const (
	ReasonRequested DisconnectReason = iota
	ReasonTimeout
	ReasonWarnings
	ReasonServerShutdown

	maxReason
)

func (r DisconnectReason) Valid() bool { return r < maxReason }

func (r DisconnectReason) String() string {
	switch r {
	case ReasonRequested:
		return "requested"
	case ReasonTimeout:
		return "timeout"
	case ReasonWarnings:
		return "warnings"
	case ReasonServerShutdown:
		return "server_shutdown"
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}
