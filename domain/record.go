// Package domain contains core concepts of the chat system:
// the wire record, sessions, and groups with their invariants.
// No runtime, network, or UI logic should be added here.
package domain

import "time"

// Kind enumerates every command and response a record can carry.
type Kind string

const (
	KindRegister      Kind = "register"
	KindLogin         Kind = "login"
	KindLogout        Kind = "logout"
	KindCreateGroup   Kind = "create_group"
	KindEnterGroup    Kind = "enter_group"
	KindLeaveGroup    Kind = "leave_group"
	KindDeleteGroup   Kind = "delete_group"
	KindMessage       Kind = "message"
	KindDirectMessage Kind = "direct_message"
	KindListGroups    Kind = "list_groups"
	KindListMembers   Kind = "list_members"
	KindSuccess       Kind = "success"
	KindError         Kind = "error"
	KindNotification  Kind = "notification"
)

// Field bounds, shared by server-side validation and the client.
const (
	MaxUsernameLength  = 32
	MaxPasswordLength  = 64
	MaxGroupNameLength = 32
	MaxTextLength      = 4096

	MinUsernameLength  = 3
	MinPasswordLength  = 4
	MinGroupNameLength = 3
)

// Record is the fixed-shape protocol unit: one record per transport message,
// both directions. Responses reuse the same shape with kind success, error
// or notification. Timestamp is server-stamped on broadcast chat content.
type Record struct {
	Kind      Kind      `json:"kind"`
	Username  string    `json:"username,omitempty"`
	Password  string    `json:"password,omitempty"`
	Group     string    `json:"group,omitempty"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewSuccess(text string) Record {
	return Record{Kind: KindSuccess, Text: text}
}

func NewError(text string) Record {
	return Record{Kind: KindError, Text: text}
}

func NewNotification(text string) Record {
	return Record{Kind: KindNotification, Text: text}
}
