package models

import "time"

// Role is the account role stored with each user.
type Role int

const (
	RoleStandard Role = 0
	RoleAdmin    Role = 1
)

// Capability names a privileged action a role may or may not perform.
type Capability int

const (
	CapDeleteUsers Capability = iota
)

// Can reports whether the role is allowed to perform the capability.
// Privileged handlers go through here instead of comparing role values.
func (r Role) Can(c Capability) bool {
	switch c {
	case CapDeleteUsers:
		return r == RoleAdmin
	}
	return false
}

// Visibility is the audience tier attached to a post.
type Visibility int

const (
	VisibilityPublic  Visibility = 0
	VisibilityFriends Visibility = 1
	VisibilityClose   Visibility = 2
)

// ParseVisibility maps the wire keyword to a tier, defaulting to public.
func ParseVisibility(s string) Visibility {
	switch s {
	case "friends":
		return VisibilityFriends
	case "close":
		return VisibilityClose
	}
	return VisibilityPublic
}

// Label renders the tier tag used in feed and profile output.
func (v Visibility) Label() string {
	switch v {
	case VisibilityFriends:
		return "[Friends]"
	case VisibilityClose:
		return "[Close]"
	}
	return "[Public]"
}

// FriendKind distinguishes normal friends from close friends. Set by the
// requester, it gates the close visibility tier once the request is accepted.
type FriendKind int

const (
	FriendNormal FriendKind = 0
	FriendClose  FriendKind = 1
)

func ParseFriendKind(s string) FriendKind {
	if s == "close" {
		return FriendClose
	}
	return FriendNormal
}

// FriendStatus is the lifecycle state of a friendship row. Rows are created
// pending and may only ever move to accepted.
type FriendStatus int

const (
	FriendPending  FriendStatus = 0
	FriendAccepted FriendStatus = 1
)

type User struct {
	ID       int64
	Username string
	Role     Role
}

// Friendship is an ordered pair: the requester opened the request towards
// the target. At most one row exists per ordered pair.
type Friendship struct {
	Requester string
	Target    string
	Status    FriendStatus
	Kind      FriendKind
}

type Post struct {
	ID         int64
	Author     string
	Content    string
	Visibility Visibility
}

type Group struct {
	ID        int64
	Name      string
	CreatedBy string
}

// OfflineMessage is a queued delivery for a user who was not connected at
// send time. GroupID is meaningful only when IsGroup is set.
type OfflineMessage struct {
	ID        int64
	Target    string
	Sender    string
	Content   string
	Timestamp time.Time
	IsGroup   bool
	GroupID   int64
}
