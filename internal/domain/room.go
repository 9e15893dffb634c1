package domain

import "strconv"

type RoomID int64

func (id RoomID) String() string { return strconv.FormatInt(int64(id), 10) }

// Role is the local participant's role in a room.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleParticipant Role = "participant"
)

// Room is the room the local client is in. It lives for the duration of the
// session and is never persisted.
type Room struct {
	ID   RoomID
	Role Role
}
