package rendezvous

import "github.com/dkeye/commonroom/internal/domain"

// enterRequest is either a named enter {user, subject} or a pairing {users:[a,b]}.
type enterRequest struct {
	User    domain.UserID   `json:"user"`
	Subject string          `json:"subject"`
	Users   []domain.UserID `json:"users"`
}

type leaveRequest struct {
	User domain.UserID `json:"user"`
}

// EnterNotice is published on user/<id>/enter-jitsi-room.
type EnterNotice struct {
	RoomName domain.VideoSessionID `json:"room_name"`
	URL      string                `json:"url"`
	Password string                `json:"password"`
	Subject  string                `json:"subject"`
	JWT      string                `json:"jwt,omitempty"`
}

// LeaveNotice is published on user/<id>/leave_jitsi_room. RoomName lets a
// client that already moved on ignore a late notice for its previous session.
type LeaveNotice struct {
	RoomName domain.VideoSessionID `json:"room_name"`
}

// Roster is published on jitsi-rooms/<id>/user-list.
type Roster struct {
	Users []domain.UserID `json:"users"`
}

// SessionInfo is the public view of a live session. Secrets are left out.
type SessionInfo struct {
	ID      domain.VideoSessionID `json:"id"`
	Subject string                `json:"subject"`
	Members []domain.UserID       `json:"members"`
}
