package models

import (
	"time"
)

// Participant is one connection joined to a room. A user reconnecting gets a
// new ConnectionID, so the two identifiers are tracked separately.
type Participant struct {
	UserID       string    `json:"user_id"`
	UserName     string    `json:"user_name"`
	ConnectionID string    `json:"connection_id"`
	JoinedAt     time.Time `json:"joined_at"`
}

// RoomState is a copy of a room taken under its lock.
type RoomState struct {
	SessionID    string        `json:"session_id"`
	Participants []Participant `json:"participants"`
	Content      string        `json:"content"`
	Revision     uint64        `json:"revision"`
	CreatedAt    time.Time     `json:"created_at"`
	LastActivity time.Time     `json:"last_activity"`
}

// Peers returns the participants other than the given connection.
func (s RoomState) Peers(connectionID string) []Participant {
	peers := make([]Participant, 0, len(s.Participants))
	for _, p := range s.Participants {
		if p.ConnectionID != connectionID {
			peers = append(peers, p)
		}
	}
	return peers
}

// Has reports whether the connection is a member of the room.
func (s RoomState) Has(connectionID string) bool {
	for _, p := range s.Participants {
		if p.ConnectionID == connectionID {
			return true
		}
	}
	return false
}

// UserInfo is the participant shape sent to clients.
type UserInfo struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ConnectionID string    `json:"connectionId"`
	JoinedAt     time.Time `json:"joinedAt"`
}

func NewUserInfo(p Participant) UserInfo {
	name := p.UserName
	if name == "" {
		name = "User " + p.UserID
	}
	return UserInfo{
		ID:           p.UserID,
		Name:         name,
		ConnectionID: p.ConnectionID,
		JoinedAt:     p.JoinedAt,
	}
}

// CursorPosition represents where a user's cursor is in the document
type CursorPosition struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// RegistryStats summarises the registry for operational endpoints.
type RegistryStats struct {
	TotalSessions     int      `json:"totalSessions"`
	TotalParticipants int      `json:"totalParticipants"`
	ActiveSessions    []string `json:"activeSessions"`
}
