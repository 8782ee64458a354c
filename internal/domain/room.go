package domain

import (
	"errors"
	"strings"
)

var (
	ErrRoomNameEmpty   = errors.New("room name empty")
	ErrRoomNameInvalid = errors.New("room name invalid")
)

const MaxRoomNameLen = 128

type (
	RoomName       string
	VideoSessionID string
)

// PrivateSession is the reserved session name that asks the broker to mint a fresh pairing.
const PrivateSession VideoSessionID = "_private"

// ValidateRoomName rejects names that would escape their topic level.
func ValidateRoomName(name string) error {
	if name == "" {
		return ErrRoomNameEmpty
	}
	if len(name) > MaxRoomNameLen || strings.ContainsAny(name, "/+#") {
		return ErrRoomNameInvalid
	}
	return nil
}

// VideoSession is an ephemeral rendezvous allocated by the broker.
// Only the broker loop mutates it.
type VideoSession struct {
	ID      VideoSessionID
	URL     string
	Secret  string
	Subject string
	Members Members
}

// RoomInfo describes one room of the catalogue served to clients.
type RoomInfo struct {
	Slug     RoomName  `mapstructure:"slug" json:"slug"`
	Label    string    `mapstructure:"label" json:"label"`
	MapURL   string    `mapstructure:"map_url" json:"mapUrl"`
	Tilesets []Tileset `mapstructure:"tilesets" json:"tilesets,omitempty"`
}

type Tileset struct {
	Name string `mapstructure:"name" json:"name"`
	URL  string `mapstructure:"url" json:"url"`
}
