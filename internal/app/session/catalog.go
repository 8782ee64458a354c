package session

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/dkeye/commonroom/internal/domain"
)

// Catalog serves the configured room list so clients know which rooms exist.
type Catalog struct {
	rooms []domain.RoomInfo
}

func NewCatalog(rooms []domain.RoomInfo) *Catalog {
	if rooms == nil {
		rooms = []domain.RoomInfo{}
	}
	return &Catalog{rooms: slices.Clone(rooms)}
}

func (*Catalog) Name() string { return "session.catalog" }

func (c *Catalog) Messages() []MessageRoute {
	return []MessageRoute{
		{Type: "get-rooms-config", Public: true, Handle: c.roomsConfig},
	}
}

func (*Catalog) Topics() []TopicRoute { return nil }

func (c *Catalog) roomsConfig(_ context.Context, s *Session, _ json.RawMessage) error {
	s.send("rooms-config", c.rooms)
	return nil
}
