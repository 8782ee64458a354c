package session

import (
	"github.com/dkeye/commonroom/internal/core"
	"github.com/dkeye/commonroom/internal/domain"
)

// DefaultModules is the module list served by the WebSocket endpoint.
func DefaultModules(store core.UserStore, rooms []domain.RoomInfo, video bool) []Module {
	mods := []Module{
		NewAuth(store),
		NewCatalog(rooms),
		NewPresence(),
		NewMessages(store),
		NewAdmin(),
	}
	if video {
		mods = append(mods, NewVideo())
	}
	return mods
}
