package handler

import (
	"crosstalk/internal/app/relay"
	"crosstalk/internal/app/store"
	"crosstalk/internal/configs"
)

// AppDeps carries the shared dependencies every handler needs.
type AppDeps struct {
	Hub    *relay.Hub
	Config *configs.AppConfig
	Store  store.Collaborator
}
