package monolith

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/odit-bit/relay/internal/config"
)

type Monolith interface {
	Config() config.Config
	Logger() *slog.Logger
	Mux() chi.Router
}

type Module interface {
	Start(ctx context.Context, mono Monolith) error
	Stop(ctx context.Context) error
}
