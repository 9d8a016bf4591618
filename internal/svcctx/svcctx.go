// Package svcctx provides service context for dependency injection via context.
// This package is separate from internal/api to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/scan2doc/internal/config"
	"github.com/jackzampolin/scan2doc/internal/docgen"
	"github.com/jackzampolin/scan2doc/internal/eventbus"
	"github.com/jackzampolin/scan2doc/internal/health"
	"github.com/jackzampolin/scan2doc/internal/home"
	"github.com/jackzampolin/scan2doc/internal/ingest"
	"github.com/jackzampolin/scan2doc/internal/ocr"
	"github.com/jackzampolin/scan2doc/internal/pagestore"
	"github.com/jackzampolin/scan2doc/internal/queue"
	"github.com/jackzampolin/scan2doc/internal/render"
	"github.com/jackzampolin/scan2doc/internal/store"
)

// Services holds every core component that flows through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Store    *store.Store
	Pages    *pagestore.Store
	Bus      *eventbus.Bus
	Health   *health.Monitor
	Queues   *queue.Manager
	Ingest   *ingest.Ingestor
	Render   *render.Pool
	OCR      *ocr.Coordinator
	DocGen   *docgen.Generator
	Config   *config.Manager
	Logger   *slog.Logger
	Home     *home.Dir
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// StoreFrom extracts the Object Store from context.
func StoreFrom(ctx context.Context) *store.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Store
	}
	return nil
}

// PagesFrom extracts the Page Store from context.
func PagesFrom(ctx context.Context) *pagestore.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.Pages
	}
	return nil
}

// BusFrom extracts the event bus from context.
func BusFrom(ctx context.Context) *eventbus.Bus {
	if s := ServicesFrom(ctx); s != nil {
		return s.Bus
	}
	return nil
}

// HealthFrom extracts the Health Monitor from context.
func HealthFrom(ctx context.Context) *health.Monitor {
	if s := ServicesFrom(ctx); s != nil {
		return s.Health
	}
	return nil
}

// QueuesFrom extracts the queue manager from context.
func QueuesFrom(ctx context.Context) *queue.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Queues
	}
	return nil
}

// IngestFrom extracts the Ingestor from context.
func IngestFrom(ctx context.Context) *ingest.Ingestor {
	if s := ServicesFrom(ctx); s != nil {
		return s.Ingest
	}
	return nil
}

// RenderFrom extracts the render Pool from context.
func RenderFrom(ctx context.Context) *render.Pool {
	if s := ServicesFrom(ctx); s != nil {
		return s.Render
	}
	return nil
}

// OCRFrom extracts the OCR Coordinator from context.
func OCRFrom(ctx context.Context) *ocr.Coordinator {
	if s := ServicesFrom(ctx); s != nil {
		return s.OCR
	}
	return nil
}

// DocGenFrom extracts the Doc Generator from context.
func DocGenFrom(ctx context.Context) *docgen.Generator {
	if s := ServicesFrom(ctx); s != nil {
		return s.DocGen
	}
	return nil
}

// ConfigFrom extracts the config manager from context.
func ConfigFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Config
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}
