// Package main is the entry point for the rhizome worker: a single-process
// document pipeline, connection detector and admin API backed by Postgres.
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/rhizome-app/rhizome/domain/annotations"
	"github.com/rhizome-app/rhizome/domain/chunks"
	"github.com/rhizome-app/rhizome/domain/connections"
	"github.com/rhizome-app/rhizome/domain/documents"
	"github.com/rhizome-app/rhizome/domain/pipeline"
	"github.com/rhizome-app/rhizome/domain/port"
	"github.com/rhizome-app/rhizome/internal/config"
	"github.com/rhizome-app/rhizome/internal/database"
	"github.com/rhizome-app/rhizome/internal/jobs"
	"github.com/rhizome-app/rhizome/internal/migrate"
	"github.com/rhizome-app/rhizome/internal/server"
	"github.com/rhizome-app/rhizome/internal/storage"
	"github.com/rhizome-app/rhizome/pkg/embeddings"
	"github.com/rhizome-app/rhizome/pkg/extract"
	"github.com/rhizome-app/rhizome/pkg/llm"
	"github.com/rhizome-app/rhizome/pkg/logger"
)

func main() {
	// Load .env files if present (for local development)
	// Note: Load() won't overwrite existing vars, Overload() will
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	fx.New(
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure
		logger.Module,
		config.Module,
		database.Module,
		migrate.Module,
		storage.Module,
		server.Module,

		// Shared clients
		extract.Module,
		embeddings.Module,
		llm.Module,

		// Job queue and worker loop
		jobs.Module,

		// Domain modules
		documents.Module,
		chunks.Module,
		annotations.Module,
		pipeline.Module,
		connections.Module,
		port.Module,
	).Run()
}
