package pipeline

import (
	"go.uber.org/fx"

	"github.com/rhizome-app/rhizome/internal/jobs"
)

// Module provides the pipeline service and registers its job handlers
var Module = fx.Module("pipeline",
	fx.Provide(
		NewCleaner,
		NewEnricher,
		NewService,
	),
	fx.Invoke(registerHandlers),
)

func registerHandlers(reg *jobs.Registry, s *Service) {
	reg.Register(jobs.TypeProcessDocument, s.HandleProcessDocument)
	reg.Register(jobs.TypeContinueProcessing, s.HandleContinueProcessing)
	reg.Register(jobs.TypeEnrichChunks, s.HandleEnrichChunks)
	reg.Register(jobs.TypeEnrichAndConnect, s.HandleEnrichChunks)
}
