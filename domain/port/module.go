package port

import (
	"go.uber.org/fx"

	"github.com/rhizome-app/rhizome/internal/jobs"
)

// Module provides the export/import services and registers their handlers
var Module = fx.Module("port",
	fx.Provide(
		NewExporter,
		NewImporter,
		NewService,
	),
	fx.Invoke(registerHandlers),
)

func registerHandlers(reg *jobs.Registry, s *Service) {
	reg.Register(jobs.TypeExportDocuments, s.HandleExportDocuments)
	reg.Register(jobs.TypeImportDocument, s.HandleImportDocument)
}
