package connections

import (
	"go.uber.org/fx"

	"github.com/rhizome-app/rhizome/internal/jobs"
)

// Module provides the connections repository, detector and job handlers
var Module = fx.Module("connections",
	fx.Provide(
		NewRepository,
		NewDetector,
		NewService,
	),
	fx.Invoke(registerHandlers),
)

func registerHandlers(reg *jobs.Registry, s *Service) {
	reg.Register(jobs.TypeDetectConnections, s.HandleDetectConnections)
	reg.Register(jobs.TypeReprocessConnections, s.HandleReprocessConnections)
}
