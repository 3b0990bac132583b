package extract

import "go.uber.org/fx"

// Module provides the extraction service and its clients
var Module = fx.Module("extract",
	fx.Provide(
		NewDoclingClient,
		NewWebFetcher,
		NewService,
	),
)
