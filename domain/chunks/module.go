package chunks

import "go.uber.org/fx"

// Module provides the chunks repository
var Module = fx.Module("chunks",
	fx.Provide(NewRepository),
)
