package jobs

import (
	"context"

	"go.uber.org/fx"
)

// Module provides the job queue, checkpoint manager, handler registry and
// the polling worker.
//
// Domain modules register their handlers on the Registry during fx startup;
// the worker lifecycle hook starts polling after all invokes ran.
var Module = fx.Module("jobs",
	fx.Provide(
		NewQueue,
		NewCheckpointManager,
		NewRegistry,
		NewWorker,
	),
	fx.Invoke(registerWorkerLifecycle),
)

func registerWorkerLifecycle(lc fx.Lifecycle, w *Worker) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return w.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return w.Stop(ctx)
		},
	})
}
