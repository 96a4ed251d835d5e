// Package orchestrator manages the local backend of the interview practice
// app: it allocates loopback ports, spawns and supervises the API and
// evaluator services, serializes all database access through a single
// operation queue, and owns the user settings store.
//
// The host process embeds it like this:
//
//	orc := orchestrator.New(
//		orchestrator.WithDataDir(dataDir),
//		orchestrator.WithAPIBinary("/opt/app/api"),
//		orchestrator.WithEvaluatorBinary("/opt/app/evaluator"),
//	)
//	if err := orc.Start(ctx); err != nil {
//		// Only storage and lock failures are fatal; a service that
//		// fails to spawn leaves the orchestrator running degraded.
//	}
//	defer orc.Shutdown(context.Background())
//
// Construction is explicit: every Orchestrator is independent, and nothing
// in this package is process-global except the optional shared logger set
// through SetLogger.
package orchestrator
