// Package telemetry provides the observability instrumentation of the rule
// engine.
//
// It integrates structured logging (zerolog), tracing (OpenTelemetry),
// metrics (Prometheus) and an in-process event publisher.
//
// # Usage
//
// Initialize telemetry once and hand it to the scheduler:
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	sched := engine.NewScheduler(index, engine.WithTelemetry(tel))
//
// # Logging
//
// Loggers are immutable; every With method returns a child:
//
//	logger := tel.Logger.NewComponentLogger("scheduler").WithRunID(runID)
//	logger.WithError(err).Error("run failed")
//
// Levels: trace, debug, info, warn, error, disabled.
//
// # Tracing
//
// The scheduler opens one span per run and one per task invocation. Task
// functions receive the task span in their context, so spans they start are
// children of it. Exporters: otlp (gRPC), stdout, none.
//
// # Metrics
//
// All metrics live in a private registry exposed by Metrics.Handler:
//
//   - runs_started_total, runs_completed_total{status}, run_duration_seconds
//   - node_steps_total{kind,state}, node_step_duration_seconds{kind}
//   - task_invocations_total{rule,outcome}, task_duration_seconds{rule}
//   - invalidations_total{reason}, nodes_invalidated_total, cycles_detected_total
//   - errors_by_kind_total, errors_by_code_total
//   - graph_nodes, graph_completed_nodes, active_runs
//
// # Nil safety
//
// Metrics, Tracer and EventPublisher methods accept a nil receiver and do
// nothing, so components can be left unset.
package telemetry
