// Package shutdown stops the components of a taskkit process in order.
//
// Handlers are registered under a phase. Phases run in ascending order and
// handlers within one phase run concurrently:
//
//	coord, _ := shutdown.NewCoordinator(shutdown.DefaultConfig(), logger)
//	coord.RegisterWithPhase("heartbeat-listener", shutdown.Stopper(listener.Stop), shutdown.PhaseIntake)
//	coord.RegisterWithPhase("attempt-monitor", shutdown.Stopper(monitor.Stop), shutdown.PhaseMonitors)
//	coord.RegisterFunc("router", r.Stop, shutdown.PhaseRouter)
//	coord.RegisterWithPhase("bus", shutdown.Stopper(b.Close), shutdown.PhaseStorage)
//	coord.HandleSignals()
//	<-coord.Done()
//
// Handler errors are combined and returned wrapped in ErrHandlerFailed.
// A handler that panics is reported as failed.
package shutdown
