// Package heartbeat detects silent remote identities.
//
// # Overview
//
// A Monitor is a registry keyed by any comparable identity type. Each
// registered identity owns a Record with its last progress and last ping
// timestamps. A background loop takes one time snapshot per iteration,
// evicts every identity whose record has expired under the Policy, and then
// calls the policy's OnTimeout handler with the evicted id.
//
//	┌────────────┐ heartbeat.ping/progress ┌──────────┐  OnTimeout(id)  ┌──────────────┐
//	│ BusSender  │ ──────────────────────> │ Listener │ ──> Monitor ──> │ task router  │
//	│  (worker)  │                         └──────────┘                 └──────────────┘
//	└────────────┘
//
// # Guarantees
//
//   - Eviction happens before the handler runs, so at most one timeout is
//     reported per registration
//   - A concurrent Register for the same id is never removed by an
//     in-flight eviction
//   - Progressing and Pinged never resurrect an evicted id
//   - A Timeout <= 0 disables detection
//
// # Usage
//
//	mon, _ := heartbeat.NewMonitor("attempts", heartbeat.Policy[tasks.AttemptID]{
//	    Timeout:       5 * time.Minute,
//	    CheckInterval: 30 * time.Second,
//	    OnTimeout:     handler.OnTimeout,
//	})
//	mon.Start(ctx)
//	mon.Register(attemptID)
//	mon.Pinged(attemptID)
//
// Pass WithClock(clock.NewMock()) and call Check directly for deterministic
// tests.
package heartbeat
