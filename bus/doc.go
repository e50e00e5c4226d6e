// Package bus provides message bus clients for cross-process taskkit traffic.
//
// # Available Implementations
//
//   - NATSBus: production messaging using NATS
//   - MemoryBus: in-memory implementation for tests and single-process runs
//
// # Subjects
//
// Subjects are dot separated tokens. Subscriptions accept the NATS
// wildcards on both implementations:
//
//	sub, _ := b.Subscribe("heartbeat.*")   // heartbeat.ping, heartbeat.progress
//	sub, _ := b.Subscribe("taskkit.>")     // every exported lifecycle message
//	for msg := range sub.Messages() {
//	    // Handle message
//	}
//
// taskkit publishes on two subject families:
//
//   - heartbeat.<kind>: liveness pings and progress reports from workers
//   - <prefix>.<destination>: lifecycle messages exported by router.BusForwarder
//
// Delivery is best effort. A subscriber whose buffer is full loses
// messages; ordered delivery inside a process goes through package router.
package bus
