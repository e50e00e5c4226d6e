// Package router delivers lifecycle messages between taskkit components.
//
// Every message names a Destination. The router keeps one unbounded FIFO
// inbox and one delivery goroutine per destination, so:
//
//   - Post never blocks and is safe to call while holding a lock
//   - messages for one destination arrive in posting order
//   - destinations do not wait on each other
//   - a handler may Post, but must not synchronously re-enter the
//     component that posted to it
//
// Taps observe every delivered message after its destination handler ran.
// BusForwarder is a tap that exports messages onto a bus.MessageBus.
//
//	r := router.New(router.Config{Logger: log})
//	r.Register(tasks.DestinationTask, directory)
//	r.Register(tasks.DestinationJob, router.HandlerFunc(onJobEvent))
//	r.Start(ctx)
//	r.Post(tasks.Event{...})
package router
