// Package state provides the key/value storage behind the history sink.
//
// # Backends
//
//   - NATSStore: NATS JetStream KV, shared with the bus connection
//   - MemoryStore: in-memory, for tests and single-process runs
//
// # Usage
//
//	nb, _ := bus.NewNATSBus(bus.DefaultNATSConfig())
//	store, _ := state.NewNATSStore(state.NATSStoreConfig{
//	    Conn:   nb.Conn(),
//	    Bucket: "taskkit-history",
//	})
//
//	store.Put("history.job_1_0001.task_1_0001_m_000000", data)
//	keys, _ := store.Keys("history.job_1_0001.*")
//
// Keys are dot separated so they map directly onto KV subjects.
package state
