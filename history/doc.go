// Package history stores task history records in a state.StateStore.
//
// Keys are laid out per job and task:
//
//	history.<job>.<task>.started
//	history.<job>.<task>.finished
//	history.<job>.<task>.failed
//	history.<job>.<task>.attempt.<n>
//
// The Store is a router handler for tasks.DestinationHistory. After a job
// restart, CompletedTasks returns the attempts of tasks that succeeded in
// the previous run so new tasks can reuse their numbers.
package history
