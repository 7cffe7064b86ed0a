// Package statestore persists entity state in SQLite.
//
// Every zone controller writes its state here under "zone.<name>", the MQTT
// bridge records observed device state, and the enforcers read it back to
// decide whether a device has converged. Reads are served from an in-memory
// cache that is warmed from the entity_state table on startup; writes go to
// the database first and then to the cache.
//
// Each write also appends a row to state_history, which is pruned by age.
//
// Thread Safety:
//   - All Store methods are safe for concurrent use.
//   - Change listeners are called synchronously after the write, outside
//     any lock, and must not block.
package statestore
