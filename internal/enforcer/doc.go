// Package enforcer keeps devices in a commanded state.
//
// An Enforcer watches one entity. A command records a target (the
// operation to invoke and the state the entity should report afterwards)
// and starts an enforcement loop:
//
//	invoke operation
//	sleep Backoff.Delay(retry)
//	read observed state
//	mismatch -> retry++ and go again, match -> stop
//
// The delay grows linearly and is capped; divergence is never fatal and is
// only surfaced through logs, the enforcer_retries gauge and the optional
// Recorder.
//
// At most one loop runs per entity. A new command cancels the running loop,
// including its sleep, and starts over with the retry count reset. An
// observed state change that no longer matches the target restarts the loop
// without resetting the count.
package enforcer
