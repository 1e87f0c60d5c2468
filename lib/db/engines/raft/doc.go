/*
Package raft implements a replicated db.Engine on top of a dragonboat raft shard.

Every replica runs a StateMachine that keeps all rows in memory and applies the
committed write batches in log order, using the batch semantics of the memory
engine. Write batches are proposed as one log entry, so a batch is applied
atomically on every replica or not at all. Reads go through SyncRead and are
linearizable.

Atomic field operations travel inside the log entry and are merged by the state
machine, i.e. against the row as it exists at that log position. A failed
replace is reported back as *state.ReplacementError. Writes are stamped with
their last update time before they are proposed, which keeps the state machine
deterministic.

Snapshots use the memory engine snapshot format.

Usage Example:

	nh, err := dragonboat.NewNodeHost(nodeHostConfig)
	err = nh.StartConcurrentReplica(members, false, raft.CreateStateMachineFactory(), shardConfig)
	database := raft.NewDatabase(nh, shardConfig.ShardID, raft.Options{})
*/
package raft
