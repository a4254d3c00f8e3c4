// Package workflow runs the cell's state-changing workflows.
//
// IncomingDhtOps stages ops received from peers into validation limbo.
// InvokeZome calls a zome function and commits what it wrote to the
// source chain. Genesis writes the first records of a new chain.
//
// Every workflow builds its own workspace over a kv.Env, does its work in
// the workspace's buffers and commits them in one write transaction.
// Triggers to downstream consumers fire only after that commit succeeds.
package workflow
