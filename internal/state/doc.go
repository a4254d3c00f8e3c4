// Package state holds the typed buffers a workflow stages its writes in:
// elements, metadata, the op limbos and the local source chain. Every
// buffer overlays one or more kv partitions and is committed as part of a
// Workspace.
package state
