package state

import "github.com/roach88/dhtstate/internal/kv"

// Persistent partitions.
const (
	PartElementVaultHeaders   kv.Partition = "element_vault_headers"
	PartElementVaultEntries   kv.Partition = "element_vault_entries"
	PartElementPendingHeaders kv.Partition = "element_pending_headers"
	PartElementPendingEntries kv.Partition = "element_pending_entries"
	PartMetaVaultOps          kv.Partition = "meta_vault_ops"
	PartMetaVaultActivity     kv.Partition = "meta_vault_activity"
	PartMetaPendingOps        kv.Partition = "meta_pending_ops"
	PartMetaPendingActivity   kv.Partition = "meta_pending_activity"
	PartValidationLimbo       kv.Partition = "validation_limbo"
	PartIntegrationLimbo      kv.Partition = "integration_limbo"
	PartIntegratedDhtOps      kv.Partition = "integrated_dht_ops"
	PartChainSequence         kv.Partition = "chain_sequence"
)

// Partitions lists every partition a kv.Env must be opened with.
func Partitions() []kv.Partition {
	return []kv.Partition{
		PartElementVaultHeaders,
		PartElementVaultEntries,
		PartElementPendingHeaders,
		PartElementPendingEntries,
		PartMetaVaultOps,
		PartMetaVaultActivity,
		PartMetaPendingOps,
		PartMetaPendingActivity,
		PartValidationLimbo,
		PartIntegrationLimbo,
		PartIntegratedDhtOps,
		PartChainSequence,
	}
}
