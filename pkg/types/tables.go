package types

// Standard table names for Store.GetTable.
const (
	TableBottles   = "bottles"
	TableProtocols = "protocols"
	TableEntries   = "entries"
	TableDoses     = "doses"
	TableSyncQueue = "sync_queue"
)

// StandardTableNames lists all standard table names for enumeration.
var StandardTableNames = []string{
	TableBottles,
	TableProtocols,
	TableEntries,
	TableDoses,
	TableSyncQueue,
}
