package common

const (
	ComponentRecordSource = "record-source"
	ComponentReorgTracker = "reorg-tracker"
	ComponentListener     = "listener-registry"
	ComponentRPC          = "rpc-client"
)

var AllComponents = map[string]struct{}{
	ComponentRecordSource: {},
	ComponentReorgTracker: {},
	ComponentListener:     {},
	ComponentRPC:          {},
}
