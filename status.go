package raft

// Status is a point-in-time snapshot of a node's view of the cluster,
// reported to clients via the Status client operation.
type Status struct {
	Server string
	Leader string
	Term   uint64

	// NodeLastIndex maps each node id, the leader's own included, to the
	// leader's view of that node's last index. Populated only when Server is
	// the leader.
	NodeLastIndex map[string]uint64

	CommitIndex uint64
	ApplyIndex  uint64

	Storage     string
	StorageSize uint64
}

// StatusReporter is an optional interface a Driver may implement to report
// its last-applied index for inclusion in Status. If a Driver does not
// implement it, ApplyIndex is left at zero.
type StatusReporter interface {
	LastApplied() uint64
}
