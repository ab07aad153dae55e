package raft

// Entry is a single record in the replicated log. Index is 1-based and
// dense; a nil or empty Command denotes a no-op entry (see IsNoOp). No role
// in this package appends a no-op entry on its own, including on election.
type Entry struct {
	Index   uint64
	Term    uint64
	Command []byte
}

// IsConflict reports whether e and other share an index but disagree on
// term, the condition under which a follower must truncate its log.
func (e Entry) IsConflict(other Entry) bool {
	return e.Index == other.Index && e.Term != other.Term
}

// IsNoOp reports whether the entry carries no client command.
func (e Entry) IsNoOp() bool {
	return len(e.Command) == 0
}
