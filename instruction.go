package raft

// InstructionType discriminates the variants of Instruction, the messages
// the core emits to an external Driver. The driver consumes instructions;
// it never mutates the log directly.
type InstructionType int

const (
	InstructionApply InstructionType = iota
	InstructionNotify
	InstructionQuery
	InstructionVote
	InstructionAbort
	InstructionStatus
)

// Instruction is a tagged union of everything the core can hand to a
// Driver.
type Instruction struct {
	Type InstructionType

	// Apply
	Entry Entry

	// Notify / Query / Status
	RequestID []byte
	Address   Address

	// Query
	Command []byte
	Term    uint64
	Index   uint64
	Quorum  int

	// Vote
	VoteTerm  uint64
	VoteIndex uint64

	// Status
	Status Status
}

func ApplyInstruction(e Entry) Instruction {
	return Instruction{Type: InstructionApply, Entry: e}
}

func NotifyInstruction(id []byte, addr Address, index uint64) Instruction {
	return Instruction{Type: InstructionNotify, RequestID: id, Address: addr, Index: index}
}

func QueryInstruction(id []byte, addr Address, command []byte, term, index uint64, quorum int) Instruction {
	return Instruction{
		Type:      InstructionQuery,
		RequestID: id,
		Address:   addr,
		Command:   command,
		Term:      term,
		Index:     index,
		Quorum:    quorum,
	}
}

func VoteInstruction(term, index uint64, addr Address) Instruction {
	return Instruction{Type: InstructionVote, VoteTerm: term, VoteIndex: index, Address: addr}
}

func AbortInstruction() Instruction {
	return Instruction{Type: InstructionAbort}
}

func StatusInstruction(id []byte, addr Address, status Status) Instruction {
	return Instruction{Type: InstructionStatus, RequestID: id, Address: addr, Status: status}
}
