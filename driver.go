package raft

import "sync"

// Driver is the external state-machine sink the Node delivers Instructions
// to. A Driver never reaches back into the log; it only reacts to the
// instructions it is handed and emits ClientResponse messages through the
// Responder passed to Handle.
type Driver interface {
	// Handle processes a single Instruction. It may send ClientResponse
	// messages via the supplied responder.
	Handle(instr Instruction, respond Responder)
}

// Responder is the callback a Driver uses to deliver a ClientResponse back
// into the Node's inbound stream.
type Responder func(Message)

// MapDriver is a reference Driver implementing a simple in-memory
// key/value state machine, primarily intended for tests and demos. Mutate
// commands are gob-free "key=value" byte strings; Query commands are bare
// keys. It generalizes the teacher's StateMachine.Apply contract into the
// push-based instruction sink the core requires.
type MapDriver struct {
	mu          sync.Mutex
	data        map[string]string
	lastApplied uint64

	pendingQueries  map[string]*pendingQuery
	pendingNotifies map[uint64]pendingNotify
}

type pendingQuery struct {
	id      []byte
	addr    Address
	command []byte
	term    uint64
	index   uint64
	quorum  int
	votes   map[string]bool
}

// pendingNotify remembers, per log index, which client is waiting for the
// entry at that index to be applied so handleApply can reply once it is.
type pendingNotify struct {
	id   []byte
	addr Address
}

// NewMapDriver creates an empty MapDriver.
func NewMapDriver() *MapDriver {
	return &MapDriver{
		data:            make(map[string]string),
		pendingQueries:  make(map[string]*pendingQuery),
		pendingNotifies: make(map[uint64]pendingNotify),
	}
}

func (d *MapDriver) LastApplied() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastApplied
}

func (d *MapDriver) Handle(instr Instruction, respond Responder) {
	switch instr.Type {
	case InstructionApply:
		d.handleApply(instr, respond)
	case InstructionNotify:
		d.handleNotify(instr)
	case InstructionQuery:
		d.handleQuery(instr)
	case InstructionVote:
		d.handleVote(instr, respond)
	case InstructionAbort:
		d.mu.Lock()
		d.pendingQueries = make(map[string]*pendingQuery)
		d.mu.Unlock()
	case InstructionStatus:
		respond(Message{
			From: Local(),
			To:   instr.Address,
			Event: ClientResponseEvent(instr.RequestID, Response{
				Type:   RequestStatus,
				Status: instr.Status,
			}, nil),
		})
	}
}

// handleNotify records that the client identified by instr.RequestID, at
// instr.Address, awaits the response for the command landing at
// instr.Index. Apply instructions are delivered in log-index order, and
// Notify for an index always precedes its Apply (see SPEC_FULL.md §5), so
// handleApply can look this up by index once the entry lands.
func (d *MapDriver) handleNotify(instr Instruction) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pendingNotifies[instr.Index] = pendingNotify{id: instr.RequestID, addr: instr.Address}
}

func (d *MapDriver) handleApply(instr Instruction, respond Responder) {
	d.mu.Lock()
	if instr.Entry.Index <= d.lastApplied {
		d.mu.Unlock()
		return
	}
	if !instr.Entry.IsNoOp() {
		applyCommand(d.data, instr.Entry.Command)
	}
	d.lastApplied = instr.Entry.Index

	notify, ok := d.pendingNotifies[instr.Entry.Index]
	if ok {
		delete(d.pendingNotifies, instr.Entry.Index)
	}
	d.mu.Unlock()

	if ok && respond != nil {
		respond(Message{
			From:  Local(),
			To:    notify.addr,
			Event: ClientResponseEvent(notify.id, Response{Type: RequestMutate}, nil),
		})
	}
}

func (d *MapDriver) handleQuery(instr Instruction) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := string(instr.RequestID)
	d.pendingQueries[key] = &pendingQuery{
		id:      instr.RequestID,
		addr:    instr.Address,
		command: instr.Command,
		term:    instr.Term,
		index:   instr.Index,
		quorum:  instr.Quorum,
		votes:   make(map[string]bool),
	}
}

func (d *MapDriver) handleVote(instr Instruction, respond Responder) {
	d.mu.Lock()
	var ready []*pendingQuery
	for key, q := range d.pendingQueries {
		if instr.VoteTerm != q.term || instr.VoteIndex < q.index {
			continue
		}
		voter, _ := instr.Address.IsPeer()
		if instr.Address.Kind == AddressLocal {
			voter = "local"
		}
		q.votes[voter] = true
		if len(q.votes) >= q.quorum {
			ready = append(ready, q)
			delete(d.pendingQueries, key)
		}
	}
	data := d.data
	d.mu.Unlock()

	for _, q := range ready {
		result := readCommand(data, q.command)
		respond(Message{
			From: Local(),
			To:   q.addr,
			Event: ClientResponseEvent(q.id, Response{
				Type:   RequestQuery,
				Result: result,
			}, nil),
		})
	}
}

// applyCommand and readCommand implement a trivial "key=value" set / "key"
// get protocol so tests have something concrete to exercise Apply/Query
// against without pulling in an external state-machine dependency.
func applyCommand(data map[string]string, command []byte) {
	for i, b := range command {
		if b == '=' {
			data[string(command[:i])] = string(command[i+1:])
			return
		}
	}
	data[string(command)] = ""
}

func readCommand(data map[string]string, command []byte) []byte {
	return []byte(data[string(command)])
}
