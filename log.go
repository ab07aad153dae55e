package raft

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/raftcore/raft/raerrors"
)

const (
	metaTermKey     = "term"
	metaVotedForKey = "votedFor"
)

// Log is the replicated log abstraction the Node operates on. It wraps a
// Store, translating between Entry values and the Store's opaque byte
// records, and enforces the commit/splice invariants of the consensus
// protocol (entries below the commit index are never rewritten).
type Log struct {
	store Store

	lastIndex uint64
	lastTerm  uint64

	commitIndex uint64
	commitTerm  uint64
}

// NewLog wraps store in a Log, recovering lastIndex/lastTerm and the commit
// position from whatever the store already holds.
func NewLog(store Store) (*Log, error) {
	l := &Log{store: store}

	n := store.Len()
	if n > 0 {
		e, ok, err := l.getFromStore(n)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, raerrors.New("log store reports non-empty length but last entry is missing")
		}
		l.lastIndex = e.Index
		l.lastTerm = e.Term
	}

	committed := store.Committed()
	if committed > 0 {
		e, ok, err := l.getFromStore(committed)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, raerrors.New("log store reports committed index past its own length")
		}
		l.commitIndex = committed
		l.commitTerm = e.Term
	}

	return l, nil
}

func encodeEntry(e Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEntry(data []byte) (Entry, error) {
	var e Entry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (l *Log) getFromStore(index uint64) (Entry, bool, error) {
	data, ok, err := l.store.Get(index)
	if err != nil {
		return Entry{}, false, raerrors.WrapIO(err, "failed to read log entry")
	}
	if !ok {
		return Entry{}, false, nil
	}
	e, err := decodeEntry(data)
	if err != nil {
		return Entry{}, false, raerrors.WrapIO(err, "failed to decode log entry")
	}
	return e, true, nil
}

// LastIndex returns the index of the most recently appended entry, 0 if
// the log is empty.
func (l *Log) LastIndex() uint64 { return l.lastIndex }

// LastTerm returns the term of the most recently appended entry, 0 if the
// log is empty.
func (l *Log) LastTerm() uint64 { return l.lastTerm }

// CommitIndex returns the highest committed index.
func (l *Log) CommitIndex() uint64 { return l.commitIndex }

// CommitTerm returns the term of the entry at CommitIndex.
func (l *Log) CommitTerm() uint64 { return l.commitTerm }

// StoreSize reports the backing Store's approximate footprint, for
// inclusion in a Status reply.
func (l *Log) StoreSize() uint64 { return l.store.Size() }

// StoreKind names the concrete Store implementation backing this log, for
// inclusion in a Status reply (e.g. "MemoryStore", "FileStore").
func (l *Log) StoreKind() string { return fmt.Sprintf("%T", l.store) }

// Append writes a new entry at lastIndex+1 for the given term.
func (l *Log) Append(term uint64, command []byte) (Entry, error) {
	e := Entry{Index: l.lastIndex + 1, Term: term, Command: command}
	data, err := encodeEntry(e)
	if err != nil {
		return Entry{}, raerrors.Wrap(err, "failed to encode log entry")
	}
	index, err := l.store.Append(data)
	if err != nil {
		return Entry{}, raerrors.WrapIO(err, "failed to append log entry")
	}
	if index != e.Index {
		return Entry{}, raerrors.New("log store returned unexpected index on append")
	}
	l.lastIndex = e.Index
	l.lastTerm = e.Term
	return e, nil
}

// Get returns the entry at index, or ok=false if it doesn't exist.
func (l *Log) Get(index uint64) (Entry, bool, error) {
	return l.getFromStore(index)
}

// Scan returns the entries with index in [lo, hi]. hi == 0 means through
// LastIndex.
func (l *Log) Scan(lo, hi uint64) ([]Entry, error) {
	raw, err := l.store.Scan(lo, hi)
	if err != nil {
		return nil, raerrors.WrapIO(err, "failed to scan log")
	}
	out := make([]Entry, 0, len(raw))
	for _, data := range raw {
		e, err := decodeEntry(data)
		if err != nil {
			return nil, raerrors.WrapIO(err, "failed to decode log entry")
		}
		out = append(out, e)
	}
	return out, nil
}

// Truncate removes every entry with index > index. Fails if index is below
// the commit index.
func (l *Log) Truncate(index uint64) error {
	if index < l.commitIndex {
		return raerrors.New("cannot truncate committed log entries")
	}
	newLen, err := l.store.Truncate(index)
	if err != nil {
		return raerrors.WrapIO(err, "failed to truncate log")
	}
	if newLen == 0 {
		l.lastIndex, l.lastTerm = 0, 0
		return nil
	}
	e, ok, err := l.getFromStore(newLen)
	if err != nil {
		return err
	}
	if !ok {
		return raerrors.New("log truncate left an inconsistent store")
	}
	l.lastIndex, l.lastTerm = e.Index, e.Term
	return nil
}

// Commit advances the commit index. Fails if index is past lastIndex or
// regresses the existing commit index.
func (l *Log) Commit(index uint64) error {
	if index > l.lastIndex {
		return raerrors.New("cannot commit past the end of the log")
	}
	if index < l.commitIndex {
		return raerrors.New("commit index must not regress")
	}
	if index == l.commitIndex {
		return nil
	}
	e, ok, err := l.getFromStore(index)
	if err != nil {
		return err
	}
	if !ok {
		return raerrors.New("commit target entry is missing")
	}
	if err := l.store.Commit(index); err != nil {
		return raerrors.WrapIO(err, "failed to persist commit index")
	}
	l.commitIndex = index
	l.commitTerm = e.Term
	return nil
}

// Splice applies a contiguous run of entries received from a leader: for
// each entry, if an entry already exists at that index with the same term
// it is kept; on the first term mismatch the log is truncated from that
// index and the remaining entries are appended. Mirrors the splice
// semantics of a leader-driven AppendEntries RPC. Never touches entries at
// or below the commit index.
func (l *Log) Splice(entries []Entry) (uint64, error) {
	for i, incoming := range entries {
		existing, ok, err := l.getFromStore(incoming.Index)
		if err != nil {
			return 0, err
		}
		if ok && !existing.IsConflict(incoming) {
			continue
		}
		if ok && incoming.Index <= l.commitIndex {
			return 0, raerrors.New("splice would rewrite a committed entry")
		}
		if err := l.Truncate(incoming.Index - 1); err != nil {
			return 0, err
		}
		for _, e := range entries[i:] {
			if _, err := l.Append(e.Term, e.Command); err != nil {
				return 0, err
			}
		}
		return l.lastIndex, nil
	}
	return l.lastIndex, nil
}

// SaveTerm persists the current term and vote. Must complete before any
// GrantVote/SolicitVote is released on the wire, otherwise a crash between
// send and fsync could allow a double vote in the same term.
func (l *Log) SaveTerm(term uint64, votedFor string) error {
	if err := l.store.SetMetadata([]byte(metaTermKey), encodeUint64(term)); err != nil {
		return raerrors.WrapIO(err, "failed to persist term")
	}
	if err := l.store.SetMetadata([]byte(metaVotedForKey), []byte(votedFor)); err != nil {
		return raerrors.WrapIO(err, "failed to persist vote")
	}
	return nil
}

// LoadTerm returns the most recently persisted term and vote, or zero
// values if none has ever been saved.
func (l *Log) LoadTerm() (uint64, string, error) {
	termBytes, ok, err := l.store.GetMetadata([]byte(metaTermKey))
	if err != nil {
		return 0, "", raerrors.WrapIO(err, "failed to load term")
	}
	if !ok {
		return 0, "", nil
	}
	term := decodeUint64(termBytes)

	votedForBytes, ok, err := l.store.GetMetadata([]byte(metaVotedForKey))
	if err != nil {
		return 0, "", raerrors.WrapIO(err, "failed to load vote")
	}
	votedFor := ""
	if ok {
		votedFor = string(votedForBytes)
	}
	return term, votedFor, nil
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
	return b
}

func decodeUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}
